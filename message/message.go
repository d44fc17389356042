// Package message implements the OpenID 2.0 wire formats: the
// newline-delimited key-value form used by direct provider responses and
// the openid.-prefixed URL-encoded form used by browser redirects.
//
// A Message preserves the order keys were first seen in. Signature base
// strings are built from the response's signed list, but the round-trip
// guarantee (encode(parse(x)) == x) only holds with ordering intact.
package message

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/relier-id/relier/core"
)

// Prefix is the namespace prefix carried by every key of an indirect
// (URL-encoded) OpenID message.
const Prefix = "openid."

// Namespace is the OpenID 2.0 protocol namespace value.
const Namespace = "http://specs.openid.net/auth/2.0"

// Message is an ordered mapping of bare (unprefixed) OpenID keys to values.
type Message struct {
	keys   []string
	values map[string]string
}

// New creates an empty message.
func New() *Message {
	return &Message{values: make(map[string]string)}
}

// Set stores a key, appending it to the order on first insertion.
func (m *Message) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for a key, or the empty string.
func (m *Message) Get(key string) string {
	return m.values[key]
}

// Has reports whether the key is present.
func (m *Message) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Keys returns the keys in insertion order. The slice is shared; callers
// must not mutate it.
func (m *Message) Keys() []string {
	return m.keys
}

// Len returns the number of keys.
func (m *Message) Len() int {
	return len(m.keys)
}

// ParseKeyValue parses the direct-response key-value form: one
// "key:value" pair per line, each line terminated by a single newline.
// Keys are bare in this form. A line without a colon, a key containing a
// newline, or a duplicate key is malformed.
func ParseKeyValue(data []byte) (*Message, error) {
	m := New()
	rest := string(data)
	for len(rest) > 0 {
		line, tail, found := strings.Cut(rest, "\n")
		if !found {
			return nil, fmt.Errorf("%w: unterminated line %q", core.ErrMalformedMessage, line)
		}
		rest = tail
		key, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("%w: no colon in line %q", core.ErrMalformedMessage, line)
		}
		if key == "" {
			return nil, fmt.Errorf("%w: empty key", core.ErrMalformedMessage)
		}
		if m.Has(key) {
			return nil, fmt.Errorf("%w: duplicate key %q", core.ErrMalformedMessage, key)
		}
		m.Set(key, value)
	}
	return m, nil
}

// EncodeKeyValue serializes the message in the key-value form, keys in
// insertion order.
func (m *Message) EncodeKeyValue() []byte {
	var b strings.Builder
	for _, k := range m.keys {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(m.values[k])
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// ParseQuery parses a raw URL-encoded query in wire order. Every key
// must carry the openid. prefix; the prefix is stripped in the resulting
// message.
func ParseQuery(raw string) (*Message, error) {
	m := New()
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
		}
		bare, ok := strings.CutPrefix(key, Prefix)
		if !ok || bare == "" {
			return nil, fmt.Errorf("%w: key %q lacks %q prefix", core.ErrMalformedMessage, key, Prefix)
		}
		if m.Has(bare) {
			return nil, fmt.Errorf("%w: duplicate key %q", core.ErrMalformedMessage, key)
		}
		m.Set(bare, value)
	}
	return m, nil
}

// FromValues builds a message from already-parsed query parameters, as
// handed over by an HTTP router. Keys without the openid. prefix belong
// to the return_to URL and are skipped; a repeated openid. key is
// malformed. Insertion order is the sorted key order, which is
// irrelevant for verification since base strings follow the signed list.
func FromValues(v url.Values) (*Message, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		if strings.HasPrefix(k, Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	m := New()
	for _, k := range keys {
		vals := v[k]
		if len(vals) != 1 {
			return nil, fmt.Errorf("%w: key %q repeated", core.ErrMalformedMessage, k)
		}
		m.Set(strings.TrimPrefix(k, Prefix), vals[0])
	}
	return m, nil
}

// EncodeQuery serializes the message in the URL-encoded indirect form,
// keys prefixed and in insertion order.
func (m *Message) EncodeQuery() string {
	var b strings.Builder
	for i, k := range m.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(Prefix + k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(m.values[k]))
	}
	return b.String()
}

// EncodeValues returns the message as prefixed url.Values, for handing
// to transports that take a parsed form.
func (m *Message) EncodeValues() url.Values {
	v := make(url.Values, len(m.keys))
	for _, k := range m.keys {
		v.Set(Prefix+k, m.values[k])
	}
	return v
}
