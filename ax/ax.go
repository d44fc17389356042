// Package ax decodes and builds OpenID Attribute Exchange 1.0 extension
// fields.
package ax

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relier-id/relier/message"
)

// Namespace is the Attribute Exchange 1.0 namespace URI.
const Namespace = "http://openid.net/srv/ax/1.0"

// Well-known attribute schema URIs.
const (
	SchemaEmail     = "http://axschema.org/contact/email"
	SchemaFullName  = "http://axschema.org/namePerson"
	SchemaFirstName = "http://axschema.org/namePerson/first"
	SchemaLastName  = "http://axschema.org/namePerson/last"
)

// Extract decodes the attribute exchange payload of a response into a
// mapping from schema URI to values. An attribute may carry multiple
// values (count.<n> groups). Unknown or malformed groups are skipped;
// a response without an AX namespace yields an empty map, never an
// error.
func Extract(msg *message.Message) map[string][]string {
	attrs := make(map[string][]string)

	alias := namespaceAlias(msg)
	if alias == "" {
		return attrs
	}

	typePrefix := alias + ".type."
	for _, key := range msg.Keys() {
		name, ok := strings.CutPrefix(key, typePrefix)
		if !ok || name == "" || strings.Contains(name, ".") {
			continue
		}
		uri := msg.Get(key)
		if uri == "" {
			continue
		}
		attrs[uri] = append(attrs[uri], groupValues(msg, alias, name)...)
	}
	return attrs
}

// namespaceAlias finds the alias the provider declared for the AX
// namespace, e.g. "ext1" for openid.ns.ext1. The first declaration in
// message order wins.
func namespaceAlias(msg *message.Message) string {
	for _, key := range msg.Keys() {
		alias, ok := strings.CutPrefix(key, "ns.")
		if !ok || alias == "" {
			continue
		}
		if msg.Get(key) == Namespace {
			return alias
		}
	}
	return ""
}

// groupValues collects the values of one type.<n> group: either the
// single value.<n> field or, with count.<n> present, value.<n>.1 through
// value.<n>.<count>.
func groupValues(msg *message.Message, alias, name string) []string {
	countKey := fmt.Sprintf("%s.count.%s", alias, name)
	if !msg.Has(countKey) {
		valueKey := fmt.Sprintf("%s.value.%s", alias, name)
		if !msg.Has(valueKey) {
			return nil
		}
		return []string{msg.Get(valueKey)}
	}

	count, err := strconv.Atoi(msg.Get(countKey))
	if err != nil || count < 0 {
		return nil
	}
	values := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		valueKey := fmt.Sprintf("%s.value.%s.%d", alias, name, i)
		if !msg.Has(valueKey) {
			// Truncated group; keep what we have.
			break
		}
		values = append(values, msg.Get(valueKey))
	}
	return values
}

// FetchRequest builds the extension parameters asking the provider for
// the given schema URIs, keyed bare (without the openid. prefix) for
// inclusion in an AuthRequest. Aliases are a0, a1, ... in argument
// order.
func FetchRequest(required ...string) map[string]string {
	if len(required) == 0 {
		return nil
	}
	params := map[string]string{
		"ns.ax":   Namespace,
		"ax.mode": "fetch_request",
	}
	aliases := make([]string, 0, len(required))
	for i, uri := range required {
		alias := fmt.Sprintf("a%d", i)
		params["ax.type."+alias] = uri
		aliases = append(aliases, alias)
	}
	params["ax.required"] = strings.Join(aliases, ",")
	return params
}
