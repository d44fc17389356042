// Package signature recomputes and checks the HMAC carried by signed
// OpenID 2.0 responses.
package signature

import (
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/message"
)

// BaseString reconstructs the signature base string: for each field in
// the signed list, in list order, the pair "key:value\n" drawn from the
// message. Fields outside the list never enter the base string and must
// not influence trust decisions.
func BaseString(msg *message.Message, signed []string) ([]byte, error) {
	var b strings.Builder
	for _, field := range signed {
		if !msg.Has(field) {
			return nil, fmt.Errorf("%w: %q", core.ErrMissingSignedField, field)
		}
		b.WriteString(field)
		b.WriteByte(':')
		b.WriteString(msg.Get(field))
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// SignedFields returns the response's signed list, split and validated.
func SignedFields(msg *message.Message) ([]string, error) {
	raw := msg.Get("signed")
	if raw == "" {
		return nil, fmt.Errorf("%w: %q", core.ErrMissingSignedField, "signed")
	}
	fields := strings.Split(raw, ",")
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("%w: empty entry in signed list", core.ErrMalformedMessage)
		}
	}
	return fields, nil
}

// Sign computes the base64 HMAC over the message's signed list using the
// association's secret. Used when emulating a provider in tests and for
// outbound signed messages.
func Sign(msg *message.Message, assoc *core.Association) (string, error) {
	fields, err := SignedFields(msg)
	if err != nil {
		return "", err
	}
	base, err := BaseString(msg, fields)
	if err != nil {
		return "", err
	}
	mac := hmac.New(assoc.Type.Hash(), assoc.Secret)
	mac.Write(base)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the HMAC over the response's signed list and
// compares it to openid.sig in constant time. Every malformed-input path
// resolves to an error, never a panic: a missing signed field is
// ErrMissingSignedField, anything that prevents the MAC from matching is
// ErrMacMismatch.
func Verify(msg *message.Message, assoc *core.Association, now time.Time) error {
	if assoc == nil {
		return core.ErrAssociationNotFound
	}
	if assoc.Expired(now) {
		return core.ErrAssociationNotFound
	}

	fields, err := SignedFields(msg)
	if err != nil {
		return err
	}
	base, err := BaseString(msg, fields)
	if err != nil {
		return err
	}

	sig, err := base64.StdEncoding.DecodeString(msg.Get("sig"))
	if err != nil {
		return fmt.Errorf("%w: undecodable sig", core.ErrMacMismatch)
	}

	mac := hmac.New(assoc.Type.Hash(), assoc.Secret)
	mac.Write(base)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return core.ErrMacMismatch
	}
	return nil
}
