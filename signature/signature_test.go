package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/message"
)

func testAssociation(t core.AssocType) *core.Association {
	return &core.Association{
		Endpoint:  "https://op.example.com/openid",
		Handle:    "h-test",
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		Type:      t,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func signedResponse() *message.Message {
	m := message.New()
	m.Set("ns", message.Namespace)
	m.Set("mode", "id_res")
	m.Set("op_endpoint", "https://op.example.com/openid")
	m.Set("claimed_id", "https://user.example.com/")
	m.Set("identity", "https://user.example.com/")
	m.Set("return_to", "https://rp.example.com/auth/callback")
	m.Set("response_nonce", "2026-08-28T10:00:00Zabc123")
	m.Set("assoc_handle", "h-test")
	m.Set("signed", "op_endpoint,claimed_id,identity,return_to,response_nonce,assoc_handle")
	return m
}

func TestSignThenVerify(t *testing.T) {
	for _, at := range []core.AssocType{core.AssocHMACSHA1, core.AssocHMACSHA256} {
		t.Run(string(at), func(t *testing.T) {
			assoc := testAssociation(at)
			msg := signedResponse()

			sig, err := Sign(msg, assoc)
			require.NoError(t, err)
			msg.Set("sig", sig)

			assert.NoError(t, Verify(msg, assoc, time.Now()))
		})
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()

	sig, err := Sign(msg, assoc)
	require.NoError(t, err)
	msg.Set("sig", sig)

	// Alter a signed field after signing.
	msg.Set("claimed_id", "https://attacker.example.com/")

	assert.ErrorIs(t, Verify(msg, assoc, time.Now()), core.ErrMacMismatch)
}

func TestVerifyIgnoresUnsignedFields(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()

	sig, err := Sign(msg, assoc)
	require.NoError(t, err)
	msg.Set("sig", sig)

	// A field outside the signed list must not break verification.
	msg.Set("unsigned_extra", "anything")

	assert.NoError(t, Verify(msg, assoc, time.Now()))
}

func TestVerifyMissingSignedField(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()
	msg.Set("signed", "op_endpoint,return_to,response_nonce,assoc_handle,not_present")
	msg.Set("sig", "AAAA")

	assert.ErrorIs(t, Verify(msg, assoc, time.Now()), core.ErrMissingSignedField)
}

func TestVerifyWrongSecret(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()

	sig, err := Sign(msg, assoc)
	require.NoError(t, err)
	msg.Set("sig", sig)

	other := testAssociation(core.AssocHMACSHA256)
	other.Secret = []byte("another-secret-another-secret-ab")

	assert.ErrorIs(t, Verify(msg, other, time.Now()), core.ErrMacMismatch)
}

func TestVerifyUndecodableSig(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()
	msg.Set("sig", "%%%not-base64%%%")

	assert.ErrorIs(t, Verify(msg, assoc, time.Now()), core.ErrMacMismatch)
}

func TestVerifyExpiredAssociation(t *testing.T) {
	assoc := testAssociation(core.AssocHMACSHA256)
	msg := signedResponse()

	sig, err := Sign(msg, assoc)
	require.NoError(t, err)
	msg.Set("sig", sig)

	assert.ErrorIs(t, Verify(msg, assoc, time.Now().Add(2*time.Hour)), core.ErrAssociationNotFound)
}
