package tokenizer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relier-id/relier/core"
)

func newTokenizer(t *testing.T, ttl time.Duration) *JWTTokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return NewJWTTokenizer(key, ttl).(*JWTTokenizer)
}

func verifiedResult() *core.VerificationResult {
	return &core.VerificationResult{
		Verified:  true,
		ClaimedID: "https://user.example.com/",
		Nonce:     "2026-08-28T10:00:00Zabc",
		Attributes: map[string][]string{
			"http://axschema.org/contact/email": {"dimitrij@example.com"},
		},
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	tk := newTokenizer(t, time.Hour)

	token, err := tk.SessionToken(verifiedResult())
	require.NoError(t, err)

	info, err := tk.SessionFromToken(token)
	require.NoError(t, err)

	assert.Equal(t, "https://user.example.com/", info.ClaimedID)
	assert.Equal(t, []string{"dimitrij@example.com"}, info.Attributes["http://axschema.org/contact/email"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), info.ExpiresAt, time.Minute)
}

func TestSessionTokenRefusesUnverifiedResult(t *testing.T) {
	tk := newTokenizer(t, time.Hour)

	result := verifiedResult()
	result.Verified = false
	result.Reason = core.ReasonMacMismatch

	_, err := tk.SessionToken(result)
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestSessionFromTokenRejectsForeignKey(t *testing.T) {
	tk := newTokenizer(t, time.Hour)
	other := newTokenizer(t, time.Hour)

	token, err := tk.SessionToken(verifiedResult())
	require.NoError(t, err)

	_, err = other.SessionFromToken(token)
	assert.Error(t, err)
}

func TestSessionFromTokenRejectsGarbage(t *testing.T) {
	tk := newTokenizer(t, time.Hour)

	_, err := tk.SessionFromToken("not-a-jwt")
	assert.Error(t, err)
}
