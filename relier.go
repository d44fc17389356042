package relier

import (
	"context"
	"net/url"

	"github.com/relier-id/relier/core"
)

// RelyingParty represents the public interface for driving an OpenID 2.0
// authentication flow against an identity provider
type RelyingParty interface {
	// BeginAuthentication discovers the provider behind the identifier and
	// returns the redirect URL that sends the user agent to it
	BeginAuthentication(ctx context.Context, identifier, returnTo, realm string) (string, error)

	// CompleteAuthentication verifies the provider callback delivered to
	// returnTo and reports the outcome
	CompleteAuthentication(ctx context.Context, returnTo string, query url.Values) (*core.VerificationResult, error)
}

// Tokenizer represents the interface for exchanging verification results
// for session tokens
type Tokenizer interface {
	// SessionToken issues a session token for a verified result
	SessionToken(result *core.VerificationResult) (string, error)

	// SessionFromToken validates a session token and recovers the session
	SessionFromToken(token string) (*core.SessionInfo, error)
}
