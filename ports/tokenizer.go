package ports

import "github.com/relier-id/relier/core"

// Tokenizer converts accepted verification results into local session
// tokens and back
type Tokenizer interface {
	// SessionToken mints a session token for a verified result
	SessionToken(result *core.VerificationResult) (string, error)

	// SessionFromToken parses and validates a session token
	SessionFromToken(token string) (*core.SessionInfo, error)
}
