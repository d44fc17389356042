package tokenizer

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the claims carried by a local session token minted
// for a verified sign-in. The subject is the claimed identifier.
type SessionClaims struct {
	jwt.RegisteredClaims
	Attributes map[string][]string `json:"attrs,omitempty"`
}
