package core

import (
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"time"
)

// AssocType identifies the HMAC algorithm negotiated for an association.
type AssocType string

const (
	// AssocHMACSHA1 is the HMAC-SHA1 association type
	AssocHMACSHA1 AssocType = "HMAC-SHA1"

	// AssocHMACSHA256 is the HMAC-SHA256 association type
	AssocHMACSHA256 AssocType = "HMAC-SHA256"
)

// Hash returns the hash constructor for the association type.
// Unknown types fall back to SHA-256.
func (t AssocType) Hash() func() hash.Hash {
	if t == AssocHMACSHA1 {
		return sha1.New
	}
	return sha256.New
}

// SecretSize returns the expected MAC key length in bytes.
func (t AssocType) SecretSize() int {
	if t == AssocHMACSHA1 {
		return sha1.Size
	}
	return sha256.Size
}

// Valid reports whether the type is one of the protocol-defined values.
func (t AssocType) Valid() bool {
	return t == AssocHMACSHA1 || t == AssocHMACSHA256
}

// Association is a shared secret negotiated with a provider, used to
// verify signed responses without a round trip per assertion.
type Association struct {
	Endpoint  string    // Provider endpoint URL the secret was negotiated with
	Handle    string    // Provider-assigned opaque handle
	Secret    []byte    // MAC key
	Type      AssocType // HMAC algorithm
	IssuedAt  time.Time // When the association was established
	ExpiresAt time.Time // When the secret stops being usable
}

// Expired reports whether the association must no longer be used at the
// given instant.
func (a *Association) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// AuthRequest captures one sign-in attempt, consumed once to build the
// provider redirect.
type AuthRequest struct {
	ClaimedID   string            // User-supplied identifier after normalization
	OPLocalID   string            // Provider-local identifier from discovery, if any
	Endpoint    string            // Provider endpoint from discovery
	ReturnTo    string            // Callback URL the assertion must come back to
	Realm       string            // Trust realm presented to the user
	AssocHandle string            // Handle of the association used, empty in stateless mode
	Extensions  map[string]string // Extra openid.* parameters (extension fields, bare keys)
}

// DiscoveredInfo is the outcome of resolving a user-supplied identifier
// to a provider endpoint.
type DiscoveredInfo struct {
	Endpoint     string // Provider endpoint URL
	ClaimedID    string // Normalized claimed identifier
	OPLocalID    string // Provider-local identifier, if the identifier delegates
	OPIdentifier bool   // True when the identifier names the provider itself (identifier_select)
}

// RejectReason classifies why a response was not accepted.
type RejectReason string

const (
	ReasonNone                RejectReason = ""
	ReasonUserCancelled       RejectReason = "user_cancelled"
	ReasonProviderFailure     RejectReason = "provider_failure"
	ReasonMalformedMessage    RejectReason = "malformed_message"
	ReasonInvalidNonce        RejectReason = "invalid_nonce"
	ReasonReplayDetected      RejectReason = "replay_detected"
	ReasonMissingSignedField  RejectReason = "missing_signed_field"
	ReasonMacMismatch         RejectReason = "mac_mismatch"
	ReasonReturnURLMismatch   RejectReason = "return_url_mismatch"
	ReasonAssociationNotFound RejectReason = "association_not_found"
)

// Category maps a reject reason to a coarse, user-presentable bucket.
// Internal verification detail ends here; nothing about MACs or secrets
// leaks past this point.
func (r RejectReason) Category() string {
	switch r {
	case ReasonNone:
		return "accepted"
	case ReasonUserCancelled:
		return "cancelled"
	case ReasonReplayDetected, ReasonMacMismatch, ReasonReturnURLMismatch:
		return "tampered"
	default:
		return "failed"
	}
}

// VerificationResult is the single outcome of verifying one provider
// response. Produced exactly once per response; the caller decides what
// to do with it (create a user record, show an error, offer a retry).
type VerificationResult struct {
	Verified   bool
	ClaimedID  string
	Nonce      string
	Attributes map[string][]string // Attribute Exchange data, schema URI to values
	Reason     RejectReason
}

// SessionInfo is what a parsed local session token resolves to.
type SessionInfo struct {
	ClaimedID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Attributes map[string][]string
}
