package ports

import (
	"context"

	"github.com/relier-id/relier/core"
)

// AssociationStore persists provider associations. Implementations must
// never return an expired or invalidated association: verifying against
// a stale secret is a correctness violation, not a recoverable glitch.
// Same-handle operations are serialized so a lookup fully precedes or
// fully follows an invalidation.
type AssociationStore interface {
	// Save persists an association, replacing any previous entry for
	// the same (endpoint, handle) pair.
	Save(ctx context.Context, assoc *core.Association) error

	// Lookup returns the association for (endpoint, handle), or
	// core.ErrAssociationNotFound.
	Lookup(ctx context.Context, endpoint, handle string) (*core.Association, error)

	// Latest returns the freshest usable association for an endpoint,
	// or core.ErrAssociationNotFound. Used when building a new
	// authentication request.
	Latest(ctx context.Context, endpoint string) (*core.Association, error)

	// Invalidate removes an association, on provider-signaled
	// invalidation or detected expiry.
	Invalidate(ctx context.Context, endpoint, handle string) error
}

// NonceStore records consumed response nonces to defend against replay.
type NonceStore interface {
	// CheckAndRecord atomically tests whether the nonce was already
	// consumed for the endpoint and records it if not. Returns false
	// when the nonce was seen before. Implementations evict entries
	// older than the replay window lazily.
	CheckAndRecord(ctx context.Context, endpoint, nonce string) (bool, error)
}
