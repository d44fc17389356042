package ports

import (
	"context"

	"github.com/relier-id/relier/core"
)

// Discoverer resolves a user-supplied identifier to a provider endpoint
type Discoverer interface {
	// Discover normalizes the identifier and performs Yadis/HTML
	// discovery against it
	Discover(ctx context.Context, identifier string) (*core.DiscoveredInfo, error)
}
