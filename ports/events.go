package ports

import (
	"context"

	"github.com/relier-id/relier/core"
)

// EventPublisher publishes sign-in outcomes to notify other services
type EventPublisher interface {
	// PublishSignIn publishes the outcome of one completed verification
	PublishSignIn(ctx context.Context, result *core.VerificationResult) error
}
