package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/relier-id/relier/core"
	"github.com/relier-id/relier/ports"
)

// SignInTopic is the topic sign-in outcomes are published on
const SignInTopic = "relier.signin"

// SignInEvent represents the outcome of one completed verification
type SignInEvent struct {
	Verified  bool   `json:"verified"`
	ClaimedID string `json:"claimed_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		topic:     SignInTopic,
	}
}

// PublishSignIn publishes the outcome of one completed verification
func (p *WatermillPublisher) PublishSignIn(ctx context.Context, result *core.VerificationResult) error {
	event := SignInEvent{
		Verified:  result.Verified,
		ClaimedID: result.ClaimedID,
		Reason:    string(result.Reason),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
