// Package bus provides the event bus implementations for Kestrel.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MetaReplyTo is the metadata key carrying the reply address of a request.
const MetaReplyTo = "reply_to"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, companyID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, companyID, topic, payload)
}

type responder interface {
	respond(ctx context.Context, msg *domain.Message, payload []byte) error
}

// Respond answers a message received through Request. Messages that were
// published without a reply address are ignored.
func Respond(ctx context.Context, b domain.EventBus, msg *domain.Message, payload []byte) error {
	if msg.Metadata[MetaReplyTo] == "" {
		return nil
	}
	r, ok := b.(responder)
	if !ok {
		return fmt.Errorf("bus %T does not support replies", b)
	}
	return r.respond(ctx, msg, payload)
}

func newMessage(companyID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		CompanyID: companyID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

func requireCompany(companyID string) error {
	if companyID == "" {
		return fmt.Errorf("%w: companyID is required", domain.ErrValidation)
	}
	return nil
}
