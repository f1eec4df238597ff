package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require companyID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, companyID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, companyID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, companyID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	CompanyID string            `json:"companyId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the detection pipeline.
const (
	TopicScanRequested     = "kestrel.scan.requested"
	TopicScanCompleted     = "kestrel.scan.completed"
	TopicDetectionCreated  = "kestrel.detection.created"
	TopicDetectionResolved = "kestrel.detection.resolved"
	TopicBenfordCompleted  = "kestrel.benford.completed"
)

// ScanRequest is the payload of TopicScanRequested.
type ScanRequest struct {
	CompanyID   string `json:"companyId"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// DetectionEvent is the payload of detection lifecycle topics.
type DetectionEvent struct {
	DetectionID string    `json:"detectionId"`
	CompanyID   string    `json:"companyId"`
	FraudType   FraudType `json:"fraudType"`
	Severity    Severity  `json:"severity"`
	RiskScore   int       `json:"riskScore"`
}
