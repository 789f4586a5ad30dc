// Package bus publishes pipeline events (fused rankings, completed reports)
// to in-process or Kafka subscribers.
package bus

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "rankings.fused").
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (Unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links events of one pipeline run.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload is the JSON encoded event data.
	Payload json.RawMessage `json:"payload"`
}

// NewEvent creates an event with a fresh ID and the JSON encoding of payload.
func NewEvent(eventType, source, correlationID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: correlationID,
		Payload:       data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Topics for pipeline events.
const (
	// TopicRankingsFused carries the fused rankings of one configuration.
	TopicRankingsFused = "rankings.fused"

	// TopicReportCompleted carries the summary of one configuration.
	TopicReportCompleted = "report.completed"
)
