// Package audit publishes registry lifecycle events to a Kafka topic for
// downstream compliance and ops consumers. Publishing is fire-and-forget:
// the registry never blocks or fails an operation because the audit stream
// is down.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Event types emitted by the registry.
const (
	EventAppRegistered = "app_registered"
	EventAppRefreshed  = "app_refreshed"
	EventAppFlagged    = "app_flagged"
	EventAppDelisted   = "app_delisted"
)

// Event is one lifecycle transition on an app record.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Domain     string    `json:"domain"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher writes events to Kafka. A nil Publisher is valid and drops all
// events, so callers never need to branch on whether auditing is configured.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New creates a publisher, or nil when no brokers are configured.
func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Emit publishes one event asynchronously. Delivery failures are logged and
// dropped; this stream is ops-grade, not a ledger the registry must block on.
func (p *Publisher) Emit(ctx context.Context, eventType, domain, reason string) {
	if p == nil {
		return
	}
	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Domain:     domain,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to encode audit event", "type", eventType, "error", err)
		return
	}
	record := &kgo.Record{Topic: p.topic, Key: []byte(domain), Value: value}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.WarnContext(ctx, "audit event delivery failed",
				"type", eventType,
				"domain", domain,
				"error", err,
			)
		}
	})
}

// Close flushes pending events and releases the client.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.client.Flush(ctx)
	p.client.Close()
}
