// Package pubsub notifies subscribers of each completed poll cycle through
// Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/statuswatch/internal/publisher"
)

// Notification is the message body: a summary, not the full report.
type Notification struct {
	CycleID       string    `json:"cycle_id"`
	Timestamp     time.Time `json:"timestamp"`
	Succeeded     int       `json:"succeeded"`
	Failed        int       `json:"failed"`
	FailedSources []string  `json:"failed_sources"`
}

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher publishes cycle notifications to one topic.
type Publisher struct {
	publish publishFunc
	topicID string
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Publisher{
		topicID: topic.ID(),
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return topic.Publish(ctx, msg).Get(ctx)
		},
	}, nil
}

// Name identifies the sink.
func (p *Publisher) Name() string {
	return "pubsub"
}

// Publish sends the cycle summary and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, report publisher.Report, _ []byte) error {
	if p.publish == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	failed := report.FailedSources()
	sort.Strings(failed)
	if failed == nil {
		failed = []string{}
	}
	data, err := json.Marshal(Notification{
		CycleID:       report.CycleID,
		Timestamp:     report.Timestamp,
		Succeeded:     report.Summary.Succeeded,
		Failed:        report.Summary.Failed,
		FailedSources: failed,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"cycle_id": report.CycleID},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topicID, err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
