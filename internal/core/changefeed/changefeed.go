// Package changefeed publishes instance change events.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/pubsub"
	"github.com/syntrixbase/medstore/internal/metrics"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventDeleted EventType = "deleted"
	EventUpdated EventType = "updated"
)

// Event describes a change to one instance version.
type Event struct {
	Type EventType `json:"type"`
	index.VersionedInstanceIdentifier
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Feed encodes events as JSON and publishes them under their type.
type Feed struct {
	pub    pubsub.Publisher
	clock  clock.Clock
	logger *slog.Logger
}

func NewFeed(pub pubsub.Publisher, c clock.Clock, logger *slog.Logger) *Feed {
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{pub: pub, clock: c, logger: logger.With("component", "changefeed")}
}

func (f *Feed) Publish(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = f.clock.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := f.pub.Publish(ctx, string(ev.Type), data); err != nil {
		metrics.PublishErrors.WithLabelValues(string(ev.Type)).Inc()
		f.logger.Warn("Failed to publish change event", "type", ev.Type, "instance", ev.VersionedInstanceIdentifier, "error", err)
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// Decode parses a message produced by Feed.
func Decode(msg pubsub.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	return ev, nil
}

// Watch calls fn for every event until ctx is done. Messages are acked
// after fn returns nil and nak'ed otherwise.
func Watch(ctx context.Context, c pubsub.Consumer, fn func(Event) error) error {
	ch, err := c.Subscribe(ctx)
	if err != nil {
		return err
	}
	for msg := range ch {
		ev, err := Decode(msg)
		if err != nil {
			// poison message
			msg.Ack()
			continue
		}
		if err := fn(ev); err != nil {
			msg.Nak()
			continue
		}
		msg.Ack()
	}
	return ctx.Err()
}
