package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

type publisher struct {
	js   jetstream.JetStream
	opts pubsub.PublisherOptions
}

// NewPublisher ensures the stream exists and returns a JetStream publisher.
func NewPublisher(ctx context.Context, js jetstream.JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName != "" {
		prefix := opts.SubjectPrefix
		if prefix == "" {
			prefix = opts.StreamName
		}
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     opts.StreamName,
			Subjects: []string{prefix + ".>"},
			Storage:  storageType(opts.Storage),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure stream %s: %w", opts.StreamName, err)
		}
	}
	return &publisher{js: js, opts: opts}, nil
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	start := time.Now()
	full := pubsub.Subject(p.opts.SubjectPrefix, subject)

	var popts []jetstream.PublishOpt
	if p.opts.RetryAttempts > 0 {
		popts = append(popts, jetstream.WithRetryAttempts(p.opts.RetryAttempts))
	}
	_, err := p.js.Publish(ctx, full, data, popts...)
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(full, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", full, err)
	}
	return nil
}

func (p *publisher) Close() error { return nil }
