package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

type consumer struct {
	js     jetstream.JetStream
	opts   pubsub.ConsumerOptions
	logger *slog.Logger
}

// NewConsumer returns a durable JetStream consumer on opts.StreamName.
func NewConsumer(js jetstream.JetStream, opts pubsub.ConsumerOptions, logger *slog.Logger) (pubsub.Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = pubsub.DefaultBufferSize
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "medstore"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &consumer{js: js, opts: opts, logger: logger}, nil
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	filter := c.opts.FilterSubject
	if filter == "" {
		filter = c.opts.StreamName + ".>"
	}
	cons, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       c.opts.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", c.opts.ConsumerName, err)
	}

	ch := make(chan pubsub.Message, c.opts.BufferSize)
	var (
		mu     sync.RWMutex
		closed bool
	)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			msg.Nak()
			return
		}
		select {
		case ch <- &message{msg: msg}:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}
	c.logger.Info("Consumer subscribed", "stream", c.opts.StreamName, "filter", filter)

	go func() {
		<-ctx.Done()
		cc.Stop()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch, nil
}

type message struct {
	msg jetstream.Msg
}

func (m *message) Data() []byte    { return m.msg.Data() }
func (m *message) Subject() string { return m.msg.Subject() }
func (m *message) Ack() error      { return m.msg.Ack() }
func (m *message) Nak() error      { return m.msg.Nak() }

func (m *message) Metadata() (pubsub.MessageMetadata, error) {
	md, err := m.msg.Metadata()
	if err != nil {
		return pubsub.MessageMetadata{}, err
	}
	return pubsub.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Stream:       md.Stream,
		Consumer:     md.Consumer,
	}, nil
}
