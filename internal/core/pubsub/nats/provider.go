// Package nats implements pubsub on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// connect and newJetStream are replaced in tests.
var (
	connect = func(url string) (*nats.Conn, error) {
		return nats.Connect(url, nats.Name("medstore"), nats.Timeout(5*time.Second))
	}
	newJetStream = func(nc *nats.Conn) (jetstream.JetStream, error) {
		return jetstream.New(nc)
	}
)

// Provider owns one NATS connection.
type Provider struct {
	url    string
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

func NewProvider(url string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{url: url, logger: logger.With("component", "nats")}
}

// NewProviderWithJetStream wraps an existing JetStream context.
func NewProviderWithJetStream(js jetstream.JetStream, logger *slog.Logger) *Provider {
	p := NewProvider("", logger)
	p.js = js
	return p
}

// Connect dials the server and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	nc, err := connect(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	js, err := newJetStream(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}
	p.nc = nc
	p.js = js
	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(context.Background(), p.js, opts)
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewConsumer(p.js, opts, p.logger)
}

func (p *Provider) Close() error {
	if p.nc != nil {
		p.logger.Info("Closing NATS connection")
		p.nc.Close()
		p.nc = nil
	}
	p.js = nil
	return nil
}

func storageType(s pubsub.StorageType) jetstream.StorageType {
	if s == pubsub.FileStorage {
		return jetstream.FileStorage
	}
	return jetstream.MemoryStorage
}
