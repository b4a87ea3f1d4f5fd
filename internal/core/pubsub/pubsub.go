// Package pubsub abstracts the message broker behind the change feed.
package pubsub

import (
	"context"
	"io"
	"time"
)

// Message is a received message with acknowledgment controls.
type Message interface {
	Data() []byte
	Subject() string
	Ack() error
	// Nak requests redelivery.
	Nak() error
	Metadata() (MessageMetadata, error)
}

// MessageMetadata describes one delivery.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Stream       string
	Consumer     string
}

// Publisher publishes messages to a stream.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Consumer delivers messages until ctx is done, then closes the channel.
type Consumer interface {
	Subscribe(ctx context.Context) (<-chan Message, error)
}

// Provider creates publishers and consumers for one broker.
type Provider interface {
	io.Closer
	NewPublisher(opts PublisherOptions) (Publisher, error)
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is implemented by providers that dial a broker.
type Connectable interface {
	Connect(ctx context.Context) error
}

// StorageType selects stream persistence.
type StorageType string

const (
	MemoryStorage StorageType = "memory"
	FileStorage   StorageType = "file"
)

type PublisherOptions struct {
	// StreamName is created on first use when set.
	StreamName string
	// SubjectPrefix is prepended to every subject with a dot.
	SubjectPrefix string
	RetryAttempts int
	Storage       StorageType
	// OnPublish is called after each publish attempt.
	OnPublish func(subject string, err error, latency time.Duration)
}

type ConsumerOptions struct {
	StreamName    string
	ConsumerName  string
	FilterSubject string
	BufferSize    int
}

const DefaultBufferSize = 100

// Subject joins prefix and subject.
func Subject(prefix, subject string) string {
	if prefix == "" {
		return subject
	}
	return prefix + "." + subject
}

const (
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// Config selects and configures the broker.
type Config struct {
	Backend string      `yaml:"backend"`
	Stream  string      `yaml:"stream"`
	Storage StorageType `yaml:"storage"`
	NATS    NATSConfig  `yaml:"nats"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Stream:  "MEDSTORE_CHANGES",
		Storage: FileStorage,
		NATS:    NATSConfig{URL: "nats://localhost:4222"},
	}
}
