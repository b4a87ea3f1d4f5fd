package memory

import (
	"context"
	"sync"
	"time"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

type message struct {
	data      []byte
	subject   string
	timestamp time.Time
	redeliver chan pubsub.Message
	ctx       context.Context

	mu        sync.Mutex
	delivered uint64
	settled   bool
}

func (m *message) Data() []byte    { return m.data }
func (m *message) Subject() string { return m.subject }

func (m *message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = true
	return nil
}

// Nak requeues without blocking; the message is dropped when the buffer is
// full or the subscription ended.
func (m *message) Nak() error {
	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return nil
	}
	m.delivered++
	m.mu.Unlock()

	defer func() {
		// send on a channel closed by unsubscribe
		recover()
	}()
	select {
	case <-m.ctx.Done():
	case m.redeliver <- m:
	default:
	}
	return nil
}

func (m *message) Metadata() (pubsub.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pubsub.MessageMetadata{NumDelivered: m.delivered, Timestamp: m.timestamp}, nil
}
