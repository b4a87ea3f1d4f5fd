// Package memory is an in-process broker for standalone mode and tests.
package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

var (
	ErrEngineClosed      = errors.New("engine is closed")
	ErrPatternSubscribed = errors.New("pattern already has a subscriber")
)

var _ pubsub.Provider = (*Engine)(nil)

type subscription struct {
	ch     chan pubsub.Message
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine routes messages to subscribers by NATS-style subject pattern.
type Engine struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
}

func New() *Engine {
	return &Engine{subs: make(map[string]*subscription)}
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &publisher{engine: e, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &consumer{engine: e, opts: opts}, nil
}

func (e *Engine) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Close ends every subscription.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	for _, s := range e.subs {
		s.cancel()
		close(s.ch)
	}
	e.subs = nil
	return nil
}

func (e *Engine) publish(ctx context.Context, subject string, data []byte) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	for pattern, s := range e.subs {
		if !matchSubject(pattern, subject) {
			continue
		}
		msg := &message{data: data, subject: subject, timestamp: time.Now(), delivered: 1, redeliver: s.ch, ctx: s.ctx}
		select {
		case s.ch <- msg:
		case <-s.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) subscribe(ctx context.Context, pattern string, size int) (<-chan pubsub.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if e.subs[pattern] != nil {
		return nil, ErrPatternSubscribed
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{ch: make(chan pubsub.Message, size), ctx: subCtx, cancel: cancel}
	e.subs[pattern] = s

	go func() {
		<-subCtx.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.subs[pattern] == s {
			delete(e.subs, pattern)
			close(s.ch)
		}
	}()
	return s.ch, nil
}

type publisher struct {
	engine *Engine
	opts   pubsub.PublisherOptions
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	start := time.Now()
	full := pubsub.Subject(p.opts.SubjectPrefix, subject)
	err := p.engine.publish(ctx, full, data)
	if p.opts.OnPublish != nil {
		p.opts.OnPublish(full, err, time.Since(start))
	}
	return err
}

func (p *publisher) Close() error { return nil }

type consumer struct {
	engine *Engine
	opts   pubsub.ConsumerOptions
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	pattern := c.opts.FilterSubject
	if pattern == "" {
		pattern = ">"
	}
	size := c.opts.BufferSize
	if size <= 0 {
		size = pubsub.DefaultBufferSize
	}
	return c.engine.subscribe(ctx, pattern, size)
}

// matchSubject supports "*" for one token and a trailing ">" for one or
// more tokens.
func matchSubject(pattern, subject string) bool {
	if pattern == "" || subject == "" {
		return false
	}
	pp := strings.Split(pattern, ".")
	sp := strings.Split(subject, ".")
	for i, p := range pp {
		if p == ">" {
			return i < len(sp)
		}
		if i >= len(sp) || (p != "*" && p != sp[i]) {
			return false
		}
	}
	return len(pp) == len(sp)
}
