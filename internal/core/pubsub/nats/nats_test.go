package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/pubsub"
)

type mockJetStream struct {
	mock.Mock
	jetstream.JetStream
}

func (m *mockJetStream) CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	args := m.Called(ctx, cfg)
	return nil, args.Error(1)
}

func (m *mockJetStream) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	args := m.Called(ctx, stream, cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.Consumer), args.Error(1)
}

func (m *mockJetStream) Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	args := m.Called(ctx, subject, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jetstream.PubAck), args.Error(1)
}

type mockConsumer struct {
	jetstream.Consumer
	handler chan jetstream.MessageHandler
	cc      *mockConsumeContext
}

func (m *mockConsumer) Consume(h jetstream.MessageHandler, opts ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	m.handler <- h
	return m.cc, nil
}

type mockConsumeContext struct {
	jetstream.ConsumeContext
	stopped chan struct{}
}

func (m *mockConsumeContext) Stop() { close(m.stopped) }

type mockMsg struct {
	jetstream.Msg
	data  []byte
	acked bool
	naked bool
}

func (m *mockMsg) Data() []byte    { return m.data }
func (m *mockMsg) Subject() string { return "MEDSTORE_CHANGES.created" }
func (m *mockMsg) Ack() error      { m.acked = true; return nil }
func (m *mockMsg) Nak() error      { m.naked = true; return nil }
func (m *mockMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: 2, Stream: "MEDSTORE_CHANGES", Consumer: "medstore"}, nil
}

func TestPublisher_EnsuresStreamAndPublishes(t *testing.T) {
	js := &mockJetStream{}
	js.On("CreateOrUpdateStream", mock.Anything, mock.MatchedBy(func(cfg jetstream.StreamConfig) bool {
		return cfg.Name == "MEDSTORE_CHANGES" &&
			cfg.Storage == jetstream.FileStorage &&
			assert.ObjectsAreEqual([]string{"MEDSTORE_CHANGES.>"}, cfg.Subjects)
	})).Return(nil, nil)
	js.On("Publish", mock.Anything, "MEDSTORE_CHANGES.created", []byte("{}")).Return(&jetstream.PubAck{Sequence: 1}, nil)

	var observed string
	p, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{
		StreamName:    "MEDSTORE_CHANGES",
		SubjectPrefix: "MEDSTORE_CHANGES",
		Storage:       pubsub.FileStorage,
		OnPublish:     func(subject string, err error, _ time.Duration) { observed = subject },
	})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), "created", []byte("{}")))
	assert.Equal(t, "MEDSTORE_CHANGES.created", observed)
	js.AssertExpectations(t)
}

func TestPublisher_Errors(t *testing.T) {
	js := &mockJetStream{}
	js.On("CreateOrUpdateStream", mock.Anything, mock.Anything).Return(nil, errors.New("no stream")).Once()
	_, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{StreamName: "S"})
	assert.ErrorContains(t, err, "no stream")

	_, err = NewPublisher(context.Background(), nil, pubsub.PublisherOptions{})
	assert.Error(t, err)

	js.On("Publish", mock.Anything, "deleted", mock.Anything).Return(nil, errors.New("timeout"))
	p, err := NewPublisher(context.Background(), js, pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.ErrorContains(t, p.Publish(context.Background(), "deleted", nil), "timeout")
}

func TestConsumer_DeliversUntilCanceled(t *testing.T) {
	js := &mockJetStream{}
	cons := &mockConsumer{
		handler: make(chan jetstream.MessageHandler, 1),
		cc:      &mockConsumeContext{stopped: make(chan struct{})},
	}
	js.On("CreateOrUpdateConsumer", mock.Anything, "MEDSTORE_CHANGES", mock.MatchedBy(func(cfg jetstream.ConsumerConfig) bool {
		return cfg.Durable == "medstore" && cfg.FilterSubject == "MEDSTORE_CHANGES.>" && cfg.AckPolicy == jetstream.AckExplicitPolicy
	})).Return(cons, nil)

	c, err := NewConsumer(js, pubsub.ConsumerOptions{StreamName: "MEDSTORE_CHANGES"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx)
	require.NoError(t, err)

	handler := <-cons.handler
	raw := &mockMsg{data: []byte(`{"type":"created"}`)}
	handler(raw)

	msg := <-ch
	assert.Equal(t, `{"type":"created"}`, string(msg.Data()))
	md, err := msg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), md.NumDelivered)
	require.NoError(t, msg.Ack())
	assert.True(t, raw.acked)

	cancel()
	<-cons.cc.stopped
	_, open := <-ch
	assert.False(t, open)

	late := &mockMsg{}
	handler(late)
	assert.True(t, late.naked)
}

func TestConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(nil, pubsub.ConsumerOptions{StreamName: "S"}, nil)
	assert.Error(t, err)
	_, err = NewConsumer(&mockJetStream{}, pubsub.ConsumerOptions{}, nil)
	assert.Error(t, err)
}

func TestProvider_Connect(t *testing.T) {
	origConnect, origJS := connect, newJetStream
	defer func() { connect, newJetStream = origConnect, origJS }()

	connect = func(url string) (*nats.Conn, error) {
		return nil, errors.New("refused")
	}
	p := NewProvider("nats://127.0.0.1:1", nil)
	assert.ErrorContains(t, p.Connect(context.Background()), "refused")

	_, err := p.NewPublisher(pubsub.PublisherOptions{})
	assert.Error(t, err)
	_, err = p.NewConsumer(pubsub.ConsumerOptions{StreamName: "S"})
	assert.Error(t, err)

	js := &mockJetStream{}
	wrapped := NewProviderWithJetStream(js, nil)
	pub, err := wrapped.NewPublisher(pubsub.PublisherOptions{})
	require.NoError(t, err)
	assert.NotNil(t, pub)
	require.NoError(t, wrapped.Close())
}
