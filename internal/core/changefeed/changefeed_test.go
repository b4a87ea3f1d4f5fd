package changefeed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/core/pubsub"
	"github.com/syntrixbase/medstore/internal/core/pubsub/memory"
)

func instance(version int64) index.VersionedInstanceIdentifier {
	return index.VersionedInstanceIdentifier{
		InstanceIdentifier: index.InstanceIdentifier{
			Partition:         index.DefaultPartition,
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: "1.2.3.4",
			SOPInstanceUID:    "1.2.3.4.5",
		},
		Version: version,
	}
}

func TestFeed_PublishAndWatch(t *testing.T) {
	engine := memory.New()
	defer engine.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := engine.NewConsumer(pubsub.ConsumerOptions{FilterSubject: "changes.>"})
	require.NoError(t, err)
	received := make(chan Event, 100)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, consumer, func(ev Event) error {
			received <- ev
			return nil
		})
	}()

	pub, err := engine.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: "changes"})
	require.NoError(t, err)
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	feed := NewFeed(pub, mock, nil)

	// the watcher subscribes asynchronously; publish until it sees one
	var ev Event
	require.Eventually(t, func() bool {
		if err := feed.Publish(ctx, Event{Type: EventCreated, VersionedInstanceIdentifier: instance(5)}); err != nil {
			return false
		}
		select {
		case ev = <-received:
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, instance(5), ev.VersionedInstanceIdentifier)
	assert.True(t, mock.Now().Equal(ev.Timestamp))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, []byte) error { return errors.New("down") }
func (failingPublisher) Close() error                                  { return nil }

func TestFeed_PublishError(t *testing.T) {
	feed := NewFeed(failingPublisher{}, nil, nil)
	err := feed.Publish(context.Background(), Event{Type: EventDeleted, VersionedInstanceIdentifier: instance(1)})
	assert.EqualError(t, err, "down")

	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
