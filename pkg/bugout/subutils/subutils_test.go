package subutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSubscriber struct {
	mu     sync.Mutex
	topics []string
	events []bugout.Message
	delay  time.Duration
	err    error
}

func (r *recordingSubscriber) OnSubscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, "+"+topic)
	return nil
}

func (r *recordingSubscriber) OnUnsubscribe(ctx context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, "-"+topic)
	return nil
}

func (r *recordingSubscriber) OnEvent(ctx context.Context, msg bugout.Message) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
	return r.err
}

func (r *recordingSubscriber) snapshot() ([]string, []bugout.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...), append([]bugout.Message(nil), r.events...)
}

func TestAsyncQueueingSubscriber_PreservesOrder(t *testing.T) {
	rec := &recordingSubscriber{}
	async := NewAsyncQueueingSubscriber(rec, 10, nil).Start()
	ctx := context.Background()

	require.NoError(t, async.OnSubscribe(ctx, "bugout-move-made-ev"))
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, async.OnEvent(ctx, bugout.Message{ID: id, Topic: "bugout-move-made-ev"}))
	}
	require.NoError(t, async.OnUnsubscribe(ctx, "bugout-move-made-ev"))
	require.NoError(t, async.Close())

	topics, events := rec.snapshot()
	assert.Equal(t, []string{"+bugout-move-made-ev", "-bugout-move-made-ev"}, topics)
	require.Len(t, events, 3)
	assert.Equal(t, "1", events[0].ID)
	assert.Equal(t, "3", events[2].ID)
}

func TestAsyncQueueingSubscriber_QueueFullAndClosed(t *testing.T) {
	rec := &recordingSubscriber{}
	async := NewAsyncQueueingSubscriber(rec, 1, nil) // not started: nothing drains
	ctx := context.Background()

	assert.Equal(t, 1, async.QueueCapacity())
	require.NoError(t, async.OnEvent(ctx, bugout.Message{ID: "1"}))
	assert.ErrorIs(t, async.OnEvent(ctx, bugout.Message{ID: "2"}), ErrQueueFull)
	assert.Equal(t, 1, async.QueueSize())

	async.Start()
	require.NoError(t, async.Close())
	assert.True(t, async.IsClosed())
	assert.ErrorIs(t, async.OnEvent(ctx, bugout.Message{ID: "3"}), ErrSubscriberClosed)

	_, events := rec.snapshot()
	assert.Len(t, events, 1)
}

func TestAsyncQueueingSubscriber_LogsWrappedErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recordingSubscriber{err: errors.New("sink closed")}
	async := NewAsyncQueueingSubscriber(rec, 4, zap.New(core)).Start()

	require.NoError(t, async.OnEvent(context.Background(), bugout.Message{ID: "9", Topic: "bugout-sync-reply-ev"}))
	require.NoError(t, async.Close())

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Async subscriber call failed", logs.All()[0].Message)
}

func TestLoggingSubscriber(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	rec := &recordingSubscriber{}
	sub := NewNamedLoggingSubscriber(rec, zap.New(core), zap.InfoLevel, "trace")
	ctx := context.Background()

	require.NoError(t, sub.OnSubscribe(ctx, "#"))
	require.NoError(t, sub.OnEvent(ctx, bugout.Message{ID: "1", Topic: "bugout-game-ready-ev", Key: "g1", Payload: []byte(`{"GameReady":{}}`), Delivery: 1}))
	require.NoError(t, sub.OnUnsubscribe(ctx, "#"))

	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "Subscribed", logs.All()[0].Message)
	entry := logs.All()[1]
	assert.Equal(t, "Message received", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "trace", fields["subscriber"])
	assert.Equal(t, "GameReady", fields["kind"])
	assert.Equal(t, "g1", fields["key"])

	_, events := rec.snapshot()
	assert.Len(t, events, 1)

	standalone := NewLoggingSubscriber(nil, zap.New(core), zap.InfoLevel)
	assert.NoError(t, standalone.OnEvent(ctx, bugout.Message{Payload: []byte{0xff, 0xfe}}))
	assert.Equal(t, "unreadable", logs.All()[3].ContextMap()["kind"])

	quiet := NewLoggingSubscriber(nil, zap.New(core), zap.DebugLevel-1)
	assert.NoError(t, quiet.OnEvent(ctx, bugout.Message{Payload: []byte(`{"MoveMade":{}}`)}))
	assert.Equal(t, 4, logs.Len())
}
