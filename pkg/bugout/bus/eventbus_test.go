package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

// MockSubscriber records everything it is handed.
type MockSubscriber struct {
	bugout.BaseSubscriber
	mu              sync.RWMutex
	subscriptions   []string
	unsubscriptions []string
	events          []bugout.Message
	failures        int // fail this many deliveries before succeeding
}

func (m *MockSubscriber) OnSubscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	return nil
}

func (m *MockSubscriber) OnUnsubscribe(ctx context.Context, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscriptions = append(m.unsubscriptions, topic)
	return nil
}

func (m *MockSubscriber) OnEvent(ctx context.Context, msg bugout.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
	if m.failures > 0 {
		m.failures--
		return fmt.Errorf("simulated error")
	}
	return nil
}

func (m *MockSubscriber) Events() []bugout.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bugout.Message, len(m.events))
	copy(out, m.events)
	return out
}

func newStartedBus(t *testing.T, opts ...func(*EventBusBuilder)) EventBus {
	t.Helper()
	b := NewEventBus().WithLogger(zaptest.NewLogger(t))
	for _, opt := range opts {
		opt(b)
	}
	eb, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, eb.Start())
	t.Cleanup(func() { _ = eb.Stop() })
	return eb
}

func TestEventBusBuilder_Defaults(t *testing.T) {
	eb, err := NewEventBus().Build()
	require.NoError(t, err)

	b := eb.(*basicEventBus)
	assert.Equal(t, 1000, cap(b.ch))
	assert.Equal(t, 3, b.maxDeliveries)
	assert.Equal(t, int32(0), atomic.LoadInt32(&b.started))
}

func TestEventBusBuilder_Invalid(t *testing.T) {
	_, err := NewEventBus().WithBufferSize(0).Build()
	assert.Error(t, err)

	_, err = NewEventBus().WithMaxDeliveries(0).Build()
	assert.Error(t, err)

	_, err = NewEventBus().WithServiceInfo("bugout", "").Build()
	assert.Error(t, err)
}

func TestEventBus_LifecycleErrors(t *testing.T) {
	eb, err := NewEventBus().Build()
	require.NoError(t, err)

	assert.ErrorIs(t, eb.Publish(context.Background(), "bugout-x-cmd", "k", nil), ErrNotStarted)
	assert.ErrorIs(t, eb.Stop(), ErrNotStarted)

	require.NoError(t, eb.Start())
	assert.ErrorIs(t, eb.Start(), ErrAlreadyStarted)
	require.NoError(t, eb.Stop())
}

func TestEventBus_ExactAndWildcardSubscriptions(t *testing.T) {
	eb := newStartedBus(t)
	ctx := context.Background()

	exact := &MockSubscriber{}
	all := &MockSubscriber{}
	require.NoError(t, eb.Subscribe(ctx, exact, "bugout-make-move-cmd"))
	require.NoError(t, eb.Subscribe(ctx, all, "#"))

	require.NoError(t, eb.PublishSync(ctx, "bugout-make-move-cmd", "g1", []byte("a")))
	require.NoError(t, eb.PublishSync(ctx, "bugout-undo-move-cmd", "g1", []byte("b")))

	assert.Len(t, exact.Events(), 1)
	assert.Len(t, all.Events(), 2)
	assert.Equal(t, []string{"bugout-make-move-cmd"}, exact.subscriptions)

	require.NoError(t, eb.Unsubscribe(ctx, exact, "bugout-make-move-cmd"))
	require.NoError(t, eb.PublishSync(ctx, "bugout-make-move-cmd", "g1", []byte("c")))
	assert.Len(t, exact.Events(), 1)
	assert.Equal(t, []string{"bugout-make-move-cmd"}, exact.unsubscriptions)

	require.NoError(t, eb.UnsubscribeAll(ctx, all))
	require.NoError(t, eb.PublishSync(ctx, "bugout-make-move-cmd", "g1", []byte("d")))
	assert.Len(t, all.Events(), 3)
}

func TestEventBus_OrderWithinKey(t *testing.T) {
	eb := newStartedBus(t)
	ctx := context.Background()

	sub := &MockSubscriber{}
	require.NoError(t, eb.Subscribe(ctx, sub, "bugout-make-move-cmd"))

	const n = 200
	for i := 0; i < n; i++ {
		key := "g1"
		if i%2 == 1 {
			key = "g2"
		}
		require.NoError(t, eb.Publish(ctx, "bugout-make-move-cmd", key, []byte(fmt.Sprint(i))))
	}

	require.Eventually(t, func() bool { return len(sub.Events()) == n }, time.Second, 5*time.Millisecond)

	last := map[string]int{"g1": -1, "g2": -1}
	for _, msg := range sub.Events() {
		var i int
		_, err := fmt.Sscan(string(msg.Payload), &i)
		require.NoError(t, err)
		assert.Greater(t, i, last[msg.Key])
		last[msg.Key] = i
	}
}

func TestEventBus_RedeliversFailedMessages(t *testing.T) {
	eb := newStartedBus(t, func(b *EventBusBuilder) { b.WithMaxDeliveries(3) })
	ctx := context.Background()

	sub := &MockSubscriber{failures: 2}
	require.NoError(t, eb.Subscribe(ctx, sub, "bugout-req-sync-cmd"))

	require.NoError(t, eb.PublishSync(ctx, "bugout-req-sync-cmd", "g1", []byte("x")))

	events := sub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{events[0].Delivery, events[1].Delivery, events[2].Delivery})
	assert.Equal(t, events[0].ID, events[2].ID)
}

func TestEventBus_AbandonsAfterMaxDeliveries(t *testing.T) {
	eb := newStartedBus(t, func(b *EventBusBuilder) { b.WithMaxDeliveries(2) })
	ctx := context.Background()

	sub := &MockSubscriber{failures: 5}
	require.NoError(t, eb.Subscribe(ctx, sub, "bugout-req-sync-cmd"))

	err := eb.PublishSync(ctx, "bugout-req-sync-cmd", "g1", []byte("x"))
	assert.EqualError(t, err, "simulated error")
	assert.Len(t, sub.Events(), 2)
}

func TestEventBus_AbandonedMessagesAreDeadLettered(t *testing.T) {
	var (
		mu        sync.Mutex
		abandoned []bugout.Message
		causes    []error
	)
	dl := bugout.DeadLetterFunc(func(ctx context.Context, msg bugout.Message, cause error) error {
		mu.Lock()
		defer mu.Unlock()
		abandoned = append(abandoned, msg)
		causes = append(causes, cause)
		return nil
	})
	eb := newStartedBus(t, func(b *EventBusBuilder) { b.WithMaxDeliveries(2).WithDeadLetter(dl) })
	ctx := context.Background()

	failing := &MockSubscriber{failures: 2}
	healthy := &MockSubscriber{}
	require.NoError(t, eb.Subscribe(ctx, failing, "bugout-req-sync-cmd"))
	require.NoError(t, eb.Subscribe(ctx, healthy, "bugout-req-sync-cmd"))

	assert.Error(t, eb.PublishSync(ctx, "bugout-req-sync-cmd", "g1", []byte("lost")))
	require.NoError(t, eb.PublishSync(ctx, "bugout-req-sync-cmd", "g1", []byte("kept")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, abandoned, 1)
	assert.Equal(t, "lost", string(abandoned[0].Payload))
	assert.Equal(t, 2, abandoned[0].Delivery)
	assert.EqualError(t, causes[0], "simulated error")
	assert.Len(t, healthy.Events(), 2)
}

func TestEventBus_PublishHonoursContext(t *testing.T) {
	eb, err := NewEventBus().WithBufferSize(1).Build()
	require.NoError(t, err)

	b := eb.(*basicEventBus)
	atomic.StoreInt32(&b.started, 1) // accept messages without a dispatcher

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, eb.Publish(ctx, "bugout-x-cmd", "k", nil))
	err = eb.Publish(ctx, "bugout-x-cmd", "k", nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEventBus_ChainsToAnotherBus(t *testing.T) {
	upstream := newStartedBus(t)
	downstream := newStartedBus(t)
	ctx := context.Background()

	sub := &MockSubscriber{}
	require.NoError(t, downstream.Subscribe(ctx, sub, "#"))
	require.NoError(t, upstream.Subscribe(ctx, downstream, "#"))

	require.NoError(t, upstream.PublishSync(ctx, "bugout-game-ready-ev", "g1", []byte("{}")))
	require.Eventually(t, func() bool { return len(sub.Events()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "g1", sub.Events()[0].Key)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *countingMetrics) Counter(name string) o11y.Counter { return &namedCounter{c, name} }
func (c *countingMetrics) Histogram(name string) o11y.Histogram {
	return nopHistogram{}
}
func (c *countingMetrics) Gauge(name string) o11y.Gauge { return nopGauge{} }

type namedCounter struct {
	m    *countingMetrics
	name string
}

func (n *namedCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	n.m.mu.Lock()
	defer n.m.mu.Unlock()
	n.m.counts[n.name] += value
}

type nopHistogram struct{}

func (nopHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {}

type nopGauge struct{}

func (nopGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {}

func TestEventBus_Metrics(t *testing.T) {
	metrics := &countingMetrics{counts: map[string]int64{}}
	eb := newStartedBus(t, func(b *EventBusBuilder) { b.WithObservability(metrics, nil) })
	ctx := context.Background()

	sub := &MockSubscriber{failures: 1}
	require.NoError(t, eb.Subscribe(ctx, sub, "#"))
	require.NoError(t, eb.PublishSync(ctx, "bugout-move-made-ev", "g1", nil))

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.Equal(t, int64(1), metrics.counts["bugout_bus_messages_published_total"])
	assert.Equal(t, int64(2), metrics.counts["bugout_bus_deliveries_total"])
	assert.Equal(t, int64(1), metrics.counts["bugout_bus_redeliveries_total"])
}

func TestEventBus_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	eb, err := NewEventBus().Build()
	require.NoError(t, err)
	require.NoError(t, eb.Start())
	require.NoError(t, eb.PublishSync(context.Background(), "bugout-x-cmd", "k", nil))
	require.NoError(t, eb.Stop())
}
