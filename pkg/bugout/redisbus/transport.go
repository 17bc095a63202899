// Package redisbus is a bugout.Transport over Redis Streams.
//
// Each topic is one stream. Publish appends an entry holding the partition
// key and payload. Subscribe joins the transport's consumer group on that
// stream and starts one reader goroutine, which hands entries to the
// subscriber one at a time in stream order and acknowledges each entry once
// the subscriber returns nil.
//
// A failing entry is retried in place a few times and then left pending.
// Before reading anything new, the reader delivers the entries still
// pending for its consumer again, oldest first, and does not move past one
// that keeps failing. Entries behind a failure therefore wait for it, which
// keeps every key in publish order. Pending entries idle for longer than
// the claim threshold, such as those abandoned by a crashed consumer, are
// claimed into the same queue.
//
// Redis spreads a group's entries across all of its consumers, so publish
// order is only kept while each group has one active consumer per stream.
// Run one process per group and let a replacement claim what a crashed
// one left behind.
//
// A transport holds at most one subscriber per topic, and topic patterns
// are not supported.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotStarted        = errors.New("redis transport not started")
	ErrAlreadyStarted    = errors.New("redis transport already started")
	ErrAlreadySubscribed = errors.New("topic already has a subscriber on this transport")
	ErrNotSubscribed     = errors.New("subscriber is not subscribed to topic")
	ErrPattern           = errors.New("redis transport does not support topic patterns")
)

const (
	fieldKey     = "key"
	fieldPayload = "payload"
)

type Transport struct {
	client        redis.UniversalClient
	ownsClient    bool
	group         string
	consumer      string
	logger        *zap.Logger
	block         time.Duration
	claimMinIdle  time.Duration
	retryDelay    time.Duration
	maxDeliveries int
	batchSize     int64
	maxLen        int64

	ctx     context.Context
	cancel  context.CancelFunc
	readers errgroup.Group

	mu      sync.Mutex
	started bool
	subs    map[string]*subscription

	tracingProvider  o11y.TracingProvider
	publishCounter   o11y.Counter
	deliveryCounter  o11y.Counter
	redeliverCounter o11y.Counter
	claimCounter     o11y.Counter
	errorCounter     o11y.Counter
}

var _ bugout.Transport = (*Transport)(nil)

func (t *Transport) setupObservability(config *o11y.Config) {
	t.tracingProvider = config.TracingProvider

	if m := config.MetricsProvider; m != nil {
		t.publishCounter = m.Counter("bugout_redis_messages_published_total")
		t.deliveryCounter = m.Counter("bugout_redis_deliveries_total")
		t.redeliverCounter = m.Counter("bugout_redis_redeliveries_total")
		t.claimCounter = m.Counter("bugout_redis_claimed_total")
		t.errorCounter = m.Counter("bugout_redis_errors_total")
	}
}

func (t *Transport) count(ctx context.Context, c o11y.Counter, topic string) {
	if c != nil {
		c.Add(ctx, 1, o11y.TopicLabel(topic))
	}
}

// Start checks the connection. Subscriptions and publishes are refused
// until it succeeds.
func (t *Transport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithTimeout(t.ctx, 5*time.Second)
	defer cancel()
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	t.started = true
	t.logger.Info("Redis transport started",
		zap.String("group", t.group),
		zap.String("consumer", t.consumer),
	)
	return nil
}

// Stop cancels every reader and waits for them. Entries being processed
// when Stop is called stay pending and are claimed again later.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return ErrNotStarted
	}
	t.started = false
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	t.cancel()
	err := t.readers.Wait()

	if t.ownsClient {
		if cerr := t.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	t.logger.Info("Redis transport stopped", zap.String("consumer", t.consumer))
	return err
}

func (t *Transport) Publish(ctx context.Context, topic string, key string, payload []byte) (err error) {
	if !t.isStarted() {
		return ErrNotStarted
	}

	if t.tracingProvider != nil {
		var span o11y.Span
		ctx, span = t.tracingProvider.StartSpan(ctx, "redisbus.Publish")
		span.SetAttributes(o11y.TopicLabel(topic), o11y.KeyLabel(key))
		defer func() { o11y.EndSpan(span, err) }()
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			fieldKey:     key,
			fieldPayload: payload,
		},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}

	if err = t.client.XAdd(ctx, args).Err(); err != nil {
		t.count(ctx, t.errorCounter, topic)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	t.count(ctx, t.publishCounter, topic)
	return nil
}

// Subscribe joins the consumer group on topic, creating the stream and the
// group if needed, and starts delivering to subscriber. A new group starts
// at the beginning of the stream, so entries published before the first
// subscription are delivered too.
func (t *Transport) Subscribe(ctx context.Context, subscriber bugout.Subscriber, topic string) error {
	if strings.ContainsAny(topic, "#+") {
		return ErrPattern
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return ErrNotStarted
	}
	if _, ok := t.subs[topic]; ok {
		return ErrAlreadySubscribed
	}

	err := t.client.XGroupCreateMkStream(ctx, topic, t.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating group %s on %s: %w", t.group, topic, err)
	}

	t.checkSoleConsumer(ctx, topic)

	if err := subscriber.OnSubscribe(ctx, topic); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(t.ctx)
	s := &subscription{
		transport:  t,
		topic:      topic,
		subscriber: subscriber,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	t.subs[topic] = s
	t.readers.Go(func() error {
		return s.run(sctx)
	})

	t.logger.Debug("Subscribed",
		zap.String("topic", topic),
		zap.String("group", t.group),
	)
	return nil
}

// Unsubscribe stops the reader for topic and waits for it to exit. It must
// not be called from the subscriber's own OnEvent.
func (t *Transport) Unsubscribe(ctx context.Context, subscriber bugout.Subscriber, topic string) error {
	t.mu.Lock()
	s, ok := t.subs[topic]
	if !ok || s.subscriber != subscriber {
		t.mu.Unlock()
		return ErrNotSubscribed
	}
	delete(t.subs, topic)
	t.mu.Unlock()

	s.stop()
	return subscriber.OnUnsubscribe(ctx, topic)
}

func (t *Transport) UnsubscribeAll(ctx context.Context, subscriber bugout.Subscriber) error {
	t.mu.Lock()
	var mine []*subscription
	for topic, s := range t.subs {
		if s.subscriber == subscriber {
			mine = append(mine, s)
			delete(t.subs, topic)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, s := range mine {
		s.stop()
		if err := subscriber.OnUnsubscribe(ctx, s.topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkSoleConsumer warns when another consumer of the group still holds
// entries on topic: while both read, entries of one key can be handled out
// of order.
func (t *Transport) checkSoleConsumer(ctx context.Context, topic string) {
	consumers, err := t.client.XInfoConsumers(ctx, topic, t.group).Result()
	if err != nil {
		t.logger.Debug("Listing group consumers failed",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}

	for _, c := range consumers {
		if c.Name == t.consumer || c.Pending == 0 {
			continue
		}
		t.logger.Warn("Another consumer holds entries in this group",
			zap.String("topic", topic),
			zap.String("group", t.group),
			zap.String("consumer", c.Name),
			zap.Int64("pending", c.Pending),
			zap.Duration("idle", c.Idle),
		)
	}
}

func (t *Transport) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}
