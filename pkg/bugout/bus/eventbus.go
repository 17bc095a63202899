// Package bus is an in-process bugout.Transport. A single goroutine
// dispatches every message, so delivery order matches publish order for
// every topic and key. A subscriber that returns an error is redelivered
// the same message immediately, up to a configured number of attempts,
// before the bus hands it to the dead letter sink, if any, and moves on.
//
// Subscribers may Publish from OnEvent, but must not call PublishSync or
// change subscriptions there: the dispatch goroutine would wait on itself.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"go.uber.org/zap"
)

var (
	ErrNotStarted     = errors.New("event bus not started")
	ErrAlreadyStarted = errors.New("event bus already started")
	ErrStopped        = errors.New("event bus stopped")
)

// EventBus is an in-process Transport that can also publish synchronously.
type EventBus interface {
	bugout.Transport
	bugout.Subscriber

	// PublishSync delivers a message and waits for every matching
	// subscriber, returning the first error.
	PublishSync(ctx context.Context, topic string, key string, payload []byte) error
}

type messageType int

const (
	messageTypeEvent messageType = iota
	messageTypeEventSync
	messageTypeSubscribe
	messageTypeUnsubscribe
	messageTypeUnsubscribeAll
)

type busMessage struct {
	ctx        context.Context
	msgType    messageType
	msg        bugout.Message
	subscriber bugout.Subscriber
	responseCh chan error
}

type matcher func(topic string) bool

func makeMatcher(pattern string) matcher {
	if !strings.ContainsAny(pattern, "#+") {
		return func(topic string) bool {
			return topic == pattern
		}
	}
	return func(topic string) bool {
		return mqttpattern.Matches(pattern, topic)
	}
}

type basicEventBus struct {
	ch            chan busMessage
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	started       int32
	seq           atomic.Uint64
	subscriptions map[bugout.Subscriber]map[string]matcher
	logger        *zap.Logger
	busName       string
	maxDeliveries int
	deadLetter    bugout.DeadLetter

	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider

	publishCounter   o11y.Counter
	deliveryCounter  o11y.Counter
	redeliverCounter o11y.Counter
	errorCounter     o11y.Counter
	latencyHistogram o11y.Histogram
	subscriberGauge  o11y.Gauge
}

func (b *basicEventBus) setupObservability(config *o11y.Config) {
	b.metricsProvider = config.MetricsProvider
	b.tracingProvider = config.TracingProvider

	if b.metricsProvider != nil {
		b.publishCounter = b.metricsProvider.Counter("bugout_bus_messages_published_total")
		b.deliveryCounter = b.metricsProvider.Counter("bugout_bus_deliveries_total")
		b.redeliverCounter = b.metricsProvider.Counter("bugout_bus_redeliveries_total")
		b.errorCounter = b.metricsProvider.Counter("bugout_bus_errors_total")
		b.latencyHistogram = b.metricsProvider.Histogram("bugout_bus_publish_sync_duration_seconds")
		b.subscriberGauge = b.metricsProvider.Gauge("bugout_bus_active_subscribers")
	}
}

// Start begins the dispatch goroutine.
func (b *basicEventBus) Start() error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return ErrAlreadyStarted
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.Info("EventBus started", zap.String("bus", b.busName))

		for {
			select {
			case m := <-b.ch:
				b.handle(m)
			case <-b.ctx.Done():
				b.logger.Info("EventBus stopping", zap.String("bus", b.busName))
				return
			}
		}
	}()

	return nil
}

func (b *basicEventBus) handle(m busMessage) {
	var err error
	switch m.msgType {
	case messageTypeEvent:
		err = b.deliver(m.ctx, m.msg)
	case messageTypeEventSync:
		err = b.deliver(m.ctx, m.msg)
		m.responseCh <- err
	case messageTypeSubscribe:
		err = b.doSubscribe(m)
	case messageTypeUnsubscribe:
		err = b.doUnsubscribe(m)
	case messageTypeUnsubscribeAll:
		err = b.doUnsubscribeAll(m)
	default:
		b.logger.Debug("EventBus received unknown message type", zap.Int("msgType", int(m.msgType)))
		return
	}

	if err != nil && b.errorCounter != nil {
		b.errorCounter.Add(m.ctx, 1, o11y.TopicLabel(m.msg.Topic))
	}
}

// deliver hands msg to every matching subscriber, retrying each failed
// delivery in place so later messages cannot overtake it.
func (b *basicEventBus) deliver(ctx context.Context, msg bugout.Message) error {
	var firstErr error

	for subscriber, matchers := range b.subscriptions {
		for _, match := range matchers {
			if !match(msg.Topic) {
				continue
			}

			err := b.deliverTo(ctx, subscriber, msg)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			break
		}
	}

	return firstErr
}

func (b *basicEventBus) deliverTo(ctx context.Context, subscriber bugout.Subscriber, msg bugout.Message) error {
	var err error
	for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
		msg.Delivery = attempt
		if b.deliveryCounter != nil {
			b.deliveryCounter.Add(ctx, 1, o11y.TopicLabel(msg.Topic))
		}

		if err = subscriber.OnEvent(ctx, msg); err == nil {
			return nil
		}

		if attempt < b.maxDeliveries {
			b.logger.Warn("Delivery failed, redelivering",
				zap.String("topic", msg.Topic),
				zap.String("id", msg.ID),
				zap.Int("delivery", attempt),
				zap.Error(err),
			)
			if b.redeliverCounter != nil {
				b.redeliverCounter.Add(ctx, 1, o11y.TopicLabel(msg.Topic))
			}
		}
	}

	b.logger.Error("Delivery abandoned",
		zap.String("topic", msg.Topic),
		zap.String("id", msg.ID),
		zap.Int("deliveries", b.maxDeliveries),
		zap.Error(err),
	)
	if b.deadLetter != nil {
		if dlErr := b.deadLetter.DeadLetter(ctx, msg, err); dlErr != nil {
			b.logger.Error("Dead letter sink failed",
				zap.String("topic", msg.Topic),
				zap.String("id", msg.ID),
				zap.Error(dlErr),
			)
		}
	}
	return err
}

func (b *basicEventBus) newMessage(topic, key string, payload []byte) bugout.Message {
	return bugout.Message{
		ID:      strconv.FormatUint(b.seq.Add(1), 10),
		Topic:   topic,
		Key:     key,
		Payload: payload,
	}
}

// Publish enqueues a message, blocking while the queue is full.
func (b *basicEventBus) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if b.tracingProvider != nil {
		var span o11y.Span
		ctx, span = b.tracingProvider.StartSpan(ctx, "bus.publish")
		defer span.End()
		span.SetAttributes(o11y.TopicLabel(topic), o11y.KeyLabel(key))
	}

	err := b.enqueue(ctx, busMessage{
		ctx:     ctx,
		msgType: messageTypeEvent,
		msg:     b.newMessage(topic, key, payload),
	})

	if b.publishCounter != nil {
		b.publishCounter.Add(ctx, 1, o11y.TopicLabel(topic), o11y.StatusLabel(err))
	}
	return err
}

func (b *basicEventBus) PublishSync(ctx context.Context, topic string, key string, payload []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	var span o11y.Span
	if b.tracingProvider != nil {
		ctx, span = b.tracingProvider.StartSpan(ctx, "bus.publish_sync")
		span.SetAttributes(o11y.TopicLabel(topic), o11y.KeyLabel(key))
	}

	err := b.roundTrip(ctx, busMessage{
		ctx:     ctx,
		msgType: messageTypeEventSync,
		msg:     b.newMessage(topic, key, payload),
	})

	if b.publishCounter != nil {
		b.publishCounter.Add(ctx, 1, o11y.TopicLabel(topic), o11y.StatusLabel(err))
	}
	if b.latencyHistogram != nil {
		b.latencyHistogram.Record(ctx, time.Since(start).Seconds(), o11y.TopicLabel(topic))
	}
	o11y.EndSpan(span, err)

	return err
}

func (b *basicEventBus) Subscribe(ctx context.Context, subscriber bugout.Subscriber, topic string) error {
	return b.subscription(ctx, messageTypeSubscribe, subscriber, topic)
}

func (b *basicEventBus) Unsubscribe(ctx context.Context, subscriber bugout.Subscriber, topic string) error {
	return b.subscription(ctx, messageTypeUnsubscribe, subscriber, topic)
}

func (b *basicEventBus) UnsubscribeAll(ctx context.Context, subscriber bugout.Subscriber) error {
	return b.subscription(ctx, messageTypeUnsubscribeAll, subscriber, "")
}

func (b *basicEventBus) subscription(ctx context.Context, msgType messageType, subscriber bugout.Subscriber, topic string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return b.roundTrip(ctx, busMessage{
		ctx:        ctx,
		msgType:    msgType,
		msg:        bugout.Message{Topic: topic},
		subscriber: subscriber,
	})
}

func (b *basicEventBus) doSubscribe(m busMessage) error {
	current, ok := b.subscriptions[m.subscriber]
	if !ok {
		current = make(map[string]matcher)
		b.subscriptions[m.subscriber] = current
	}
	current[m.msg.Topic] = makeMatcher(m.msg.Topic)
	b.updateGauge(m.ctx)

	err := m.subscriber.OnSubscribe(m.ctx, m.msg.Topic)
	m.responseCh <- err
	return err
}

func (b *basicEventBus) doUnsubscribe(m busMessage) error {
	current, ok := b.subscriptions[m.subscriber]
	if !ok {
		m.responseCh <- nil // not subscribed is not an error
		return nil
	}

	delete(current, m.msg.Topic)
	if len(current) == 0 {
		delete(b.subscriptions, m.subscriber)
	}
	b.updateGauge(m.ctx)

	err := m.subscriber.OnUnsubscribe(m.ctx, m.msg.Topic)
	m.responseCh <- err
	return err
}

func (b *basicEventBus) doUnsubscribeAll(m busMessage) error {
	count := len(b.subscriptions[m.subscriber])
	delete(b.subscriptions, m.subscriber)
	b.updateGauge(m.ctx)

	b.logger.Debug("UnsubscribeAll completed", zap.Int("subscription_count", count))

	err := m.subscriber.OnUnsubscribe(m.ctx, "")
	m.responseCh <- err
	return err
}

func (b *basicEventBus) updateGauge(ctx context.Context) {
	if b.subscriberGauge != nil {
		b.subscriberGauge.Set(ctx, float64(len(b.subscriptions)))
	}
}

func (b *basicEventBus) enqueue(ctx context.Context, m busMessage) error {
	if atomic.LoadInt32(&b.started) == 0 {
		return ErrNotStarted
	}

	select {
	case b.ch <- m:
		return nil
	case <-b.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roundTrip enqueues m and waits for the dispatch goroutine to answer.
func (b *basicEventBus) roundTrip(ctx context.Context, m busMessage) error {
	m.responseCh = make(chan error, 1)
	if err := b.enqueue(ctx, m); err != nil {
		return err
	}

	select {
	case err := <-m.responseCh:
		return err
	case <-b.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down the dispatch goroutine. Messages still queued are
// discarded; publishers that need delivery use PublishSync.
func (b *basicEventBus) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return ErrNotStarted
	}

	b.cancel()
	b.wg.Wait()

	b.logger.Info("EventBus stopped", zap.String("bus", b.busName))
	return nil
}

// A bus can be subscribed to another transport; messages it receives are
// republished locally.
func (b *basicEventBus) OnEvent(ctx context.Context, msg bugout.Message) error {
	if err := b.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
		return fmt.Errorf("republish %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *basicEventBus) OnSubscribe(ctx context.Context, topic string) error {
	return nil
}

func (b *basicEventBus) OnUnsubscribe(ctx context.Context, topic string) error {
	return nil
}
