package subutils

import (
	"context"
	"errors"
	"sync"

	"github.com/tsarna/bugout/pkg/bugout"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("subscriber queue is full")
	ErrSubscriberClosed = errors.New("subscriber is closed")
)

type asyncKind int

const (
	asyncEvent asyncKind = iota
	asyncSubscribe
	asyncUnsubscribe
)

type asyncMessage struct {
	ctx   context.Context
	kind  asyncKind
	topic string
	msg   bugout.Message
}

// AsyncQueueingSubscriber wraps another subscriber and processes its calls
// on a background goroutine, in arrival order, so a slow consumer does not
// hold up the transport's dispatch loop.
//
// Because OnEvent returns before the wrapped subscriber runs, the wrapped
// subscriber's errors cannot trigger redelivery; they are logged.
type AsyncQueueingSubscriber struct {
	wrapped   bugout.Subscriber
	logger    *zap.Logger
	queue     chan asyncMessage
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAsyncQueueingSubscriber creates a subscriber with the given queue
// size. Start must be called before messages are processed and Close to
// drain and stop.
//
//	async := subutils.NewAsyncQueueingSubscriber(sink, 100, logger).Start()
//	defer async.Close()
func NewAsyncQueueingSubscriber(wrapped bugout.Subscriber, queueSize int, logger *zap.Logger) *AsyncQueueingSubscriber {
	if queueSize <= 0 {
		queueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AsyncQueueingSubscriber{
		wrapped: wrapped,
		logger:  logger,
		queue:   make(chan asyncMessage, queueSize),
		done:    make(chan struct{}),
	}
}

func (a *AsyncQueueingSubscriber) Start() *AsyncQueueingSubscriber {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncQueueingSubscriber) processMessage(m asyncMessage) {
	var err error
	switch m.kind {
	case asyncSubscribe:
		err = a.wrapped.OnSubscribe(m.ctx, m.topic)
	case asyncUnsubscribe:
		err = a.wrapped.OnUnsubscribe(m.ctx, m.topic)
	case asyncEvent:
		err = a.wrapped.OnEvent(m.ctx, m.msg)
	}
	if err != nil {
		a.logger.Warn("Async subscriber call failed",
			zap.String("topic", m.topic),
			zap.String("id", m.msg.ID),
			zap.Error(err),
		)
	}
}

func (a *AsyncQueueingSubscriber) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case m := <-a.queue:
			a.processMessage(m)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) drainQueue() {
	for {
		select {
		case m := <-a.queue:
			a.processMessage(m)
		default:
			return
		}
	}
}

func (a *AsyncQueueingSubscriber) enqueue(m asyncMessage) error {
	if a.IsClosed() {
		return ErrSubscriberClosed
	}

	select {
	case a.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *AsyncQueueingSubscriber) OnSubscribe(ctx context.Context, topic string) error {
	return a.enqueue(asyncMessage{ctx: ctx, kind: asyncSubscribe, topic: topic})
}

func (a *AsyncQueueingSubscriber) OnUnsubscribe(ctx context.Context, topic string) error {
	return a.enqueue(asyncMessage{ctx: ctx, kind: asyncUnsubscribe, topic: topic})
}

// OnEvent queues msg. A full queue returns ErrQueueFull, which asks the
// transport to redeliver later.
func (a *AsyncQueueingSubscriber) OnEvent(ctx context.Context, msg bugout.Message) error {
	return a.enqueue(asyncMessage{ctx: ctx, kind: asyncEvent, topic: msg.Topic, msg: msg})
}

// Close stops accepting messages, processes what is already queued, and
// waits for the background goroutine to exit.
func (a *AsyncQueueingSubscriber) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

func (a *AsyncQueueingSubscriber) QueueSize() int {
	return len(a.queue)
}

func (a *AsyncQueueingSubscriber) QueueCapacity() int {
	return cap(a.queue)
}

func (a *AsyncQueueingSubscriber) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
