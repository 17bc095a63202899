package redisbus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tsarna/bugout/pkg/bugout"
	"go.uber.org/zap"
)

type subscription struct {
	transport  *Transport
	topic      string
	subscriber bugout.Subscriber
	cancel     context.CancelFunc
	done       chan struct{}
	lastClaim  time.Time
}

func (s *subscription) stop() {
	s.cancel()
	<-s.done
}

func (s *subscription) run(ctx context.Context) error {
	defer close(s.done)
	t := s.transport

	for ctx.Err() == nil {
		if t.claimMinIdle > 0 && time.Since(s.lastClaim) >= t.claimMinIdle {
			s.claimStale(ctx)
			s.lastClaim = time.Now()
		}

		// Entries already delivered to this consumer go first, so a
		// failing entry is never overtaken by the ones behind it.
		handled, blocked := s.redrive(ctx)
		if blocked {
			sleep(ctx, t.retryDelay)
			continue
		}
		if handled > 0 {
			continue
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{s.topic, ">"},
			Count:    t.batchSize,
			Block:    t.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.readFailed(ctx, err)
			continue
		}

	batch:
		for _, stream := range streams {
			for _, entry := range stream.Messages {
				if ctx.Err() != nil {
					return nil
				}
				if !s.process(ctx, entry, 1) {
					break batch
				}
			}
		}
	}
	return nil
}

// redrive delivers the entries pending for this consumer again, oldest
// first. It stops at the first entry that still fails and reports it as
// blocked.
func (s *subscription) redrive(ctx context.Context) (handled int, blocked bool) {
	t := s.transport

	streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    t.group,
		Consumer: t.consumer,
		Streams:  []string{s.topic, "0"},
		Count:    t.batchSize,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		if ctx.Err() == nil {
			s.readFailed(ctx, err)
		}
		return 0, true
	}

	for _, stream := range streams {
		for _, entry := range stream.Messages {
			if ctx.Err() != nil {
				return handled, true
			}
			if !s.process(ctx, entry, s.deliveryCount(ctx, entry.ID)) {
				return handled, true
			}
			handled++
		}
	}
	return handled, false
}

func (s *subscription) readFailed(ctx context.Context, err error) {
	t := s.transport
	t.count(ctx, t.errorCounter, s.topic)
	t.logger.Warn("Reading stream failed",
		zap.String("topic", s.topic),
		zap.Error(err),
	)
	sleep(ctx, t.retryDelay)
}

// claimStale takes ownership of entries that have been pending for at
// least the claim threshold, whichever consumer they were delivered to.
// redrive then delivers them in stream order with this consumer's own.
func (s *subscription) claimStale(ctx context.Context) {
	t := s.transport
	start := "0-0"

	for {
		ids, next, err := t.client.XAutoClaimJustID(ctx, &redis.XAutoClaimArgs{
			Stream:   s.topic,
			Group:    t.group,
			Consumer: t.consumer,
			MinIdle:  t.claimMinIdle,
			Start:    start,
			Count:    t.batchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				t.count(ctx, t.errorCounter, s.topic)
				t.logger.Warn("Claiming stale entries failed",
					zap.String("topic", s.topic),
					zap.Error(err),
				)
			}
			return
		}

		for range ids {
			t.count(ctx, t.claimCounter, s.topic)
		}

		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

// deliveryCount asks the group how many times id has been delivered.
func (s *subscription) deliveryCount(ctx context.Context, id string) int {
	t := s.transport
	pending, err := t.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.topic,
		Group:  t.group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 || pending[0].RetryCount < 2 {
		return 2
	}
	return int(pending[0].RetryCount)
}

// process hands one entry to the subscriber, retrying in place, and
// reports whether it was acknowledged.
func (s *subscription) process(ctx context.Context, entry redis.XMessage, delivery int) bool {
	t := s.transport

	// Entries trimmed or deleted while pending come back without values.
	if entry.Values == nil {
		s.ack(ctx, entry.ID)
		return true
	}

	key, _ := entry.Values[fieldKey].(string)
	payload, _ := entry.Values[fieldPayload].(string)
	msg := bugout.Message{
		ID:       entry.ID,
		Topic:    s.topic,
		Key:      key,
		Payload:  []byte(payload),
		Delivery: delivery,
	}

	var err error
	for attempt := 0; attempt < t.maxDeliveries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, t.retryDelay) {
				return false
			}
			msg.Delivery++
			t.count(ctx, t.redeliverCounter, s.topic)
		}

		t.count(ctx, t.deliveryCounter, s.topic)
		if err = s.subscriber.OnEvent(ctx, msg); err == nil {
			s.ack(ctx, entry.ID)
			return true
		}

		t.count(ctx, t.errorCounter, s.topic)
		t.logger.Debug("Subscriber failed",
			zap.String("topic", s.topic),
			zap.String("id", msg.ID),
			zap.Int("delivery", msg.Delivery),
			zap.Error(err),
		)
	}

	t.logger.Warn("Entry still failing, holding the stream behind it",
		zap.String("topic", s.topic),
		zap.String("id", msg.ID),
		zap.Int("delivery", msg.Delivery),
		zap.Error(err),
	)
	return false
}

func (s *subscription) ack(ctx context.Context, id string) {
	t := s.transport
	// The subscriber has already handled the entry; a concurrent Stop
	// should not turn that into a redelivery.
	ctx = context.WithoutCancel(ctx)
	if err := t.client.XAck(ctx, s.topic, t.group, id).Err(); err != nil {
		t.count(ctx, t.errorCounter, s.topic)
		t.logger.Warn("Acknowledging entry failed",
			zap.String("topic", s.topic),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
