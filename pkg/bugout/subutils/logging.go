// Package subutils provides bugout.Subscriber wrappers.
package subutils

import (
	"context"
	"unicode/utf8"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingSubscriber logs what it is given and passes it on to the wrapped
// subscriber, if any. Messages are logged with the tag of the record they
// carry, or "unreadable" when the payload is not a tagged record.
type LoggingSubscriber struct {
	wrapped bugout.Subscriber
	logger  *zap.Logger
	level   zapcore.Level
}

func NewLoggingSubscriber(wrapped bugout.Subscriber, logger *zap.Logger, level zapcore.Level) *LoggingSubscriber {
	return NewNamedLoggingSubscriber(wrapped, logger, level, "logging")
}

func NewNamedLoggingSubscriber(wrapped bugout.Subscriber, logger *zap.Logger, level zapcore.Level, name string) *LoggingSubscriber {
	return &LoggingSubscriber{
		wrapped: wrapped,
		logger:  logger.With(zap.String("subscriber", name)),
		level:   level,
	}
}

func (l *LoggingSubscriber) OnSubscribe(ctx context.Context, topic string) error {
	l.logger.Log(l.level, "Subscribed", zap.String("topic", topic))
	if l.wrapped == nil {
		return nil
	}
	return l.wrapped.OnSubscribe(ctx, topic)
}

func (l *LoggingSubscriber) OnUnsubscribe(ctx context.Context, topic string) error {
	l.logger.Log(l.level, "Unsubscribed", zap.String("topic", topic))
	if l.wrapped == nil {
		return nil
	}
	return l.wrapped.OnUnsubscribe(ctx, topic)
}

func (l *LoggingSubscriber) OnEvent(ctx context.Context, msg bugout.Message) error {
	if ce := l.logger.Check(l.level, "Message received"); ce != nil {
		kind := "unreadable"
		if tag, _, err := wire.SplitTag(msg.Payload); err == nil {
			kind = tag
		}

		payload := zap.Binary("payload", msg.Payload)
		if utf8.Valid(msg.Payload) {
			payload = zap.ByteString("payload", msg.Payload)
		}

		ce.Write(
			zap.String("topic", msg.Topic),
			zap.String("kind", kind),
			zap.String("key", msg.Key),
			zap.String("id", msg.ID),
			zap.Int("delivery", msg.Delivery),
			payload,
		)
	}

	if l.wrapped == nil {
		return nil
	}
	return l.wrapped.OnEvent(ctx, msg)
}
