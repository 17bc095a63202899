package dispatch

import (
	"context"
	"unicode/utf8"

	"github.com/tsarna/bugout/pkg/bugout"
	"go.uber.org/zap"
)

// DeadLetter receives messages a router can never process. Once it
// returns nil the message is acknowledged; an error sends the message back
// to the transport.
type DeadLetter = bugout.DeadLetter

type DeadLetterFunc = bugout.DeadLetterFunc

// LogDeadLetter records dead letters in the log and drops them.
func LogDeadLetter(logger *zap.Logger) DeadLetter {
	return DeadLetterFunc(func(ctx context.Context, msg bugout.Message, cause error) error {
		payload := zap.Binary("payload", msg.Payload)
		if utf8.Valid(msg.Payload) {
			payload = zap.ByteString("payload", msg.Payload)
		}

		logger.Warn("Dead-lettered message",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.String("key", msg.Key),
			zap.Int("delivery", msg.Delivery),
			zap.Stringer("class", bugout.Classify(cause)),
			zap.Error(cause),
			payload,
		)
		return nil
	})
}
