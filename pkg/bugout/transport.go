package bugout

import "context"

// Message is a single entry carried by a Transport.
type Message struct {
	// ID is assigned by the transport (stream entry id or sequence number).
	ID    string
	Topic string
	// Key is the partition key. Messages sharing a topic and key are
	// delivered in publish order.
	Key     string
	Payload []byte
	// Delivery counts delivery attempts, starting at 1.
	Delivery int
}

// Transport is an at-least-once, topic-addressable log.
type Transport interface {
	Start() error
	Stop() error

	Subscribe(ctx context.Context, subscriber Subscriber, topic string) error
	Unsubscribe(ctx context.Context, subscriber Subscriber, topic string) error
	UnsubscribeAll(ctx context.Context, subscriber Subscriber) error

	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Subscriber receives messages from a Transport. Returning an error from
// OnEvent asks the transport to redeliver the message.
type Subscriber interface {
	OnSubscribe(ctx context.Context, topic string) error
	OnUnsubscribe(ctx context.Context, topic string) error
	OnEvent(ctx context.Context, msg Message) error
}

type BaseSubscriber struct {
}

func (b *BaseSubscriber) OnSubscribe(ctx context.Context, topic string) error {
	return nil
}

func (b *BaseSubscriber) OnUnsubscribe(ctx context.Context, topic string) error {
	return nil
}

func (b *BaseSubscriber) OnEvent(ctx context.Context, msg Message) error {
	return nil
}

// DeadLetter receives messages that can never be processed, either because
// they are invalid or because every delivery attempt failed.
type DeadLetter interface {
	DeadLetter(ctx context.Context, msg Message, cause error) error
}

type DeadLetterFunc func(ctx context.Context, msg Message, cause error) error

func (f DeadLetterFunc) DeadLetter(ctx context.Context, msg Message, cause error) error {
	return f(ctx, msg, cause)
}
