// Package dispatch connects typed commands and outcomes to a
// bugout.Transport through a topic.Registry.
//
// Publisher and Emitter encode a value and publish it on the topic bound to
// its kind, keyed by its partition key. CommandRouter and EventRouter
// subscribe to topics, decode what arrives and hand it to an exhaustive
// handler, sorting failures into those that are dead-lettered and those
// that are returned to the transport for redelivery.
package dispatch

import (
	"context"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/topic"
	"go.uber.org/zap"
)

// Publisher sends commands.
type Publisher struct {
	transport bugout.Transport
	registry  *topic.Registry
	logger    *zap.Logger
}

// NewPublisher uses topic.Default() when registry is nil.
func NewPublisher(transport bugout.Transport, registry *topic.Registry, logger *zap.Logger) *Publisher {
	if registry == nil {
		registry = topic.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{transport: transport, registry: registry, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, cmd command.Command) error {
	if cmd == nil {
		return fmt.Errorf("publish: nil command")
	}

	t, err := p.registry.CommandTopic(cmd.Kind())
	if err != nil {
		return err
	}

	payload, err := command.Encode(cmd)
	if err != nil {
		return err
	}

	if p.registry.IsReserved(t) {
		p.logger.Debug("Publishing on reserved topic", zap.String("topic", string(t)))
	}

	return p.transport.Publish(ctx, string(t), cmd.PartitionKey(), payload)
}

// Emitter sends outcomes.
type Emitter struct {
	transport bugout.Transport
	registry  *topic.Registry
}

// NewEmitter uses topic.Default() when registry is nil.
func NewEmitter(transport bugout.Transport, registry *topic.Registry) *Emitter {
	if registry == nil {
		registry = topic.Default()
	}
	return &Emitter{transport: transport, registry: registry}
}

func (e *Emitter) Emit(ctx context.Context, ev event.Event) error {
	if ev == nil {
		return fmt.Errorf("emit: nil event")
	}

	t, err := e.registry.EventTopic(ev.Kind())
	if err != nil {
		return err
	}

	payload, err := event.Encode(ev)
	if err != nil {
		return err
	}

	return e.transport.Publish(ctx, string(t), ev.PartitionKey(), payload)
}
