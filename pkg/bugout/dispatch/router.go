package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/command"
	"github.com/tsarna/bugout/pkg/bugout/event"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"github.com/tsarna/bugout/pkg/bugout/topic"
	"go.uber.org/zap"
)

// RouterBuilder configures a CommandRouter or EventRouter.
type RouterBuilder struct {
	transport       bugout.Transport
	registry        *topic.Registry
	logger          *zap.Logger
	deadLetter      DeadLetter
	name            string
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

func NewRouter(transport bugout.Transport) *RouterBuilder {
	return &RouterBuilder{transport: transport}
}

func (b *RouterBuilder) WithRegistry(registry *topic.Registry) *RouterBuilder {
	b.registry = registry
	return b
}

func (b *RouterBuilder) WithLogger(logger *zap.Logger) *RouterBuilder {
	b.logger = logger
	return b
}

// WithDeadLetter replaces the default sink, which logs and drops.
func (b *RouterBuilder) WithDeadLetter(dl DeadLetter) *RouterBuilder {
	b.deadLetter = dl
	return b
}

// WithName labels log lines and metrics, typically with the backend name.
func (b *RouterBuilder) WithName(name string) *RouterBuilder {
	b.name = name
	return b
}

func (b *RouterBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *RouterBuilder {
	b.metricsProvider = metrics
	b.tracingProvider = tracing
	return b
}

func (b *RouterBuilder) base() (router, error) {
	if b.transport == nil {
		return router{}, fmt.Errorf("router requires a transport")
	}

	r := router{
		transport:  b.transport,
		registry:   b.registry,
		logger:     b.logger,
		deadLetter: b.deadLetter,
		name:       b.name,
		tracing:    b.tracingProvider,
	}
	if r.registry == nil {
		r.registry = topic.Default()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.name == "" {
		r.name = "router"
	}
	r.logger = r.logger.With(zap.String("router", r.name))
	if r.deadLetter == nil {
		r.deadLetter = LogDeadLetter(r.logger)
	}
	if m := b.metricsProvider; m != nil {
		r.handled = m.Counter("bugout_router_messages_total")
		r.deadLettered = m.Counter("bugout_router_dead_letters_total")
	}
	return r, nil
}

// BuildCommandRouter creates a router that feeds handler. Only the topics
// of kinds are subscribed by Start.
func (b *RouterBuilder) BuildCommandRouter(handler command.Handler, kinds ...command.Kind) (*CommandRouter, error) {
	r, err := b.base()
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("command router requires a handler")
	}

	cr := &CommandRouter{router: r, handler: handler}
	for _, k := range kinds {
		t, err := r.registry.CommandTopic(k)
		if err != nil {
			return nil, err
		}
		cr.topics = append(cr.topics, t)
	}
	if len(cr.topics) == 0 {
		return nil, fmt.Errorf("command router %s has no kinds", r.name)
	}
	return cr, nil
}

// BuildEventRouter creates a router that feeds handler from the topics of
// kinds, or from every outcome topic if none are given.
func (b *RouterBuilder) BuildEventRouter(handler event.Handler, kinds ...event.Kind) (*EventRouter, error) {
	r, err := b.base()
	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("event router requires a handler")
	}

	er := &EventRouter{router: r, handler: handler}
	if len(kinds) == 0 {
		kinds = event.Kinds()
	}
	for _, k := range kinds {
		t, err := r.registry.EventTopic(k)
		if err != nil {
			return nil, err
		}
		er.topics = append(er.topics, t)
	}
	return er, nil
}

// router holds what both directions share.
type router struct {
	transport  bugout.Transport
	registry   *topic.Registry
	logger     *zap.Logger
	deadLetter DeadLetter
	name       string
	topics     []topic.Topic

	tracing      o11y.TracingProvider
	handled      o11y.Counter
	deadLettered o11y.Counter
}

func (r *router) start(ctx context.Context, self bugout.Subscriber) error {
	for _, t := range r.topics {
		if err := r.transport.Subscribe(ctx, self, string(t)); err != nil {
			_ = r.transport.UnsubscribeAll(ctx, self)
			return fmt.Errorf("subscribing %s to %s: %w", r.name, t, err)
		}
	}
	r.logger.Info("Router started", zap.Int("topics", len(r.topics)))
	return nil
}

// settle turns a handler outcome into what the transport should do with
// the message: nil to acknowledge, an error to redeliver.
func (r *router) settle(ctx context.Context, msg bugout.Message, err error, unhandled error) error {
	if r.handled != nil {
		r.handled.Add(ctx, 1, o11y.TopicLabel(msg.Topic), o11y.StatusLabel(err))
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, unhandled) {
		r.logger.Warn("Message has no handler here",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
		)
		return nil
	}

	switch bugout.Classify(err) {
	case bugout.ErrorInvalid:
		if r.deadLettered != nil {
			r.deadLettered.Add(ctx, 1, o11y.TopicLabel(msg.Topic))
		}
		return r.deadLetter.DeadLetter(ctx, msg, err)
	case bugout.ErrorDuplicate:
		r.logger.Debug("Duplicate request already answered",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Error(err),
		)
		return nil
	default:
		r.logger.Debug("Handler failed, leaving message for redelivery",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Int("delivery", msg.Delivery),
			zap.Error(err),
		)
		return err
	}
}

func (r *router) span(ctx context.Context, name string, msg bugout.Message) (context.Context, o11y.Span) {
	if r.tracing == nil {
		return ctx, nil
	}
	ctx, span := r.tracing.StartSpan(ctx, name)
	span.SetAttributes(o11y.TopicLabel(msg.Topic), o11y.KeyLabel(msg.Key))
	return ctx, span
}

// CommandRouter delivers commands from their topics to a command.Handler.
type CommandRouter struct {
	router
	handler command.Handler
}

var _ bugout.Subscriber = (*CommandRouter)(nil)

func (r *CommandRouter) Start(ctx context.Context) error {
	return r.start(ctx, r)
}

func (r *CommandRouter) Stop(ctx context.Context) error {
	return r.transport.UnsubscribeAll(ctx, r)
}

// Topics returns the topics this router consumes.
func (r *CommandRouter) Topics() []topic.Topic {
	return append([]topic.Topic(nil), r.topics...)
}

func (r *CommandRouter) OnSubscribe(ctx context.Context, t string) error {
	return nil
}

func (r *CommandRouter) OnUnsubscribe(ctx context.Context, t string) error {
	return nil
}

func (r *CommandRouter) OnEvent(ctx context.Context, msg bugout.Message) (err error) {
	ctx, span := r.span(ctx, "dispatch.command", msg)
	if span != nil {
		defer func() { o11y.EndSpan(span, err) }()
	}
	return r.settle(ctx, msg, r.handle(ctx, msg), command.ErrUnhandled)
}

func (r *CommandRouter) handle(ctx context.Context, msg bugout.Message) error {
	cmd, err := command.Decode(msg.Payload)
	if err != nil {
		return err
	}

	// A well-formed command on the wrong topic is as unusable as a
	// malformed one.
	if want, ok := r.registry.CommandKind(topic.Topic(msg.Topic)); ok && want != cmd.Kind() {
		return &bugout.SchemaError{
			Tag: string(cmd.Kind()),
			Err: fmt.Errorf("%w: topic %s carries %s", bugout.ErrUnknownTag, msg.Topic, want),
		}
	}

	return command.Dispatch(ctx, cmd, r.handler)
}

// EventRouter delivers outcomes from their topics to an event.Handler.
type EventRouter struct {
	router
	handler event.Handler
}

var _ bugout.Subscriber = (*EventRouter)(nil)

func (r *EventRouter) Start(ctx context.Context) error {
	return r.start(ctx, r)
}

func (r *EventRouter) Stop(ctx context.Context) error {
	return r.transport.UnsubscribeAll(ctx, r)
}

func (r *EventRouter) Topics() []topic.Topic {
	return append([]topic.Topic(nil), r.topics...)
}

func (r *EventRouter) OnSubscribe(ctx context.Context, t string) error {
	return nil
}

func (r *EventRouter) OnUnsubscribe(ctx context.Context, t string) error {
	return nil
}

func (r *EventRouter) OnEvent(ctx context.Context, msg bugout.Message) (err error) {
	ctx, span := r.span(ctx, "dispatch.event", msg)
	if span != nil {
		defer func() { o11y.EndSpan(span, err) }()
	}
	return r.settle(ctx, msg, r.handle(ctx, msg), event.ErrUnhandled)
}

func (r *EventRouter) handle(ctx context.Context, msg bugout.Message) error {
	ev, err := event.Decode(msg.Payload)
	if err != nil {
		return err
	}

	if want, ok := r.registry.EventKind(topic.Topic(msg.Topic)); ok && want != ev.Kind() {
		return &bugout.SchemaError{
			Tag: string(ev.Kind()),
			Err: fmt.Errorf("%w: topic %s carries %s", bugout.ErrUnknownTag, msg.Topic, want),
		}
	}

	return event.Dispatch(ctx, ev, r.handler)
}
