package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"go.uber.org/zap"
)

const (
	DefaultBufferSize    = 1000
	DefaultMaxDeliveries = 3
)

// EventBusBuilder assembles an in-process bus. The zero settings from
// NewEventBus are usable as-is.
type EventBusBuilder struct {
	name          string
	logger        *zap.Logger
	bufferSize    int
	maxDeliveries int
	deadLetter    bugout.DeadLetter
	o11y          o11y.Config
}

func NewEventBus() *EventBusBuilder {
	return &EventBusBuilder{
		bufferSize:    DefaultBufferSize,
		maxDeliveries: DefaultMaxDeliveries,
	}
}

func (b *EventBusBuilder) WithLogger(logger *zap.Logger) *EventBusBuilder {
	b.logger = logger
	return b
}

// WithName labels the bus in logs.
func (b *EventBusBuilder) WithName(name string) *EventBusBuilder {
	b.name = name
	return b
}

// WithBufferSize sets how many messages may be queued before Publish blocks.
func (b *EventBusBuilder) WithBufferSize(size int) *EventBusBuilder {
	b.bufferSize = size
	return b
}

// WithMaxDeliveries sets how many times a failing subscriber is offered the
// same message.
func (b *EventBusBuilder) WithMaxDeliveries(n int) *EventBusBuilder {
	b.maxDeliveries = n
	return b
}

// WithDeadLetter receives messages a subscriber still fails after the last
// delivery attempt. Without one they are only logged.
func (b *EventBusBuilder) WithDeadLetter(dl bugout.DeadLetter) *EventBusBuilder {
	b.deadLetter = dl
	return b
}

func (b *EventBusBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *EventBusBuilder {
	b.o11y.MetricsProvider = metrics
	b.o11y.TracingProvider = tracing
	return b
}

// WithServiceInfo names the service in metrics. Name and version go
// together.
func (b *EventBusBuilder) WithServiceInfo(name, version string) *EventBusBuilder {
	b.o11y.ServiceName = name
	b.o11y.ServiceVersion = version
	return b
}

func (b *EventBusBuilder) IsValid() error {
	var errs []error
	if b.bufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer size must be positive, got %d", b.bufferSize))
	}
	if b.maxDeliveries <= 0 {
		errs = append(errs, fmt.Errorf("max deliveries must be positive, got %d", b.maxDeliveries))
	}
	if (b.o11y.ServiceName == "") != (b.o11y.ServiceVersion == "") {
		errs = append(errs, fmt.Errorf("service name %q and version %q must be set together",
			b.o11y.ServiceName, b.o11y.ServiceVersion))
	}
	return errors.Join(errs...)
}

func (b *EventBusBuilder) Build() (EventBus, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &basicEventBus{
		ch:            make(chan busMessage, b.bufferSize),
		ctx:           ctx,
		cancel:        cancel,
		subscriptions: make(map[bugout.Subscriber]map[string]matcher),
		logger:        logger,
		busName:       b.name,
		maxDeliveries: b.maxDeliveries,
		deadLetter:    b.deadLetter,
	}
	eb.setupObservability(&b.o11y)

	return eb, nil
}
