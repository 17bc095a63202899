package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tsarna/bugout/pkg/bugout/o11y"
	"go.uber.org/zap"
)

// TransportBuilder provides a fluent interface for creating a Transport.
type TransportBuilder struct {
	client          redis.UniversalClient
	addr            string
	password        string
	db              int
	group           string
	consumer        string
	logger          *zap.Logger
	block           time.Duration
	claimMinIdle    time.Duration
	retryDelay      time.Duration
	maxDeliveries   int
	batchSize       int64
	maxLen          int64
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

func NewTransport() *TransportBuilder {
	return &TransportBuilder{
		block:         time.Second,
		claimMinIdle:  30 * time.Second,
		retryDelay:    100 * time.Millisecond,
		maxDeliveries: 3,
		batchSize:     16,
	}
}

// WithClient uses an existing client. The transport does not close it.
func (b *TransportBuilder) WithClient(client redis.UniversalClient) *TransportBuilder {
	b.client = client
	return b
}

// WithAddr makes the transport dial its own client, closed on Stop.
func (b *TransportBuilder) WithAddr(addr, password string, db int) *TransportBuilder {
	b.addr = addr
	b.password = password
	b.db = db
	return b
}

// WithGroup sets the consumer group. Transports sharing a group split each
// topic's entries between them; distinct groups each see every entry.
func (b *TransportBuilder) WithGroup(group string) *TransportBuilder {
	b.group = group
	return b
}

func (b *TransportBuilder) WithConsumer(consumer string) *TransportBuilder {
	b.consumer = consumer
	return b
}

func (b *TransportBuilder) WithLogger(logger *zap.Logger) *TransportBuilder {
	b.logger = logger
	return b
}

// WithBlock sets how long a reader waits in XREADGROUP, which also bounds
// how long Stop and Unsubscribe wait for a reader to notice.
func (b *TransportBuilder) WithBlock(d time.Duration) *TransportBuilder {
	b.block = d
	return b
}

// WithClaimMinIdle sets how long an entry must sit unacknowledged before a
// reader claims it for redelivery. Zero disables claiming.
func (b *TransportBuilder) WithClaimMinIdle(d time.Duration) *TransportBuilder {
	b.claimMinIdle = d
	return b
}

func (b *TransportBuilder) WithRetryDelay(d time.Duration) *TransportBuilder {
	b.retryDelay = d
	return b
}

// WithMaxDeliveries bounds the immediate attempts made for one entry before
// it is left pending for the claim loop.
func (b *TransportBuilder) WithMaxDeliveries(n int) *TransportBuilder {
	b.maxDeliveries = n
	return b
}

func (b *TransportBuilder) WithBatchSize(n int64) *TransportBuilder {
	b.batchSize = n
	return b
}

// WithMaxLen caps each stream at approximately n entries. Zero keeps
// everything.
func (b *TransportBuilder) WithMaxLen(n int64) *TransportBuilder {
	b.maxLen = n
	return b
}

func (b *TransportBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *TransportBuilder {
	b.metricsProvider = metrics
	b.tracingProvider = tracing
	return b
}

func (b *TransportBuilder) IsValid() error {
	if b.client == nil && b.addr == "" {
		return fmt.Errorf("redis client or address is required")
	}
	if b.group == "" {
		return fmt.Errorf("consumer group is required")
	}
	if b.block <= 0 {
		return fmt.Errorf("block duration must be positive, got %v", b.block)
	}
	if b.claimMinIdle < 0 {
		return fmt.Errorf("claim min idle must not be negative, got %v", b.claimMinIdle)
	}
	if b.maxDeliveries < 1 {
		return fmt.Errorf("max deliveries must be at least 1, got %d", b.maxDeliveries)
	}
	if b.batchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", b.batchSize)
	}
	return nil
}

func (b *TransportBuilder) Build() (*Transport, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	consumer := b.consumer
	if consumer == "" {
		consumer = b.group + "-" + uuid.NewString()
	}

	client := b.client
	ownsClient := false
	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:         b.addr,
			Password:     b.password,
			DB:           b.db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		ownsClient = true
	}

	t := &Transport{
		client:        client,
		ownsClient:    ownsClient,
		group:         b.group,
		consumer:      consumer,
		logger:        logger,
		block:         b.block,
		claimMinIdle:  b.claimMinIdle,
		retryDelay:    b.retryDelay,
		maxDeliveries: b.maxDeliveries,
		batchSize:     b.batchSize,
		maxLen:        b.maxLen,
		subs:          make(map[string]*subscription),
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.setupObservability(&o11y.Config{
		MetricsProvider: b.metricsProvider,
		TracingProvider: b.tracingProvider,
	})

	return t, nil
}
