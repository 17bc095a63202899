package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/bus"
	"github.com/tsarna/bugout/pkg/bugout/config"
	"github.com/tsarna/bugout/pkg/bugout/dispatch"
	"github.com/tsarna/bugout/pkg/bugout/otel"
	"github.com/tsarna/bugout/pkg/bugout/redisbus"
	"github.com/tsarna/bugout/pkg/bugout/session"
	"github.com/tsarna/bugout/pkg/bugout/sweep"
	"go.uber.org/zap"
)

const serviceName = "bugout"

// newTransport builds, but does not start, the configured transport.
// group overrides the configured Redis consumer group when set.
func newTransport(cfg *config.Config, logger *zap.Logger, provider *otel.Provider, group string) (bugout.Transport, error) {
	t := cfg.Transport
	switch t.Type {
	case config.TransportRedis:
		r := t.Redis
		b := redisbus.NewTransport().
			WithAddr(r.Addr, r.Password, r.DB).
			WithLogger(logger).
			WithMaxDeliveries(t.MaxDeliveries).
			WithObservability(provider, provider)
		if group == "" {
			group = r.Group
		}
		if group != "" {
			b = b.WithGroup(group)
		}
		if r.Consumer != "" {
			b = b.WithConsumer(r.Consumer)
		}
		if r.Block > 0 {
			b = b.WithBlock(r.Block)
		}
		if r.ClaimMinIdle > 0 {
			b = b.WithClaimMinIdle(r.ClaimMinIdle)
		}
		if r.RetryDelay > 0 {
			b = b.WithRetryDelay(r.RetryDelay)
		}
		if r.BatchSize > 0 {
			b = b.WithBatchSize(r.BatchSize)
		}
		if r.MaxLen > 0 {
			b = b.WithMaxLen(r.MaxLen)
		}
		transport, err := b.Build()
		if err != nil {
			return nil, err
		}
		return transport, nil

	case config.TransportMemory:
		return bus.NewEventBus().
			WithLogger(logger).
			WithName(serviceName).
			WithBufferSize(t.BufferSize).
			WithMaxDeliveries(t.MaxDeliveries).
			WithDeadLetter(dispatch.LogDeadLetter(logger.Named("abandoned"))).
			WithObservability(provider, provider).
			WithServiceInfo(serviceName, Version).
			Build()

	default:
		return nil, fmt.Errorf("unknown transport type %q", t.Type)
	}
}

// newSessionStore returns the configured store, a sweeper when the store
// needs one, and a function releasing its resources.
func newSessionStore(cfg *config.Config, logger *zap.Logger) (session.Store, sweep.Sweeper, func() error, error) {
	s := cfg.Session
	switch s.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.SessionAddr(),
			Password: cfg.Transport.Redis.Password,
			DB:       cfg.Transport.Redis.DB,
		})
		return session.NewRedisStore(client, s.KeyPrefix, s.TTL, logger), nil, client.Close, nil

	case config.StoreMemory:
		store := session.NewMemoryStore(s.TTL)
		return store, store, func() error { return nil }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown session store %q", s.Store)
	}
}

// configSources turns command line paths into config sources.
func configSources(paths []string) []any {
	sources := make([]any, len(paths))
	for i, p := range paths {
		sources[i] = p
	}
	return sources
}
