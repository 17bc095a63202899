package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"go.uber.org/zap"
)

const DefaultKeyPrefix = "bugout:session:"

// RedisStore keeps sessions as JSON strings under a key prefix, letting
// several gateway and backend processes share them. Expiry is left to
// Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisStore) key(id model.SessionId) string {
	return r.prefix + string(id)
}

func (r *RedisStore) Issue(ctx context.Context, clientId model.ClientId) (Session, error) {
	s := Session{Id: newId(), ClientId: clientId, IssuedAt: time.Now().UTC()}

	data, err := json.Marshal(s)
	if err != nil {
		return Session{}, fmt.Errorf("marshal session: %w", err)
	}

	// SetNX guards against the astronomically unlikely id reuse.
	ok, err := r.client.SetNX(ctx, r.key(s.Id), data, r.ttl).Result()
	if err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	if !ok {
		return Session{}, fmt.Errorf("session id %s already in use", s.Id)
	}

	r.logger.Debug("Session issued",
		zap.String("sessionId", string(s.Id)),
		zap.String("clientId", string(clientId)),
	)
	return s, nil
}

func (r *RedisStore) Validate(ctx context.Context, id model.SessionId) (Session, error) {
	if id == "" {
		return Session{}, unknown(id)
	}

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, unknown(id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.Warn("Discarding unreadable session",
			zap.String("sessionId", string(id)),
			zap.Error(err),
		)
		return Session{}, unknown(id)
	}
	return s, nil
}

func (r *RedisStore) Revoke(ctx context.Context, id model.SessionId) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
