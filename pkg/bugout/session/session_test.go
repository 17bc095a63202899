package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/bugout/pkg/bugout"
	"github.com/tsarna/bugout/pkg/bugout/model"
	"go.uber.org/zap/zaptest"
)

// exerciseStore checks behaviour shared by every Store.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	s, err := store.Issue(ctx, "client-1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.Id)
	assert.Equal(t, model.ClientId("client-1"), s.ClientId)

	other, err := store.Issue(ctx, "client-1")
	require.NoError(t, err)
	assert.NotEqual(t, s.Id, other.Id, "each issue mints a fresh id")

	got, err := store.Validate(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, s.ClientId, got.ClientId)

	_, err = store.Validate(ctx, "forged")
	var identityErr *bugout.IdentityError
	require.ErrorAs(t, err, &identityErr)
	assert.Equal(t, "forged", identityErr.SessionId)
	assert.Equal(t, bugout.ErrorInvalid, bugout.Classify(err))

	require.NoError(t, store.Revoke(ctx, s.Id))
	_, err = store.Validate(ctx, s.Id)
	assert.ErrorAs(t, err, &identityErr)

	_, err = store.Validate(ctx, other.Id)
	assert.NoError(t, err, "revoking one session leaves others alone")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }

	s, err := store.Issue(ctx, "client-1")
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, err = store.Validate(ctx, s.Id)
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Validate(ctx, s.Id)
	assert.Error(t, err)

	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, store.Sweep(now))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_NoTTL(t *testing.T) {
	store := NewMemoryStore(0)
	s, err := store.Issue(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, 0, store.Sweep(time.Now().Add(24*365*time.Hour)))
	_, err = store.Validate(context.Background(), s.Id)
	assert.NoError(t, err)
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "", ttl, zaptest.NewLogger(t)), mr
}

func TestRedisStore(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	exerciseStore(t, store)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], DefaultKeyPrefix)
}

func TestRedisStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	s, err := store.Issue(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL(store.key(s.Id)))

	mr.FastForward(2 * time.Minute)
	_, err = store.Validate(ctx, s.Id)
	var identityErr *bugout.IdentityError
	assert.ErrorAs(t, err, &identityErr)
}

func TestRedisStore_UnreadableSession(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"broken", "not json"))

	_, err := store.Validate(context.Background(), "broken")
	var identityErr *bugout.IdentityError
	assert.ErrorAs(t, err, &identityErr)
}
