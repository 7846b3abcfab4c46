package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeStore) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeStore) Set(_ context.Context, key string, _ any, _ time.Duration) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStore) Get(_ context.Context, key string) *redis.StringCmd {
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStore) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.incrErr != nil {
		return redis.NewIntResult(0, f.incrErr)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeStore) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestIncrWithTTLSetsExpiryOnFirstIncrement(t *testing.T) {
	store := newFakeStore()
	client := &Client{store: store}

	count, err := client.IncrWithTTL(context.Background(), "tistis:counter:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, store.expires["tistis:counter:x"])

	count, err = client.IncrWithTTL(context.Background(), "tistis:counter:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestFixedWindowAllowEnforcesLimit(t *testing.T) {
	store := newFakeStore()
	client := &Client{store: store}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := client.FixedWindowAllow(ctx, "tenant:t1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, count, err := client.FixedWindowAllow(ctx, "tenant:t1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, int64(4), count)
}

func TestBuildKeyNamespacesAndSkipsEmptyParts(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "tistis:rate_limit:global", client.RateLimitKey("global"))
	assert.Equal(t, "tistis:lock:billing", client.LockKey("billing"))
	assert.Equal(t, "tistis:counter:calls", client.CounterKey("calls"))
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	_, err := client.Incr(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, client.Ping(context.Background()))
}
