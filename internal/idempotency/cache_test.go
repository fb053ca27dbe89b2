package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fluxpay/pkg/config"
)

func testIdempotencyConfig() config.IdempotencyConfig {
	return config.IdempotencyConfig{
		Enabled:        true,
		TTL:            time.Hour,
		RedisKeyPrefix: "fluxpay:idem:",
		RedisTimeout:   time.Second,
		PurgeInterval:  time.Hour,
	}
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCache(client, testIdempotencyConfig()), mr
}

func testKey() Key {
	return Key{
		TenantID: "tenant-a",
		Endpoint: "POST:/api/v1/payments",
		Key:      "b2c7e6d0-1111-4222-8333-444455556666",
	}
}

func TestCache_Acquire_FirstRequest(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	res, err := cache.Acquire(ctx, testKey(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquired, res.Outcome)
}

func TestCache_Acquire_WhileProcessing(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, testKey(), "hash-1")
	require.NoError(t, err)

	res, err := cache.Acquire(ctx, testKey(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessing, res.Outcome)
}

func TestCache_Acquire_PayloadMismatch(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, testKey(), "hash-1")
	require.NoError(t, err)

	res, err := cache.Acquire(ctx, testKey(), "hash-2")

	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
}

func TestCache_Acquire_HitAfterComplete(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	body := []byte(`{"isSuccess":true,"code":"OK"}`)

	_, err := cache.Acquire(ctx, testKey(), "hash-1")
	require.NoError(t, err)
	require.NoError(t, cache.Complete(ctx, testKey(), "hash-1", body, 201))

	res, err := cache.Acquire(ctx, testKey(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, res.Outcome)
	assert.Equal(t, body, res.Body)
	assert.Equal(t, 201, res.Status)
}

func TestCache_Acquire_AfterRelease(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, testKey(), "hash-1")
	require.NoError(t, err)
	require.NoError(t, cache.Release(ctx, testKey()))

	res, err := cache.Acquire(ctx, testKey(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquired, res.Outcome, "после снятия блокировки захват должен пройти заново")
}

func TestCache_Acquire_AfterTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	_, err := cache.Acquire(ctx, testKey(), "hash-1")
	require.NoError(t, err)

	mr.FastForward(time.Hour + time.Minute)

	res, err := cache.Acquire(ctx, testKey(), "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquired, res.Outcome, "просроченная запись не должна блокировать захват")
}

func TestCache_Acquire_DistinctTenants(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	keyA := testKey()
	keyB := testKey()
	keyB.TenantID = "tenant-b"

	_, err := cache.Acquire(ctx, keyA, "hash-1")
	require.NoError(t, err)

	res, err := cache.Acquire(ctx, keyB, "hash-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAcquired, res.Outcome, "записи разных тенантов независимы")
}

func TestCache_Acquire_RedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	_, err := cache.Acquire(ctx, testKey(), "hash-1")

	assert.Error(t, err)
}
