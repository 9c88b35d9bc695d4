package redis

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

var discard = slog.New(slog.DiscardHandler)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := Open(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestOpenUnreachable(t *testing.T) {
	_, err := Open(context.Background(), Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	require.Error(t, err)
}

func TestQuoteCache(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	qc := NewQuoteCache(rdb)
	k := domain.QuoteKey{
		Chain:     "ethereum",
		Token:     common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52"),
		Timestamp: 1643032930,
	}

	_, err := qc.GetQuote(ctx, k)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, qc.SetQuote(ctx, k, 3.2145))
	got, err := qc.GetQuote(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, 3.2145, got)

	assert.Equal(t, "quote:ethereum:0xd533a949740bb3306d119cc777fa900ba034cd52:1643032930", quoteKey(k))
	ttl := rdb.TTL(ctx, quoteKey(k)).Val()
	assert.Equal(t, time.Duration(-1), ttl, "historical quotes never expire")
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, 2, time.Minute)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	for i := range 2 {
		ok, err := rl.Allow(ctx, "defillama")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		clock = clock.Add(time.Second)
	}
	ok, err := rl.Allow(ctx, "defillama")
	require.NoError(t, err)
	assert.False(t, ok, "third request inside the window")

	ok, err = rl.Allow(ctx, "coingecko")
	require.NoError(t, err)
	assert.True(t, ok, "keys are limited separately")

	clock = clock.Add(time.Minute)
	ok, err = rl.Allow(ctx, "defillama")
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the first requests")
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	_, rdb := newTestRedis(t)
	rl := NewRateLimiter(rdb, 1, time.Hour)
	require.NoError(t, rl.Wait(context.Background(), "defillama"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := rl.Wait(ctx, "defillama")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunLock(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	lock := NewRunLock(rdb, "", time.Minute, discard)

	release, err := lock.Acquire(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, "run-a", mustGet(t, mr, "lock:"+DefaultRunLockKey))

	_, err = lock.Acquire(ctx, "run-b")
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Contains(t, err.Error(), "run-a")

	release()
	release()
	assert.False(t, mr.Exists("lock:"+DefaultRunLockKey))

	release, err = lock.Acquire(ctx, "run-b")
	require.NoError(t, err)
	release()
}

func TestRunLockExpiredReleaseKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	lock := NewRunLock(rdb, "deploy-a", time.Minute, discard)

	releaseA, err := lock.Acquire(ctx, "run-a")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	releaseB, err := lock.Acquire(ctx, "run-b")
	require.NoError(t, err)

	// run-a finishing late must not free run-b's lock.
	releaseA()
	assert.Equal(t, "run-b", mustGet(t, mr, "lock:deploy-a"))
	releaseB()
	assert.False(t, mr.Exists("lock:deploy-a"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
