package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultRunLockKey guards the artifact store of one deployment.
const DefaultRunLockKey = "bribemeter:pipeline"

// releaseLua deletes the lock only while it still holds the caller's run id.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RunLock keeps two pipeline runs off the same artifact store. The stored
// value is the holding run's id, so a refused run can say who holds it.
type RunLock struct {
	rdb     *redis.Client
	key     string
	ttl     time.Duration
	release *redis.Script
	logger  *slog.Logger
}

// NewRunLock creates a RunLock on "lock:{key}" expiring after ttl. A run that
// outlives ttl loses the lock; release then logs the overlap.
func NewRunLock(rdb *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RunLock {
	if key == "" {
		key = DefaultRunLockKey
	}
	return &RunLock{
		rdb:     rdb,
		key:     lockKey(key),
		ttl:     ttl,
		release: redis.NewScript(releaseLua),
		logger:  logger.With(slog.String("component", "run_lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for runID. It returns domain.ErrLockHeld when
// another run holds it. The release function is safe to call more than once.
func (l *RunLock) Acquire(ctx context.Context, runID string) (func(), error) {
	ok, err := l.rdb.SetNX(ctx, l.key, runID, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: run lock %s: %w", l.key, err)
	}
	if !ok {
		holder, err := l.rdb.Get(ctx, l.key).Result()
		if errors.Is(err, redis.Nil) {
			holder = "(expired)"
		} else if err != nil {
			holder = "(unknown)"
		}
		return nil, fmt.Errorf("redis: run lock %s held by run %s: %w", l.key, holder, domain.ErrLockHeld)
	}

	acquired := time.Now()
	l.logger.DebugContext(ctx, "run lock acquired",
		slog.String("run_id", runID),
		slog.Duration("ttl", l.ttl),
	)
	var once sync.Once
	return func() { once.Do(func() { l.unlock(runID, acquired) }) }, nil
}

func (l *RunLock) unlock(runID string, acquired time.Time) {
	// The run's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n, err := l.release.Run(ctx, l.rdb, []string{l.key}, runID).Int()
	switch {
	case err != nil:
		l.logger.WarnContext(ctx, "run lock release failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
	case n == 0:
		l.logger.WarnContext(ctx, "run lock expired before the run finished",
			slog.String("run_id", runID),
			slog.Duration("held", time.Since(acquired)),
			slog.Duration("ttl", l.ttl),
		)
	}
}
