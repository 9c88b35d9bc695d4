package pricing

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Limiter blocks until a request under key may proceed.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// ThrottledOracle waits on a Limiter before every oracle call.
type ThrottledOracle struct {
	oracle  Oracle
	limiter Limiter
	key     string
}

// Throttle wraps oracle so calls share the limiter budget under key.
func Throttle(oracle Oracle, limiter Limiter, key string) *ThrottledOracle {
	return &ThrottledOracle{oracle: oracle, limiter: limiter, key: key}
}

// HistoricalPrice implements Oracle.
func (t *ThrottledOracle) HistoricalPrice(ctx context.Context, chain string, token common.Address, ts int64) (float64, error) {
	if err := t.limiter.Wait(ctx, t.key); err != nil {
		return 0, err
	}
	return t.oracle.HistoricalPrice(ctx, chain, token, ts)
}
