package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	keys []string
	err  error
}

func (l *countingLimiter) Wait(_ context.Context, key string) error {
	l.keys = append(l.keys, key)
	return l.err
}

func TestThrottledOracleWaitsFirst(t *testing.T) {
	oracle := &fakeOracle{prices: map[common.Address]float64{crv: 2}}
	lim := &countingLimiter{}
	th := Throttle(oracle, lim, "defillama")

	p, err := th.HistoricalPrice(context.Background(), "ethereum", crv, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, p)
	assert.Equal(t, []string{"defillama"}, lim.keys)

	lim.err = errors.New("cancelled")
	_, err = th.HistoricalPrice(context.Background(), "ethereum", crv, 1)
	assert.Error(t, err)
	assert.Equal(t, 1, oracle.calls)
}
