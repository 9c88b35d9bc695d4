package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	fsblob "github.com/alanyoungcy/bribemeter/internal/blob/fs"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/platform/defillama"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	tTok = common.HexToAddress("0xCdF7028ceAB81fA0C6971208e83fa7872994beE5")
	crv  = common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
)

type fakeOracle struct {
	prices map[common.Address]float64
	err    error
	calls  int
}

func (f *fakeOracle) HistoricalPrice(_ context.Context, _ string, token common.Address, ts int64) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	p, ok := f.prices[token]
	if !ok {
		return 0, fmt.Errorf("%s at %d: %w", token.Hex(), ts, domain.ErrNotFound)
	}
	return p, nil
}

type memQuotes struct {
	m    map[domain.QuoteKey]float64
	sets int
}

func (q *memQuotes) GetQuote(_ context.Context, k domain.QuoteKey) (float64, error) {
	p, ok := q.m[k]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p, nil
}

func (q *memQuotes) SetQuote(_ context.Context, k domain.QuoteKey, p float64) error {
	q.sets++
	q.m[k] = p
	return nil
}

func newResolver(t *testing.T, oracle Oracle, cache domain.QuoteCache) (*Resolver, *artifact.Store) {
	t.Helper()
	blobs, err := fsblob.New(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	store := artifact.New(blobs, logger)
	manual, err := NewManualPrices(DefaultManualPrices)
	require.NoError(t, err)
	return NewResolver(oracle, store, Options{
		Manual:   manual,
		Cache:    cache,
		Decimals: NewDecimals(nil, nil),
	}, logger), store
}

func incentive(symbol string, token common.Address, amount *big.Int, ts int64, score float64) domain.ApportionedIncentive {
	return domain.ApportionedIncentive{
		Round:           60,
		Gauge:           "alpha",
		TokenSymbol:     symbol,
		Timestamp:       ts,
		UnadjustedScore: score,
		Deposit: domain.Deposit{
			Token:       token,
			Amount:      amount,
			TxHash:      "0xtx",
			BlockHash:   "0xbh",
			BlockNumber: 1,
		},
	}
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestSixDecimalToken(t *testing.T) {
	r, _ := newResolver(t, &fakeOracle{prices: map[common.Address]float64{usdc: 1}}, nil)
	p := r.Resolve(context.Background(), incentive("USDC", usdc, big.NewInt(5_000_000), 1700000000, 10))
	assert.Equal(t, 5.0, p.Amount)
	assert.Equal(t, domain.Priced(5), p.USDValue)
	assert.Equal(t, domain.Priced(0.5), p.PerVote)
	assert.Equal(t, domain.SourceOracle, p.PriceSource)
}

func TestPerVoteKeepsPrecisionForDust(t *testing.T) {
	r, _ := newResolver(t, &fakeOracle{prices: map[common.Address]float64{crv: 1}}, nil)
	p := r.Resolve(context.Background(), incentive("CRV", crv, big.NewInt(1), 1700000000, 3))

	require.True(t, p.PerVote.OK())
	assert.Equal(t, 1e-18, p.USDValue.Value)
	assert.InEpsilon(t, 1e-18/3, p.PerVote.Value, 1e-9)
}

func TestDecimalScales(t *testing.T) {
	d := NewDecimals(nil, nil)
	assert.Equal(t, int32(6), d.Scale("LUNA"))
	assert.Equal(t, int32(2), d.Scale("EURS"))
	assert.Equal(t, int32(18), d.Scale("usdc"))
	f, _ := d.Normalize("EURS", big.NewInt(12345)).Float64()
	assert.Equal(t, 123.45, f)
}

func TestManualPriceBypassesOracle(t *testing.T) {
	oracle := &fakeOracle{}
	r, _ := newResolver(t, oracle, nil)
	p := r.Resolve(context.Background(), incentive("T", tTok, e18(100), 1643032930, 0))

	assert.Equal(t, 0, oracle.calls)
	assert.Equal(t, 100.0, p.Amount)
	assert.Equal(t, domain.Priced(0.08858019868648463), p.UnitPrice)
	assert.Equal(t, domain.Priced(8.858019868648463), p.USDValue)
	assert.Equal(t, domain.Priced(0), p.PerVote, "zero score yields per_vote 0")
	assert.Equal(t, domain.SourceManual, p.PriceSource)
}

func TestOracleHTTPErrorMarksAllFieldsError(t *testing.T) {
	r, _ := newResolver(t, &fakeOracle{err: &defillama.StatusError{Code: 500, Body: "boom"}}, nil)
	p := r.Resolve(context.Background(), incentive("CRV", crv, e18(3), 1700000000, 10))

	assert.Equal(t, "ERROR", p.UnitPrice.String())
	assert.Equal(t, "ERROR", p.USDValue.String())
	assert.Equal(t, "ERROR", p.PerVote.String())
	assert.Contains(t, p.UnitPrice.Detail, "500")
	assert.Equal(t, 3.0, p.Amount)
}

func TestOracleWithoutPriceIsMissing(t *testing.T) {
	r, _ := newResolver(t, &fakeOracle{prices: map[common.Address]float64{}}, nil)
	p := r.Resolve(context.Background(), incentive("CRV", crv, e18(3), 1700000000, 0))

	assert.Equal(t, domain.PriceMissing, p.UnitPrice.Status)
	assert.Equal(t, "MISSING", p.USDValue.String())
	assert.Equal(t, "MISSING", p.PerVote.String(), "sentinel wins over the zero-score rule")
}

func TestQuoteCacheTier(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{prices: map[common.Address]float64{crv: 0.5}}
	cache := &memQuotes{m: map[domain.QuoteKey]float64{}}
	r, _ := newResolver(t, oracle, cache)

	first := r.Resolve(ctx, incentive("CRV", crv, e18(4), 1700000000, 1))
	second := r.Resolve(ctx, incentive("CRV", crv, e18(4), 1700000000, 1))

	assert.Equal(t, domain.SourceOracle, first.PriceSource)
	assert.Equal(t, domain.SourceCache, second.PriceSource)
	assert.Equal(t, first.USDValue, second.USDValue)
	assert.Equal(t, 1, oracle.calls)
	assert.Equal(t, 1, cache.sets)

	oracle.prices = map[common.Address]float64{}
	_ = r.Resolve(ctx, incentive("CRV", crv, e18(4), 1700000001, 1))
	assert.Equal(t, 1, cache.sets, "missing quotes are not cached")
}

func TestResolveRoundPersistence(t *testing.T) {
	ctx := context.Background()
	oracle := &fakeOracle{prices: map[common.Address]float64{}}
	r, store := newResolver(t, oracle, nil)
	key := artifact.RoundKey(artifact.StagePrice, 60)

	res, err := r.ResolveRound(ctx, 60, []domain.ApportionedIncentive{
		incentive("T", tTok, e18(100), 1643032930, 2),
		incentive("CRV", crv, e18(1), 1700000000, 2),
	})
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, 1, res.Missing)

	cached, ok, err := r.Cached(ctx, 60)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 2)
	assert.Equal(t, domain.Priced(8.858019868648463), cached[0].USDValue)
	assert.Equal(t, domain.PriceMissing, cached[1].PerVote.Status)

	require.NoError(t, store.Invalidate(ctx, key))
	oracle.err = &defillama.StatusError{Code: 502}
	res, err = r.ResolveRound(ctx, 60, []domain.ApportionedIncentive{incentive("CRV", crv, e18(1), 1700000000, 2)})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Equal(t, 1, res.Errors)

	_, ok, err = r.Cached(ctx, 60)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManualPricesRejectGarbage(t *testing.T) {
	_, err := NewManualPrices(map[string]string{"X:1": "one"})
	assert.Error(t, err)
}
