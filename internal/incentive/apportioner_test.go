package incentive

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	fsblob "github.com/alanyoungcy/bribemeter/internal/blob/fs"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

var (
	crv    = common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
	cvx    = common.HexToAddress("0x4e3FBD56CD56c3e72c1403e103b45Db9da5B9D2B")
	gaugeA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	gaugeB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	gaugeC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	gaugeX = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

type fakeChoices struct {
	byRound map[domain.Round][]domain.Choice
	err     error
}

func (f fakeChoices) Choices(_ context.Context, r domain.Round) ([]domain.Choice, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byRound[r], nil
}

// fakeRounds treats every round but current as closed.
type fakeRounds struct {
	ids     map[domain.Round]string
	current domain.Round
}

func (f fakeRounds) Proposal(r domain.Round) (domain.Proposal, error) {
	id, ok := f.ids[r]
	if !ok {
		return domain.Proposal{}, domain.ErrNoProposal
	}
	return domain.Proposal{Round: r, ID: id}, nil
}

func (f fakeRounds) Closed(r domain.Round) bool { return r != f.current }

type fakeEvents struct {
	v1      []domain.IncentiveEventV1
	v2      []domain.IncentiveEventV2
	v1Calls int
	v2Calls int
}

func (f *fakeEvents) V1(context.Context) ([]domain.IncentiveEventV1, error) {
	f.v1Calls++
	return f.v1, nil
}

func (f *fakeEvents) V2(context.Context) ([]domain.IncentiveEventV2, error) {
	f.v2Calls++
	return f.v2, nil
}

type countingChain struct {
	tokenCalls map[common.Address]int
	blockCalls map[uint64]int
}

func newChain() *countingChain {
	return &countingChain{tokenCalls: map[common.Address]int{}, blockCalls: map[uint64]int{}}
}

func (c *countingChain) TokenInfo(_ context.Context, token common.Address) (domain.TokenInfo, error) {
	c.tokenCalls[token]++
	switch token {
	case crv:
		return domain.TokenInfo{Symbol: "CRV", Name: "Curve DAO Token"}, nil
	case cvx:
		return domain.TokenInfo{Symbol: "CVX", Name: "Convex Token"}, nil
	}
	return domain.TokenInfo{}, errors.New("unknown token")
}

func (c *countingChain) BlockTime(_ context.Context, n uint64) (int64, error) {
	c.blockCalls[n]++
	return int64(1_600_000_000 + n), nil
}

func deposit(token common.Address, amount int64, block uint64, logIndex uint) domain.Deposit {
	return domain.Deposit{
		Token:       token,
		Amount:      big.NewInt(amount),
		TxHash:      "0xtx",
		LogIndex:    logIndex,
		BlockHash:   "0xbh",
		BlockNumber: block,
	}
}

func registry(t *testing.T) *Registry {
	t.Helper()
	r, err := ParseRegistry(strings.NewReader(`{"gauges":{
		"0x00000000000000000000000000000000000000AA":{"shortName":"alpha"},
		"0x00000000000000000000000000000000000000bb":{"shortName":"beta"},
		"0x00000000000000000000000000000000000000cc":{"shortName":"gamma"}}}`))
	require.NoError(t, err)
	return r
}

func newApportioner(t *testing.T, events EventSource, choices Choices, rounds Rounds, chain *countingChain) (*Apportioner, *artifact.Store) {
	t.Helper()
	blobs, err := fsblob.New(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	store := artifact.New(blobs, logger)
	return New(Deps{
		Events:   events,
		Choices:  choices,
		Rounds:   rounds,
		Registry: registry(t),
		Tokens:   NewTokenDirectory(chain),
		Blocks:   NewBlockClock(chain),
		Store:    store,
	}, 53, logger), store
}

func v2Choices() []domain.Choice {
	return []domain.Choice{
		{Name: "alpha", Index: 0, Score: 900},
		{Name: "beta", Index: 1, Score: 100},
	}
}

func TestEvenSplitAcrossDeposits(t *testing.T) {
	events := &fakeEvents{v2: []domain.IncentiveEventV2{
		{Round: 60, Gauge: gaugeA, Deposit: deposit(crv, 5_000, 100, 0)},
		{Round: 60, Gauge: gaugeA, Deposit: deposit(cvx, 1, 101, 1)},
		{Round: 60, Gauge: gaugeB, Deposit: deposit(crv, 7, 100, 2)},
		{Round: 61, Gauge: gaugeA, Deposit: deposit(crv, 7, 200, 0)},
	}}
	a, _ := newApportioner(t, events,
		fakeChoices{byRound: map[domain.Round][]domain.Choice{60: v2Choices()}},
		fakeRounds{}, newChain())

	rows, err := a.Compute(context.Background(), 60)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "alpha", rows[0].Gauge)
	assert.Equal(t, 450.0, rows[0].UnadjustedScore)
	assert.Equal(t, 450.0, rows[1].UnadjustedScore)
	assert.Equal(t, 2, rows[0].DepositCount)
	assert.Equal(t, 900.0, rows[0].Score)
	assert.Equal(t, "beta", rows[2].Gauge)
	assert.Equal(t, 100.0, rows[2].UnadjustedScore)

	sums := map[string]float64{}
	for _, r := range rows {
		sums[r.Gauge] += r.UnadjustedScore
	}
	assert.Equal(t, 900.0, sums["alpha"])
	assert.Equal(t, 100.0, sums["beta"])

	assert.Equal(t, "CRV", rows[0].TokenSymbol)
	assert.Equal(t, "Convex Token", rows[1].TokenName)
	assert.Equal(t, int64(1_600_000_101), rows[1].Timestamp)
}

func TestV1JoinByContentHash(t *testing.T) {
	id := "QmWeek1"
	events := &fakeEvents{v1: []domain.IncentiveEventV1{
		{ProposalHash: domain.Strip0x(domain.ContentHash(id)), ChoiceIndex: 2, Deposit: deposit(crv, 10, 100, 0)},
		{ProposalHash: domain.ContentHash("QmOther"), ChoiceIndex: 1, Deposit: deposit(crv, 10, 100, 1)},
		{ProposalHash: domain.ContentHash(id), ChoiceIndex: 9, Deposit: deposit(crv, 10, 100, 2)},
	}}
	choices := []domain.Choice{{Name: "x", Index: 0, Score: 1}, {Name: "y", Index: 1, Score: 42}}
	a, _ := newApportioner(t, events,
		fakeChoices{byRound: map[domain.Round][]domain.Choice{3: choices}},
		fakeRounds{ids: map[domain.Round]string{3: id}}, newChain())

	rows, err := a.Compute(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "y", rows[0].Gauge)
	assert.Equal(t, 1, rows[0].ChoiceIndex)
	assert.Equal(t, 42.0, rows[0].UnadjustedScore)
	assert.Zero(t, events.v2Calls)
}

func TestV2RegistryMissAndNewGauge(t *testing.T) {
	events := &fakeEvents{v2: []domain.IncentiveEventV2{
		{Round: 60, Gauge: gaugeX, Deposit: deposit(crv, 1, 100, 0)},
		{Round: 60, Gauge: gaugeC, Deposit: deposit(crv, 1, 100, 1)},
	}}
	a, _ := newApportioner(t, events,
		fakeChoices{byRound: map[domain.Round][]domain.Choice{60: v2Choices()}},
		fakeRounds{}, newChain())

	rows, err := a.Compute(context.Background(), 60)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "gamma", rows[0].Gauge)
	assert.Equal(t, -1, rows[0].ChoiceIndex)
	assert.Equal(t, 0.0, rows[0].UnadjustedScore)
}

func TestOpenRoundWithoutSnapshotScoresZero(t *testing.T) {
	events := &fakeEvents{v2: []domain.IncentiveEventV2{
		{Round: 70, Gauge: gaugeA, Deposit: deposit(crv, 1, 100, 0)},
	}}
	a, _ := newApportioner(t, events, fakeChoices{err: errors.New("not yet")}, fakeRounds{current: 70}, newChain())

	rows, err := a.Compute(context.Background(), 70)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.0, rows[0].UnadjustedScore)

	closed, _ := newApportioner(t, events, fakeChoices{err: errors.New("hub down")}, fakeRounds{current: 71}, newChain())
	_, err = closed.Compute(context.Background(), 70)
	assert.Error(t, err)
}

func TestMemoHitsEachSourceOnce(t *testing.T) {
	var v2 []domain.IncentiveEventV2
	for i := range 10 {
		v2 = append(v2, domain.IncentiveEventV2{Round: 60, Gauge: gaugeA, Deposit: deposit(crv, 1, 500, uint(i))})
	}
	chain := newChain()
	a, _ := newApportioner(t, &fakeEvents{v2: v2},
		fakeChoices{byRound: map[domain.Round][]domain.Choice{60: v2Choices()}},
		fakeRounds{}, chain)

	_, err := a.Compute(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.tokenCalls[crv])
	assert.Equal(t, 1, chain.blockCalls[500])
	assert.Equal(t, 1, a.tokens.Lookups())
	assert.Equal(t, 1, a.blocks.Lookups())
}

func TestApportionCachesAndRoundTrips(t *testing.T) {
	ctx := context.Background()
	events := &fakeEvents{v2: []domain.IncentiveEventV2{
		{Round: 60, Gauge: gaugeA, Deposit: deposit(crv, 5_000_000, 100, 0)},
		{Round: 60, Gauge: gaugeA, Deposit: deposit(cvx, 3, 101, 1)},
	}}
	a, store := newApportioner(t, events,
		fakeChoices{byRound: map[domain.Round][]domain.Choice{60: v2Choices()}},
		fakeRounds{}, newChain())

	first, err := a.Apportion(ctx, 60)
	require.NoError(t, err)
	second, err := a.Apportion(ctx, 60)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, events.v2Calls)

	state, err := store.State(ctx, artifact.RoundKey(artifact.StageIncentives, 60), Header)
	require.NoError(t, err)
	assert.Equal(t, artifact.Complete, state)
}

func TestSplitSumsExactlyToScore(t *testing.T) {
	for _, tc := range []struct {
		score    float64
		deposits int
	}{
		{3.3, 6},
		{987654.3210987, 3},
		{0.1, 7},
		{1e-7, 9},
	} {
		var v2 []domain.IncentiveEventV2
		for i := range tc.deposits {
			v2 = append(v2, domain.IncentiveEventV2{Round: 60, Gauge: gaugeA, Deposit: deposit(crv, 1, 100, uint(i))})
		}
		choices := []domain.Choice{{Name: "alpha", Index: 0, Score: tc.score}}
		a, _ := newApportioner(t, &fakeEvents{v2: v2},
			fakeChoices{byRound: map[domain.Round][]domain.Choice{60: choices}},
			fakeRounds{}, newChain())

		rows, err := a.Compute(context.Background(), 60)
		require.NoError(t, err)
		require.Len(t, rows, tc.deposits)

		var sum float64
		for _, r := range rows {
			sum += r.UnadjustedScore
			assert.InDelta(t, tc.score/float64(tc.deposits), r.UnadjustedScore, 1e-9*tc.score)
		}
		assert.Equal(t, tc.score, sum, "score %v over %d deposits", tc.score, tc.deposits)
	}
}

func TestApportionNeverPersistsUnclosedRound(t *testing.T) {
	ctx := context.Background()
	events := &fakeEvents{v2: []domain.IncentiveEventV2{
		{Round: 70, Gauge: gaugeA, Deposit: deposit(crv, 1, 100, 0)},
	}}
	a, store := newApportioner(t, events,
		fakeChoices{byRound: map[domain.Round][]domain.Choice{70: v2Choices()}},
		fakeRounds{current: 70}, newChain())

	_, err := a.Apportion(ctx, 70)
	require.NoError(t, err)
	_, err = a.Apportion(ctx, 70)
	require.NoError(t, err)

	assert.Equal(t, 2, events.v2Calls)
	state, err := store.State(ctx, artifact.RoundKey(artifact.StageIncentives, 70), Header)
	require.NoError(t, err)
	assert.Equal(t, artifact.Absent, state)
}
