package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fsblob "github.com/alanyoungcy/bribemeter/internal/blob/fs"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

func newStore(t *testing.T) (*Store, *fsblob.Store) {
	t.Helper()
	blobs, err := fsblob.New(t.TempDir())
	require.NoError(t, err)
	return New(blobs, slog.New(slog.DiscardHandler)), blobs
}

func TestRoundKey(t *testing.T) {
	assert.Equal(t, "snapshot/round_0007_proposal.csv", RoundKey(StageProposal, 7))
	assert.Equal(t, "incentives/round_0053_incentives.csv", RoundKey(StageIncentives, 53))
	assert.Equal(t, "price/round_0120_price.csv", RoundKey(StagePrice, 120))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	header := []string{"choice_name", "choice_index", "score", "pct_score"}
	tbl := Table{
		Header: header,
		Rows: [][]string{
			{"a, with comma", "1", "1000", "0.75"},
			{"b", "2", "333.5", "0.25"},
		},
	}
	key := RoundKey(StageProposal, 3)

	state, err := s.State(ctx, key, header)
	require.NoError(t, err)
	assert.Equal(t, Absent, state)

	require.NoError(t, s.Save(ctx, key, tbl))

	got, state, err := s.Load(ctx, key, header)
	require.NoError(t, err)
	assert.Equal(t, Complete, state)
	assert.Equal(t, tbl, got)
}

func TestLoadStaleTempIsPartial(t *testing.T) {
	ctx := context.Background()
	s, blobs := newStore(t)
	key := RoundKey(StagePrice, 9)

	tmp := filepath.Join(blobs.Root(), filepath.FromSlash(key)+domain.PartialSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(tmp), 0o755))
	require.NoError(t, os.WriteFile(tmp, []byte("round,gauge\n9,"), 0o644))

	state, err := s.State(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, Partial, state)

	_, state, err = s.Load(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, Partial, state)

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "partial artifact must be cleaned on load")

	state, err = s.State(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, Absent, state)
}

func TestLoadRaggedOrWrongHeaderIsPartial(t *testing.T) {
	ctx := context.Background()
	s, blobs := newStore(t)

	ragged := RoundKey(StageIncentives, 4)
	require.NoError(t, blobs.Put(ctx, ragged, strings.NewReader("a,b,c\n1,2,3\n4,5\n"), "text/csv"))
	_, state, err := s.Load(ctx, ragged, nil)
	require.NoError(t, err)
	assert.Equal(t, Partial, state)

	wrong := RoundKey(StageIncentives, 5)
	require.NoError(t, blobs.Put(ctx, wrong, strings.NewReader("a,b\n1,2\n"), "text/csv"))
	_, state, err = s.Load(ctx, wrong, []string{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, Partial, state)

	ok, err := blobs.Exists(ctx, wrong)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveRejectsRaggedTable(t *testing.T) {
	s, _ := newStore(t)
	err := s.Save(context.Background(), "x.csv", Table{Header: []string{"a", "b"}, Rows: [][]string{{"1"}}})
	assert.Error(t, err)
}

func TestInvalidateRound(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	tbl := Table{Header: []string{"x"}, Rows: [][]string{{"1"}}}
	for _, stage := range Stages {
		require.NoError(t, s.Save(ctx, RoundKey(stage, 11), tbl))
		require.NoError(t, s.Save(ctx, RoundKey(stage, 12), tbl))
	}

	require.NoError(t, s.InvalidateRound(ctx, 11))

	for _, stage := range Stages {
		state, err := s.State(ctx, RoundKey(stage, 11), nil)
		require.NoError(t, err)
		assert.Equal(t, Absent, state, stage)

		state, err = s.State(ctx, RoundKey(stage, 12), nil)
		require.NoError(t, err)
		assert.Equal(t, Complete, state, stage)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	var v struct{ A int }
	ok, err := s.LoadJSON(ctx, "state/run.json", &v)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveJSON(ctx, "state/run.json", struct{ A int }{A: 5}))
	ok, err = s.LoadJSON(ctx, "state/run.json", &v)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, v.A)
}
