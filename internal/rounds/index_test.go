package rounds

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	fsblob "github.com/alanyoungcy/bribemeter/internal/blob/fs"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/platform/snapshot"
)

type fakeLister struct {
	items []snapshot.ProposalSummary
	err   error
	calls int
}

func (f *fakeLister) ListProposals(context.Context, string, string) ([]snapshot.ProposalSummary, error) {
	f.calls++
	return f.items, f.err
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func window(id, title string, startDay, endDay int) snapshot.ProposalSummary {
	return snapshot.ProposalSummary{
		ID:    id,
		Title: title,
		Start: base.AddDate(0, 0, startDay),
		End:   base.AddDate(0, 0, endDay),
	}
}

func fixture() []snapshot.ProposalSummary {
	return []snapshot.ProposalSummary{
		window("QmA", "Gauge Weight for Week of 1st Jan", 0, 5),
		window("0x01", "(TEST) Gauge Weight for Week of 2nd Jan", 1, 2),
		window("QmB", "Gauge Weight for Week of 15th Jan", 14, 19),
		window("QmC", "Gauge Weight for Week of 29th Jan", 28, 33),
	}
}

func newIndex(t *testing.T, src Lister, now time.Time) (*Index, *artifact.Store) {
	t.Helper()
	blobs, err := fsblob.New(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	store := artifact.New(blobs, logger)
	cfg := Config{Space: "cvx.eth", TitleFilter: "Gauge Weight for", TestPrefix: "(TEST)"}
	return New(src, store, cfg, logger, WithClock(func() time.Time { return now })), store
}

func TestNumberSkipsTestProposals(t *testing.T) {
	got := Number(fixture(), "(TEST)")
	require.Len(t, got, 4)
	assert.Equal(t, domain.Round(1), got[0].Round)
	assert.Equal(t, domain.Round(0), got[1].Round)
	assert.Equal(t, domain.Round(2), got[2].Round)
	assert.Equal(t, domain.Round(3), got[3].Round)
}

func TestCurrentAndLastCompleted(t *testing.T) {
	ix, _ := newIndex(t, &fakeLister{items: fixture()}, base.AddDate(0, 0, 16))
	require.NoError(t, ix.Refresh(context.Background()))

	cur, ok := ix.Current()
	require.True(t, ok)
	assert.Equal(t, domain.Round(2), cur)
	assert.True(t, ix.Closed(1))
	assert.False(t, ix.Closed(2), "open round")
	assert.False(t, ix.Closed(3), "not started")
	assert.False(t, ix.Closed(9), "unknown round")
	assert.Equal(t, domain.Round(1), ix.LastCompleted())
	assert.Equal(t, domain.Round(3), ix.Last())
	assert.Len(t, ix.List(), 3)
	assert.Len(t, ix.All(), 4)
}

func TestNoOpenRound(t *testing.T) {
	ix, _ := newIndex(t, &fakeLister{items: fixture()}, base.AddDate(0, 0, 10))
	require.NoError(t, ix.Refresh(context.Background()))

	_, ok := ix.Current()
	assert.False(t, ok)
	assert.Equal(t, domain.Round(1), ix.LastCompleted())
	assert.False(t, ix.Closed(2), "round 2 starts on day 14")
	assert.Equal(t, base.AddDate(0, 0, 10), ix.Now())
}

func TestProposalLookup(t *testing.T) {
	ix, _ := newIndex(t, &fakeLister{items: fixture()}, base)
	require.NoError(t, ix.Refresh(context.Background()))

	p, err := ix.Proposal(3)
	require.NoError(t, err)
	assert.Equal(t, "QmC", p.ID)

	_, err = ix.Proposal(0)
	assert.ErrorIs(t, err, domain.ErrNoProposal)
	_, err = ix.Proposal(9)
	assert.ErrorIs(t, err, domain.ErrNoProposal)
}

func TestRefreshFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	src := &fakeLister{items: fixture()}
	ix, store := newIndex(t, src, base.AddDate(0, 0, 40))
	require.NoError(t, ix.Refresh(ctx))

	state, err := store.State(ctx, ListKey, ListHeader)
	require.NoError(t, err)
	assert.Equal(t, artifact.Complete, state)

	src.err = errors.New("hub down")
	src.items = nil
	offline := New(src, store, ix.cfg, slog.New(slog.DiscardHandler), WithClock(ix.now))
	require.NoError(t, offline.Refresh(ctx))
	assert.Equal(t, domain.Round(3), offline.LastCompleted())
	p, err := offline.Proposal(2)
	require.NoError(t, err)
	assert.Equal(t, "QmB", p.ID)
	assert.Equal(t, base.AddDate(0, 0, 19), p.End)
}

func TestRefreshFailsWithoutCache(t *testing.T) {
	ix, _ := newIndex(t, &fakeLister{err: errors.New("hub down")}, base)
	assert.Error(t, ix.Refresh(context.Background()))
}
