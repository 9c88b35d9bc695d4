// Package rounds numbers governance proposals into incentive rounds and
// answers which round is open or last completed.
package rounds

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/platform/snapshot"
)

// ListKey is where the numbered proposal list is persisted.
const ListKey = "snapshot/proposals.csv"

// ListHeader is the column set of the persisted proposal list.
var ListHeader = []string{"round", "start", "end", "id", "title", "content_hash"}

// Lister is the governance proposal source.
type Lister interface {
	ListProposals(ctx context.Context, space, titleContains string) ([]snapshot.ProposalSummary, error)
}

// Config selects which proposals count as rounds.
type Config struct {
	Space       string
	TitleFilter string
	TestPrefix  string
}

// Index is the round list. Call Refresh before any query.
type Index struct {
	source Lister
	store  *artifact.Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	all []domain.Proposal
}

// Option configures an Index.
type Option func(*Index)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) { ix.now = now }
}

// New creates an Index.
func New(source Lister, store *artifact.Store, cfg Config, logger *slog.Logger, opts ...Option) *Index {
	ix := &Index{
		source: source,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "round_index")),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Refresh re-reads the proposal list from the source and persists it. When
// the source fails the persisted list is used instead.
func (ix *Index) Refresh(ctx context.Context) error {
	summaries, err := ix.source.ListProposals(ctx, ix.cfg.Space, ix.cfg.TitleFilter)
	if err != nil {
		cached, cerr := ix.loadCached(ctx)
		if cerr != nil || cached == nil {
			return fmt.Errorf("rounds: refresh: %w", err)
		}
		ix.logger.WarnContext(ctx, "proposal source unavailable, using cached round list",
			slog.String("error", err.Error()),
			slog.Int("proposals", len(cached)),
		)
		ix.all = cached
		return nil
	}

	ix.all = Number(summaries, ix.cfg.TestPrefix)
	if err := ix.store.Save(ctx, ListKey, toTable(ix.all)); err != nil {
		return fmt.Errorf("rounds: %w", err)
	}
	ix.logger.InfoContext(ctx, "round list refreshed",
		slog.Int("proposals", len(ix.all)),
		slog.Int("last_round", int(ix.Last())),
	)
	return nil
}

// Number assigns round numbers in list order. Titles starting with testPrefix
// get round 0 and do not advance the counter.
func Number(summaries []snapshot.ProposalSummary, testPrefix string) []domain.Proposal {
	out := make([]domain.Proposal, 0, len(summaries))
	var n domain.Round
	for _, s := range summaries {
		r := domain.Round(0)
		if testPrefix == "" || !strings.HasPrefix(s.Title, testPrefix) {
			n++
			r = n
		}
		out = append(out, domain.Proposal{
			Round:  r,
			ID:     s.ID,
			Title:  s.Title,
			Author: s.Author,
			Start:  s.Start,
			End:    s.End,
		})
	}
	return out
}

// All returns every proposal including round 0 test proposals.
func (ix *Index) All() []domain.Proposal {
	return ix.all
}

// List returns the numbered rounds in ascending order.
func (ix *Index) List() []domain.Proposal {
	out := make([]domain.Proposal, 0, len(ix.all))
	for _, p := range ix.all {
		if p.Round > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Proposal returns the proposal of round r.
func (ix *Index) Proposal(r domain.Round) (domain.Proposal, error) {
	if r > 0 {
		for _, p := range ix.all {
			if p.Round == r {
				return p, nil
			}
		}
	}
	return domain.Proposal{}, fmt.Errorf("rounds: round %d: %w", r, domain.ErrNoProposal)
}

// Current returns the round whose voting window contains now.
func (ix *Index) Current() (domain.Round, bool) {
	now := ix.now()
	var cur domain.Round
	for _, p := range ix.List() {
		if p.IsOpen(now) {
			cur = p.Round
		}
	}
	return cur, cur > 0
}

// Closed reports whether round r exists and its voting window has ended.
// Rounds that have not started yet are neither open nor closed.
func (ix *Index) Closed(r domain.Round) bool {
	p, err := ix.Proposal(r)
	return err == nil && p.IsClosed(ix.now())
}

// LastCompleted returns the highest round whose voting window has ended, or 0.
func (ix *Index) LastCompleted() domain.Round {
	now := ix.now()
	var last domain.Round
	for _, p := range ix.List() {
		if p.IsClosed(now) && p.Round > last {
			last = p.Round
		}
	}
	return last
}

// Last returns the highest numbered round, open or not.
func (ix *Index) Last() domain.Round {
	var last domain.Round
	for _, p := range ix.all {
		last = max(last, p.Round)
	}
	return last
}

// Now returns the index clock's current time.
func (ix *Index) Now() time.Time {
	return ix.now()
}

func (ix *Index) loadCached(ctx context.Context) ([]domain.Proposal, error) {
	t, state, err := ix.store.Load(ctx, ListKey, ListHeader)
	if err != nil || state != artifact.Complete {
		return nil, err
	}
	return fromTable(t)
}

func toTable(ps []domain.Proposal) artifact.Table {
	rows := make([][]string, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, []string{
			strconv.Itoa(int(p.Round)),
			strconv.FormatInt(p.Start.Unix(), 10),
			strconv.FormatInt(p.End.Unix(), 10),
			p.ID,
			p.Title,
			p.ContentHash(),
		})
	}
	return artifact.Table{Header: ListHeader, Rows: rows}
}

func fromTable(t artifact.Table) ([]domain.Proposal, error) {
	out := make([]domain.Proposal, 0, len(t.Rows))
	for i, row := range t.Rows {
		r, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("rounds: row %d round: %w", i+1, err)
		}
		start, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rounds: row %d start: %w", i+1, err)
		}
		end, err := strconv.ParseInt(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rounds: row %d end: %w", i+1, err)
		}
		out = append(out, domain.Proposal{
			Round: domain.Round(r),
			ID:    row[3],
			Title: row[4],
			Start: time.Unix(start, 0).UTC(),
			End:   time.Unix(end, 0).UTC(),
		})
	}
	return out, nil
}
