// Package votes resolves each round's gauge choices and their vote scores.
package votes

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/platform/snapshot"
)

// Mode selects where choice scores come from.
type Mode string

const (
	// ModeAuto uses the hub's aggregated scores when they line up with the
	// choice list and tallies the ballots otherwise.
	ModeAuto   Mode = "auto"
	ModeOracle Mode = "oracle"
	ModeLocal  Mode = "local"
)

// Header is the column set of the proposal artifact.
var Header = []string{"choice_name", "choice_index", "score", "pct_score"}

// Source is the governance hub.
type Source interface {
	GetProposal(ctx context.Context, id string) (snapshot.Proposal, error)
	Votes(ctx context.Context, id string) ([]snapshot.Vote, error)
}

// Rounds resolves round numbers to proposals.
type Rounds interface {
	Proposal(r domain.Round) (domain.Proposal, error)
	Closed(r domain.Round) bool
}

// Snapshot produces and caches per-round choice lists.
type Snapshot struct {
	source Source
	rounds Rounds
	store  *artifact.Store
	mode   Mode
	logger *slog.Logger
}

// New creates a Snapshot.
func New(source Source, rounds Rounds, store *artifact.Store, mode Mode, logger *slog.Logger) *Snapshot {
	if mode == "" {
		mode = ModeAuto
	}
	return &Snapshot{
		source: source,
		rounds: rounds,
		store:  store,
		mode:   mode,
		logger: logger.With(slog.String("component", "vote_snapshot")),
	}
}

// Choices returns the ordered choices of round r with scores. Closed rounds
// are served from the cache once computed; any other round is always fetched
// and never persisted.
func (s *Snapshot) Choices(ctx context.Context, r domain.Round) ([]domain.Choice, error) {
	key := artifact.RoundKey(artifact.StageProposal, r)
	final := s.rounds.Closed(r)

	if final {
		t, state, err := s.store.Load(ctx, key, Header)
		if err != nil {
			return nil, fmt.Errorf("votes: round %d: %w", r, err)
		}
		if state == artifact.Complete {
			choices, err := FromTable(t)
			if err == nil {
				return choices, nil
			}
			s.logger.WarnContext(ctx, "cached choices unreadable, refetching",
				slog.Int("round", int(r)),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := s.rounds.Proposal(r)
	if err != nil {
		return nil, err
	}
	detail, err := s.source.GetProposal(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("votes: round %d: %w", r, err)
	}

	scores, err := s.scores(ctx, r, detail, final)
	if err != nil {
		return nil, err
	}
	choices := Build(detail.Choices, scores)

	if final {
		if err := s.store.Save(ctx, key, ToTable(choices)); err != nil {
			return nil, fmt.Errorf("votes: round %d: %w", r, err)
		}
	}
	s.logger.InfoContext(ctx, "choices resolved",
		slog.Int("round", int(r)),
		slog.Int("choices", len(choices)),
		slog.Bool("final", final),
	)
	return choices, nil
}

// scores picks the choice scores. In auto mode a closed round only takes
// the hub's aggregate once the hub has finalized it.
func (s *Snapshot) scores(ctx context.Context, r domain.Round, p snapshot.Proposal, final bool) ([]float64, error) {
	aligned := len(p.Scores) == len(p.Choices) && len(p.Choices) > 0
	switch s.mode {
	case ModeOracle:
		if !aligned {
			return nil, fmt.Errorf("votes: round %d: hub returned %d scores for %d choices", r, len(p.Scores), len(p.Choices))
		}
		return p.Scores, nil
	case ModeAuto:
		if aligned && (!final || p.ScoresState == snapshot.ScoresFinal) {
			return p.Scores, nil
		}
		s.logger.InfoContext(ctx, "aggregated scores unavailable, tallying ballots",
			slog.Int("round", int(r)),
			slog.String("scores_state", p.ScoresState),
		)
	}

	ballots, err := s.source.Votes(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("votes: round %d: %w", r, err)
	}
	return Tally(ballots, len(p.Choices)), nil
}

// Tally sums ballots into per-choice scores. Each ballot contributes
// vp * weight / sum(weights) to every choice it names; choice keys are
// 1-based. Ballots naming choices outside [1, n] lose that share.
func Tally(ballots []snapshot.Vote, n int) []float64 {
	scores := make([]float64, n)
	for _, b := range ballots {
		keys := slices.Sorted(maps.Keys(b.Choice))
		var total float64
		for _, k := range keys {
			total += b.Choice[k]
		}
		if total <= 0 {
			continue
		}
		for _, idx := range keys {
			if idx < 1 || idx > n {
				continue
			}
			scores[idx-1] += b.VP * b.Choice[idx] / total
		}
	}
	return scores
}

// Build pairs names with scores and derives pct_score. A zero total gives
// every choice a pct_score of 0.
func Build(names []string, scores []float64) []domain.Choice {
	var total float64
	for _, s := range scores {
		total += s
	}
	out := make([]domain.Choice, len(names))
	for i, name := range names {
		var score float64
		if i < len(scores) {
			score = scores[i]
		}
		var pct float64
		if total != 0 {
			pct = score / total
		}
		out[i] = domain.Choice{Name: name, Index: i, Score: score, PctScore: pct}
	}
	return out
}

// ToTable renders choices as the proposal artifact.
func ToTable(choices []domain.Choice) artifact.Table {
	rows := make([][]string, len(choices))
	for i, c := range choices {
		rows[i] = []string{
			c.Name,
			strconv.Itoa(c.Index),
			strconv.FormatFloat(c.Score, 'f', -1, 64),
			strconv.FormatFloat(c.PctScore, 'f', -1, 64),
		}
	}
	return artifact.Table{Header: Header, Rows: rows}
}

// FromTable parses the proposal artifact.
func FromTable(t artifact.Table) ([]domain.Choice, error) {
	out := make([]domain.Choice, len(t.Rows))
	for i, row := range t.Rows {
		idx, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("row %d choice_index: %w", i+1, err)
		}
		score, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d score: %w", i+1, err)
		}
		pct, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d pct_score: %w", i+1, err)
		}
		out[i] = domain.Choice{Name: row[0], Index: idx, Score: score, PctScore: pct}
	}
	return out, nil
}
