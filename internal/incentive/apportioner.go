// Package incentive joins on-chain incentive deposits to round choices and
// splits each choice's score evenly across its deposits.
package incentive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultV2FirstRound is the first round served by the v2 contract.
const DefaultV2FirstRound domain.Round = 53

// Choices resolves a round's scored choices.
type Choices interface {
	Choices(ctx context.Context, r domain.Round) ([]domain.Choice, error)
}

// Rounds resolves round numbers to proposals.
type Rounds interface {
	Proposal(r domain.Round) (domain.Proposal, error)
	Closed(r domain.Round) bool
}

// Apportioner produces the incentives artifact of each round. One Apportioner
// serves one run: its token and block memos live as long as it does.
type Apportioner struct {
	events   EventSource
	choices  Choices
	rounds   Rounds
	registry domain.GaugeRegistry
	tokens   *TokenDirectory
	blocks   *BlockClock
	store    *artifact.Store
	v2First  domain.Round
	logger   *slog.Logger
}

// Deps groups the collaborators of an Apportioner.
type Deps struct {
	Events   EventSource
	Choices  Choices
	Rounds   Rounds
	Registry domain.GaugeRegistry
	Tokens   *TokenDirectory
	Blocks   *BlockClock
	Store    *artifact.Store
}

// New creates an Apportioner. A zero v2First selects DefaultV2FirstRound.
func New(d Deps, v2First domain.Round, logger *slog.Logger) *Apportioner {
	if v2First == 0 {
		v2First = DefaultV2FirstRound
	}
	return &Apportioner{
		events:   d.Events,
		choices:  d.Choices,
		rounds:   d.Rounds,
		registry: d.Registry,
		tokens:   d.Tokens,
		blocks:   d.Blocks,
		store:    d.Store,
		v2First:  v2First,
		logger:   logger.With(slog.String("component", "apportioner")),
	}
}

// Apportion returns the round's apportioned incentives. A closed round is
// served from a complete artifact when one exists, otherwise computed and
// persisted; any other round is computed and never persisted.
func (a *Apportioner) Apportion(ctx context.Context, r domain.Round) ([]domain.ApportionedIncentive, error) {
	key := artifact.RoundKey(artifact.StageIncentives, r)
	final := a.rounds.Closed(r)
	if final {
		t, state, err := a.store.Load(ctx, key, Header)
		if err != nil {
			return nil, fmt.Errorf("incentive: round %d: %w", r, err)
		}
		if state == artifact.Complete {
			rows, err := FromTable(t)
			if err == nil {
				return rows, nil
			}
			a.logger.WarnContext(ctx, "cached incentives unreadable, recomputing",
				slog.Int("round", int(r)),
				slog.String("error", err.Error()),
			)
		}
	}

	rows, err := a.Compute(ctx, r)
	if err != nil {
		return nil, err
	}
	if !final {
		return rows, nil
	}
	if err := a.store.Save(ctx, key, ToTable(rows)); err != nil {
		return nil, fmt.Errorf("incentive: round %d: %w", r, err)
	}
	return rows, nil
}

// joined is an event matched to its gauge, before the score split.
type joined struct {
	gauge       string
	choiceIndex int
	score       float64
	deposit     domain.Deposit
}

// Compute joins the round's events to its choices without touching the cache.
// Each gauge's score is split evenly across its deposits; the last deposit
// takes the remainder so the shares sum back to the score exactly.
func (a *Apportioner) Compute(ctx context.Context, r domain.Round) ([]domain.ApportionedIncentive, error) {
	choices, err := a.choices.Choices(ctx, r)
	if err != nil {
		if a.rounds.Closed(r) {
			return nil, fmt.Errorf("incentive: round %d: %w", r, err)
		}
		a.logger.WarnContext(ctx, "round has no vote snapshot yet, scores default to 0",
			slog.Int("round", int(r)),
			slog.String("error", err.Error()),
		)
		choices = nil
	}

	events, err := a.roundEvents(ctx, r)
	if err != nil {
		return nil, err
	}
	matched := make([]joined, 0, len(events))
	for _, ev := range events {
		if j, ok := a.join(ctx, r, choices, ev); ok {
			matched = append(matched, j)
		}
	}

	counts := make(map[string]int)
	for _, j := range matched {
		counts[j.gauge]++
	}

	seen := make(map[string]int, len(counts))
	given := make(map[string]float64, len(counts))
	out := make([]domain.ApportionedIncentive, 0, len(matched))
	for _, j := range matched {
		info, err := a.tokens.Get(ctx, j.deposit.Token)
		if err != nil {
			return nil, fmt.Errorf("incentive: round %d: token %s: %w", r, j.deposit.Token.Hex(), err)
		}
		ts, err := a.blocks.Time(ctx, j.deposit.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("incentive: round %d: block %d: %w", r, j.deposit.BlockNumber, err)
		}
		n := counts[j.gauge]
		seen[j.gauge]++
		share := j.score / float64(n)
		if seen[j.gauge] == n {
			share = j.score - given[j.gauge]
		}
		given[j.gauge] += share
		out = append(out, domain.ApportionedIncentive{
			Round:           r,
			Gauge:           j.gauge,
			ChoiceIndex:     j.choiceIndex,
			Deposit:         j.deposit,
			TokenSymbol:     info.Symbol,
			TokenName:       info.Name,
			Timestamp:       ts,
			Score:           j.score,
			DepositCount:    n,
			UnadjustedScore: share,
		})
	}

	a.logger.InfoContext(ctx, "round apportioned",
		slog.Int("round", int(r)),
		slog.Int("deposits", len(out)),
		slog.Int("gauges", len(counts)),
	)
	return out, nil
}

// roundEvents returns the events of round r from the contract version that
// served it. v1 events name their proposal by content hash, v2 events carry
// the round number.
func (a *Apportioner) roundEvents(ctx context.Context, r domain.Round) ([]domain.IncentiveEvent, error) {
	var out []domain.IncentiveEvent
	if r < a.v2First {
		p, err := a.rounds.Proposal(r)
		if err != nil {
			return nil, err
		}
		hash := p.ContentHash()
		events, err := a.events.V1(ctx)
		if err != nil {
			return nil, fmt.Errorf("incentive: round %d: %w", r, err)
		}
		for _, e := range events {
			if domain.SameHash(e.ProposalHash, hash) {
				out = append(out, e)
			}
		}
		return out, nil
	}

	events, err := a.events.V2(ctx)
	if err != nil {
		return nil, fmt.Errorf("incentive: round %d: %w", r, err)
	}
	for _, e := range events {
		if e.Round == r {
			out = append(out, e)
		}
	}
	return out, nil
}

// join matches one event to its choice. Events that cannot be placed are
// logged and dropped.
func (a *Apportioner) join(ctx context.Context, r domain.Round, choices []domain.Choice, ev domain.IncentiveEvent) (joined, bool) {
	switch e := ev.(type) {
	case domain.IncentiveEventV1:
		idx := e.ChoiceIndex - 1
		if idx < 0 || idx >= len(choices) {
			a.joinMiss(ctx, r, ev, "choice index out of range",
				slog.Int("choice_index", e.ChoiceIndex),
				slog.Int("choices", len(choices)),
			)
			return joined{}, false
		}
		c := choices[idx]
		return joined{gauge: c.Name, choiceIndex: c.Index, score: c.Score, deposit: ev.Common()}, true

	case domain.IncentiveEventV2:
		name, ok := a.registry.Name(e.Gauge)
		if !ok {
			a.joinMiss(ctx, r, ev, "gauge not in registry", slog.String("gauge", e.Gauge.Hex()))
			return joined{}, false
		}
		c, ok := domain.ChoiceByName(choices, name)
		if !ok {
			if choices != nil {
				a.logger.WarnContext(ctx, "gauge not among proposal choices, score 0",
					slog.Int("round", int(r)),
					slog.String("gauge", name),
				)
			}
			return joined{gauge: name, choiceIndex: -1, deposit: ev.Common()}, true
		}
		return joined{gauge: name, choiceIndex: c.Index, score: c.Score, deposit: ev.Common()}, true
	}

	a.joinMiss(ctx, r, ev, "unsupported event version")
	return joined{}, false
}

func (a *Apportioner) joinMiss(ctx context.Context, r domain.Round, ev domain.IncentiveEvent, reason string, attrs ...any) {
	d := ev.Common()
	args := append([]any{
		slog.Int("round", int(r)),
		slog.Int("version", ev.Version()),
		slog.String("tx_hash", d.TxHash),
		slog.Uint64("log_index", uint64(d.LogIndex)),
		slog.String("reason", reason),
	}, attrs...)
	a.logger.WarnContext(ctx, domain.ErrJoinMiss.Error(), args...)
}
