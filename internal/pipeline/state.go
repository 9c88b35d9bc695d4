package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// StateKey is where the last run's state is kept alongside the artifacts.
const StateKey = "state/run.json"

// RunState is what a run leaves behind for the next one.
type RunState struct {
	RunID        string       `json:"run_id"`
	CurrentRound domain.Round `json:"current_round"`
	// PendingExport lists rounds whose export has not succeeded yet.
	PendingExport []domain.Round `json:"pending_export,omitempty"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// reconcile drops artifacts that may hold partial-vote data: the open round
// always, and the previous run's open round once it has closed, so its final
// results replace the provisional ones. It returns the previous run's state.
func (p *Pipeline) reconcile(ctx context.Context, current domain.Round) (RunState, error) {
	var prev RunState
	found, err := p.deps.Store.LoadJSON(ctx, StateKey, &prev)
	if err != nil {
		p.logger.WarnContext(ctx, "run state unreadable, ignoring",
			slog.String("error", err.Error()),
		)
		prev, found = RunState{}, false
	}

	if found && prev.CurrentRound > 0 && prev.CurrentRound != current {
		p.logger.InfoContext(ctx, "previous open round has closed, invalidating",
			slog.Int("round", int(prev.CurrentRound)),
		)
		if err := p.deps.Store.InvalidateRound(ctx, prev.CurrentRound); err != nil {
			return prev, fmt.Errorf("pipeline: invalidate round %d: %w", prev.CurrentRound, err)
		}
	}
	if current > 0 {
		if err := p.deps.Store.InvalidateRound(ctx, current); err != nil {
			return prev, fmt.Errorf("pipeline: invalidate open round %d: %w", current, err)
		}
	}
	if len(prev.PendingExport) > 0 {
		p.logger.InfoContext(ctx, "retrying unfinished exports",
			slog.Any("rounds", prev.PendingExport),
		)
	}
	return prev, nil
}

func (p *Pipeline) saveState(ctx context.Context, st RunState) error {
	if err := p.deps.Store.SaveJSON(ctx, StateKey, st); err != nil {
		return fmt.Errorf("pipeline: save run state: %w", err)
	}
	return nil
}
