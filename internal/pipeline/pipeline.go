// Package pipeline runs the round stages in dependency order: round list,
// then per round the price cache, apportioning and pricing, then export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/metrics"
	"github.com/alanyoungcy/bribemeter/internal/notify"
	"github.com/alanyoungcy/bribemeter/internal/pricing"
)

// RoundIndex is the numbered round list and the clock its windows are
// judged by.
type RoundIndex interface {
	Refresh(ctx context.Context) error
	List() []domain.Proposal
	Current() (domain.Round, bool)
	Now() time.Time
}

// Apportioner produces a round's apportioned incentives.
type Apportioner interface {
	Apportion(ctx context.Context, r domain.Round) ([]domain.ApportionedIncentive, error)
}

// Pricer prices rounds and serves complete price artifacts.
type Pricer interface {
	Cached(ctx context.Context, round domain.Round) ([]domain.PricedIncentive, bool, error)
	ResolveRound(ctx context.Context, round domain.Round, rows []domain.ApportionedIncentive) (pricing.RoundResult, error)
}

// Locker serializes runs across processes. The holder is identified by its
// run id.
type Locker interface {
	Acquire(ctx context.Context, runID string) (func(), error)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Session is the state owned by one run. Its memos and lazily fetched
// events are discarded when the run ends.
type Session struct {
	Apportioner Apportioner
	// Stats reports external lookups and ledger sizes after the run.
	Stats func() SessionStats
}

// SessionStats is what a Session did against external sources.
type SessionStats struct {
	TokenLookups int
	BlockLookups int
	V1Events     int
	V2Events     int
}

// Config tunes a Pipeline.
type Config struct {
	ExportCached bool
	PushURL      string
	PushJob      string
}

// Deps groups the collaborators of a Pipeline. Locker, Audit and Notifier
// are optional.
type Deps struct {
	Rounds     RoundIndex
	Prices     Pricer
	Store      *artifact.Store
	NewSession func() Session
	Exporters  []Exporter
	Locker     Locker
	Audit      domain.AuditStore
	Notifier   Notifier
}

// Pipeline runs the stages once per call to Run.
type Pipeline struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.PushJob == "" {
		cfg.PushJob = "bribemeter"
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "pipeline")),
	}
}

// Report summarizes one run.
type Report struct {
	RunID    string
	Current  domain.Round
	Pending  []domain.Round
	Cached   []domain.Round
	Computed []domain.Round
	Failed   []domain.Round
	Missing  int
	Exported int
	// Unexported lists rounds whose export failed and is retried next run.
	Unexported []domain.Round
}

// Run executes one full pass. Rounds whose vote has not started are skipped
// and the open round is always rebuilt; only closed rounds are served from
// the cache. Per-round failures are reported and leave the round uncached;
// an inconsistent event cache aborts the run.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	started := p.now()
	rep := Report{RunID: uuid.NewString()}
	m := metrics.New()
	log := p.logger.With(slog.String("run_id", rep.RunID))

	if p.deps.Locker != nil {
		release, err := p.deps.Locker.Acquire(ctx, rep.RunID)
		if err != nil {
			return rep, fmt.Errorf("pipeline: %w", err)
		}
		defer release()
	}

	log.InfoContext(ctx, "run starting")
	if err := p.deps.Rounds.Refresh(ctx); err != nil {
		return rep, p.abort(ctx, rep, fmt.Errorf("pipeline: %w", err))
	}

	current, open := p.deps.Rounds.Current()
	if open {
		rep.Current = current
	}
	m.CurrentRound(int(rep.Current))
	prev, err := p.reconcile(ctx, rep.Current)
	if err != nil {
		return rep, p.abort(ctx, rep, err)
	}
	retry := make(map[domain.Round]bool, len(prev.PendingExport))
	for _, r := range prev.PendingExport {
		retry[r] = true
	}

	session := p.deps.NewSession()
	exports := make(map[domain.Round][]domain.PricedIncentive)
	now := p.deps.Rounds.Now()

	for _, prop := range p.deps.Rounds.List() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r := prop.Round

		if now.Before(prop.Start) {
			if err := p.deps.Store.InvalidateRound(ctx, r); err != nil {
				return rep, p.abort(ctx, rep, fmt.Errorf("pipeline: invalidate pending round %d: %w", r, err))
			}
			rep.Pending = append(rep.Pending, r)
			m.Round(metrics.RoundPending)
			continue
		}

		var rows []domain.PricedIncentive
		var err error
		if prop.IsClosed(now) {
			var cached bool
			rows, cached, err = p.deps.Prices.Cached(ctx, r)
			if err == nil && cached {
				rep.Cached = append(rep.Cached, r)
				m.Round(metrics.RoundCached)
				if p.cfg.ExportCached || retry[r] {
					exports[r] = rows
				}
				continue
			}
		}
		if err == nil {
			rows, err = p.computeRound(ctx, session, r, &rep, m)
		}
		if errors.Is(err, domain.ErrCacheInconsistent) {
			return rep, p.abort(ctx, rep, fmt.Errorf("pipeline: round %d: %w", r, err))
		}
		if err != nil {
			p.roundFailed(ctx, log, r, err)
			rep.Failed = append(rep.Failed, r)
			m.Round(metrics.RoundFailed)
			continue
		}
		rep.Computed = append(rep.Computed, r)
		m.Round(metrics.RoundComputed)
		exports[r] = rows
	}

	if session.Stats != nil {
		st := session.Stats()
		m.Lookups("token", st.TokenLookups)
		m.Lookups("block", st.BlockLookups)
		m.LedgerEvents("v1", st.V1Events)
		m.LedgerEvents("v2", st.V2Events)
	}

	// Rounds still owed an export from earlier runs stay owed until one
	// succeeds.
	var unexported []domain.Round
	for r := range retry {
		if _, ok := exports[r]; !ok {
			unexported = append(unexported, r)
		}
	}
	if err := p.export(ctx, rep.RunID, exports); err != nil {
		unexported = append(unexported, slices.Collect(maps.Keys(exports))...)
		p.exportFailed(ctx, log, err, len(exports))
	} else {
		rep.Exported = len(exports)
	}
	slices.Sort(unexported)
	rep.Unexported = unexported

	if err := p.saveState(ctx, RunState{
		RunID:         rep.RunID,
		CurrentRound:  rep.Current,
		PendingExport: unexported,
		FinishedAt:    p.now().UTC(),
	}); err != nil {
		return rep, err
	}

	m.Finish(started, p.now(), len(rep.Failed) == 0)
	if err := m.Push(ctx, p.cfg.PushURL, p.cfg.PushJob); err != nil {
		log.WarnContext(ctx, "metrics push failed", slog.String("error", err.Error()))
	}

	p.completed(ctx, log, rep, p.now().Sub(started))
	return rep, nil
}

func (p *Pipeline) computeRound(ctx context.Context, s Session, r domain.Round, rep *Report, m *metrics.Run) ([]domain.PricedIncentive, error) {
	apportioned, err := s.Apportioner.Apportion(ctx, r)
	if err != nil {
		return nil, err
	}
	res, err := p.deps.Prices.ResolveRound(ctx, r, apportioned)
	if err != nil {
		return nil, err
	}
	m.Prices(len(res.Rows)-res.Missing-res.Errors, res.Missing, res.Errors)
	rep.Missing += res.Missing
	if res.Missing > 0 {
		p.notify(ctx, notify.EventPriceMissing,
			fmt.Sprintf("Round %d: %d unpriced incentive(s)", r, res.Missing),
			"Add entries to [prices.manual] and invalidate the round.")
	}
	if !res.Persisted {
		return nil, fmt.Errorf("pipeline: round %d: %d oracle error(s), retry next run", r, res.Errors)
	}
	return res.Rows, nil
}

func (p *Pipeline) roundFailed(ctx context.Context, log *slog.Logger, r domain.Round, err error) {
	log.ErrorContext(ctx, "round failed",
		slog.Int("round", int(r)),
		slog.String("error", err.Error()),
	)
	p.audit(ctx, notify.EventRoundFailed, map[string]any{"round": int(r), "error": err.Error()})
	p.notify(ctx, notify.EventRoundFailed, fmt.Sprintf("Round %d failed", r), err.Error())
}

func (p *Pipeline) exportFailed(ctx context.Context, log *slog.Logger, err error, rounds int) {
	log.ErrorContext(ctx, "export failed, rounds kept for retry",
		slog.Int("rounds", rounds),
		slog.String("error", err.Error()),
	)
	p.audit(ctx, notify.EventExportFailed, map[string]any{"rounds": rounds, "error": err.Error()})
	p.notify(ctx, notify.EventExportFailed, "Export failed", err.Error())
}

func (p *Pipeline) abort(ctx context.Context, rep Report, err error) error {
	p.logger.ErrorContext(ctx, "run aborted",
		slog.String("run_id", rep.RunID),
		slog.String("error", err.Error()),
	)
	p.audit(ctx, notify.EventRunAborted, map[string]any{"run_id": rep.RunID, "error": err.Error()})
	p.notify(ctx, notify.EventRunAborted, "Run aborted", err.Error())
	return err
}

func (p *Pipeline) completed(ctx context.Context, log *slog.Logger, rep Report, took time.Duration) {
	log.InfoContext(ctx, "run complete",
		slog.Int("current_round", int(rep.Current)),
		slog.Int("pending", len(rep.Pending)),
		slog.Int("cached", len(rep.Cached)),
		slog.Int("computed", len(rep.Computed)),
		slog.Int("failed", len(rep.Failed)),
		slog.Int("missing_prices", rep.Missing),
		slog.Int("exported", rep.Exported),
		slog.Int("unexported", len(rep.Unexported)),
		slog.Duration("took", took),
	)
	p.audit(ctx, notify.EventRunCompleted, map[string]any{
		"run_id":         rep.RunID,
		"current_round":  int(rep.Current),
		"cached":         len(rep.Cached),
		"computed":       len(rep.Computed),
		"failed":         len(rep.Failed),
		"missing_prices": rep.Missing,
		"exported":       rep.Exported,
		"unexported":     len(rep.Unexported),
	})
	p.notify(ctx, notify.EventRunCompleted, "Run complete", fmt.Sprintf(
		"computed %d, cached %d, failed %d, missing prices %d",
		len(rep.Computed), len(rep.Cached), len(rep.Failed), rep.Missing,
	))
}

func (p *Pipeline) audit(ctx context.Context, event string, detail map[string]any) {
	if p.deps.Audit == nil {
		return
	}
	if err := p.deps.Audit.Log(ctx, event, detail); err != nil {
		p.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) notify(ctx context.Context, event, title, message string) {
	if p.deps.Notifier == nil {
		return
	}
	// Delivery problems are logged by the notifier.
	_ = p.deps.Notifier.Notify(ctx, event, title, message)
}
