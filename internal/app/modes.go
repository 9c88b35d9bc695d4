package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/incentive"
	"github.com/alanyoungcy/bribemeter/internal/ledger"
	"github.com/alanyoungcy/bribemeter/internal/pipeline"
	"github.com/alanyoungcy/bribemeter/internal/platform/ethrpc"
	"github.com/alanyoungcy/bribemeter/internal/pricing"
	"github.com/alanyoungcy/bribemeter/internal/rounds"
	"github.com/alanyoungcy/bribemeter/internal/votes"
)

// Incentive contract events.
const (
	eventBribed       = "Bribed"
	eventNewIncentive = "NewIncentive"
)

func (a *App) contracts() (v1, v2 ethrpc.Contract, err error) {
	v1, err = ethrpc.NewContract("votium_v1", common.HexToAddress(a.cfg.Votium.V1Address), ethrpc.VotiumV1ABI)
	if err != nil {
		return v1, v2, err
	}
	v2, err = ethrpc.NewContract("votium_v2", common.HexToAddress(a.cfg.Votium.V2Address), ethrpc.VotiumV2ABI)
	return v1, v2, err
}

func (a *App) roundIndex(deps *Dependencies) *rounds.Index {
	return rounds.New(deps.Snapshot, deps.Artifacts, rounds.Config{
		Space:       a.cfg.Snapshot.Space,
		TitleFilter: a.cfg.Snapshot.TitleFilter,
		TestPrefix:  a.cfg.Snapshot.TestPrefix,
	}, a.logger)
}

// fetchV1 returns every v1 deposit. The v1 range is closed so its cache is
// final after the first fetch.
func (a *App) fetchV1(led *ledger.Ledger, v1 ethrpc.Contract) incentive.FetchFunc {
	return func(ctx context.Context) ([]domain.EventRecord, error) {
		return led.Fetch(ctx, v1, eventBribed, a.cfg.Votium.V1StartBlock, a.cfg.Votium.V1EndBlock())
	}
}

func (a *App) fetchV2(led *ledger.Ledger, v2 ethrpc.Contract, chain *ethrpc.Client) incentive.FetchFunc {
	return func(ctx context.Context) ([]domain.EventRecord, error) {
		head, err := chain.HeadBlock(ctx)
		if err != nil {
			return nil, err
		}
		return led.Fetch(ctx, v2, eventNewIncentive, a.cfg.Votium.V2StartBlock, head)
	}
}

func (a *App) resolver(deps *Dependencies) (*pricing.Resolver, error) {
	table := maps.Clone(pricing.DefaultManualPrices)
	maps.Copy(table, a.cfg.Prices.Manual)
	manual, err := pricing.NewManualPrices(table)
	if err != nil {
		return nil, err
	}
	a.logger.Info("manual prices loaded",
		slog.Int("entries", manual.Len()),
		slog.Int("configured", len(a.cfg.Prices.Manual)),
	)

	var oracle pricing.Oracle = deps.Oracle
	if deps.Limiter != nil {
		oracle = pricing.Throttle(oracle, deps.Limiter, "defillama")
	}
	opts := pricing.Options{
		Manual:   manual,
		Decimals: pricing.NewDecimals(a.cfg.Decimals.Six, a.cfg.Decimals.Two),
		Chain:    a.cfg.Oracle.Chain,
	}
	if deps.Quotes != nil {
		opts.Cache = deps.Quotes
	}
	return pricing.NewResolver(oracle, deps.Artifacts, opts, a.logger), nil
}

// loadRegistry reads the gauge registry v2 deposits are joined through.
func (a *App) loadRegistry(ctx context.Context) (*incentive.Registry, error) {
	path := a.cfg.Votium.GaugeRegistry
	registry, err := incentive.LoadRegistry(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("app: gauge registry %s not found, set [votium] gauge_registry (format: data/gauges.example.json): %w", path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if registry.Len() == 0 {
		a.logger.WarnContext(ctx, "gauge registry is empty, every v2 deposit will miss", slog.String("path", path))
	} else {
		a.logger.InfoContext(ctx, "gauge registry loaded", slog.String("path", path), slog.Int("gauges", registry.Len()))
	}
	return registry, nil
}

// PipelineMode runs the pipeline once, or on the configured cron schedule.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	v1, v2, err := a.contracts()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	registry, err := a.loadRegistry(ctx)
	if err != nil {
		return err
	}
	resolver, err := a.resolver(deps)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	index := a.roundIndex(deps)
	snap := votes.New(deps.Snapshot, index, deps.Artifacts, votes.Mode(strings.ToLower(a.cfg.Snapshot.Tally)), a.logger)
	led := ledger.New(deps.Chain, deps.Artifacts, a.logger)

	newSession := func() pipeline.Session {
		events := incentive.NewLazyEvents(a.fetchV1(led, v1), a.fetchV2(led, v2, deps.Chain))
		tokens := incentive.NewTokenDirectory(deps.Chain)
		blocks := incentive.NewBlockClock(deps.Chain)
		apportioner := incentive.New(incentive.Deps{
			Events:   events,
			Choices:  snap,
			Rounds:   index,
			Registry: registry,
			Tokens:   tokens,
			Blocks:   blocks,
			Store:    deps.Artifacts,
		}, domain.Round(a.cfg.Votium.V2FirstRound), a.logger)
		return pipeline.Session{
			Apportioner: apportioner,
			Stats: func() pipeline.SessionStats {
				n1, n2 := events.Counts()
				return pipeline.SessionStats{
					TokenLookups: tokens.Lookups(),
					BlockLookups: blocks.Lookups(),
					V1Events:     n1,
					V2Events:     n2,
				}
			},
		}
	}

	pd := pipeline.Deps{
		Rounds:     index,
		Prices:     resolver,
		Store:      deps.Artifacts,
		NewSession: newSession,
		Notifier:   deps.Notifier,
	}
	if deps.Incentives != nil {
		pd.Exporters = append(pd.Exporters, pipeline.NewDBExporter(deps.Incentives))
		pd.Audit = deps.Audit
	}
	if deps.Mirror != nil {
		pd.Exporters = append(pd.Exporters, pipeline.NewMirrorExporter(deps.Artifacts.Blobs(), deps.Mirror))
	}
	if deps.RunLock != nil {
		pd.Locker = deps.RunLock
	}

	p := pipeline.New(pd, pipeline.Config{
		ExportCached: a.cfg.Pipeline.ExportCached,
		PushURL:      a.cfg.Metrics.PushURL,
		PushJob:      a.cfg.Metrics.Job,
	}, a.logger)

	run := func(ctx context.Context) error {
		rep, err := p.Run(ctx)
		if err != nil {
			return err
		}
		if len(rep.Failed) > 0 {
			a.logger.WarnContext(ctx, "rounds left uncached", slog.Any("rounds", rep.Failed))
		}
		return nil
	}

	if a.cfg.Pipeline.Schedule == "" {
		return run(ctx)
	}
	return pipeline.Schedule(ctx, a.cfg.Pipeline.Schedule, run, a.logger)
}

// ProposalsMode prints every round with its proposal id, the content hash v1
// deposits reference, its voting window and the number of v1 deposits that
// carry that hash.
func (a *App) ProposalsMode(ctx context.Context, deps *Dependencies) error {
	index := a.roundIndex(deps)
	if err := index.Refresh(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	v1, _, err := a.contracts()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	led := ledger.New(deps.Chain, deps.Artifacts, a.logger)
	records, err := a.fetchV1(led, v1)(ctx)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	perHash := make(map[string]int)
	for _, r := range records {
		e, err := domain.ParseV1(r)
		if err != nil {
			return fmt.Errorf("app: %w", err)
		}
		perHash[strings.ToLower(domain.Strip0x(e.ProposalHash))]++
	}

	now := index.Now()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tID\tCONTENT HASH\tSTART\tEND\tSTATE\tV1 DEPOSITS\tTITLE")
	for _, p := range index.All() {
		hash := p.ContentHash()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			p.Round, p.ID, hash,
			p.Start.UTC().Format(time.DateTime), p.End.UTC().Format(time.DateTime),
			windowState(p, now), perHash[domain.Strip0x(hash)], p.Title,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "last completed round: %d\n", index.LastCompleted())
	return err
}

func windowState(p domain.Proposal, now time.Time) string {
	switch {
	case p.IsClosed(now):
		return "closed"
	case p.IsOpen(now):
		return "open"
	default:
		return "pending"
	}
}

// ManualPricesMode looks up each backfill entry on CoinGecko and prints a
// [prices.manual] block ready to paste into the config file. Entries that
// cannot be priced are logged and left out.
func (a *App) ManualPricesMode(ctx context.Context, deps *Dependencies) error {
	table := make(map[string]string, len(a.cfg.CoinGecko.Backfill))
	for _, b := range a.cfg.CoinGecko.Backfill {
		if deps.Limiter != nil {
			if err := deps.Limiter.Wait(ctx, "coingecko"); err != nil {
				return fmt.Errorf("app: %w", err)
			}
		}
		price, err := deps.CoinGecko.HistoryPrice(ctx, b.Symbol, b.Timestamp)
		if err != nil {
			a.logger.WarnContext(ctx, "no historical price",
				slog.String("symbol", b.Symbol),
				slog.Int64("timestamp", b.Timestamp),
				slog.String("error", err.Error()),
			)
			continue
		}
		table[pricing.ManualKey(b.Symbol, b.Timestamp)] = strconv.FormatFloat(price, 'f', -1, 64)
	}
	if len(table) == 0 {
		return fmt.Errorf("app: no backfill entry could be priced")
	}
	return writeManualPrices(a.out, table)
}

// writeManualPrices encodes table as a [prices.manual] TOML table. Keys come
// out sorted.
func writeManualPrices(w io.Writer, table map[string]string) error {
	if _, err := io.WriteString(w, "[prices.manual]\n"); err != nil {
		return err
	}
	if err := toml.NewEncoder(w).Encode(table); err != nil {
		return fmt.Errorf("app: encode manual prices: %w", err)
	}
	return nil
}
