package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/rounds"
)

// Exporter publishes finished rounds somewhere outside the artifact store.
type Exporter interface {
	Name() string
	Export(ctx context.Context, runID string, rounds map[domain.Round][]domain.PricedIncentive) error
}

// export runs every exporter concurrently once all round artifacts are final.
func (p *Pipeline) export(ctx context.Context, runID string, rounds map[domain.Round][]domain.PricedIncentive) error {
	if len(rounds) == 0 || len(p.deps.Exporters) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range p.deps.Exporters {
		g.Go(func() error {
			if err := e.Export(gctx, runID, rounds); err != nil {
				return fmt.Errorf("pipeline: export %s: %w", e.Name(), err)
			}
			p.logger.InfoContext(gctx, "export complete",
				slog.String("exporter", e.Name()),
				slog.Int("rounds", len(rounds)),
			)
			return nil
		})
	}
	return g.Wait()
}

// DBExporter replaces each exported round in a PricedIncentiveStore.
type DBExporter struct {
	store domain.PricedIncentiveStore
}

func NewDBExporter(store domain.PricedIncentiveStore) *DBExporter {
	return &DBExporter{store: store}
}

func (e *DBExporter) Name() string { return "postgres" }

func (e *DBExporter) Export(ctx context.Context, runID string, rounds map[domain.Round][]domain.PricedIncentive) error {
	for _, r := range slices.Sorted(maps.Keys(rounds)) {
		if err := e.store.ReplaceRound(ctx, r, runID, rounds[r]); err != nil {
			return err
		}
	}
	return nil
}

// MirrorExporter copies the artifacts of exported rounds, plus the round
// list, from the primary store to a second blob store.
type MirrorExporter struct {
	src domain.BlobReader
	dst domain.BlobWriter
}

func NewMirrorExporter(src domain.BlobReader, dst domain.BlobWriter) *MirrorExporter {
	return &MirrorExporter{src: src, dst: dst}
}

func (e *MirrorExporter) Name() string { return "mirror" }

func (e *MirrorExporter) Export(ctx context.Context, _ string, byRound map[domain.Round][]domain.PricedIncentive) error {
	keys := []string{rounds.ListKey}
	for _, r := range slices.Sorted(maps.Keys(byRound)) {
		for _, st := range artifact.Stages {
			keys = append(keys, artifact.RoundKey(st, r))
		}
	}
	for _, k := range keys {
		if err := e.copy(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (e *MirrorExporter) copy(ctx context.Context, key string) error {
	rc, err := e.src.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		// The open round has no proposal artifact.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	if err := e.dst.Put(ctx, key, rc, "text/csv"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
