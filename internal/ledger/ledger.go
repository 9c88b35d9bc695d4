// Package ledger keeps an append-only local copy of contract event logs so
// each block range is fetched from the node once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/platform/ethrpc"
)

// Source retrieves decoded events for a block range.
type Source interface {
	Events(ctx context.Context, contract ethrpc.Contract, event string, from, to uint64) ([]domain.EventRecord, error)
}

// Manifest records which block range a cached event set covers.
type Manifest struct {
	OriginBlock    uint64    `json:"origin_block"`
	ScannedThrough uint64    `json:"scanned_through"`
	Records        int       `json:"records"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Ledger is the cached event store.
type Ledger struct {
	source Source
	store  *artifact.Store
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Ledger.
func New(source Source, store *artifact.Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		source: source,
		store:  store,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// RecordsKey is where the event set of contract/event is cached.
func RecordsKey(contract ethrpc.Contract, event string) string {
	return fmt.Sprintf("events/%s-%s.csv", contract.Address.Hex(), event)
}

// ManifestKey is where the range manifest of contract/event is cached.
func ManifestKey(contract ethrpc.Contract, event string) string {
	return fmt.Sprintf("events/%s-%s.meta.json", contract.Address.Hex(), event)
}

// Fetch returns every event of the given kind in [start, end], cached records
// first. Only blocks past the cached watermark are queried. start must equal
// the block the cache was first built from and end may not move backwards;
// otherwise the cache cannot answer the request and ErrCacheInconsistent is
// returned.
func (l *Ledger) Fetch(ctx context.Context, contract ethrpc.Contract, event string, start, end uint64) ([]domain.EventRecord, error) {
	if start > end {
		return nil, fmt.Errorf("ledger: fetch %s: start %d after end %d", event, start, end)
	}
	recordsKey := RecordsKey(contract, event)
	manifestKey := ManifestKey(contract, event)

	var m Manifest
	found, err := l.store.LoadJSON(ctx, manifestKey, &m)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	var cached []domain.EventRecord
	from := start
	if found {
		if start != m.OriginBlock {
			return nil, fmt.Errorf("ledger: %s: start block %d differs from cached origin %d: %w",
				event, start, m.OriginBlock, domain.ErrCacheInconsistent)
		}
		if end < m.ScannedThrough {
			return nil, fmt.Errorf("ledger: %s: end block %d below cached %d: %w",
				event, end, m.ScannedThrough, domain.ErrCacheInconsistent)
		}
		t, state, err := l.store.Load(ctx, recordsKey, nil)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		if state != artifact.Complete {
			return nil, fmt.Errorf("ledger: %s: manifest present but records %s: %w",
				event, state, domain.ErrCacheInconsistent)
		}
		cached, err = FromTable(t)
		if err != nil {
			return nil, fmt.Errorf("ledger: %s: %w: %w", recordsKey, domain.ErrCacheInconsistent, err)
		}
		from = m.ScannedThrough + 1
		for _, r := range cached {
			from = max(from, r.BlockNumber+1)
		}
	} else {
		// Records without a manifest are left over from an interrupted first
		// write. They are rebuilt from start.
		if state, err := l.store.State(ctx, recordsKey, nil); err == nil && state != artifact.Absent {
			l.logger.WarnContext(ctx, "discarding event cache without manifest", slog.String("key", recordsKey))
		}
	}

	if from > end {
		l.logger.DebugContext(ctx, "event cache up to date",
			slog.String("event", event),
			slog.Int("records", len(cached)),
		)
		return cached, nil
	}

	fresh, err := l.source.Events(ctx, contract, event, from, end)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l.logger.InfoContext(ctx, "fetched events",
		slog.String("contract", contract.Name),
		slog.String("event", event),
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", end),
		slog.Int("cached", len(cached)),
		slog.Int("new", len(fresh)),
	)
	if len(fresh) == 0 {
		return cached, nil
	}

	all := append(cached, fresh...)
	t, err := ToTable(all)
	if err != nil {
		return nil, fmt.Errorf("ledger: %s: %w", recordsKey, err)
	}
	if err := l.store.Save(ctx, recordsKey, t); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	m = Manifest{
		OriginBlock:    start,
		ScannedThrough: end,
		Records:        len(all),
		UpdatedAt:      l.now().UTC(),
	}
	if err := l.store.SaveJSON(ctx, manifestKey, m); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return all, nil
}

// ToTable renders records as a table: argument columns in declared order,
// then the trailer columns.
func ToTable(records []domain.EventRecord) (artifact.Table, error) {
	if len(records) == 0 {
		return artifact.Table{}, errors.New("no records")
	}
	names := records[0].ArgNames()
	header := append(append([]string{}, names...), domain.EventTrailerColumns...)
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		if len(r.Args) != len(names) {
			return artifact.Table{}, fmt.Errorf("record %s has %d args, want %d", r.TxHash, len(r.Args), len(names))
		}
		row := make([]string, 0, len(header))
		for i, a := range r.Args {
			if a.Name != names[i] {
				return artifact.Table{}, fmt.Errorf("record %s arg %d is %s, want %s", r.TxHash, i, a.Name, names[i])
			}
			row = append(row, a.Value)
		}
		row = append(row,
			r.EventName,
			strconv.FormatUint(uint64(r.LogIndex), 10),
			strconv.FormatUint(uint64(r.TxIndex), 10),
			r.TxHash,
			r.Address,
			r.BlockHash,
			strconv.FormatUint(r.BlockNumber, 10),
		)
		rows = append(rows, row)
	}
	return artifact.Table{Header: header, Rows: rows}, nil
}

// FromTable is the inverse of ToTable.
func FromTable(t artifact.Table) ([]domain.EventRecord, error) {
	nTrailer := len(domain.EventTrailerColumns)
	nArgs := len(t.Header) - nTrailer
	if nArgs < 0 {
		return nil, fmt.Errorf("header has %d columns, need at least %d", len(t.Header), nTrailer)
	}
	for i, col := range domain.EventTrailerColumns {
		if t.Header[nArgs+i] != col {
			return nil, fmt.Errorf("column %d is %q, want %q", nArgs+i, t.Header[nArgs+i], col)
		}
	}

	out := make([]domain.EventRecord, 0, len(t.Rows))
	for n, row := range t.Rows {
		args := make([]domain.EventArg, nArgs)
		for i := range nArgs {
			args[i] = domain.EventArg{Name: t.Header[i], Value: row[i]}
		}
		tr := row[nArgs:]
		logIndex, err := strconv.ParseUint(tr[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d log_index: %w", n+1, err)
		}
		txIndex, err := strconv.ParseUint(tr[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d tx_index: %w", n+1, err)
		}
		block, err := strconv.ParseUint(tr[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d block_number: %w", n+1, err)
		}
		out = append(out, domain.EventRecord{
			Args:        args,
			EventName:   tr[0],
			LogIndex:    uint(logIndex),
			TxIndex:     uint(txIndex),
			TxHash:      tr[3],
			Address:     tr[4],
			BlockHash:   tr[5],
			BlockNumber: block,
		})
	}
	return out, nil
}
