// Package artifact is the round cache: one tabular artifact per round per
// stage, persisted atomically through a domain.BlobStore.
package artifact

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// Stage names one pipeline stage that persists per-round output.
type Stage string

const (
	StageProposal   Stage = "proposal"
	StageIncentives Stage = "incentives"
	StagePrice      Stage = "price"
)

// Stages lists every per-round stage in pipeline order.
var Stages = []Stage{StageProposal, StageIncentives, StagePrice}

var stageDirs = map[Stage]string{
	StageProposal:   "snapshot",
	StageIncentives: "incentives",
	StagePrice:      "price",
}

// RoundKey returns the artifact path for a round and stage, e.g.
// "price/round_0053_price.csv".
func RoundKey(stage Stage, round domain.Round) string {
	return fmt.Sprintf("%s/round_%04d_%s.csv", stageDirs[stage], round, stage)
}

// State is the cache state of one artifact.
type State int

const (
	// Absent means nothing was ever written.
	Absent State = iota
	// Partial means an interrupted write or an unreadable object.
	Partial
	// Complete means the artifact parsed with the expected header.
	Complete
)

func (s State) String() string {
	switch s {
	case Partial:
		return "partial"
	case Complete:
		return "complete"
	default:
		return "absent"
	}
}

// Table is a header plus rows of text cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Store reads and writes artifacts.
type Store struct {
	blobs  domain.BlobStore
	logger *slog.Logger
}

// New creates a Store over blobs.
func New(blobs domain.BlobStore, logger *slog.Logger) *Store {
	return &Store{
		blobs:  blobs,
		logger: logger.With(slog.String("component", "artifact_store")),
	}
}

// Blobs returns the underlying object store.
func (s *Store) Blobs() domain.BlobStore {
	return s.blobs
}

// State inspects key without cleaning anything up. A nil header skips the
// header comparison.
func (s *Store) State(ctx context.Context, key string, header []string) (State, error) {
	_, state, err := s.read(ctx, key, header)
	return state, err
}

// Load returns the table at key when it is Complete. Partial artifacts are
// deleted and reported as Partial so the caller recomputes them.
func (s *Store) Load(ctx context.Context, key string, header []string) (Table, State, error) {
	t, state, err := s.read(ctx, key, header)
	if err != nil {
		return Table{}, state, err
	}
	if state == Partial {
		s.logger.WarnContext(ctx, "discarding partial artifact", slog.String("key", key))
		if err := s.Invalidate(ctx, key); err != nil {
			return Table{}, Partial, err
		}
	}
	return t, state, nil
}

func (s *Store) read(ctx context.Context, key string, header []string) (Table, State, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return Table{}, Absent, fmt.Errorf("artifact: load %s: %w", key, err)
		}
		staged, err := s.blobs.Exists(ctx, key+domain.PartialSuffix)
		if err != nil {
			return Table{}, Absent, fmt.Errorf("artifact: load %s: %w", key, err)
		}
		if staged {
			return Table{}, Partial, nil
		}
		return Table{}, Absent, nil
	}
	defer rc.Close()

	t, err := decode(rc)
	if err != nil {
		s.logger.WarnContext(ctx, "artifact does not parse",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return Table{}, Partial, nil
	}
	if header != nil && !slices.Equal(t.Header, header) {
		s.logger.WarnContext(ctx, "artifact header mismatch",
			slog.String("key", key),
			slog.Any("want", header),
			slog.Any("got", t.Header),
		)
		return Table{}, Partial, nil
	}
	return t, Complete, nil
}

// Save encodes t in full and persists it with a single Put.
func (s *Store) Save(ctx context.Context, key string, t Table) error {
	buf, err := encode(t)
	if err != nil {
		return fmt.Errorf("artifact: encode %s: %w", key, err)
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(buf), "text/csv"); err != nil {
		return fmt.Errorf("artifact: save %s: %w", key, err)
	}
	return nil
}

// Invalidate deletes key and any staged write for it.
func (s *Store) Invalidate(ctx context.Context, key string) error {
	if err := s.blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("artifact: invalidate %s: %w", key, err)
	}
	if err := s.blobs.Delete(ctx, key+domain.PartialSuffix); err != nil {
		return fmt.Errorf("artifact: invalidate %s: %w", key, err)
	}
	return nil
}

// InvalidateRound deletes a round's artifacts at every stage.
func (s *Store) InvalidateRound(ctx context.Context, round domain.Round) error {
	for _, stage := range Stages {
		if err := s.Invalidate(ctx, RoundKey(stage, round)); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "invalidated round artifacts", slog.Int("round", int(round)))
	return nil
}

// SaveJSON persists v as indented JSON.
func (s *Store) SaveJSON(ctx context.Context, key string, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal %s: %w", key, err)
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return fmt.Errorf("artifact: save %s: %w", key, err)
	}
	return nil
}

// LoadJSON decodes key into v. Returns false when the object is absent.
func (s *Store) LoadJSON(ctx context.Context, key string, v any) (bool, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("artifact: load %s: %w", key, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return false, fmt.Errorf("artifact: decode %s: %w", key, err)
	}
	return true, nil
}

func encode(t Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return nil, fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range t.Rows {
		if len(row) != len(t.Header) {
			return nil, fmt.Errorf("row has %d cells, header has %d", len(row), len(t.Header))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("writing CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing CSV writer: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, errors.New("empty artifact")
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}
