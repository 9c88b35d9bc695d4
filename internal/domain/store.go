package domain

import "context"

// PricedIncentiveStore persists the final per-round table for analysts.
type PricedIncentiveStore interface {
	// ReplaceRound atomically swaps all rows of a round.
	ReplaceRound(ctx context.Context, round Round, runID string, rows []PricedIncentive) error
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
