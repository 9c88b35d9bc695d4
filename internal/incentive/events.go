package incentive

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// EventSource supplies parsed incentive events of both contract versions.
type EventSource interface {
	V1(ctx context.Context) ([]domain.IncentiveEventV1, error)
	V2(ctx context.Context) ([]domain.IncentiveEventV2, error)
}

// FetchFunc returns raw event records.
type FetchFunc func(ctx context.Context) ([]domain.EventRecord, error)

// LazyEvents fetches and parses each version on first use only, so runs
// served entirely from cache never touch the ledger.
type LazyEvents struct {
	fetchV1 FetchFunc
	fetchV2 FetchFunc

	v1 []domain.IncentiveEventV1
	v2 []domain.IncentiveEventV2

	v1Loaded bool
	v2Loaded bool
}

// NewLazyEvents wraps two fetchers.
func NewLazyEvents(v1, v2 FetchFunc) *LazyEvents {
	return &LazyEvents{fetchV1: v1, fetchV2: v2}
}

// V1 returns the v1 events.
func (l *LazyEvents) V1(ctx context.Context) ([]domain.IncentiveEventV1, error) {
	if l.v1Loaded {
		return l.v1, nil
	}
	recs, err := l.fetchV1(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.IncentiveEventV1, 0, len(recs))
	for _, r := range recs {
		e, err := domain.ParseV1(r)
		if err != nil {
			return nil, fmt.Errorf("incentive: %w", err)
		}
		out = append(out, e)
	}
	l.v1, l.v1Loaded = out, true
	return out, nil
}

// V2 returns the v2 events.
func (l *LazyEvents) V2(ctx context.Context) ([]domain.IncentiveEventV2, error) {
	if l.v2Loaded {
		return l.v2, nil
	}
	recs, err := l.fetchV2(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.IncentiveEventV2, 0, len(recs))
	for _, r := range recs {
		e, err := domain.ParseV2(r)
		if err != nil {
			return nil, fmt.Errorf("incentive: %w", err)
		}
		out = append(out, e)
	}
	l.v2, l.v2Loaded = out, true
	return out, nil
}

// Loaded reports whether either version has been fetched.
func (l *LazyEvents) Loaded() bool {
	return l.v1Loaded || l.v2Loaded
}

// Counts returns the number of parsed events per version, zero for a version
// not yet fetched.
func (l *LazyEvents) Counts() (v1, v2 int) {
	return len(l.v1), len(l.v2)
}
