// Package pricing values apportioned incentives in USD.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultChain is the chain prefix used for oracle queries.
const DefaultChain = "ethereum"

// perVotePlaces keeps per-vote values of dust deposits over large scores
// from rounding to zero.
const perVotePlaces = 30

// Oracle returns historical USD prices. A successful answer without data must
// wrap domain.ErrNotFound; any other error counts as an oracle failure.
type Oracle interface {
	HistoricalPrice(ctx context.Context, chain string, token common.Address, ts int64) (float64, error)
}

// Resolver prices incentives through the manual table, the quote cache and
// the oracle, in that order.
type Resolver struct {
	manual   ManualPrices
	cache    domain.QuoteCache
	oracle   Oracle
	decimals Decimals
	chain    string
	store    *artifact.Store
	logger   *slog.Logger
}

// Options configures a Resolver.
type Options struct {
	Manual   ManualPrices
	Cache    domain.QuoteCache // optional
	Decimals Decimals
	Chain    string
}

// NewResolver creates a Resolver.
func NewResolver(oracle Oracle, store *artifact.Store, opts Options, logger *slog.Logger) *Resolver {
	chain := opts.Chain
	if chain == "" {
		chain = DefaultChain
	}
	return &Resolver{
		manual:   opts.Manual,
		cache:    opts.Cache,
		oracle:   oracle,
		decimals: opts.Decimals,
		chain:    chain,
		store:    store,
		logger:   logger.With(slog.String("component", "price_resolver")),
	}
}

// Resolve values one incentive. Price failures are carried in the result as
// MISSING or ERROR and never returned as errors.
func (r *Resolver) Resolve(ctx context.Context, inc domain.ApportionedIncentive) domain.PricedIncentive {
	amount := r.decimals.Normalize(inc.TokenSymbol, inc.Deposit.Amount)
	amountF, _ := amount.Float64()
	out := domain.PricedIncentive{ApportionedIncentive: inc, Amount: amountF}

	price, source, failure := r.unitPrice(ctx, inc)
	out.PriceSource = source
	if failure != nil {
		out.UnitPrice = *failure
		out.USDValue = *failure
		out.PerVote = *failure
		return out
	}

	usd := amount.Mul(price)
	priceF, _ := price.Float64()
	usdF, _ := usd.Float64()
	out.UnitPrice = domain.Priced(priceF)
	out.USDValue = domain.Priced(usdF)
	if inc.UnadjustedScore != 0 {
		perVote, _ := usd.DivRound(decimal.NewFromFloat(inc.UnadjustedScore), perVotePlaces).Float64()
		out.PerVote = domain.Priced(perVote)
	} else {
		out.PerVote = domain.Priced(0)
	}
	return out
}

func (r *Resolver) unitPrice(ctx context.Context, inc domain.ApportionedIncentive) (decimal.Decimal, string, *domain.PriceOutcome) {
	if p, ok := r.manual.Lookup(inc.TokenSymbol, inc.Timestamp); ok {
		return p, domain.SourceManual, nil
	}

	key := domain.QuoteKey{Chain: r.chain, Token: inc.Deposit.Token, Timestamp: inc.Timestamp}
	if r.cache != nil {
		p, err := r.cache.GetQuote(ctx, key)
		switch {
		case err == nil:
			return decimal.NewFromFloat(p), domain.SourceCache, nil
		case !errors.Is(err, domain.ErrNotFound):
			r.logger.WarnContext(ctx, "quote cache read failed",
				slog.String("token", inc.Deposit.Token.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := r.oracle.HistoricalPrice(ctx, r.chain, inc.Deposit.Token, inc.Timestamp)
	if err != nil {
		attrs := []any{
			slog.Int("round", int(inc.Round)),
			slog.String("gauge", inc.Gauge),
			slog.String("token_symbol", inc.TokenSymbol),
			slog.Int64("timestamp", inc.Timestamp),
			slog.String("error", err.Error()),
		}
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.WarnContext(ctx, "price missing", attrs...)
			o := domain.Missing(err.Error())
			return decimal.Zero, domain.SourceNone, &o
		}
		r.logger.ErrorContext(ctx, "price oracle failed", attrs...)
		o := domain.Errored(err.Error())
		return decimal.Zero, domain.SourceNone, &o
	}

	if r.cache != nil {
		if err := r.cache.SetQuote(ctx, key, p); err != nil {
			r.logger.WarnContext(ctx, "quote cache write failed",
				slog.String("token", inc.Deposit.Token.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return decimal.NewFromFloat(p), domain.SourceOracle, nil
}

// Cached returns the round's price artifact when it is complete.
func (r *Resolver) Cached(ctx context.Context, round domain.Round) ([]domain.PricedIncentive, bool, error) {
	t, state, err := r.store.Load(ctx, artifact.RoundKey(artifact.StagePrice, round), Header)
	if err != nil {
		return nil, false, fmt.Errorf("pricing: round %d: %w", round, err)
	}
	if state != artifact.Complete {
		return nil, false, nil
	}
	rows, err := FromTable(t)
	if err != nil {
		r.logger.WarnContext(ctx, "cached prices unreadable, recomputing",
			slog.Int("round", int(round)),
			slog.String("error", err.Error()),
		)
		return nil, false, nil
	}
	return rows, true, nil
}

// RoundResult is the outcome of pricing one round.
type RoundResult struct {
	Rows      []domain.PricedIncentive
	Missing   int
	Errors    int
	Persisted bool
}

// ResolveRound prices every row and persists the artifact. A round with any
// ERROR row is not persisted so the next run retries it; MISSING rows are
// final and persisted.
func (r *Resolver) ResolveRound(ctx context.Context, round domain.Round, rows []domain.ApportionedIncentive) (RoundResult, error) {
	res := RoundResult{Rows: make([]domain.PricedIncentive, 0, len(rows))}
	for _, inc := range rows {
		if err := ctx.Err(); err != nil {
			return RoundResult{}, err
		}
		p := r.Resolve(ctx, inc)
		switch p.UnitPrice.Status {
		case domain.PriceMissing:
			res.Missing++
		case domain.PriceError:
			res.Errors++
		}
		res.Rows = append(res.Rows, p)
	}

	if res.Errors > 0 {
		r.logger.WarnContext(ctx, "round has oracle errors, not caching",
			slog.Int("round", int(round)),
			slog.Int("errors", res.Errors),
		)
		return res, nil
	}
	if err := r.store.Save(ctx, artifact.RoundKey(artifact.StagePrice, round), ToTable(res.Rows)); err != nil {
		return res, fmt.Errorf("pricing: round %d: %w", round, err)
	}
	res.Persisted = true
	return res, nil
}
