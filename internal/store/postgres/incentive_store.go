package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// IncentiveStore exports priced rounds. Each round is replaced wholesale so
// re-running a round never duplicates rows.
type IncentiveStore struct {
	pool *pgxpool.Pool
}

var _ domain.PricedIncentiveStore = (*IncentiveStore)(nil)

func NewIncentiveStore(pool *pgxpool.Pool) *IncentiveStore {
	return &IncentiveStore{pool: pool}
}

const insertPricedIncentive = `
	INSERT INTO priced_incentives (
		round, run_id, gauge, amount, token_symbol, token_address, token_name,
		price_status, token_price, usd_value, per_vote, price_source, score,
		transaction_hash, block_hash, block_number
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

// ReplaceRound deletes the round's rows and inserts rows in one transaction.
func (s *IncentiveStore) ReplaceRound(ctx context.Context, round domain.Round, runID string, rows []domain.PricedIncentive) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replace round %d: %w", round, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM priced_incentives WHERE round = $1`, int(round)); err != nil {
		return fmt.Errorf("postgres: clear round %d: %w", round, err)
	}

	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(insertPricedIncentive, insertArgs(round, runID, r)...)
		}
		br := tx.SendBatch(ctx, batch)
		for i := range rows {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert round %d row %d: %w", round, i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close batch for round %d: %w", round, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit round %d: %w", round, err)
	}
	return nil
}

func insertArgs(round domain.Round, runID string, r domain.PricedIncentive) []any {
	return []any{
		int(round), runID, r.Gauge, r.Amount, r.TokenSymbol, r.Deposit.Token.Hex(), r.TokenName,
		statusName(r.UnitPrice.Status), nullable(r.UnitPrice), nullable(r.USDValue), nullable(r.PerVote),
		r.PriceSource, r.UnadjustedScore,
		r.Deposit.TxHash, r.Deposit.BlockHash, int64(r.Deposit.BlockNumber),
	}
}

// nullable maps sentinels to SQL NULL so numeric columns stay numeric.
func nullable(p domain.PriceOutcome) *float64 {
	if !p.OK() {
		return nil
	}
	v := p.Value
	return &v
}

func statusName(s domain.PriceStatus) string {
	switch s {
	case domain.PriceMissing:
		return "missing"
	case domain.PriceError:
		return "error"
	default:
		return "ok"
	}
}
