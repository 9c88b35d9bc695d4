package pricing

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// Header is the column set of the price artifact. score is the apportioned
// (per deposit) score.
var Header = []string{
	"round",
	"gauge",
	"amount",
	"token_symbol",
	"token_price",
	"usd_value",
	"score",
	"token",
	"token_name",
	"per_vote",
	"price_source",
	"transaction_hash",
	"block_hash",
	"block_number",
}

// ToTable renders priced rows.
func ToTable(rows []domain.PricedIncentive) artifact.Table {
	out := make([][]string, len(rows))
	for i, p := range rows {
		out[i] = []string{
			strconv.Itoa(int(p.Round)),
			p.Gauge,
			strconv.FormatFloat(p.Amount, 'f', -1, 64),
			p.TokenSymbol,
			p.UnitPrice.String(),
			p.USDValue.String(),
			strconv.FormatFloat(p.UnadjustedScore, 'f', -1, 64),
			p.Deposit.Token.Hex(),
			p.TokenName,
			p.PerVote.String(),
			p.PriceSource,
			p.Deposit.TxHash,
			p.Deposit.BlockHash,
			strconv.FormatUint(p.Deposit.BlockNumber, 10),
		}
	}
	return artifact.Table{Header: Header, Rows: out}
}

// FromTable parses the price artifact. Fields the artifact does not carry
// (raw amount, timestamp, log index) are left zero.
func FromTable(t artifact.Table) ([]domain.PricedIncentive, error) {
	out := make([]domain.PricedIncentive, len(t.Rows))
	for i, row := range t.Rows {
		round, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d round: %w", i+1, err)
		}
		amount, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d amount: %w", i+1, err)
		}
		unit, err := domain.ParsePriceOutcome(row[4])
		if err != nil {
			return nil, fmt.Errorf("row %d token_price: %w", i+1, err)
		}
		usd, err := domain.ParsePriceOutcome(row[5])
		if err != nil {
			return nil, fmt.Errorf("row %d usd_value: %w", i+1, err)
		}
		score, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d score: %w", i+1, err)
		}
		perVote, err := domain.ParsePriceOutcome(row[9])
		if err != nil {
			return nil, fmt.Errorf("row %d per_vote: %w", i+1, err)
		}
		block, err := strconv.ParseUint(row[13], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d block_number: %w", i+1, err)
		}
		out[i] = domain.PricedIncentive{
			ApportionedIncentive: domain.ApportionedIncentive{
				Round:       domain.Round(round),
				Gauge:       row[1],
				TokenSymbol: row[3],
				TokenName:   row[8],
				Deposit: domain.Deposit{
					Token:       common.HexToAddress(row[7]),
					TxHash:      row[11],
					BlockHash:   row[12],
					BlockNumber: block,
				},
				UnadjustedScore: score,
			},
			Amount:      amount,
			UnitPrice:   unit,
			USDValue:    usd,
			PerVote:     perVote,
			PriceSource: row[10],
		}
	}
	return out, nil
}
