package incentive

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// Header is the column set of the incentives artifact.
var Header = []string{
	"round",
	"gauge",
	"choice_index",
	"amount",
	"token_symbol",
	"timestamp",
	"token_address",
	"token_name",
	"transaction_hash",
	"log_index",
	"block_hash",
	"block_number",
	"score",
	"deposit_count",
	"unadjusted_score",
}

// ToTable renders apportioned rows.
func ToTable(rows []domain.ApportionedIncentive) artifact.Table {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			strconv.Itoa(int(r.Round)),
			r.Gauge,
			strconv.Itoa(r.ChoiceIndex),
			r.Deposit.Amount.String(),
			r.TokenSymbol,
			strconv.FormatInt(r.Timestamp, 10),
			r.Deposit.Token.Hex(),
			r.TokenName,
			r.Deposit.TxHash,
			strconv.FormatUint(uint64(r.Deposit.LogIndex), 10),
			r.Deposit.BlockHash,
			strconv.FormatUint(r.Deposit.BlockNumber, 10),
			formatFloat(r.Score),
			strconv.Itoa(r.DepositCount),
			formatFloat(r.UnadjustedScore),
		}
	}
	return artifact.Table{Header: Header, Rows: out}
}

// FromTable parses the incentives artifact.
func FromTable(t artifact.Table) ([]domain.ApportionedIncentive, error) {
	out := make([]domain.ApportionedIncentive, len(t.Rows))
	for i, row := range t.Rows {
		p := parser{row: row}
		round := p.atoi(0)
		choiceIdx := p.atoi(2)
		amount, ok := new(big.Int).SetString(row[3], 10)
		if !ok {
			p.fail(3)
		}
		ts := p.int64At(5)
		logIndex := p.uintAt(9)
		block := p.uintAt(11)
		score := p.floatAt(12)
		count := p.atoi(13)
		unadj := p.floatAt(14)
		if p.err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, p.err)
		}
		out[i] = domain.ApportionedIncentive{
			Round:       domain.Round(round),
			Gauge:       row[1],
			ChoiceIndex: choiceIdx,
			Deposit: domain.Deposit{
				Token:       common.HexToAddress(row[6]),
				Amount:      amount,
				TxHash:      row[8],
				LogIndex:    uint(logIndex),
				BlockHash:   row[10],
				BlockNumber: block,
			},
			TokenSymbol:     row[4],
			TokenName:       row[7],
			Timestamp:       ts,
			Score:           score,
			DepositCount:    count,
			UnadjustedScore: unadj,
		}
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parser keeps the first conversion error of a row.
type parser struct {
	row []string
	err error
}

func (p *parser) fail(col int) {
	if p.err == nil {
		p.err = fmt.Errorf("column %s: bad value %q", Header[col], p.row[col])
	}
}

func (p *parser) atoi(col int) int {
	v, err := strconv.Atoi(p.row[col])
	if err != nil {
		p.fail(col)
	}
	return v
}

func (p *parser) int64At(col int) int64 {
	v, err := strconv.ParseInt(p.row[col], 10, 64)
	if err != nil {
		p.fail(col)
	}
	return v
}

func (p *parser) uintAt(col int) uint64 {
	v, err := strconv.ParseUint(p.row[col], 10, 64)
	if err != nil {
		p.fail(col)
	}
	return v
}

func (p *parser) floatAt(col int) float64 {
	v, err := strconv.ParseFloat(p.row[col], 64)
	if err != nil {
		p.fail(col)
	}
	return v
}
