package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Symbols assumed to use 6 or 2 decimals. Everything else is 18. This is a
// symbol heuristic, not on-chain metadata: two tokens sharing a symbol share
// a scale.
var (
	DefaultSixDecimals = []string{"USDC", "UST", "LUNA", "PYUSD"}
	DefaultTwoDecimals = []string{"EURS"}
)

// Decimals maps a token symbol to its assumed decimal scale.
type Decimals struct {
	six map[string]struct{}
	two map[string]struct{}
}

// NewDecimals builds the symbol sets. Nil slices select the defaults.
func NewDecimals(six, two []string) Decimals {
	if six == nil {
		six = DefaultSixDecimals
	}
	if two == nil {
		two = DefaultTwoDecimals
	}
	d := Decimals{six: make(map[string]struct{}, len(six)), two: make(map[string]struct{}, len(two))}
	for _, s := range six {
		d.six[s] = struct{}{}
	}
	for _, s := range two {
		d.two[s] = struct{}{}
	}
	return d
}

// Scale returns the number of decimals assumed for symbol.
func (d Decimals) Scale(symbol string) int32 {
	if _, ok := d.six[symbol]; ok {
		return 6
	}
	if _, ok := d.two[symbol]; ok {
		return 2
	}
	return 18
}

// Normalize converts a raw integer amount into whole tokens.
func (d Decimals) Normalize(symbol string, amount *big.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -d.Scale(symbol))
}
