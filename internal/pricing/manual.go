package pricing

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// DefaultManualPrices covers known oracle gaps and known-bad oracle data,
// keyed "{symbol}:{unix_timestamp}".
var DefaultManualPrices = map[string]string{
	"USDM:1634232288":  "1.0",
	"USDM:1635553502":  "1.0",
	"LUNA:1638166693":  "49.97057261602858",
	"LUNA:1639194085":  "61.032431508730056",
	"LUNA:1640219788":  "85.53254278439978",
	"LUNA:1640219878":  "85.53254278439978",
	"LUNA:1641603266":  "68.88043797219528",
	"LUNA:1642820274":  "64.39269522104948",
	"LUNA:1642933760":  "62.60645063584536",
	"T:1643032930":     "0.08858019868648463",
	"LUNA:1643856451":  "47.722832144087256",
	"LUNA:1644191725":  "55.48483663183234",
	"LUNA:1645316587":  "50.50251006449115",
	"LUNA:1645320009":  "50.50251006449115",
	"APEFI:1670471615": "0.003379061468807522",
	"sdFXS:1681663955": "10.246017123185558",
	"sdFXS:1691400455": "6.475601695530601",
	"sdFXS:1692603575": "6.04753134843985",
	"sdFXS:1693817279": "5.422331650380933",
	"xETH:1705845467":  "15.1",
}

// ManualPrices is the override table consulted before any oracle.
type ManualPrices struct {
	entries map[string]decimal.Decimal
}

// ManualKey formats a table key.
func ManualKey(symbol string, ts int64) string {
	return symbol + ":" + strconv.FormatInt(ts, 10)
}

// NewManualPrices parses a key to price table.
func NewManualPrices(table map[string]string) (ManualPrices, error) {
	m := ManualPrices{entries: make(map[string]decimal.Decimal, len(table))}
	for k, v := range table {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return ManualPrices{}, fmt.Errorf("pricing: manual price %s=%q: %w", k, v, err)
		}
		m.entries[k] = d
	}
	return m, nil
}

// Lookup returns the override for symbol at ts. Symbols match exactly.
func (m ManualPrices) Lookup(symbol string, ts int64) (decimal.Decimal, bool) {
	d, ok := m.entries[ManualKey(symbol, ts)]
	return d, ok
}

// Len returns the number of overrides.
func (m ManualPrices) Len() int { return len(m.entries) }
