package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteKey identifies one historical price quote.
type QuoteKey struct {
	Chain     string
	Token     common.Address
	Timestamp int64
}

// QuoteCache remembers successful oracle quotes across runs. Historical
// quotes never change, so entries need no expiry.
type QuoteCache interface {
	GetQuote(ctx context.Context, key QuoteKey) (float64, error)
	SetQuote(ctx context.Context, key QuoteKey, price float64) error
}
