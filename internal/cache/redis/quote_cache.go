package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes.
// Each quote is stored at "quote:{chain}:{address}:{ts}" with fields "price"
// and "fetched_at" (Unix seconds). Historical quotes never change, so keys
// carry no TTL.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(rdb *redis.Client) *QuoteCache {
	return &QuoteCache{rdb: rdb}
}

func quoteKey(k domain.QuoteKey) string {
	return "quote:" + k.Chain + ":" + strings.ToLower(k.Token.Hex()) + ":" + strconv.FormatInt(k.Timestamp, 10)
}

// SetQuote stores a quote.
func (qc *QuoteCache) SetQuote(ctx context.Context, k domain.QuoteKey, price float64) error {
	fields := map[string]any{
		"price":      strconv.FormatFloat(price, 'f', -1, 64),
		"fetched_at": strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(k), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quoteKey(k), err)
	}
	return nil
}

// GetQuote returns a stored quote or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, k domain.QuoteKey) (float64, error) {
	s, err := qc.rdb.HGet(ctx, quoteKey(k), "price").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get quote %s: %w", quoteKey(k), err)
	}
	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse quote %s: %w", quoteKey(k), err)
	}
	return price, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
