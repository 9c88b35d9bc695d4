package incentive

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// TokenLookup resolves ERC20 metadata.
type TokenLookup interface {
	TokenInfo(ctx context.Context, token common.Address) (domain.TokenInfo, error)
}

// BlockLookup resolves block timestamps.
type BlockLookup interface {
	BlockTime(ctx context.Context, n uint64) (int64, error)
}

// TokenDirectory memoizes token metadata for one run.
type TokenDirectory struct {
	lookup  TokenLookup
	entries map[common.Address]domain.TokenInfo
	misses  int
}

// NewTokenDirectory creates an empty directory.
func NewTokenDirectory(lookup TokenLookup) *TokenDirectory {
	return &TokenDirectory{lookup: lookup, entries: make(map[common.Address]domain.TokenInfo)}
}

// Get returns metadata for token, querying the lookup at most once per
// address. Failed lookups are not remembered.
func (d *TokenDirectory) Get(ctx context.Context, token common.Address) (domain.TokenInfo, error) {
	if info, ok := d.entries[token]; ok {
		return info, nil
	}
	d.misses++
	info, err := d.lookup.TokenInfo(ctx, token)
	if err != nil {
		return domain.TokenInfo{}, err
	}
	d.entries[token] = info
	return info, nil
}

// Lookups returns how many external lookups were made.
func (d *TokenDirectory) Lookups() int { return d.misses }

// BlockClock memoizes block timestamps for one run.
type BlockClock struct {
	lookup  BlockLookup
	entries map[uint64]int64
	misses  int
}

// NewBlockClock creates an empty clock.
func NewBlockClock(lookup BlockLookup) *BlockClock {
	return &BlockClock{lookup: lookup, entries: make(map[uint64]int64)}
}

// Time returns the timestamp of block n.
func (c *BlockClock) Time(ctx context.Context, n uint64) (int64, error) {
	if ts, ok := c.entries[n]; ok {
		return ts, nil
	}
	c.misses++
	ts, err := c.lookup.BlockTime(ctx, n)
	if err != nil {
		return 0, err
	}
	c.entries[n] = ts
	return ts, nil
}

// Lookups returns how many external lookups were made.
func (c *BlockClock) Lookups() int { return c.misses }
