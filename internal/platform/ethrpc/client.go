// Package ethrpc wraps an Ethereum JSON-RPC endpoint: event log retrieval,
// block timestamps and ERC20 metadata.
package ethrpc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultChunkSize is the widest block range requested in one eth_getLogs
// call.
const DefaultChunkSize uint64 = 50_000

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Client talks to one Ethereum node.
type Client struct {
	backend   Backend
	closer    func()
	chunkSize uint64
	logger    *slog.Logger
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string, chunkSize uint64, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: dial: %w", err)
	}
	c := NewClient(ec, chunkSize, logger)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, chunkSize uint64, logger *slog.Logger) *Client {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &Client{
		backend:   backend,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "ethrpc")),
	}
}

// Close releases the connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// HeadBlock returns the latest block number.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: head block: %w", err)
	}
	return n, nil
}

// BlockTime returns the unix timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (int64, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, fmt.Errorf("ethrpc: header %d: %w", n, err)
	}
	return int64(h.Time), nil
}

// Events returns every log of event emitted by contract in [from, to],
// decoded. The range is split into windows of at most chunkSize blocks,
// queried in order.
func (c *Client) Events(ctx context.Context, contract Contract, event string, from, to uint64) ([]domain.EventRecord, error) {
	ev, ok := contract.ABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("ethrpc: contract %s has no event %s", contract.Name, event)
	}
	if from > to {
		return nil, nil
	}

	var out []domain.EventRecord
	for lo := from; lo <= to; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+c.chunkSize-1, to)
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(lo),
			ToBlock:   new(big.Int).SetUint64(hi),
			Addresses: []common.Address{contract.Address},
			Topics:    [][]common.Hash{{ev.ID}},
		}
		logs, err := c.backend.FilterLogs(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("ethrpc: filter %s.%s [%d,%d]: %w", contract.Name, event, lo, hi, err)
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			rec, err := DecodeLog(ev, l)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if len(logs) > 0 {
			c.logger.DebugContext(ctx, "fetched logs",
				slog.String("contract", contract.Name),
				slog.String("event", event),
				slog.Uint64("from_block", lo),
				slog.Uint64("to_block", hi),
				slog.Int("logs", len(logs)),
			)
		}
		if hi == to {
			break
		}
		lo = hi + 1
	}
	return out, nil
}

// TokenInfo reads ERC20 symbol() and name(). Tokens that answer with bytes32
// are decoded too.
func (c *Client) TokenInfo(ctx context.Context, token common.Address) (domain.TokenInfo, error) {
	symbol, err := c.stringCall(ctx, token, "symbol")
	if err != nil {
		return domain.TokenInfo{}, err
	}
	name, err := c.stringCall(ctx, token, "name")
	if err != nil {
		return domain.TokenInfo{}, err
	}
	return domain.TokenInfo{Symbol: symbol, Name: name}, nil
}

func (c *Client) stringCall(ctx context.Context, token common.Address, method string) (string, error) {
	input, err := erc20.Pack(method)
	if err != nil {
		return "", fmt.Errorf("ethrpc: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return "", fmt.Errorf("ethrpc: call %s.%s: %w", token.Hex(), method, err)
	}

	if vals, err := erc20.Unpack(method, out); err == nil && len(vals) == 1 {
		if s, ok := vals[0].(string); ok {
			return s, nil
		}
	}
	vals, err := erc20Bytes32.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return "", fmt.Errorf("ethrpc: decode %s.%s: %x", token.Hex(), method, out)
	}
	b, ok := vals[0].([32]byte)
	if !ok {
		return "", fmt.Errorf("ethrpc: decode %s.%s: unexpected %T", token.Hex(), method, vals[0])
	}
	return strings.TrimSpace(string(bytes.TrimRight(b[:], "\x00"))), nil
}
