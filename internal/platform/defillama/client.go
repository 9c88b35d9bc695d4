// Package defillama reads historical token prices from the DefiLlama coins
// API.
package defillama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultURL is the public coins API.
const DefaultURL = "https://coins.llama.fi"

// StatusError is returned when the API answers with a non-2xx status. It is
// distinct from a successful answer that lacks the requested coin.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Client queries historical prices.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a DefiLlama client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HistoricalPrice returns the USD price of token on chain at unix time ts.
// A successful response without the coin yields domain.ErrNotFound; a non-2xx
// response yields a *StatusError.
func (c *Client) HistoricalPrice(ctx context.Context, chain string, token common.Address, ts int64) (float64, error) {
	coin := chain + ":" + token.Hex()
	url := fmt.Sprintf("%s/prices/historical/%d/%s", c.baseURL, ts, coin)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("defillama: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("defillama: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("defillama: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Coins map[string]struct {
			Price      float64 `json:"price"`
			Symbol     string  `json:"symbol"`
			Timestamp  int64   `json:"timestamp"`
			Confidence float64 `json:"confidence"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("defillama: decode %s: %w", coin, err)
	}
	for k, v := range result.Coins {
		if strings.EqualFold(k, coin) {
			return v.Price, nil
		}
	}
	return 0, fmt.Errorf("defillama: %s at %d: %w", coin, ts, domain.ErrNotFound)
}
