// Package coingecko reads daily historical prices from the CoinGecko API. It
// backs the manual price helper, not the pipeline.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/bribemeter/internal/domain"
)

// DefaultURL is the public API root.
const DefaultURL = "https://api.coingecko.com/api/v3"

// DefaultCoinIDs maps lowercase token symbols to CoinGecko coin ids for the
// tokens DefiLlama is known to miss.
var DefaultCoinIDs = map[string]string{
	"usdm":  "usd-mars",
	"luna":  "terra-luna",
	"t":     "threshold-network-token",
	"apefi": "ape-finance",
	"sdfxs": "frax-share",
}

// Client queries CoinGecko.
type Client struct {
	baseURL    string
	apiKey     string
	coinIDs    map[string]string
	httpClient *http.Client
}

// NewClient creates a CoinGecko client. coinIDs extends DefaultCoinIDs.
func NewClient(baseURL, apiKey string, coinIDs map[string]string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ids := make(map[string]string, len(DefaultCoinIDs)+len(coinIDs))
	for k, v := range DefaultCoinIDs {
		ids[k] = v
	}
	for k, v := range coinIDs {
		ids[strings.ToLower(k)] = v
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		coinIDs:    ids,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HistoryPrice returns the USD price of symbol on the UTC day containing ts.
func (c *Client) HistoryPrice(ctx context.Context, symbol string, ts int64) (float64, error) {
	id, ok := c.coinIDs[strings.ToLower(symbol)]
	if !ok {
		return 0, fmt.Errorf("coingecko: no coin id for %s: %w", symbol, domain.ErrNotFound)
	}
	q := url.Values{}
	q.Set("date", time.Unix(ts, 0).UTC().Format("02-01-2006"))
	q.Set("localization", "false")
	u := fmt.Sprintf("%s/coins/%s/history?%s", c.baseURL, url.PathEscape(id), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("coingecko: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("coingecko: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("coingecko: decode %s: %w", id, err)
	}
	if result.MarketData == nil {
		return 0, fmt.Errorf("coingecko: %s on %s: %w", id, q.Get("date"), domain.ErrNotFound)
	}
	price, ok := result.MarketData.CurrentPrice["usd"]
	if !ok {
		return 0, fmt.Errorf("coingecko: %s on %s has no usd price: %w", id, q.Get("date"), domain.ErrNotFound)
	}
	return price, nil
}
