// Package config defines the bribemeter configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file and
// then overridden by BRIBEMETER_* environment variables.
type Config struct {
	Ethereum  EthereumConfig  `toml:"ethereum"`
	Votium    VotiumConfig    `toml:"votium"`
	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Oracle    OracleConfig    `toml:"oracle"`
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Prices    PricesConfig    `toml:"prices"`
	Decimals  DecimalsConfig  `toml:"decimals"`
	Cache     CacheConfig     `toml:"cache"`
	S3        S3Config        `toml:"s3"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EthereumConfig holds the JSON-RPC endpoint.
type EthereumConfig struct {
	RPCURL    string `toml:"rpc_url"`
	ChunkSize uint64 `toml:"chunk_size"`
}

// VotiumConfig locates the two incentive contracts.
type VotiumConfig struct {
	V1Address     string `toml:"v1_address"`
	V1StartBlock  uint64 `toml:"v1_start_block"`
	V2Address     string `toml:"v2_address"`
	V2StartBlock  uint64 `toml:"v2_start_block"`
	V2FirstRound  int    `toml:"v2_first_round"`
	GaugeRegistry string `toml:"gauge_registry"`
}

// V1EndBlock is the last block scanned for v1 events.
func (v VotiumConfig) V1EndBlock() uint64 { return v.V2StartBlock - 1 }

// SnapshotConfig selects the governance proposals that define rounds.
type SnapshotConfig struct {
	URL         string   `toml:"url"`
	Space       string   `toml:"space"`
	TitleFilter string   `toml:"title_filter"`
	TestPrefix  string   `toml:"test_prefix"`
	Tally       string   `toml:"tally"`
	Timeout     duration `toml:"timeout"`
}

// OracleConfig holds the historical price API parameters. RateLimit calls per
// RateWindow apply only when Redis is enabled.
type OracleConfig struct {
	URL        string   `toml:"url"`
	Chain      string   `toml:"chain"`
	Timeout    duration `toml:"timeout"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// CoinGeckoConfig drives the manual price helper.
type CoinGeckoConfig struct {
	URL      string            `toml:"url"`
	APIKey   string            `toml:"api_key"`
	CoinIDs  map[string]string `toml:"coin_ids"`
	Backfill []BackfillEntry   `toml:"backfill"`
}

// BackfillEntry is one symbol/timestamp pair to look up.
type BackfillEntry struct {
	Symbol    string `toml:"symbol"`
	Timestamp int64  `toml:"timestamp"`
}

// PricesConfig holds manual price overrides keyed "SYMBOL:unix_ts". Entries
// are merged over the built-in table.
type PricesConfig struct {
	Manual map[string]string `toml:"manual"`
}

// DecimalsConfig lists symbols assumed to use 6 or 2 decimals. Empty lists
// keep the built-in sets.
type DecimalsConfig struct {
	Six []string `toml:"six"`
	Two []string `toml:"two"`
}

// CacheConfig selects where round artifacts live. With backend "s3" the
// bucket is the primary store; with "fs" and MirrorToS3 the bucket receives
// a copy of each exported round.
type CacheConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	MirrorToS3 bool   `toml:"mirror_to_s3"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RedisConfig holds Redis connection parameters. Redis backs the oracle quote
// cache, the oracle rate limit and the run lock.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the export database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// PipelineConfig tunes the run. An empty Schedule runs once and exits.
type PipelineConfig struct {
	Schedule     string   `toml:"schedule"`
	ExportCached bool     `toml:"export_cached"`
	LockKey      string   `toml:"lock_key"`
	LockTTL      duration `toml:"lock_ttl"`
}

// MetricsConfig points at a Prometheus Pushgateway. Empty disables pushing.
type MetricsConfig struct {
	PushURL string `toml:"push_url"`
	Job     string `toml:"job"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings like "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. The contract addresses and
// blocks are the mainnet deployments.
func Defaults() Config {
	return Config{
		Ethereum: EthereumConfig{
			ChunkSize: 50_000,
		},
		Votium: VotiumConfig{
			V1Address:     "0x19BBC3463Dd8d07f55438014b021Fb457EBD4595",
			V1StartBlock:  13_209_937,
			V2Address:     "0x63942E31E98f1833A234077f47880A66136a2D1e",
			V2StartBlock:  18_043_767,
			V2FirstRound:  53,
			GaugeRegistry: "data/gauges.json",
		},
		Snapshot: SnapshotConfig{
			URL:         "https://hub.snapshot.org/graphql",
			Space:       "cvx.eth",
			TitleFilter: "Gauge Weight for",
			TestPrefix:  "(TEST)",
			Tally:       "auto",
			Timeout:     duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			URL:        "https://coins.llama.fi",
			Chain:      "ethereum",
			Timeout:    duration{30 * time.Second},
			RateLimit:  5,
			RateWindow: duration{time.Second},
		},
		CoinGecko: CoinGeckoConfig{
			URL:     "https://api.coingecko.com/api/v3",
			CoinIDs: map[string]string{},
		},
		Prices: PricesConfig{
			Manual: map[string]string{},
		},
		Cache: CacheConfig{
			Backend: "fs",
			Dir:     "cache",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bribemeter",
			ForcePathStyle: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bribemeter",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Pipeline: PipelineConfig{
			LockKey: "bribemeter:pipeline",
			LockTTL: duration{time.Hour},
		},
		Metrics: MetricsConfig{
			Job: "bribemeter",
		},
		Notify: NotifyConfig{
			Events: []string{"round_failed", "run_aborted", "price_missing", "export_failed"},
		},
		Mode:     "pipeline",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"pipeline":      true,
	"proposals":     true,
	"manual_prices": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validTally = map[string]bool{
	"auto":   true,
	"oracle": true,
	"local":  true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: pipeline, proposals, manual_prices)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	needsChain := mode == "pipeline" || mode == "proposals"
	if needsChain && c.Ethereum.RPCURL == "" {
		add("ethereum: rpc_url is required for mode %s", c.Mode)
	}
	if c.Ethereum.ChunkSize == 0 {
		add("ethereum: chunk_size must be > 0")
	}

	for name, addr := range map[string]string{"v1_address": c.Votium.V1Address, "v2_address": c.Votium.V2Address} {
		if !common.IsHexAddress(addr) {
			add("votium: %s %q is not an address", name, addr)
		}
	}
	if c.Votium.V2StartBlock <= c.Votium.V1StartBlock {
		add("votium: v2_start_block must be after v1_start_block")
	}
	if c.Votium.V2FirstRound < 1 {
		add("votium: v2_first_round must be >= 1")
	}
	if mode == "pipeline" && c.Votium.GaugeRegistry == "" {
		add("votium: gauge_registry must be set")
	}

	if c.Snapshot.URL == "" {
		add("snapshot: url must not be empty")
	}
	if c.Snapshot.Space == "" {
		add("snapshot: space must not be empty")
	}
	if !validTally[strings.ToLower(c.Snapshot.Tally)] {
		add("snapshot: unknown tally %q (valid: auto, oracle, local)", c.Snapshot.Tally)
	}

	if c.Oracle.URL == "" {
		add("oracle: url must not be empty")
	}
	if c.Oracle.RateLimit < 0 {
		add("oracle: rate_limit must be >= 0")
	}
	if c.Oracle.RateLimit > 0 && c.Oracle.RateWindow.Duration <= 0 {
		add("oracle: rate_window must be > 0 when rate_limit is set")
	}

	if mode == "manual_prices" {
		if len(c.CoinGecko.Backfill) == 0 {
			add("coingecko: backfill must list at least one entry for mode manual_prices")
		}
		for i, b := range c.CoinGecko.Backfill {
			if b.Symbol == "" || b.Timestamp <= 0 {
				add("coingecko: backfill[%d] needs symbol and timestamp", i)
			}
		}
	}

	switch c.Cache.Backend {
	case "fs":
		if c.Cache.Dir == "" {
			add("cache: dir must be set for backend fs")
		}
	case "s3":
		if c.Cache.MirrorToS3 {
			add("cache: mirror_to_s3 needs backend fs")
		}
	default:
		add("cache: unknown backend %q (valid: fs, s3)", c.Cache.Backend)
	}
	if c.Cache.Backend == "s3" || c.Cache.MirrorToS3 {
		if c.S3.Endpoint == "" {
			add("s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Pipeline.LockTTL.Duration <= 0 {
		add("pipeline: lock_ttl must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
