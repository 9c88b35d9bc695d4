package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BRIBEMETER_"

// Load layers the TOML file at path (skipped when path is empty) over the
// defaults, loads .env if present, then applies BRIBEMETER_* overrides. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			keys := make([]string, len(undec))
			for i, k := range undec {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject endpoints and secrets at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// Ethereum
	setStr(&cfg.Ethereum.RPCURL, "ETHEREUM_RPC_URL")
	setUint64(&cfg.Ethereum.ChunkSize, "ETHEREUM_CHUNK_SIZE")

	// Votium
	setStr(&cfg.Votium.GaugeRegistry, "VOTIUM_GAUGE_REGISTRY")
	setInt(&cfg.Votium.V2FirstRound, "VOTIUM_V2_FIRST_ROUND")

	// Snapshot
	setStr(&cfg.Snapshot.URL, "SNAPSHOT_URL")
	setStr(&cfg.Snapshot.Space, "SNAPSHOT_SPACE")
	setStr(&cfg.Snapshot.Tally, "SNAPSHOT_TALLY")
	setDuration(&cfg.Snapshot.Timeout, "SNAPSHOT_TIMEOUT")

	// Oracle
	setStr(&cfg.Oracle.URL, "ORACLE_URL")
	setStr(&cfg.Oracle.Chain, "ORACLE_CHAIN")
	setDuration(&cfg.Oracle.Timeout, "ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.RateLimit, "ORACLE_RATE_LIMIT")
	setDuration(&cfg.Oracle.RateWindow, "ORACLE_RATE_WINDOW")

	// CoinGecko
	setStr(&cfg.CoinGecko.URL, "COINGECKO_URL")
	setStr(&cfg.CoinGecko.APIKey, "COINGECKO_API_KEY")

	// Decimals
	setStringSlice(&cfg.Decimals.Six, "DECIMALS_SIX")
	setStringSlice(&cfg.Decimals.Two, "DECIMALS_TWO")

	// Cache
	setStr(&cfg.Cache.Backend, "CACHE_BACKEND")
	setStr(&cfg.Cache.Dir, "CACHE_DIR")
	setBool(&cfg.Cache.MirrorToS3, "CACHE_MIRROR_TO_S3")

	// S3
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// Redis
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// Pipeline
	setStr(&cfg.Pipeline.Schedule, "PIPELINE_SCHEDULE")
	setBool(&cfg.Pipeline.ExportCached, "PIPELINE_EXPORT_CACHED")
	setStr(&cfg.Pipeline.LockKey, "PIPELINE_LOCK_KEY")
	setDuration(&cfg.Pipeline.LockTTL, "PIPELINE_LOCK_TTL")

	// Metrics
	setStr(&cfg.Metrics.PushURL, "METRICS_PUSH_URL")
	setStr(&cfg.Metrics.Job, "METRICS_JOB")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// Each setter only touches dst when the prefixed variable is set and parses.

func lookup(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for p := range strings.SplitSeq(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
