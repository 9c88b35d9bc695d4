package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/bribemeter/internal/artifact"
	fsblob "github.com/alanyoungcy/bribemeter/internal/blob/fs"
	s3blob "github.com/alanyoungcy/bribemeter/internal/blob/s3"
	"github.com/alanyoungcy/bribemeter/internal/cache/redis"
	"github.com/alanyoungcy/bribemeter/internal/config"
	"github.com/alanyoungcy/bribemeter/internal/domain"
	"github.com/alanyoungcy/bribemeter/internal/notify"
	"github.com/alanyoungcy/bribemeter/internal/platform/coingecko"
	"github.com/alanyoungcy/bribemeter/internal/platform/defillama"
	"github.com/alanyoungcy/bribemeter/internal/platform/ethrpc"
	"github.com/alanyoungcy/bribemeter/internal/platform/snapshot"
	"github.com/alanyoungcy/bribemeter/internal/store/postgres"
)

// Dependencies bundles the concrete clients and stores the modes use.
// Optional backends are nil when disabled.
type Dependencies struct {
	Artifacts *artifact.Store
	Mirror    domain.BlobWriter

	Chain     *ethrpc.Client
	Snapshot  *snapshot.Client
	Oracle    *defillama.Client
	CoinGecko *coingecko.Client

	Quotes  *redis.QuoteCache
	Limiter *redis.RateLimiter
	RunLock *redis.RunLock

	Incentives *postgres.IncentiveStore
	Audit      *postgres.AuditStore

	Notifier *notify.Notifier
}

func needsChain(mode string) bool {
	return mode == "pipeline" || mode == "proposals"
}

// Wire builds the dependencies mode needs and returns a cleanup function
// releasing them.
func Wire(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{
		Snapshot:  snapshot.NewClient(cfg.Snapshot.URL, cfg.Snapshot.Timeout.Duration),
		Oracle:    defillama.NewClient(cfg.Oracle.URL, cfg.Oracle.Timeout.Duration),
		CoinGecko: coingecko.NewClient(cfg.CoinGecko.URL, cfg.CoinGecko.APIKey, cfg.CoinGecko.CoinIDs, cfg.Oracle.Timeout.Duration),
	}

	// --- Artifact store, optionally mirrored to S3 ---
	var s3Store *s3blob.Store
	if cfg.Cache.Backend == "s3" || cfg.Cache.MirrorToS3 {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		s3Store = s3blob.NewStore(s3Client)
	}

	var blobs domain.BlobStore
	if cfg.Cache.Backend == "s3" {
		blobs = s3Store
	} else {
		fs, err := fsblob.New(cfg.Cache.Dir)
		if err != nil {
			return fail("cache dir", err)
		}
		blobs = fs
		if cfg.Cache.MirrorToS3 {
			deps.Mirror = s3Store
		}
	}
	deps.Artifacts = artifact.New(blobs, logger)

	// --- Ethereum ---
	if needsChain(mode) {
		chain, err := ethrpc.Dial(ctx, cfg.Ethereum.RPCURL, cfg.Ethereum.ChunkSize, logger)
		if err != nil {
			return fail("ethereum", err)
		}
		closers = append(closers, chain.Close)
		deps.Chain = chain
	}

	// --- Redis: quote cache, oracle rate limit, run lock ---
	if cfg.Redis.Enabled {
		rc, err := redis.Open(ctx, redis.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLS:        cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Quotes = redis.NewQuoteCache(rc)
		deps.RunLock = redis.NewRunLock(rc, cfg.Pipeline.LockKey, cfg.Pipeline.LockTTL.Duration, logger)
		if cfg.Oracle.RateLimit > 0 {
			deps.Limiter = redis.NewRateLimiter(rc, cfg.Oracle.RateLimit, cfg.Oracle.RateWindow.Duration)
		}
	}

	// --- PostgreSQL export, pipeline mode only ---
	if cfg.Postgres.Enabled && mode == "pipeline" {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Incentives = postgres.NewIncentiveStore(pg.Pool())
		deps.Audit = postgres.NewAuditStore(pg.Pool())
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
