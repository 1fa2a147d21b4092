package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/aftchain/internal/blob/s3"
	"github.com/alanyoungcy/aftchain/internal/cache/redis"
	"github.com/alanyoungcy/aftchain/internal/chain"
	"github.com/alanyoungcy/aftchain/internal/config"
	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/monitor"
	"github.com/alanyoungcy/aftchain/internal/notify"
	"github.com/alanyoungcy/aftchain/internal/service"
	"github.com/alanyoungcy/aftchain/internal/store/postgres"
)

// Dependencies bundles what the modes run on. Optional parts are nil when
// the mode or configuration leaves them out.
type Dependencies struct {
	Chain    *chain.Database
	Monitor  *monitor.FeedMonitor
	Notifier *notify.Notifier

	// Postgres projection
	Stores *service.ProjectionStores
	Audit  domain.AuditStore

	// Redis
	PriceCache domain.PriceCache
	SignalBus  domain.SignalBus
	Locks      *redis.LockManager

	// Cold archive
	Archiver *s3blob.Archiver
}

func needsRedis(mode string) bool {
	return mode == "node"
}

func needsPostgres(cfg *config.Config) bool {
	return cfg.Node.Project && cfg.Node.Mode != "archive"
}

func needsS3(cfg *config.Config) bool {
	return cfg.Node.Archive && cfg.Node.Mode != "replay"
}

// Wire builds the chain from genesis and connects the stores the mode
// needs. The cleanup function releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
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

	deps := &Dependencies{}

	gen, err := cfg.LoadGenesis()
	if err != nil {
		return fail("genesis", err)
	}
	deps.Chain, err = chain.New(cfg.ChainConfig(), gen, logger)
	if err != nil {
		return fail("chain", err)
	}

	deps.Notifier = notify.New(cfg.Notify, logger)
	deps.Monitor = monitor.New(cfg.Monitor, deps.Notifier, logger)
	deps.Chain.SetFeedObserver(deps.Monitor)

	// --- PostgreSQL projection ---
	if needsPostgres(cfg) {
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

		pool := pg.Pool()
		deps.Stores = &service.ProjectionStores{
			Subjects: postgres.NewSubjectStore(pool),
			Votes:    postgres.NewVoteStore(pool),
			Events:   postgres.NewEventStore(pool),
			Blocks:   postgres.NewBlockStore(pool),
		}
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg.Node.Mode) {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.PriceCache = redis.NewPriceCache(rc)
		deps.SignalBus = redis.NewSignalBus(rc).WithBlock(cfg.Node.PollInterval.Duration / 2)
		deps.Locks = redis.NewLockManager(rc)
	}

	// --- S3 cold archive ---
	if needsS3(cfg) {
		client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		if err := client.Health(ctx); err != nil {
			logger.WarnContext(ctx, "archive bucket not reachable yet", slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(client), s3blob.NewReader(client), deps.Audit, logger)
	}

	return deps, cleanup, nil
}
