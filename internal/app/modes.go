package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/aftchain/internal/cache/redis"
	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/pipeline"
	"github.com/alanyoungcy/aftchain/internal/server"
	"github.com/alanyoungcy/aftchain/internal/server/handler"
	"github.com/alanyoungcy/aftchain/internal/service"
)

// applierLock names the lock held by the single applier of a block stream.
func applierLock(stream string) string {
	return "applier:" + stream
}

// NodeMode follows the Redis block stream while holding the applier lock,
// projecting every block and running the monitor and archive loops.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg.Node
	lease, err := deps.Locks.AcquireLease(ctx, applierLock(cfg.BlockStream), cfg.LockTTL.Duration)
	if errors.Is(err, domain.ErrLockHeld) {
		return fmt.Errorf("app: another node is applying %s: %w", cfg.BlockStream, err)
	}
	if err != nil {
		return fmt.Errorf("app: applier lock: %w", err)
	}
	defer lease.Release()

	a.logger.InfoContext(ctx, "starting node mode",
		slog.String("block_stream", cfg.BlockStream),
		slog.String("result_stream", cfg.ResultStream),
		slog.Bool("project", deps.Stores != nil),
		slog.Bool("archive", deps.Archiver != nil),
	)

	source := redis.NewBlockStream(deps.SignalBus, cfg.BlockStream)
	projection := service.NewProjectionService(
		deps.Chain.Subjects(), deps.Chain.Oracle(),
		deps.Stores, deps.PriceCache, deps.SignalBus, cfg.ResultStream,
		a.logger,
	)
	projected, digest, err := projectedHead(ctx, deps.Stores)
	if err != nil {
		return err
	}
	applier := pipeline.NewApplier(deps.Chain, source, a.logger).
		WithProjector(projection).
		WithProjectedHead(projected, digest)

	var queue *pipeline.ArchiveQueue
	if deps.Archiver != nil {
		queue = pipeline.NewArchiveQueue(deps.Archiver, a.logger)
		applier.WithArchive(queue)
	}

	orch := pipeline.NewOrchestrator(applier, queue, deps.Monitor, deps.Chain.Oracle(), lease, pipeline.Intervals{
		Poll:         cfg.PollInterval.Duration,
		Inspect:      cfg.InspectInterval.Duration,
		Dump:         cfg.DumpInterval.Duration,
		Archive:      cfg.ArchiveInterval.Duration,
		LeaseRefresh: cfg.LockTTL.Duration / 3,
	}, a.logger)
	if cfg.HTTPAddr == "" {
		return orch.Run(ctx)
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(cfg.Name, "node", orch, 3*max(cfg.PollInterval.Duration, cfg.InspectInterval.Duration)),
		Monitor: handler.NewMonitorHandler(deps.Monitor),
	}
	queryLog := a.logger.With(slog.String("component", "query"))
	if st := deps.Stores; st != nil && deps.Audit != nil {
		handlers.Subjects = handler.NewSubjectHandler(st.Subjects, st.Votes, st.Events, queryLog)
		handlers.Blocks = handler.NewBlockHandler(st.Blocks, deps.Audit, queryLog)
	}
	if deps.Archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archiver, queryLog)
	}
	srv := server.NewServer(server.Config{Addr: cfg.HTTPAddr, APIKey: cfg.HTTPAPIKey}, handlers, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// projectedHead returns the last block recorded by the Postgres projection,
// or zero when there is none.
func projectedHead(ctx context.Context, stores *service.ProjectionStores) (uint64, string, error) {
	if stores == nil || stores.Blocks == nil {
		return 0, "", nil
	}
	rec, err := stores.Blocks.Last(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("app: projected head: %w", err)
	}
	return rec.Number, rec.Digest, nil
}

// ReplayMode applies a JSON-lines block file and logs the resulting state
// digest. Blocks are projected to Postgres when a projection is configured.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	_, err := a.replay(ctx, deps, nil)
	return err
}

// ArchiveMode replays the block file and ships every bucket pruned along
// the way to cold storage in one run.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode needs node.archive and an s3 bucket")
	}
	queue := pipeline.NewArchiveQueue(deps.Archiver, a.logger)
	if _, err := a.replay(ctx, deps, queue); err != nil {
		return err
	}
	pending := queue.Len()
	run, err := queue.Ship(ctx)
	if err != nil {
		return fmt.Errorf("app: archive run: %w", err)
	}
	a.logger.InfoContext(ctx, "archive run complete",
		slog.String("run_id", run.RunID),
		slog.Int("pruned", pending),
		slog.Int("uploaded", run.Buckets),
		slog.Int64("bytes", run.Bytes),
	)
	return nil
}

func (a *App) replay(ctx context.Context, deps *Dependencies, queue *pipeline.ArchiveQueue) (int, error) {
	src, err := pipeline.OpenFile(a.cfg.Node.BlockFile)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	applier := pipeline.NewApplier(deps.Chain, src, a.logger)
	if deps.Stores != nil {
		projected, digest, err := projectedHead(ctx, deps.Stores)
		if err != nil {
			return 0, err
		}
		applier.WithProjector(service.NewProjectionService(
			deps.Chain.Subjects(), deps.Chain.Oracle(), deps.Stores, nil, nil, "", a.logger,
		)).WithProjectedHead(projected, digest)
	}
	if queue != nil {
		applier.WithArchive(queue)
	}

	n, err := applier.Drain(ctx)
	num, at, digest := deps.Chain.Head()
	if err != nil {
		return n, fmt.Errorf("app: replay stopped at block %d: %w", num, err)
	}
	if backlog := applier.Backlog(); backlog > 0 {
		a.logger.WarnContext(ctx, "blocks left unprojected", slog.Int("backlog", backlog))
	}

	deps.Monitor.Inspect(at, deps.Chain.Oracle())
	deps.Monitor.DumpStat()
	if err := deps.Monitor.Flush(ctx); err != nil {
		a.logger.WarnContext(ctx, "alarm delivery failed", slog.String("error", err.Error()))
	}

	a.logger.InfoContext(ctx, "replay complete",
		slog.String("file", a.cfg.Node.BlockFile),
		slog.Int("blocks", n),
		slog.Uint64("head", num),
		slog.Uint64("head_time", uint64(at)),
		slog.String("digest", digest),
	)
	return n, nil
}
