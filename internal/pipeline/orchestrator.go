package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/monitor"
)

// Intervals configures the orchestrator loops. A zero interval disables
// its loop, except Poll.
type Intervals struct {
	Poll         time.Duration
	Inspect      time.Duration
	Dump         time.Duration
	Archive      time.Duration
	LeaseRefresh time.Duration
}

// Lease is a held single-applier lock.
type Lease interface {
	Refresh(ctx context.Context) error
}

// Status is a point-in-time view of the node, safe to read from any
// goroutine.
type Status struct {
	Head           uint64    `json:"head"`
	HeadTime       uint32    `json:"head_time"`
	Digest         string    `json:"digest"`
	Backlog        int       `json:"projection_backlog"`
	ArchivePending int       `json:"archive_pending"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Orchestrator runs the node loops. Block application and monitor
// inspection share one goroutine because both touch chain state.
type Orchestrator struct {
	applier   *Applier
	archive   *ArchiveQueue
	monitor   *monitor.FeedMonitor
	prices    monitor.PriceSource
	lease     Lease
	intervals Intervals
	logger    *slog.Logger

	status atomic.Pointer[Status]
}

// NewOrchestrator creates an Orchestrator. archive, mon and lease may be nil.
func NewOrchestrator(
	applier *Applier,
	archive *ArchiveQueue,
	mon *monitor.FeedMonitor,
	prices monitor.PriceSource,
	lease Lease,
	intervals Intervals,
	logger *slog.Logger,
) *Orchestrator {
	if intervals.Poll <= 0 {
		intervals.Poll = time.Second
	}
	o := &Orchestrator{
		applier:   applier,
		archive:   archive,
		monitor:   mon,
		prices:    prices,
		lease:     lease,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
	o.publishStatus()
	return o
}

// Status returns the state as of the last chain step.
func (o *Orchestrator) Status() Status {
	return *o.status.Load()
}

// publishStatus must run on the chain goroutine.
func (o *Orchestrator) publishStatus() {
	num, at, digest := o.applier.Head()
	st := Status{
		Head:      num,
		HeadTime:  at,
		Digest:    digest,
		Backlog:   o.applier.Backlog(),
		UpdatedAt: time.Now().UTC(),
	}
	if o.archive != nil {
		st.ArchivePending = o.archive.Len()
	}
	o.status.Store(&st)
}

// Run blocks until ctx ends or a loop fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator starting",
		slog.Duration("poll", o.intervals.Poll),
		slog.Duration("inspect", o.intervals.Inspect),
		slog.Duration("archive", o.intervals.Archive),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return clean(ctx, "chain", o.runChain(ctx))
	})
	if o.archive != nil && o.intervals.Archive > 0 {
		g.Go(func() error {
			return clean(ctx, "archive", o.archive.RunLoop(ctx, o.intervals.Archive))
		})
	}
	if o.monitor != nil {
		g.Go(func() error {
			return clean(ctx, "alarms", o.runAlarms(ctx))
		})
	}
	if o.lease != nil && o.intervals.LeaseRefresh > 0 {
		g.Go(func() error {
			return clean(ctx, "lease", o.runLease(ctx))
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// clean drops the error of a loop stopped by cancellation.
func clean(ctx context.Context, loop string, err error) error {
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s: %w", loop, err)
}

func (o *Orchestrator) runChain(ctx context.Context) error {
	poll := time.NewTicker(o.intervals.Poll)
	defer poll.Stop()
	var inspect <-chan time.Time
	if o.monitor != nil && o.intervals.Inspect > 0 {
		t := time.NewTicker(o.intervals.Inspect)
		defer t.Stop()
		inspect = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			n, err := o.applier.Step(ctx)
			o.publishStatus()
			if err != nil {
				return err
			}
			if n > 0 {
				num, _, digest := o.applier.Head()
				o.logger.DebugContext(ctx, "blocks applied",
					slog.Int("count", n),
					slog.Uint64("head", num),
					slog.String("digest", digest),
				)
			}
		case <-inspect:
			_, now, _ := o.applier.Head()
			o.monitor.Inspect(now, o.prices)
		}
	}
}

// runAlarms delivers queued alarms and periodically dumps feed statistics.
func (o *Orchestrator) runAlarms(ctx context.Context) error {
	flush := time.NewTicker(max(o.intervals.Inspect, time.Second))
	defer flush.Stop()
	var dump <-chan time.Time
	if o.intervals.Dump > 0 {
		t := time.NewTicker(o.intervals.Dump)
		defer t.Stop()
		dump = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flush.C:
			if err := o.monitor.Flush(ctx); err != nil {
				o.logger.WarnContext(ctx, "alarm delivery failed", slog.String("error", err.Error()))
			}
		case <-dump:
			o.monitor.DumpStat()
		}
	}
}

func (o *Orchestrator) runLease(ctx context.Context) error {
	ticker := time.NewTicker(o.intervals.LeaseRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := o.lease.Refresh(ctx)
			if errors.Is(err, domain.ErrLockHeld) {
				return err
			}
			if err != nil {
				o.logger.WarnContext(ctx, "lease refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}
