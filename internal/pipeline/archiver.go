package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// BucketArchiver ships pruned price buckets to cold storage.
type BucketArchiver interface {
	Archive(ctx context.Context, buckets []domain.PriceBucket) (domain.ArchiveRun, error)
}

// ArchiveQueue collects pruned buckets from the applier and ships them in
// batches. A failed batch is kept for the next run.
type ArchiveQueue struct {
	archiver BucketArchiver
	logger   *slog.Logger

	mu      sync.Mutex
	pending []domain.PriceBucket
}

// NewArchiveQueue creates an ArchiveQueue.
func NewArchiveQueue(archiver BucketArchiver, logger *slog.Logger) *ArchiveQueue {
	return &ArchiveQueue{
		archiver: archiver,
		logger:   logger.With(slog.String("component", "archive_queue")),
	}
}

// Add queues buckets.
func (q *ArchiveQueue) Add(buckets []domain.PriceBucket) {
	if len(buckets) == 0 {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, buckets...)
	q.mu.Unlock()
}

// Len returns the number of queued buckets.
func (q *ArchiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Ship uploads everything queued.
func (q *ArchiveQueue) Ship(ctx context.Context) (domain.ArchiveRun, error) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	if len(batch) == 0 {
		return domain.ArchiveRun{}, nil
	}

	run, err := q.archiver.Archive(ctx, batch)
	if err != nil {
		q.mu.Lock()
		q.pending = append(batch, q.pending...)
		q.mu.Unlock()
		return run, err
	}
	return run, nil
}

// RunLoop ships on every tick until ctx ends, then makes a last attempt
// with a short deadline.
func (q *ArchiveQueue) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			if _, err := q.Ship(final); err != nil {
				q.logger.Warn("final archive run failed", slog.Int("pending", q.Len()), slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if _, err := q.Ship(ctx); err != nil {
				q.logger.ErrorContext(ctx, "archive run failed",
					slog.Int("pending", q.Len()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
