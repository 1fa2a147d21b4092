package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/aftchain/internal/chain"
	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/protocol"
)

// maxBacklog bounds the blocks waiting for projection.
const maxBacklog = 4096

// Chain is the state machine the applier drives.
type Chain interface {
	PushBlock(ctx context.Context, blk protocol.Block) (chain.BlockResult, error)
	Head() (uint64, uint32, string)
}

// Projector records committed blocks outside the chain.
type Projector interface {
	Project(ctx context.Context, res chain.BlockResult) error
}

// Applier pushes source blocks into the chain. Projection runs after each
// block; a failed projection is retried on the next step without holding
// back the chain, unless it reports a consistency violation.
type Applier struct {
	chain     Chain
	source    BlockSource
	projector Projector
	archive   *ArchiveQueue
	logger    *slog.Logger

	backlog []chain.BlockResult
	// projected is the last block already recorded by the projector.
	projected       uint64
	projectedDigest string
}

// NewApplier creates an Applier.
func NewApplier(c Chain, source BlockSource, logger *slog.Logger) *Applier {
	return &Applier{
		chain:  c,
		source: source,
		logger: logger.With(slog.String("component", "applier")),
	}
}

// WithProjector projects every applied block through p.
func (a *Applier) WithProjector(p Projector) *Applier {
	a.projector = p
	return a
}

// WithProjectedHead marks blocks up to number as already projected. They are
// still applied but not projected again, and the rebuilt state at number
// must match digest.
func (a *Applier) WithProjectedHead(number uint64, digest string) *Applier {
	a.projected, a.projectedDigest = number, digest
	return a
}

// WithArchive queues pruned buckets on q.
func (a *Applier) WithArchive(q *ArchiveQueue) *Applier {
	a.archive = q
	return a
}

// Head returns the chain head.
func (a *Applier) Head() (uint64, uint32, string) { return a.chain.Head() }

// Backlog returns the number of blocks waiting for projection.
func (a *Applier) Backlog() int { return len(a.backlog) }

// Step applies one batch from the source and returns how many blocks were
// applied. Blocks at or below the head are skipped, so a source replayed
// from its start resumes where the chain stands.
func (a *Applier) Step(ctx context.Context) (int, error) {
	_, applied, err := a.step(ctx)
	return applied, err
}

// Drain steps until the source returns nothing and reports the blocks
// applied.
func (a *Applier) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		read, applied, err := a.step(ctx)
		total += applied
		if err != nil || read == 0 {
			return total, err
		}
	}
}

func (a *Applier) step(ctx context.Context) (int, int, error) {
	if err := a.flush(ctx); err != nil {
		return 0, 0, err
	}
	blocks, err := a.source.Next(ctx)
	if err != nil {
		return 0, 0, err
	}

	applied := 0
	for _, blk := range blocks {
		head, _, _ := a.chain.Head()
		if blk.Number <= head {
			a.logger.DebugContext(ctx, "block already applied", slog.Uint64("block", blk.Number))
			continue
		}
		res, err := a.chain.PushBlock(ctx, blk)
		if err != nil {
			return len(blocks), applied, fmt.Errorf("pipeline: block %d: %w", blk.Number, err)
		}
		applied++
		if a.archive != nil {
			a.archive.Add(res.Pruned)
		}
		if a.projector != nil {
			if res.Number <= a.projected {
				if res.Number == a.projected && res.Digest != a.projectedDigest {
					return len(blocks), applied, fmt.Errorf("pipeline: %w",
						domain.Consistencyf("block %d rebuilt with digest %s, projected %s", res.Number, res.Digest, a.projectedDigest))
				}
				continue
			}
			if len(a.backlog) >= maxBacklog {
				return len(blocks), applied, fmt.Errorf("pipeline: projection backlog of %d blocks", len(a.backlog))
			}
			a.backlog = append(a.backlog, res)
		}
	}
	return len(blocks), applied, a.flush(ctx)
}

// flush projects the backlog in order, stopping at the first failure.
func (a *Applier) flush(ctx context.Context) error {
	for len(a.backlog) > 0 {
		res := a.backlog[0]
		if err := a.projector.Project(ctx, res); err != nil {
			if domain.IsFatal(err) {
				return fmt.Errorf("pipeline: project block %d: %w", res.Number, err)
			}
			a.logger.WarnContext(ctx, "projection deferred",
				slog.Uint64("block", res.Number),
				slog.Int("backlog", len(a.backlog)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		a.backlog = a.backlog[1:]
	}
	return nil
}
