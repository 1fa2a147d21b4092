package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// BlockStore implements domain.BlockStore.
type BlockStore struct {
	pool *pgxpool.Pool
}

// NewBlockStore returns a BlockStore on pool.
func NewBlockStore(pool *pgxpool.Pool) *BlockStore {
	return &BlockStore{pool: pool}
}

// Insert records an applied block. A block already recorded must carry the
// same digest; anything else means two nodes disagree about history.
func (s *BlockStore) Insert(ctx context.Context, rec domain.BlockRecord) error {
	const query = `
		INSERT INTO blocks (number, block_time, digest, applied, rejected)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (number) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, int64(rec.Number), int64(rec.Timestamp), rec.Digest, rec.Applied, rec.Rejected)
	if err != nil {
		return fmt.Errorf("postgres: insert block %d: %w", rec.Number, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	prev, err := s.GetByNumber(ctx, rec.Number)
	if err != nil {
		return err
	}
	if prev.Digest != rec.Digest {
		return domain.Consistencyf("block %d digest %s, projected %s", rec.Number, rec.Digest, prev.Digest)
	}
	return nil
}

const selectBlock = `SELECT number, block_time, digest, applied, rejected, created_at FROM blocks`

func scanBlock(row pgx.Row, what string) (domain.BlockRecord, error) {
	var (
		rec       domain.BlockRecord
		number    int64
		blockTime int64
	)
	err := row.Scan(&number, &blockTime, &rec.Digest, &rec.Applied, &rec.Rejected, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, domain.NotFoundf("block %s", what)
	}
	if err != nil {
		return rec, fmt.Errorf("postgres: get block %s: %w", what, err)
	}
	rec.Number, rec.Timestamp = uint64(number), uint32(blockTime)
	return rec, nil
}

// Last returns the highest projected block.
func (s *BlockStore) Last(ctx context.Context) (domain.BlockRecord, error) {
	return scanBlock(s.pool.QueryRow(ctx, selectBlock+` ORDER BY number DESC LIMIT 1`), "head")
}

// GetByNumber returns one projected block.
func (s *BlockStore) GetByNumber(ctx context.Context, number uint64) (domain.BlockRecord, error) {
	return scanBlock(s.pool.QueryRow(ctx, selectBlock+` WHERE number = $1`, int64(number)), fmt.Sprint(number))
}

var _ domain.BlockStore = (*BlockStore)(nil)
