package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// VoteStore implements domain.VoteStore.
type VoteStore struct {
	pool *pgxpool.Pool
}

// NewVoteStore returns a VoteStore on pool.
func NewVoteStore(pool *pgxpool.Pool) *VoteStore {
	return &VoteStore{pool: pool}
}

// Upsert writes votes in one batch. Payouts are filled in when a subject
// settles or restores.
func (s *VoteStore) Upsert(ctx context.Context, votes []domain.SubjectVote) error {
	if len(votes) == 0 {
		return nil
	}
	const query = `
		INSERT INTO subject_votes (
			id, subject_id, voter, quantity, creator_vote, my_vote,
			vote_time, payout, refunded, data, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			payout     = EXCLUDED.payout,
			refunded   = EXCLUDED.refunded,
			data       = EXCLUDED.data,
			updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, v := range votes {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("postgres: marshal vote %s: %w", v.ID, err)
		}
		var payout *int64
		var refunded bool
		if v.Payout != nil {
			payout = &v.Payout.Amount
			refunded = v.Payout.Refunded
		}
		batch.Queue(query,
			string(v.ID), string(v.SubjectID), string(v.Voter), v.Quantity.Amount,
			v.CreatorVote, v.MyVote, int64(v.VoteTime), payout, refunded, data,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range votes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert votes: %w", err)
		}
	}
	return nil
}

// ListBySubject lists the votes of a subject in id order.
func (s *VoteStore) ListBySubject(ctx context.Context, id domain.SubjectID, opts domain.ListOpts) ([]domain.SubjectVote, error) {
	return s.list(ctx, `SELECT data FROM subject_votes WHERE subject_id = $1 ORDER BY id`, string(id), opts)
}

// ListByVoter lists an account's votes, newest first.
func (s *VoteStore) ListByVoter(ctx context.Context, voter domain.AccountID, opts domain.ListOpts) ([]domain.SubjectVote, error) {
	return s.list(ctx, `SELECT data FROM subject_votes WHERE voter = $1 ORDER BY vote_time DESC, id`, string(voter), opts)
}

func (s *VoteStore) list(ctx context.Context, query, key string, opts domain.ListOpts) ([]domain.SubjectVote, error) {
	query, args := paginate(query, []any{key}, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes: %w", err)
	}
	defer rows.Close()

	var out []domain.SubjectVote
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		var v domain.SubjectVote
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal vote: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list votes rows: %w", err)
	}
	return out, nil
}

var _ domain.VoteStore = (*VoteStore)(nil)
