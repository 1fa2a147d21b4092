package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// SubjectStore implements domain.SubjectStore.
type SubjectStore struct {
	pool *pgxpool.Pool
}

// NewSubjectStore returns a SubjectStore on pool.
func NewSubjectStore(pool *pgxpool.Pool) *SubjectStore {
	return &SubjectStore{pool: pool}
}

const upsertSubject = `
	INSERT INTO subjects (
		id, name, creator, status, event, rule, prediction_end,
		fund_pool, fee_pool, subject_income, data, statistics, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		status         = EXCLUDED.status,
		fund_pool      = EXCLUDED.fund_pool,
		fee_pool       = EXCLUDED.fee_pool,
		subject_income = EXCLUDED.subject_income,
		data           = EXCLUDED.data,
		statistics     = EXCLUDED.statistics,
		updated_at     = NOW()`

// Upsert writes the subject and its statistics.
func (s *SubjectStore) Upsert(ctx context.Context, subj domain.Subject, stats domain.SubjectStatistics) error {
	data, err := json.Marshal(subj)
	if err != nil {
		return fmt.Errorf("postgres: marshal subject %s: %w", subj.ID, err)
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("postgres: marshal statistics %s: %w", subj.ID, err)
	}
	_, err = s.pool.Exec(ctx, upsertSubject,
		string(subj.ID), subj.Name, string(subj.Creator), subj.Status.String(),
		subj.Template.Event, subj.Template.Type, int64(subj.Expires.PredictionEnd),
		stats.FundPool, stats.FeePool, stats.SubjectIncome, data, statsJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert subject %s: %w", subj.ID, err)
	}
	return nil
}

func scanSubject(row pgx.Row) (domain.Subject, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return domain.Subject{}, err
	}
	var subj domain.Subject
	if err := json.Unmarshal(data, &subj); err != nil {
		return domain.Subject{}, fmt.Errorf("postgres: unmarshal subject: %w", err)
	}
	return subj, nil
}

func (s *SubjectStore) getOne(ctx context.Context, query, key string) (domain.Subject, error) {
	subj, err := scanSubject(s.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subject{}, domain.NotFoundf("subject %s", key)
	}
	if err != nil {
		return domain.Subject{}, fmt.Errorf("postgres: get subject %s: %w", key, err)
	}
	return subj, nil
}

// GetByID returns a projected subject.
func (s *SubjectStore) GetByID(ctx context.Context, id domain.SubjectID) (domain.Subject, error) {
	return s.getOne(ctx, `SELECT data FROM subjects WHERE id = $1`, string(id))
}

// GetByName returns a projected subject by its unique name.
func (s *SubjectStore) GetByName(ctx context.Context, name string) (domain.Subject, error) {
	return s.getOne(ctx, `SELECT data FROM subjects WHERE name = $1`, name)
}

// ListByStatus lists subjects in status, oldest prediction end first.
func (s *SubjectStore) ListByStatus(ctx context.Context, status domain.SubjectStatus, opts domain.ListOpts) ([]domain.Subject, error) {
	return s.list(ctx, `SELECT data FROM subjects WHERE status = $1 ORDER BY prediction_end, id`, status.String(), opts)
}

// ListByCreator lists the subjects an account published.
func (s *SubjectStore) ListByCreator(ctx context.Context, creator domain.AccountID, opts domain.ListOpts) ([]domain.Subject, error) {
	return s.list(ctx, `SELECT data FROM subjects WHERE creator = $1 ORDER BY id`, string(creator), opts)
}

func (s *SubjectStore) list(ctx context.Context, query, key string, opts domain.ListOpts) ([]domain.Subject, error) {
	query, args := paginate(query, []any{key}, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subjects: %w", err)
	}
	defer rows.Close()

	var out []domain.Subject
	for rows.Next() {
		subj, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan subject: %w", err)
		}
		out = append(out, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list subjects rows: %w", err)
	}
	return out, nil
}

// paginate appends LIMIT and OFFSET placeholders after args.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

var _ domain.SubjectStore = (*SubjectStore)(nil)
