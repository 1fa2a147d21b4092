package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// EventStore implements domain.EventStore.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore returns an EventStore on pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert records events. Replaying a block inserts nothing twice.
func (s *EventStore) Insert(ctx context.Context, events []domain.SubjectEvent) error {
	if len(events) == 0 {
		return nil
	}
	const query = `
		INSERT INTO subject_events (
			id, subject_id, oper, event, options, block_num, event_time, status, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		var options []byte
		if e.Options != nil {
			var err error
			if options, err = json.Marshal(e.Options); err != nil {
				return fmt.Errorf("postgres: marshal event options %s: %w", e.ID, err)
			}
		}
		batch.Queue(query,
			string(e.ID), string(e.SubjectID), string(e.Oper), e.Event, options,
			int64(e.BlockNum), int64(e.Time), e.Status.String(), e.Message,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert events: %w", err)
		}
	}
	return nil
}

// ListBySubject returns a subject's events in block order.
func (s *EventStore) ListBySubject(ctx context.Context, id domain.SubjectID) ([]domain.SubjectEvent, error) {
	const query = `
		SELECT id, subject_id, oper, event, options, block_num, event_time, status, message
		FROM subject_events WHERE subject_id = $1 ORDER BY block_num, id`

	rows, err := s.pool.Query(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("postgres: list events %s: %w", id, err)
	}
	defer rows.Close()

	var out []domain.SubjectEvent
	for rows.Next() {
		var (
			e         domain.SubjectEvent
			options   []byte
			blockNum  int64
			eventTime int64
			status    string
		)
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.Oper, &e.Event, &options, &blockNum, &eventTime, &status, &e.Message); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if options != nil {
			if err := json.Unmarshal(options, &e.Options); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event options: %w", err)
			}
		}
		e.BlockNum, e.Time = uint64(blockNum), uint32(eventTime)
		if e.Status, err = domain.ParseSubjectStatus(status); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return out, nil
}

var _ domain.EventStore = (*EventStore)(nil)
