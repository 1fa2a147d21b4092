package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// SubjectStore persists a read-only projection of subjects and their
// statistics. It never feeds back into chain state.
type SubjectStore interface {
	Upsert(ctx context.Context, subject Subject, stats SubjectStatistics) error
	GetByID(ctx context.Context, id SubjectID) (Subject, error)
	GetByName(ctx context.Context, name string) (Subject, error)
	ListByStatus(ctx context.Context, status SubjectStatus, opts ListOpts) ([]Subject, error)
	ListByCreator(ctx context.Context, creator AccountID, opts ListOpts) ([]Subject, error)
}

// VoteStore persists projected votes.
type VoteStore interface {
	Upsert(ctx context.Context, votes []SubjectVote) error
	ListBySubject(ctx context.Context, id SubjectID, opts ListOpts) ([]SubjectVote, error)
	ListByVoter(ctx context.Context, voter AccountID, opts ListOpts) ([]SubjectVote, error)
}

// EventStore persists projected subject events.
type EventStore interface {
	Insert(ctx context.Context, events []SubjectEvent) error
	ListBySubject(ctx context.Context, id SubjectID) ([]SubjectEvent, error)
}

// BlockRecord summarises one applied block.
type BlockRecord struct {
	Number    uint64    `json:"number"`
	Timestamp uint32    `json:"timestamp"`
	Digest    string    `json:"digest"`
	Applied   int       `json:"applied"`
	Rejected  int       `json:"rejected"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockStore persists applied block summaries.
type BlockStore interface {
	Insert(ctx context.Context, rec BlockRecord) error
	Last(ctx context.Context) (BlockRecord, error)
	GetByNumber(ctx context.Context, number uint64) (BlockRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
