// Package subject runs the prediction-market lifecycle: publishing, voting,
// judge/settle/close/restore events and the block-time driven transitions
// between them.
package subject

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
)

const (
	byName         = "by_name"
	byStatus       = "by_status"
	byCreator      = "by_creator"
	byOwner        = "by_owner"
	bySubject      = "by_subject"
	bySubjectVoter = "by_subject_voter"
	byVoter        = "by_voter"
)

// Clock supplies the head block.
type Clock interface {
	HeadBlockTime() uint32
	HeadBlockNum() uint64
}

// PriceSource is the read-only oracle view used when judging price subjects.
type PriceSource interface {
	Pair(key domain.PairKey) (domain.CoinPair, error)
	QueryPrice(key domain.PairKey, t uint32) (domain.PriceQuote, error)
}

// Ledger moves stakes and payouts.
type Ledger interface {
	Debit(account domain.AccountID, amount domain.Asset) error
	Credit(account domain.AccountID, amount domain.Asset) error
	Burn(amount domain.Asset) error
}

// Engine owns the subject tables.
type Engine struct {
	clock  Clock
	prices PriceSource
	ledger Ledger
	logger *slog.Logger

	// ProtocolAccount receives non-refundable fees and payout dust.
	ProtocolAccount domain.AccountID

	profileID domain.ObjectID
	profiles  *objectdb.Table[domain.ObjectID, domain.SubjectProfile]
	subjects  *objectdb.Table[domain.SubjectID, domain.Subject]
	stats     *objectdb.Table[domain.StatisticsID, domain.SubjectStatistics]
	votes     *objectdb.Table[domain.VoteID, domain.SubjectVote]
	events    *objectdb.Table[domain.EventID, domain.SubjectEvent]
}

// New creates the subject tables in db and stores the genesis profile.
func New(db *objectdb.DB, profile domain.SubjectProfile, clock Clock, prices PriceSource, ledger Ledger, logger *slog.Logger) (*Engine, error) {
	e := &Engine{
		clock:           clock,
		prices:          prices,
		ledger:          ledger,
		logger:          logger.With(slog.String("component", "subject")),
		ProtocolAccount: domain.CommitteeAccount,
		profiles: objectdb.NewTable[domain.ObjectID, domain.SubjectProfile](
			db, "subject_profile", domain.ImplementationSpace, domain.SubjectProfileType, cloneProfile),
		subjects: objectdb.NewTable[domain.SubjectID, domain.Subject](
			db, "subject", domain.ProtocolSpace, domain.SubjectType, domain.Subject.Clone),
		stats: objectdb.NewTable[domain.StatisticsID, domain.SubjectStatistics](
			db, "subject_statistics", domain.ImplementationSpace, domain.SubjectStatisticsType, domain.SubjectStatistics.Clone),
		votes: objectdb.NewTable[domain.VoteID, domain.SubjectVote](
			db, "subject_vote", domain.ProtocolSpace, domain.SubjectVoteType, domain.SubjectVote.Clone),
		events: objectdb.NewTable[domain.EventID, domain.SubjectEvent](
			db, "subject_event", domain.ProtocolSpace, domain.SubjectEventType, domain.SubjectEvent.Clone),
	}
	e.subjects.AddIndex(objectdb.IndexSpec[domain.Subject]{
		Name: byName, Unique: true,
		Key: func(s domain.Subject) string { return s.Name },
	})
	e.subjects.AddIndex(objectdb.IndexSpec[domain.Subject]{
		Name: byStatus,
		Key:  func(s domain.Subject) string { return statusKey(s.Status) },
	})
	e.subjects.AddIndex(objectdb.IndexSpec[domain.Subject]{
		Name: byCreator,
		Key:  func(s domain.Subject) string { return string(s.Creator) },
	})
	e.stats.AddIndex(objectdb.IndexSpec[domain.SubjectStatistics]{
		Name: byOwner, Unique: true,
		Key: func(s domain.SubjectStatistics) string { return string(s.Owner) },
	})
	e.votes.AddIndex(objectdb.IndexSpec[domain.SubjectVote]{
		Name: bySubject,
		Key:  func(v domain.SubjectVote) string { return string(v.SubjectID) },
	})
	e.votes.AddIndex(objectdb.IndexSpec[domain.SubjectVote]{
		Name: bySubjectVoter,
		Key:  func(v domain.SubjectVote) string { return voterKey(v.SubjectID, v.Voter) },
	})
	e.votes.AddIndex(objectdb.IndexSpec[domain.SubjectVote]{
		Name: byVoter,
		Key:  func(v domain.SubjectVote) string { return string(v.Voter) },
	})
	e.events.AddIndex(objectdb.IndexSpec[domain.SubjectEvent]{
		Name: bySubject,
		Key:  func(ev domain.SubjectEvent) string { return string(ev.SubjectID) },
	})

	_, err := e.profiles.Create(func(id domain.ObjectID) domain.SubjectProfile {
		e.profileID = id
		return profile
	})
	if err != nil {
		return nil, fmt.Errorf("subject: store profile: %w", err)
	}
	return e, nil
}

func cloneProfile(p domain.SubjectProfile) domain.SubjectProfile {
	p.EventOperators = slices.Clone(p.EventOperators)
	return p
}

func statusKey(s domain.SubjectStatus) string {
	return fmt.Sprintf("%02d", uint8(s))
}

func voterKey(id domain.SubjectID, voter domain.AccountID) string {
	return string(id) + "|" + string(voter)
}

// Profile returns the current subject parameters.
func (e *Engine) Profile() domain.SubjectProfile {
	p, err := e.profiles.Get(e.profileID)
	if err != nil {
		return domain.DefaultSubjectProfile()
	}
	return p
}

// SetProfile replaces the subject parameters.
func (e *Engine) SetProfile(p domain.SubjectProfile) error {
	_, err := e.profiles.Modify(e.profileID, func(row *domain.SubjectProfile) error {
		*row = cloneProfile(p)
		return nil
	})
	return err
}

// Subject returns a subject by id.
func (e *Engine) Subject(id domain.SubjectID) (domain.Subject, error) {
	return e.subjects.Get(id)
}

// SubjectByName returns a subject by its unique name.
func (e *Engine) SubjectByName(name string) (domain.Subject, error) {
	return e.subjects.Find(byName, name)
}

// SubjectsByStatus returns the subjects in status, in id order.
func (e *Engine) SubjectsByStatus(status domain.SubjectStatus) []domain.Subject {
	out, _ := e.subjects.Range(byStatus, statusKey(status))
	return out
}

// SubjectsByCreator returns the subjects published by creator, in id order.
func (e *Engine) SubjectsByCreator(creator domain.AccountID) []domain.Subject {
	out, _ := e.subjects.Range(byCreator, string(creator))
	return out
}

// Statistics returns the vote aggregate of a subject.
func (e *Engine) Statistics(id domain.SubjectID) (domain.SubjectStatistics, error) {
	return e.stats.Find(byOwner, string(id))
}

// Votes returns every vote on a subject in submission order.
func (e *Engine) Votes(id domain.SubjectID) []domain.SubjectVote {
	out, _ := e.votes.Range(bySubject, string(id))
	return out
}

// VotesByVoter returns every vote cast by voter in submission order.
func (e *Engine) VotesByVoter(voter domain.AccountID) []domain.SubjectVote {
	out, _ := e.votes.Range(byVoter, string(voter))
	return out
}

// Events returns the recorded events of a subject.
func (e *Engine) Events(id domain.SubjectID) []domain.SubjectEvent {
	out, _ := e.events.Range(bySubject, string(id))
	return out
}

// Snapshot returns every subject object for state hashing, in table order.
func (e *Engine) Snapshot() (subjects []domain.Subject, stats []domain.SubjectStatistics, votes []domain.SubjectVote, events []domain.SubjectEvent) {
	return e.subjects.All(), e.stats.All(), e.votes.All(), e.events.All()
}

func (e *Engine) setStatus(s *domain.Subject, to domain.SubjectStatus, now uint32) error {
	if !CanTransition(s.Status, to) {
		return domain.Consistencyf("subject %s: illegal transition %s -> %s", s.ID, s.Status, to)
	}
	s.Status = to
	s.LastTransition = now
	return nil
}
