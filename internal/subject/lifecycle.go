package subject

import "github.com/alanyoungcy/aftchain/internal/domain"

// transitions lists every legal status change. Judge may be re-entered to
// replace the recorded outcome.
var transitions = map[domain.SubjectStatus][]domain.SubjectStatus{
	domain.StatusNone:      {domain.StatusCreate},
	domain.StatusCreate:    {domain.StatusVoteBegin, domain.StatusRestore},
	domain.StatusVoteBegin: {domain.StatusVoteEnd, domain.StatusRestore},
	domain.StatusVoteEnd:   {domain.StatusJudge, domain.StatusRestore},
	domain.StatusJudge:     {domain.StatusJudge, domain.StatusSettle, domain.StatusRestore},
	domain.StatusSettle:    {domain.StatusClose},
}

// CanTransition reports whether a subject may move from one status to
// another.
func CanTransition(from, to domain.SubjectStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Event names accepted by HandleEvent.
const (
	EventJudge   = "judge"
	EventSettle  = "settle"
	EventClose   = "close"
	EventRestore = "restore"
)

// Transition describes one status change applied to a subject.
type Transition struct {
	SubjectID domain.SubjectID     `json:"subject_id"`
	From      domain.SubjectStatus `json:"from"`
	To        domain.SubjectStatus `json:"to"`
	Time      uint32               `json:"time"`
	Reason    string               `json:"reason"`
}

// Expiry computes the lifecycle deadlines of a subject published at now.
func Expiry(p domain.SubjectProfile, now, predictionEnd uint32) domain.StatusExpires {
	duration := uint64(predictionEnd - now)
	return domain.StatusExpires{
		Create:        now,
		VoteBegin:     now,
		VoteEnd:       now + uint32(duration*p.VoteDurationPercent/10000),
		PredictionEnd: predictionEnd,
		Settle:        predictionEnd + p.DelayForJudge + p.DelaySettle,
	}
}

// RestoreDeadline is when an unsettled subject is aborted automatically.
func RestoreDeadline(p domain.SubjectProfile, s domain.Subject) uint64 {
	return uint64(s.Expires.PredictionEnd) + uint64(p.DelayForRestore)
}

// JudgeOpens is the earliest time a judge event is accepted.
func JudgeOpens(p domain.SubjectProfile, s domain.Subject) uint64 {
	return uint64(s.Expires.PredictionEnd) + uint64(p.DelayForJudge)
}
