package subject

import (
	"errors"
	"log/slog"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

var liveStatuses = []domain.SubjectStatus{
	domain.StatusCreate,
	domain.StatusVoteBegin,
	domain.StatusVoteEnd,
	domain.StatusJudge,
}

// Advance applies the time-triggered transitions due at now, at most one
// per subject. Subjects are visited by status, then id. A judged subject
// whose settlement cannot be decided stays in judge until its restore
// deadline.
func (e *Engine) Advance(now uint32) ([]Transition, error) {
	p := e.Profile()

	var due []domain.Subject
	for _, st := range liveStatuses {
		due = append(due, e.SubjectsByStatus(st)...)
	}

	var out []Transition
	for _, subj := range due {
		to, reason, err := e.advanceOne(subj, p, now)
		if err != nil {
			return out, err
		}
		if to == subj.Status {
			continue
		}
		out = append(out, Transition{SubjectID: subj.ID, From: subj.Status, To: to, Time: now, Reason: reason})
	}
	return out, nil
}

func (e *Engine) advanceOne(subj domain.Subject, p domain.SubjectProfile, now uint32) (domain.SubjectStatus, string, error) {
	move := func(to domain.SubjectStatus) error {
		_, err := e.subjects.Modify(subj.ID, func(s *domain.Subject) error {
			return e.setStatus(s, to, now)
		})
		return err
	}
	restoreDue := uint64(now) >= RestoreDeadline(p, subj)

	switch subj.Status {
	case domain.StatusCreate:
		if now >= subj.Expires.VoteBegin {
			return domain.StatusVoteBegin, "vote window opened", move(domain.StatusVoteBegin)
		}
	case domain.StatusVoteBegin:
		if now >= subj.Expires.VoteEnd {
			return domain.StatusVoteEnd, "vote window closed", move(domain.StatusVoteEnd)
		}
	case domain.StatusVoteEnd:
		if restoreDue {
			return domain.StatusRestore, "not judged before restore deadline", e.restore(subj, now)
		}
	case domain.StatusJudge:
		if now < subj.Expires.Settle {
			break
		}
		err := e.settle(subj, p, now)
		if err == nil {
			return domain.StatusSettle, "settled", nil
		}
		if domain.IsFatal(err) {
			return subj.Status, "", err
		}
		e.logger.Warn("settlement deferred",
			slog.String("id", string(subj.ID)),
			slog.String("error", err.Error()),
		)
		if restoreDue {
			return domain.StatusRestore, "settlement failed before restore deadline", e.restore(subj, now)
		}
		if errors.Is(err, domain.ErrOutOfRange) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrPrecondition) {
			return subj.Status, "", nil
		}
		return subj.Status, "", err
	}
	return subj.Status, "", nil
}
