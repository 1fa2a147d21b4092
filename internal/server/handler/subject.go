package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// SubjectReader is the projection read side the subject endpoints need.
type SubjectReader interface {
	GetByID(ctx context.Context, id domain.SubjectID) (domain.Subject, error)
	GetByName(ctx context.Context, name string) (domain.Subject, error)
	ListByStatus(ctx context.Context, status domain.SubjectStatus, opts domain.ListOpts) ([]domain.Subject, error)
	ListByCreator(ctx context.Context, creator domain.AccountID, opts domain.ListOpts) ([]domain.Subject, error)
}

// VoteReader lists projected votes.
type VoteReader interface {
	ListBySubject(ctx context.Context, id domain.SubjectID, opts domain.ListOpts) ([]domain.SubjectVote, error)
	ListByVoter(ctx context.Context, voter domain.AccountID, opts domain.ListOpts) ([]domain.SubjectVote, error)
}

// EventReader lists projected subject events.
type EventReader interface {
	ListBySubject(ctx context.Context, id domain.SubjectID) ([]domain.SubjectEvent, error)
}

// SubjectHandler serves the subject projection.
type SubjectHandler struct {
	subjects SubjectReader
	votes    VoteReader
	events   EventReader
	logger   *slog.Logger
}

// NewSubjectHandler creates a SubjectHandler.
func NewSubjectHandler(subjects SubjectReader, votes VoteReader, events EventReader, logger *slog.Logger) *SubjectHandler {
	return &SubjectHandler{
		subjects: subjects,
		votes:    votes,
		events:   events,
		logger:   logger,
	}
}

type listSubjectsResponse struct {
	Subjects []domain.Subject `json:"subjects"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

type listVotesResponse struct {
	Votes  []domain.SubjectVote `json:"votes"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListSubjects filters subjects by exactly one of status, creator or name.
// GET /subjects?status=vote_begin&limit=50&offset=0
func (h *SubjectHandler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := parseListOpts(r)

	var (
		subjects []domain.Subject
		err      error
	)
	switch {
	case q.Get("name") != "":
		var subj domain.Subject
		subj, err = h.subjects.GetByName(r.Context(), q.Get("name"))
		if errors.Is(err, domain.ErrNotFound) {
			subjects, err = []domain.Subject{}, nil
		} else if err == nil {
			subjects = []domain.Subject{subj}
		}
	case q.Get("creator") != "":
		subjects, err = h.subjects.ListByCreator(r.Context(), domain.AccountID(q.Get("creator")), opts)
	case q.Get("status") != "":
		status, perr := domain.ParseSubjectStatus(q.Get("status"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		subjects, err = h.subjects.ListByStatus(r.Context(), status, opts)
	default:
		writeError(w, http.StatusBadRequest, "one of status, creator or name is required")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list subjects failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list subjects")
		return
	}
	if subjects == nil {
		subjects = []domain.Subject{}
	}
	writeJSON(w, http.StatusOK, listSubjectsResponse{Subjects: subjects, Limit: opts.Limit, Offset: opts.Offset})
}

// GetSubject returns one subject.
// GET /subjects/{id}
func (h *SubjectHandler) GetSubject(w http.ResponseWriter, r *http.Request) {
	id := domain.SubjectID(r.PathValue("id"))
	subj, err := h.subjects.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "subject not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get subject failed",
			slog.String("subject", string(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get subject")
		return
	}
	writeJSON(w, http.StatusOK, subj)
}

// ListSubjectVotes returns the votes cast on a subject.
// GET /subjects/{id}/votes
func (h *SubjectHandler) ListSubjectVotes(w http.ResponseWriter, r *http.Request) {
	id := domain.SubjectID(r.PathValue("id"))
	opts := parseListOpts(r)
	votes, err := h.votes.ListBySubject(r.Context(), id, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list subject votes failed",
			slog.String("subject", string(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list votes")
		return
	}
	if votes == nil {
		votes = []domain.SubjectVote{}
	}
	writeJSON(w, http.StatusOK, listVotesResponse{Votes: votes, Limit: opts.Limit, Offset: opts.Offset})
}

// ListSubjectEvents returns the events reported on a subject.
// GET /subjects/{id}/events
func (h *SubjectHandler) ListSubjectEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.SubjectID(r.PathValue("id"))
	events, err := h.events.ListBySubject(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list subject events failed",
			slog.String("subject", string(id)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.SubjectEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ListAccountVotes returns the votes an account cast.
// GET /accounts/{id}/votes
func (h *SubjectHandler) ListAccountVotes(w http.ResponseWriter, r *http.Request) {
	voter := domain.AccountID(r.PathValue("id"))
	opts := parseListOpts(r)
	votes, err := h.votes.ListByVoter(r.Context(), voter, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list account votes failed",
			slog.String("voter", string(voter)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list votes")
		return
	}
	if votes == nil {
		votes = []domain.SubjectVote{}
	}
	writeJSON(w, http.StatusOK, listVotesResponse{Votes: votes, Limit: opts.Limit, Offset: opts.Offset})
}
