package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// BlockReader reads projected block summaries.
type BlockReader interface {
	Last(ctx context.Context) (domain.BlockRecord, error)
	GetByNumber(ctx context.Context, number uint64) (domain.BlockRecord, error)
}

// AuditReader lists the audit log.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// BlockHandler serves block summaries and the audit log. Either reader may
// be nil when its store is not configured.
type BlockHandler struct {
	blocks BlockReader
	audit  AuditReader
	logger *slog.Logger
}

// NewBlockHandler creates a BlockHandler.
func NewBlockHandler(blocks BlockReader, audit AuditReader, logger *slog.Logger) *BlockHandler {
	return &BlockHandler{blocks: blocks, audit: audit, logger: logger}
}

// LatestBlock returns the last projected block.
// GET /blocks/latest
func (h *BlockHandler) LatestBlock(w http.ResponseWriter, r *http.Request) {
	rec, err := h.blocks.Last(r.Context())
	h.writeBlock(w, r, rec, err)
}

// GetBlock returns one projected block.
// GET /blocks/{number}
func (h *BlockHandler) GetBlock(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(r.PathValue("number"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block number")
		return
	}
	rec, err := h.blocks.GetByNumber(r.Context(), n)
	h.writeBlock(w, r, rec, err)
}

func (h *BlockHandler) writeBlock(w http.ResponseWriter, r *http.Request, rec domain.BlockRecord, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "block not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get block failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get block")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// ListAudit returns audit entries, newest first.
// GET /audit?limit=50&offset=0
func (h *BlockHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries, Limit: opts.Limit, Offset: opts.Offset})
}
