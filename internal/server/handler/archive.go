package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// ArchiveReader reads price buckets moved out of hot state.
type ArchiveReader interface {
	Stored(ctx context.Context, key domain.PairKey) ([]string, error)
	Load(ctx context.Context, key domain.PairKey, start uint32) (domain.PriceBucket, error)
}

// ArchiveHandler serves the bucket archive.
type ArchiveHandler struct {
	archive ArchiveReader
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// ListBuckets returns the archived bucket paths of a pair, oldest first.
// GET /archive?pair=1000001:BTC/USD
func (h *ArchiveHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	key, err := domain.ParsePairKey(r.URL.Query().Get("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	paths, err := h.archive.Stored(r.Context(), key)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("pair", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if paths == nil {
		paths = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": key.String(), "buckets": paths})
}

// GetBucket returns one archived bucket.
// GET /archive/bucket?pair=1000001:BTC/USD&start=1700000000
func (h *ArchiveHandler) GetBucket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, err := domain.ParsePairKey(q.Get("pair"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := strconv.ParseUint(q.Get("start"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bucket start")
		return
	}
	bucket, err := h.archive.Load(r.Context(), key, uint32(start))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bucket not archived")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: load bucket failed",
			slog.String("pair", key.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load bucket")
		return
	}
	writeJSON(w, http.StatusOK, bucket)
}
