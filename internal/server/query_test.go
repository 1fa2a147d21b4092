package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/monitor"
	"github.com/alanyoungcy/aftchain/internal/pipeline"
	"github.com/alanyoungcy/aftchain/internal/server/handler"
)

type fakeSubjects struct {
	byID     map[domain.SubjectID]domain.Subject
	status   domain.SubjectStatus
	lastOpts domain.ListOpts
}

func (f *fakeSubjects) GetByID(_ context.Context, id domain.SubjectID) (domain.Subject, error) {
	s, ok := f.byID[id]
	if !ok {
		return domain.Subject{}, domain.NotFoundf("subject %s", id)
	}
	return s, nil
}

func (f *fakeSubjects) GetByName(_ context.Context, name string) (domain.Subject, error) {
	for _, s := range f.byID {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.Subject{}, domain.NotFoundf("subject %q", name)
}

func (f *fakeSubjects) ListByStatus(_ context.Context, status domain.SubjectStatus, opts domain.ListOpts) ([]domain.Subject, error) {
	f.status, f.lastOpts = status, opts
	return nil, nil
}

func (f *fakeSubjects) ListByCreator(_ context.Context, creator domain.AccountID, opts domain.ListOpts) ([]domain.Subject, error) {
	f.lastOpts = opts
	var out []domain.Subject
	for _, s := range f.byID {
		if s.Creator == creator {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeVotes struct{ votes []domain.SubjectVote }

func (f fakeVotes) ListBySubject(_ context.Context, id domain.SubjectID, _ domain.ListOpts) ([]domain.SubjectVote, error) {
	var out []domain.SubjectVote
	for _, v := range f.votes {
		if v.SubjectID == id {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f fakeVotes) ListByVoter(_ context.Context, voter domain.AccountID, _ domain.ListOpts) ([]domain.SubjectVote, error) {
	var out []domain.SubjectVote
	for _, v := range f.votes {
		if v.Voter == voter {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeEvents struct{ err error }

func (f fakeEvents) ListBySubject(context.Context, domain.SubjectID) ([]domain.SubjectEvent, error) {
	return nil, f.err
}

type fakeBlocks []domain.BlockRecord

func (f fakeBlocks) Last(context.Context) (domain.BlockRecord, error) {
	if len(f) == 0 {
		return domain.BlockRecord{}, domain.NotFoundf("no blocks")
	}
	return f[len(f)-1], nil
}

func (f fakeBlocks) GetByNumber(_ context.Context, n uint64) (domain.BlockRecord, error) {
	for _, b := range f {
		if b.Number == n {
			return b, nil
		}
	}
	return domain.BlockRecord{}, domain.NotFoundf("block %d", n)
}

type fakeAudit []domain.AuditEntry

func (f fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return f, nil
}

type fakeArchive map[uint32]domain.PriceBucket

func (f fakeArchive) Stored(_ context.Context, key domain.PairKey) ([]string, error) {
	if key.QuoteBase != "BTC/USD" {
		return nil, nil
	}
	return []string{"archive/1000001/BTC-USD/3600"}, nil
}

func (f fakeArchive) Load(_ context.Context, key domain.PairKey, start uint32) (domain.PriceBucket, error) {
	b, ok := f[start]
	if !ok {
		return domain.PriceBucket{}, domain.NotFoundf("bucket %s@%d", key, start)
	}
	return b, nil
}

func newQueryServer(subjects *fakeSubjects, events fakeEvents) http.Handler {
	logger := slog.New(slog.DiscardHandler)
	votes := fakeVotes{votes: []domain.SubjectVote{
		{ID: "1.19.0", Voter: "1.2.20", SubjectID: "1.18.0"},
		{ID: "1.19.1", Voter: "1.2.21", SubjectID: "1.18.0"},
		{ID: "1.19.2", Voter: "1.2.20", SubjectID: "1.18.1"},
	}}
	pair := domain.PairKey{PlatformID: "1000001", QuoteBase: "BTC/USD"}
	return NewServer(Config{Addr: ":0"}, Handlers{
		Health:   handler.NewHealthHandler("node-1", "node", fixedStatus(pipeline.Status{UpdatedAt: time.Now()}), time.Minute),
		Monitor:  handler.NewMonitorHandler(monitor.New(monitor.DefaultConfig(), nil, logger)),
		Subjects: handler.NewSubjectHandler(subjects, votes, events, logger),
		Blocks: handler.NewBlockHandler(
			fakeBlocks{{Number: 7, Digest: "aa"}, {Number: 8, Digest: "bb"}},
			fakeAudit{{ID: 1, Event: "bucket_archived"}},
			logger,
		),
		Archive: handler.NewArchiveHandler(fakeArchive{3600: {Pair: pair, Start: 3600}}, logger),
	}, logger).Handler()
}

func TestSubjectQueries(t *testing.T) {
	subjects := &fakeSubjects{byID: map[domain.SubjectID]domain.Subject{
		"1.18.0": {ID: "1.18.0", Name: "btc-100k", Creator: "1.2.20"},
		"1.18.1": {ID: "1.18.1", Name: "eth-flip", Creator: "1.2.21"},
	}}
	h := newQueryServer(subjects, fakeEvents{})

	tests := []struct {
		name string
		path string
		code int
		key  string
		size int
	}{
		{name: "by id", path: "/subjects/1.18.0", code: http.StatusOK},
		{name: "unknown id", path: "/subjects/1.18.9", code: http.StatusNotFound},
		{name: "by creator", path: "/subjects?creator=1.2.21", code: http.StatusOK, key: "subjects", size: 1},
		{name: "by name", path: "/subjects?name=btc-100k", code: http.StatusOK, key: "subjects", size: 1},
		{name: "unknown name", path: "/subjects?name=nope", code: http.StatusOK, key: "subjects", size: 0},
		{name: "by status", path: "/subjects?status=vote_begin", code: http.StatusOK, key: "subjects", size: 0},
		{name: "bad status", path: "/subjects?status=voting", code: http.StatusBadRequest},
		{name: "no filter", path: "/subjects", code: http.StatusBadRequest},
		{name: "subject votes", path: "/subjects/1.18.0/votes", code: http.StatusOK, key: "votes", size: 2},
		{name: "account votes", path: "/accounts/1.2.20/votes", code: http.StatusOK, key: "votes", size: 2},
		{name: "subject events", path: "/subjects/1.18.0/events", code: http.StatusOK, key: "events", size: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, h, tt.path, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.key != "" {
				require.Len(t, body[tt.key], tt.size)
			}
		})
	}

	rec, body := get(t, h, "/subjects/1.18.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "eth-flip", body["subject_name"])
}

func TestSubjectListPagination(t *testing.T) {
	subjects := &fakeSubjects{}
	h := newQueryServer(subjects, fakeEvents{})

	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{query: "", limit: 50, offset: 0},
		{query: "&limit=10&offset=20", limit: 10, offset: 20},
		{query: "&limit=9000", limit: 500, offset: 0},
		{query: "&limit=-1&offset=-5", limit: 50, offset: 0},
	}
	for _, tt := range tests {
		rec, body := get(t, h, "/subjects?status=judge"+tt.query, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, domain.StatusJudge, subjects.status)
		require.Equal(t, domain.ListOpts{Limit: tt.limit, Offset: tt.offset}, subjects.lastOpts)
		require.InDelta(t, tt.limit, body["limit"], 0)
	}
}

func TestSubjectEventsStoreFailure(t *testing.T) {
	h := newQueryServer(&fakeSubjects{}, fakeEvents{err: errors.New("connection reset")})
	rec, body := get(t, h, "/subjects/1.18.0/events", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "failed to list events", body["error"])
}

func TestBlockQueries(t *testing.T) {
	h := newQueryServer(&fakeSubjects{}, fakeEvents{})

	tests := []struct {
		path   string
		code   int
		digest string
	}{
		{path: "/blocks/latest", code: http.StatusOK, digest: "bb"},
		{path: "/blocks/7", code: http.StatusOK, digest: "aa"},
		{path: "/blocks/99", code: http.StatusNotFound},
		{path: "/blocks/seven", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := get(t, h, tt.path, nil)
			require.Equal(t, tt.code, rec.Code)
			if tt.digest != "" {
				require.Equal(t, tt.digest, body["digest"])
			}
		})
	}

	rec, body := get(t, h, "/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["entries"], 1)
}

func TestArchiveQueries(t *testing.T) {
	h := newQueryServer(&fakeSubjects{}, fakeEvents{})

	tests := []struct {
		name string
		path string
		code int
	}{
		{name: "list", path: "/archive?pair=1000001:BTC/USD", code: http.StatusOK},
		{name: "list bad pair", path: "/archive?pair=BTC", code: http.StatusBadRequest},
		{name: "bucket", path: "/archive/bucket?pair=1000001:BTC/USD&start=3600", code: http.StatusOK},
		{name: "bucket missing", path: "/archive/bucket?pair=1000001:BTC/USD&start=7200", code: http.StatusNotFound},
		{name: "bucket bad start", path: "/archive/bucket?pair=1000001:BTC/USD&start=x", code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := get(t, h, tt.path, nil)
			require.Equal(t, tt.code, rec.Code)
		})
	}

	_, body := get(t, h, "/archive?pair=1000001:BTC/USD", nil)
	require.Equal(t, []any{"archive/1000001/BTC-USD/3600"}, body["buckets"])
}

func TestQueryRoutesAbsentWithoutStores(t *testing.T) {
	h := newTestServer(pipeline.Status{UpdatedAt: time.Now()}, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subjects/1.18.0", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
