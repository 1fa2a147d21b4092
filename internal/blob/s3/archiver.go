package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/oracle"
)

// defaultMultipartAt is the encoded size from which buckets are uploaded in
// parts.
const defaultMultipartAt int64 = 8 << 20

// Archiver uploads price buckets pruned from hot state. Uploads are a node
// side effect: the chain has already recorded the archive path, so a failed
// run is retried by the caller and never rolls back a block.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	logger *slog.Logger

	multipartAt int64
}

// NewArchiver returns an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),

		multipartAt: defaultMultipartAt,
	}
}

// WithMultipartThreshold uploads buckets of at least n encoded bytes through
// the multipart uploader, in parts of n bytes.
func (a *Archiver) WithMultipartThreshold(n int64) *Archiver {
	if n > 0 {
		a.multipartAt = n
	}
	return a
}

// Archive uploads each bucket to its archive path. Buckets already stored
// are skipped, so replaying the same blocks is harmless.
func (a *Archiver) Archive(ctx context.Context, buckets []domain.PriceBucket) (domain.ArchiveRun, error) {
	run := domain.ArchiveRun{RunID: uuid.NewString()}
	if len(buckets) == 0 {
		return run, nil
	}

	for _, b := range buckets {
		path := oracle.ArchivePath(b.Pair, b.Start)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return run, err
		}
		if exists {
			continue
		}
		raw, err := json.Marshal(b)
		if err != nil {
			return run, fmt.Errorf("s3blob: encode bucket %s@%d: %w", b.Pair, b.Start, err)
		}
		if int64(len(raw)) >= a.multipartAt {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(raw), a.multipartAt)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(raw), "application/json")
		}
		if err != nil {
			return run, err
		}
		run.Buckets++
		run.Bytes += int64(len(raw))
	}

	a.logger.InfoContext(ctx, "buckets archived",
		slog.String("run_id", run.RunID),
		slog.Int("buckets", run.Buckets),
		slog.Int64("bytes", run.Bytes),
		slog.Int("skipped", len(buckets)-run.Buckets),
	)
	if a.audit != nil && run.Buckets > 0 {
		if err := a.audit.Log(ctx, "archive.buckets", map[string]any{
			"run_id":  run.RunID,
			"buckets": run.Buckets,
			"bytes":   run.Bytes,
		}); err != nil {
			return run, fmt.Errorf("s3blob: audit archive run: %w", err)
		}
	}
	return run, nil
}

// Load reads back an archived bucket.
func (a *Archiver) Load(ctx context.Context, key domain.PairKey, start uint32) (domain.PriceBucket, error) {
	body, err := a.reader.Get(ctx, oracle.ArchivePath(key, start))
	if err != nil {
		return domain.PriceBucket{}, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.PriceBucket{}, fmt.Errorf("s3blob: read bucket %s@%d: %w", key, start, err)
	}
	var b domain.PriceBucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return domain.PriceBucket{}, fmt.Errorf("s3blob: decode bucket %s@%d: %w", key, start, err)
	}
	if b.Pair != key || b.Start != start {
		return domain.PriceBucket{}, errors.New("s3blob: archived bucket does not match its path")
	}
	return b, nil
}

// Stored lists the archive paths kept for key, oldest first.
func (a *Archiver) Stored(ctx context.Context, key domain.PairKey) ([]string, error) {
	infos, err := a.reader.List(ctx, oracle.ArchivePrefix(key))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		paths = append(paths, info.Path)
	}
	slices.Sort(paths)
	return paths, nil
}
