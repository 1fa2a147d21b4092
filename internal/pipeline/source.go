// Package pipeline moves blocks from a source through the chain and fans the
// results out to projection, cold archive and the feed monitor.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/alanyoungcy/aftchain/internal/protocol"
)

// BlockSource yields blocks in order. An empty batch means nothing new yet.
type BlockSource interface {
	Next(ctx context.Context) ([]protocol.Block, error)
}

// maxLineSize bounds one JSON-lines block.
const maxLineSize = 16 << 20

// FileSource reads JSON-lines blocks, one per line. Blank lines are skipped.
type FileSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	batch   int
	line    int
}

// OpenFile opens path as a FileSource.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open blocks: %w", err)
	}
	src := NewFileSource(f)
	src.closer = f
	return src, nil
}

// NewFileSource reads blocks from r.
func NewFileSource(r io.Reader) *FileSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	return &FileSource{scanner: sc, batch: 256}
}

// Next returns up to one batch of blocks, or none at end of input.
func (s *FileSource) Next(ctx context.Context) ([]protocol.Block, error) {
	var out []protocol.Block
	for len(out) < s.batch && s.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var blk protocol.Block
		if err := json.Unmarshal(raw, &blk); err != nil {
			return nil, fmt.Errorf("pipeline: line %d: %w", s.line, err)
		}
		out = append(out, blk)
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("pipeline: read blocks: %w", err)
	}
	return out, nil
}

// Close closes the underlying file, if any.
func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
