package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/protocol"
)

// BlockStream reads blocks appended as JSON to a stream, remembering its
// position between calls. It is not safe for concurrent use.
type BlockStream struct {
	bus    domain.SignalBus
	stream string
	lastID string
	batch  int
}

// NewBlockStream reads stream from the start.
func NewBlockStream(bus domain.SignalBus, stream string) *BlockStream {
	return &BlockStream{bus: bus, stream: stream, lastID: "0", batch: 64}
}

// Next returns the blocks appended since the previous call.
func (s *BlockStream) Next(ctx context.Context) ([]protocol.Block, error) {
	msgs, err := s.bus.StreamRead(ctx, s.stream, s.lastID, s.batch)
	if err != nil {
		return nil, err
	}
	blocks := make([]protocol.Block, 0, len(msgs))
	for _, m := range msgs {
		var blk protocol.Block
		if err := json.Unmarshal(m.Payload, &blk); err != nil {
			return nil, fmt.Errorf("redis: decode block at %s: %w", m.ID, err)
		}
		blocks = append(blocks, blk)
		s.lastID = m.ID
	}
	return blocks, nil
}

// Append writes blk to the stream.
func (s *BlockStream) Append(ctx context.Context, blk protocol.Block) error {
	raw, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("redis: encode block %d: %w", blk.Number, err)
	}
	return s.bus.StreamAppend(ctx, s.stream, raw)
}
