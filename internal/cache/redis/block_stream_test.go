package redis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/protocol"
)

// memBus keeps streams in memory.
type memBus struct {
	streams map[string][]domain.StreamMessage
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if b.streams == nil {
		b.streams = make(map[string][]domain.StreamMessage)
	}
	id := fmt.Sprintf("%d-0", len(b.streams[stream])+1)
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *memBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if (lastID == "0" || m.ID > lastID) && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestBlockStreamResumes(t *testing.T) {
	ctx := context.Background()
	bus := &memBus{}
	writer := NewBlockStream(bus, "blocks")
	reader := NewBlockStream(bus, "blocks")

	feed := protocol.CoinFeedPriceOp{
		Fee:        domain.CoreAmount(100),
		Publisher:  "1.2.10",
		PlatformID: "1000001",
		QuoteBase:  "BTC/USD",
		Prices:     map[uint32]domain.Price{60: 5000000000},
	}
	require.NoError(t, writer.Append(ctx, protocol.Block{Number: 1, Timestamp: 60, Operations: []protocol.Envelope{protocol.MustWrap(feed)}}))
	require.NoError(t, writer.Append(ctx, protocol.Block{Number: 2, Timestamp: 120}))

	blocks, err := reader.Next(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(1), blocks[0].Number)

	op, err := blocks[0].Operations[0].Decode()
	require.NoError(t, err)
	require.Equal(t, feed.Prices, op.(protocol.CoinFeedPriceOp).Prices)

	blocks, err = reader.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, blocks)

	require.NoError(t, writer.Append(ctx, protocol.Block{Number: 3, Timestamp: 180}))
	blocks, err = reader.Next(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, uint64(3), blocks[0].Number)
}

func TestBlockStreamRejectsGarbage(t *testing.T) {
	bus := &memBus{}
	require.NoError(t, bus.StreamAppend(context.Background(), "blocks", []byte("{")))
	_, err := NewBlockStream(bus, "blocks").Next(context.Background())
	require.Error(t, err)
}

func TestParseLatest(t *testing.T) {
	tests := []struct {
		name   string
		vals   map[string]string
		wantOK bool
		err    bool
	}{
		{name: "empty", vals: map[string]string{}},
		{name: "no time", vals: map[string]string{"price": "1"}},
		{name: "ok", vals: map[string]string{"price": "5000000000", "time": "60"}, wantOK: true},
		{name: "bad price", vals: map[string]string{"price": "x", "time": "60"}, err: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok, err := parseLatest("1000001:BTC/USD", tt.vals)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				require.Equal(t, domain.LatestPrice{Pair: "1000001:BTC/USD", Price: 5000000000, Time: 60}, p)
			}
		})
	}
}
