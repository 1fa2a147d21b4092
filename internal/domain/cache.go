package domain

import "context"

// LatestPrice is the cached latest valid quote of a pair.
type LatestPrice struct {
	Pair  string `json:"pair"`
	Price Price  `json:"price"`
	Time  uint32 `json:"time"`
}

// PriceCache provides fast access to the latest valid oracle prices.
type PriceCache interface {
	SetLatest(ctx context.Context, p LatestPrice) error
	GetLatest(ctx context.Context, pair string) (LatestPrice, error)
	GetLatestMany(ctx context.Context, pairs []string) (map[string]LatestPrice, error)
}

// StreamMessage represents a single entry from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus publishes notifications and keeps durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
