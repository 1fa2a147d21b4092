package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Price is an 8-decimal fixed-point quote (5000000000 == 50.00000000).
type Price int64

const (
	// PricePrecision is the number of fractional digits carried by a Price.
	PricePrecision = 8

	// InvalidFeedPrice marks "no valid quote available this tick". It is a
	// legal feed value that never updates the latest valid price.
	InvalidFeedPrice Price = -100000000

	// FeedAlignment is the granularity of feed timestamps in seconds.
	FeedAlignment = 60

	// BucketInterval is the window covered by one PriceBucket.
	BucketInterval = 24 * 60 * 60
)

// PairStatus is the listing state of a trading pair.
type PairStatus string

const (
	PairVisibleActive   PairStatus = "1"
	PairVisibleInactive PairStatus = "2"
	PairDelisted        PairStatus = "3"
)

// Valid reports whether s is one of the known listing states.
func (s PairStatus) Valid() bool {
	switch s {
	case PairVisibleActive, PairVisibleInactive, PairDelisted:
		return true
	}
	return false
}

// PairKey identifies a trading pair on a platform, e.g. 1000001:BTC/USD.
type PairKey struct {
	PlatformID string `json:"platform_id"`
	QuoteBase  string `json:"quote_base"`
}

// String returns the canonical "<platform_id>:<quote_base>" form.
func (k PairKey) String() string {
	return k.PlatformID + ":" + k.QuoteBase
}

// ParsePairKey splits a canonical pair key.
func ParsePairKey(s string) (PairKey, error) {
	platform, qb, ok := strings.Cut(s, ":")
	if !ok || platform == "" || qb == "" {
		return PairKey{}, Validationf("malformed pair key %q", s)
	}
	return PairKey{PlatformID: platform, QuoteBase: qb}, nil
}

// CoinPrice is a price tagged with the pair it belongs to.
type CoinPrice struct {
	Price  Price  `json:"price"`
	Pair   string `json:"platform_quote_base"`
	Source string `json:"src,omitempty"`
}

// NewCoinPrice builds a CoinPrice for key.
func NewCoinPrice(key PairKey, p Price) CoinPrice {
	return CoinPrice{Price: p, Pair: key.String()}
}

// InvalidCoinPrice returns the sentinel price for key.
func InvalidCoinPrice(key PairKey) CoinPrice {
	return NewCoinPrice(key, InvalidFeedPrice)
}

// Valid reports whether the price is not the invalid sentinel.
func (c CoinPrice) Valid() bool {
	return c.Price != InvalidFeedPrice
}

// CoinPair is the registered trading pair object.
type CoinPair struct {
	ID        CoinID      `json:"id"`
	Key       PairKey     `json:"key"`
	Status    PairStatus  `json:"status"`
	Feeders   []AccountID `json:"feeders"`
	DynamicID DynamicID   `json:"dynamic_coin_data_id"`
	FixedID   FixedID     `json:"fixed_coin_data_id"`
	Flags     uint16      `json:"flags"`
}

// IsFeeder reports whether account may publish feeds for this pair.
func (c CoinPair) IsFeeder(account AccountID) bool {
	_, found := slices.BinarySearch(c.Feeders, account)
	return found
}

// Clone returns a deep copy.
func (c CoinPair) Clone() CoinPair {
	c.Feeders = slices.Clone(c.Feeders)
	return c
}

// NormalizeAccounts sorts and de-duplicates a set of account ids.
func NormalizeAccounts(in []AccountID) []AccountID {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

// OracleDynamicData tracks the frequently changing feed state of a pair.
type OracleDynamicData struct {
	ID                DynamicID           `json:"id"`
	Pair              PairKey             `json:"pair"`
	LatestFeedTime    uint32              `json:"latest_feed_time"`
	LatestValidPrice  CoinPrice           `json:"latest_valid_price"`
	LatestValidTime   uint32              `json:"latest_valid_time"`
	InvalidPriceCount uint32              `json:"invalid_price_count"`
	Buckets           map[uint32]BucketID `json:"prices"`
}

// Clone returns a deep copy.
func (d OracleDynamicData) Clone() OracleDynamicData {
	d.Buckets = cloneMap(d.Buckets)
	return d
}

// OracleFixedData records which buckets have been moved to cold storage.
type OracleFixedData struct {
	ID       FixedID           `json:"id"`
	Pair     PairKey           `json:"pair"`
	Archived map[uint32]string `json:"archived"`
}

// Clone returns a deep copy.
func (f OracleFixedData) Clone() OracleFixedData {
	f.Archived = cloneMap(f.Archived)
	return f
}

// PriceSlot holds every submission for one pair at one aligned instant.
type PriceSlot struct {
	Submissions    map[Price][]AccountID `json:"price_detail"`
	Confirmed      Price                 `json:"price"`
	HasConfirmed   bool                  `json:"confirmed"`
	TotalFeedCount uint64                `json:"total_feed_count"`
}

// NewPriceSlot returns an empty, unconfirmed slot.
func NewPriceSlot() *PriceSlot {
	return &PriceSlot{
		Submissions: make(map[Price][]AccountID),
		Confirmed:   InvalidFeedPrice,
	}
}

// PriceOf returns the price publisher currently has in the slot.
func (s *PriceSlot) PriceOf(publisher AccountID) (Price, bool) {
	for p, pubs := range s.Submissions {
		if _, found := slices.BinarySearch(pubs, publisher); found {
			return p, true
		}
	}
	return 0, false
}

// Clone returns a deep copy.
func (s *PriceSlot) Clone() *PriceSlot {
	if s == nil {
		return nil
	}
	out := *s
	out.Submissions = make(map[Price][]AccountID, len(s.Submissions))
	for p, pubs := range s.Submissions {
		out.Submissions[p] = slices.Clone(pubs)
	}
	return &out
}

// PriceBucket groups the slots of one BucketInterval window.
type PriceBucket struct {
	ID    BucketID              `json:"id"`
	Pair  PairKey               `json:"pair"`
	Start uint32                `json:"start"`
	Slots map[uint32]*PriceSlot `json:"price_feeding"`
}

// Clone returns a deep copy.
func (b PriceBucket) Clone() PriceBucket {
	slots := make(map[uint32]*PriceSlot, len(b.Slots))
	for t, s := range b.Slots {
		slots[t] = s.Clone()
	}
	b.Slots = slots
	return b
}

// BucketStart returns the start of the bucket window containing t.
func BucketStart(t uint32) uint32 {
	return t - t%BucketInterval
}

// CheckAligned fails when t is not a multiple of FeedAlignment.
func CheckAligned(t uint32) error {
	if t%FeedAlignment != 0 {
		return Preconditionf("time %d not aligned to %d", t, FeedAlignment)
	}
	return nil
}

// QuoteStatus tells callers how a queried price was resolved.
type QuoteStatus int

const (
	QuoteNoData QuoteStatus = iota
	QuotePending
	QuoteConfirmed
)

func (s QuoteStatus) String() string {
	switch s {
	case QuoteNoData:
		return "no_data"
	case QuotePending:
		return "pending"
	case QuoteConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("quote_status(%d)", int(s))
	}
}

// PriceQuote is the answer to a point-in-time price query.
type PriceQuote struct {
	Price  CoinPrice   `json:"price"`
	Time   uint32      `json:"time"`
	Status QuoteStatus `json:"status"`
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
