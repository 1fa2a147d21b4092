// Package oracle aggregates witness price feeds per trading pair into 24h
// buckets of 60s-aligned slots and answers point-in-time price queries.
package oracle

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
)

const (
	byPairKey    = "by_platform_quote_base"
	byStatus     = "by_status"
	byPair       = "by_pair"
	byPairStart  = "by_pair_start"
	basisPoints  = 10000
	defaultQuota = 5001
)

// Config holds the consensus parameters of the oracle.
type Config struct {
	// ConfirmQuorumPercent is the share of a pair's feeders, in 1/10000,
	// that must agree on a price before a slot is confirmed.
	ConfirmQuorumPercent uint64 `toml:"confirm_quorum_percent"`
	// BucketRetention is how long, in seconds, a bucket stays in hot state
	// after its window closes. Zero keeps buckets forever.
	BucketRetention uint32 `toml:"bucket_retention"`
}

// DefaultConfig returns the genesis oracle parameters.
func DefaultConfig() Config {
	return Config{ConfirmQuorumPercent: defaultQuota, BucketRetention: 30 * domain.BucketInterval}
}

// Clock supplies the head block time.
type Clock interface {
	HeadBlockTime() uint32
}

// FeedEvent describes one recorded feed. Observers must not touch chain
// state.
type FeedEvent struct {
	Publisher domain.AccountID
	Pair      domain.PairKey
	Time      uint32
	Price     domain.Price
	Reset     bool
	BlockTime uint32
	Confirmed bool
}

// FeedObserver receives every recorded feed.
type FeedObserver interface {
	OnFeed(ev FeedEvent)
}

// State is the oracle's view of chain state.
type State struct {
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	observer FeedObserver

	pairs   *objectdb.Table[domain.CoinID, domain.CoinPair]
	dynamic *objectdb.Table[domain.DynamicID, domain.OracleDynamicData]
	fixed   *objectdb.Table[domain.FixedID, domain.OracleFixedData]
	buckets *objectdb.Table[domain.BucketID, domain.PriceBucket]
}

// New creates the oracle tables in db.
func New(db *objectdb.DB, cfg Config, clock Clock, logger *slog.Logger) *State {
	if cfg.ConfirmQuorumPercent == 0 {
		cfg.ConfirmQuorumPercent = defaultQuota
	}
	s := &State{
		cfg:    cfg,
		clock:  clock,
		logger: logger.With(slog.String("component", "oracle")),
		pairs: objectdb.NewTable[domain.CoinID, domain.CoinPair](
			db, "coin", domain.ProtocolSpace, domain.CoinType, domain.CoinPair.Clone),
		dynamic: objectdb.NewTable[domain.DynamicID, domain.OracleDynamicData](
			db, "coin_dynamic_data", domain.ImplementationSpace, domain.CoinDynamicType, domain.OracleDynamicData.Clone),
		fixed: objectdb.NewTable[domain.FixedID, domain.OracleFixedData](
			db, "coin_fixed_data", domain.ImplementationSpace, domain.CoinFixedType, domain.OracleFixedData.Clone),
		buckets: objectdb.NewTable[domain.BucketID, domain.PriceBucket](
			db, "coin_price_data", domain.ImplementationSpace, domain.CoinPriceBucketType, domain.PriceBucket.Clone),
	}
	s.pairs.AddIndex(objectdb.IndexSpec[domain.CoinPair]{
		Name: byPairKey, Unique: true,
		Key: func(c domain.CoinPair) string { return c.Key.String() },
	})
	s.pairs.AddIndex(objectdb.IndexSpec[domain.CoinPair]{
		Name: byStatus,
		Key:  func(c domain.CoinPair) string { return string(c.Status) },
	})
	s.dynamic.AddIndex(objectdb.IndexSpec[domain.OracleDynamicData]{
		Name: byPair, Unique: true,
		Key: func(d domain.OracleDynamicData) string { return d.Pair.String() },
	})
	s.fixed.AddIndex(objectdb.IndexSpec[domain.OracleFixedData]{
		Name: byPair, Unique: true,
		Key: func(f domain.OracleFixedData) string { return f.Pair.String() },
	})
	s.buckets.AddIndex(objectdb.IndexSpec[domain.PriceBucket]{
		Name: byPairStart, Unique: true,
		Key: func(b domain.PriceBucket) string { return bucketKey(b.Pair, b.Start) },
	})
	return s
}

func bucketKey(pair domain.PairKey, start uint32) string {
	return fmt.Sprintf("%s|%010d", pair, start)
}

// SetObserver installs the feed observer. Passing nil removes it.
func (s *State) SetObserver(o FeedObserver) {
	s.observer = o
}

// Config returns the oracle parameters.
func (s *State) Config() Config {
	return s.cfg
}

// RegisterPair creates a pair with its dynamic and fixed data.
func (s *State) RegisterPair(key domain.PairKey, status domain.PairStatus, feeders []domain.AccountID) (domain.CoinPair, error) {
	if key.PlatformID == "" || key.QuoteBase == "" {
		return domain.CoinPair{}, domain.Validationf("empty platform or quote base in %q", key)
	}
	if !status.Valid() {
		return domain.CoinPair{}, domain.Validationf("invalid pair status %q", status)
	}
	if _, err := s.pairs.Find(byPairKey, key.String()); err == nil {
		return domain.CoinPair{}, fmt.Errorf("%w: pair %s", domain.ErrAlreadyExists, key)
	}
	dyn, err := s.dynamic.Create(func(id domain.DynamicID) domain.OracleDynamicData {
		return domain.OracleDynamicData{
			ID:               id,
			Pair:             key,
			LatestValidPrice: domain.NewCoinPrice(key, 0),
			Buckets:          make(map[uint32]domain.BucketID),
		}
	})
	if err != nil {
		return domain.CoinPair{}, fmt.Errorf("oracle: create dynamic data: %w", err)
	}
	fix, err := s.fixed.Create(func(id domain.FixedID) domain.OracleFixedData {
		return domain.OracleFixedData{ID: id, Pair: key, Archived: make(map[uint32]string)}
	})
	if err != nil {
		return domain.CoinPair{}, fmt.Errorf("oracle: create fixed data: %w", err)
	}
	pair, err := s.pairs.Create(func(id domain.CoinID) domain.CoinPair {
		return domain.CoinPair{
			ID:        id,
			Key:       key,
			Status:    status,
			Feeders:   domain.NormalizeAccounts(feeders),
			DynamicID: dyn.ID,
			FixedID:   fix.ID,
		}
	})
	if err != nil {
		return domain.CoinPair{}, fmt.Errorf("oracle: create pair: %w", err)
	}
	s.logger.Debug("pair registered", slog.String("pair", key.String()), slog.String("id", string(pair.ID)))
	return pair, nil
}

// Pair returns the registered pair for key.
func (s *State) Pair(key domain.PairKey) (domain.CoinPair, error) {
	p, err := s.pairs.Find(byPairKey, key.String())
	if err != nil {
		return domain.CoinPair{}, domain.NotFoundf("trading pair %s", key)
	}
	return p, nil
}

// PairByID returns the pair with the given object id.
func (s *State) PairByID(id domain.CoinID) (domain.CoinPair, error) {
	return s.pairs.Get(id)
}

// Pairs returns every registered pair ordered by pair key.
func (s *State) Pairs() []domain.CoinPair {
	out, _ := s.pairs.Ordered(byPairKey)
	return out
}

// PairsByStatus returns the pairs in the given listing state.
func (s *State) PairsByStatus(status domain.PairStatus) []domain.CoinPair {
	out, _ := s.pairs.Range(byStatus, string(status))
	return out
}

// SetFeeders replaces the authorised publishers of a pair.
func (s *State) SetFeeders(id domain.CoinID, feeders []domain.AccountID) (domain.CoinPair, error) {
	return s.pairs.Modify(id, func(c *domain.CoinPair) error {
		c.Feeders = domain.NormalizeAccounts(feeders)
		return nil
	})
}

// SetStatus changes the listing state of a pair.
func (s *State) SetStatus(key domain.PairKey, status domain.PairStatus) (domain.CoinPair, error) {
	if !status.Valid() {
		return domain.CoinPair{}, domain.Validationf("invalid pair status %q", status)
	}
	p, err := s.Pair(key)
	if err != nil {
		return domain.CoinPair{}, err
	}
	return s.pairs.Modify(p.ID, func(c *domain.CoinPair) error {
		c.Status = status
		return nil
	})
}

// Dynamic returns the dynamic data of a pair.
func (s *State) Dynamic(key domain.PairKey) (domain.OracleDynamicData, error) {
	p, err := s.Pair(key)
	if err != nil {
		return domain.OracleDynamicData{}, err
	}
	return s.dynamic.Get(p.DynamicID)
}

// Fixed returns the archive record of a pair.
func (s *State) Fixed(key domain.PairKey) (domain.OracleFixedData, error) {
	p, err := s.Pair(key)
	if err != nil {
		return domain.OracleFixedData{}, err
	}
	return s.fixed.Get(p.FixedID)
}

// Bucket returns the bucket of key covering t.
func (s *State) Bucket(key domain.PairKey, t uint32) (domain.PriceBucket, error) {
	return s.buckets.Find(byPairStart, bucketKey(key, domain.BucketStart(t)))
}

// Buckets returns every hot bucket of a pair in start order.
func (s *State) Buckets(key domain.PairKey) ([]domain.PriceBucket, error) {
	dyn, err := s.Dynamic(key)
	if err != nil {
		return nil, err
	}
	starts := make([]uint32, 0, len(dyn.Buckets))
	for start := range dyn.Buckets {
		starts = append(starts, start)
	}
	slices.Sort(starts)
	out := make([]domain.PriceBucket, 0, len(starts))
	for _, start := range starts {
		b, err := s.buckets.Get(dyn.Buckets[start])
		if err != nil {
			return nil, domain.Consistencyf("oracle: bucket %s of %s missing", dyn.Buckets[start], key)
		}
		out = append(out, b)
	}
	return out, nil
}

// Slot returns a copy of the slot of key at t.
func (s *State) Slot(key domain.PairKey, t uint32) (*domain.PriceSlot, error) {
	b, err := s.Bucket(key, t)
	if err != nil {
		return nil, err
	}
	slot, ok := b.Slots[t]
	if !ok {
		return nil, domain.NotFoundf("price slot %s@%d", key, t)
	}
	return slot, nil
}

// HotObjects returns every oracle object for state hashing, in table order.
func (s *State) HotObjects() (pairs []domain.CoinPair, dyn []domain.OracleDynamicData, fixed []domain.OracleFixedData, buckets []domain.PriceBucket) {
	return s.pairs.All(), s.dynamic.All(), s.fixed.All(), s.buckets.All()
}
