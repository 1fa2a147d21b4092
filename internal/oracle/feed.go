package oracle

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// Quorum returns how many matching submissions confirm a slot for a pair
// with the given number of feeders.
func (s *State) Quorum(feeders int) int {
	need := (uint64(feeders)*s.cfg.ConfirmQuorumPercent + basisPoints - 1) / basisPoints
	if need < 1 {
		need = 1
	}
	return int(need)
}

// RecordFeed stores one publisher's price for pair at t.
func (s *State) RecordFeed(publisher domain.AccountID, key domain.PairKey, t uint32, price domain.Price, resetPrice bool) error {
	if err := domain.CheckAligned(t); err != nil {
		return err
	}
	pair, err := s.Pair(key)
	if err != nil {
		return err
	}
	if pair.Status == domain.PairDelisted {
		return domain.Preconditionf("pair %s is delisted", key)
	}
	if !pair.IsFeeder(publisher) {
		return domain.Preconditionf("%s is not a feeder of %s", publisher, key)
	}

	bucketID, err := s.bucketFor(pair, t)
	if err != nil {
		return err
	}

	quorum := s.Quorum(len(pair.Feeders))
	var confirmed bool
	_, err = s.buckets.Modify(bucketID, func(b *domain.PriceBucket) error {
		slot, ok := b.Slots[t]
		if !ok || resetPrice {
			slot = domain.NewPriceSlot()
			b.Slots[t] = slot
		}
		submit(slot, publisher, price)
		confirm(slot, quorum)
		confirmed = slot.HasConfirmed
		return nil
	})
	if err != nil {
		return fmt.Errorf("oracle: record slot: %w", err)
	}

	_, err = s.dynamic.Modify(pair.DynamicID, func(d *domain.OracleDynamicData) error {
		d.LatestFeedTime = t
		if price == domain.InvalidFeedPrice {
			d.InvalidPriceCount++
			return nil
		}
		d.InvalidPriceCount = 0
		if t >= d.LatestValidTime {
			d.LatestValidTime = t
			d.LatestValidPrice = domain.NewCoinPrice(key, price)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("oracle: update dynamic data: %w", err)
	}

	if s.observer != nil {
		var now uint32
		if s.clock != nil {
			now = s.clock.HeadBlockTime()
		}
		s.observer.OnFeed(FeedEvent{
			Publisher: publisher,
			Pair:      key,
			Time:      t,
			Price:     price,
			Reset:     resetPrice,
			BlockTime: now,
			Confirmed: confirmed,
		})
	}
	return nil
}

// bucketFor returns the bucket covering t, creating it on first use.
func (s *State) bucketFor(pair domain.CoinPair, t uint32) (domain.BucketID, error) {
	start := domain.BucketStart(t)
	dyn, err := s.dynamic.Get(pair.DynamicID)
	if err != nil {
		return "", domain.Consistencyf("oracle: dynamic data of %s missing", pair.Key)
	}
	if id, ok := dyn.Buckets[start]; ok {
		return id, nil
	}
	fixed, err := s.fixed.Get(pair.FixedID)
	if err == nil {
		if _, archived := fixed.Archived[start]; archived {
			return "", domain.Preconditionf("bucket %d of %s already archived", start, pair.Key)
		}
	}
	b, err := s.buckets.Create(func(id domain.BucketID) domain.PriceBucket {
		return domain.PriceBucket{
			ID:    id,
			Pair:  pair.Key,
			Start: start,
			Slots: make(map[uint32]*domain.PriceSlot),
		}
	})
	if err != nil {
		return "", fmt.Errorf("oracle: create bucket: %w", err)
	}
	_, err = s.dynamic.Modify(pair.DynamicID, func(d *domain.OracleDynamicData) error {
		d.Buckets[start] = b.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("oracle: link bucket: %w", err)
	}
	return b.ID, nil
}

// submit moves publisher to price within the slot. A publisher appears
// under at most one price.
func submit(slot *domain.PriceSlot, publisher domain.AccountID, price domain.Price) {
	if prev, ok := slot.PriceOf(publisher); ok {
		if prev == price {
			return
		}
		pubs := slot.Submissions[prev]
		i, _ := slices.BinarySearch(pubs, publisher)
		pubs = slices.Delete(pubs, i, i+1)
		if len(pubs) == 0 {
			delete(slot.Submissions, prev)
		} else {
			slot.Submissions[prev] = pubs
		}
		slot.TotalFeedCount--
	}
	pubs := slot.Submissions[price]
	i, _ := slices.BinarySearch(pubs, publisher)
	slot.Submissions[price] = slices.Insert(pubs, i, publisher)
	slot.TotalFeedCount++
}

// confirm recomputes the confirmed price: the price with the most
// publishers, if that count reaches quorum. Equal counts resolve to the
// lower price.
func confirm(slot *domain.PriceSlot, quorum int) {
	prices := make([]domain.Price, 0, len(slot.Submissions))
	for p := range slot.Submissions {
		prices = append(prices, p)
	}
	slices.Sort(prices)

	best, bestCount := domain.InvalidFeedPrice, 0
	for _, p := range prices {
		if n := len(slot.Submissions[p]); n > bestCount {
			best, bestCount = p, n
		}
	}
	if bestCount >= quorum {
		slot.Confirmed = best
		slot.HasConfirmed = true
		return
	}
	slot.Confirmed = domain.InvalidFeedPrice
	slot.HasConfirmed = false
}

// QueryPrice resolves the price of key at t from hot state.
func (s *State) QueryPrice(key domain.PairKey, t uint32) (domain.PriceQuote, error) {
	if err := domain.CheckAligned(t); err != nil {
		return domain.PriceQuote{}, err
	}
	if _, err := s.Pair(key); err != nil {
		return domain.PriceQuote{}, err
	}
	quote := domain.PriceQuote{
		Price:  domain.InvalidCoinPrice(key),
		Time:   t,
		Status: domain.QuoteNoData,
	}
	slot, err := s.Slot(key, t)
	if err != nil {
		return quote, nil
	}
	if slot.HasConfirmed {
		quote.Price = domain.NewCoinPrice(key, slot.Confirmed)
		quote.Status = domain.QuoteConfirmed
		return quote, nil
	}
	if len(slot.Submissions) > 0 {
		quote.Status = domain.QuotePending
	}
	return quote, nil
}

// LatestValid returns the most recent valid feed of key. A pair that was
// never fed returns zero values.
func (s *State) LatestValid(key domain.PairKey) (uint32, domain.CoinPrice, error) {
	dyn, err := s.Dynamic(key)
	if err != nil {
		return 0, domain.CoinPrice{}, err
	}
	return dyn.LatestValidTime, dyn.LatestValidPrice, nil
}

// ArchivePath is where the content of a pruned bucket is stored.
func ArchivePath(key domain.PairKey, start uint32) string {
	return fmt.Sprintf("%s%010d.json", ArchivePrefix(key), start)
}

// ArchivePrefix is the common prefix of every archived bucket of key.
func ArchivePrefix(key domain.PairKey) string {
	return "oracle/" + key.PlatformID + "/" + sanitize(key.QuoteBase) + "/"
}

func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '/' || c == ':' {
			b[i] = '_'
		}
	}
	return string(b)
}

// PruneBuckets removes from hot state every bucket whose window closed more
// than BucketRetention before now, recording its archive path in the pair's
// fixed data. The removed buckets are returned in (pair, start) order so the
// caller can ship them to cold storage.
func (s *State) PruneBuckets(now uint32) ([]domain.PriceBucket, error) {
	if s.cfg.BucketRetention == 0 {
		return nil, nil
	}
	var pruned []domain.PriceBucket
	for _, pair := range s.Pairs() {
		buckets, err := s.Buckets(pair.Key)
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			if uint64(b.Start)+domain.BucketInterval+uint64(s.cfg.BucketRetention) > uint64(now) {
				break
			}
			if err := s.archive(pair, b); err != nil {
				return nil, err
			}
			pruned = append(pruned, b)
		}
	}
	if len(pruned) > 0 {
		s.logger.Debug("buckets pruned", slog.Int("count", len(pruned)), slog.Uint64("now", uint64(now)))
	}
	return pruned, nil
}

func (s *State) archive(pair domain.CoinPair, b domain.PriceBucket) error {
	if _, err := s.fixed.Modify(pair.FixedID, func(f *domain.OracleFixedData) error {
		f.Archived[b.Start] = ArchivePath(pair.Key, b.Start)
		return nil
	}); err != nil {
		return fmt.Errorf("oracle: record archive: %w", err)
	}
	if _, err := s.dynamic.Modify(pair.DynamicID, func(d *domain.OracleDynamicData) error {
		delete(d.Buckets, b.Start)
		return nil
	}); err != nil {
		return fmt.Errorf("oracle: unlink bucket: %w", err)
	}
	if err := s.buckets.Remove(b.ID); err != nil {
		return fmt.Errorf("oracle: remove bucket: %w", err)
	}
	return nil
}
