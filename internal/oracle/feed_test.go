package oracle

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
)

const (
	feederA  domain.AccountID = "1.2.10"
	feederB  domain.AccountID = "1.2.11"
	feederC  domain.AccountID = "1.2.12"
	outsider domain.AccountID = "1.2.99"
)

var btcUSD = domain.PairKey{PlatformID: "1000001", QuoteBase: "BTC/USD"}

type fixedClock uint32

func (c fixedClock) HeadBlockTime() uint32 { return uint32(c) }

type recorder struct{ events []FeedEvent }

func (r *recorder) OnFeed(ev FeedEvent) { r.events = append(r.events, ev) }

func newState(t *testing.T, feeders ...domain.AccountID) (*State, *objectdb.DB) {
	t.Helper()
	db := objectdb.New()
	s := New(db, DefaultConfig(), fixedClock(120), slog.New(slog.DiscardHandler))
	_, err := s.RegisterPair(btcUSD, domain.PairVisibleActive, feeders)
	require.NoError(t, err)
	return s, db
}

func TestRecordFeedScenario(t *testing.T) {
	s, _ := newState(t, feederA)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 60, 5000000000, false))

	ts, price, err := s.LatestValid(btcUSD)
	require.NoError(t, err)
	require.Equal(t, uint32(60), ts)
	require.Equal(t, domain.Price(5000000000), price.Price)
	require.Equal(t, "1000001:BTC/USD", price.Pair)

	dyn, err := s.Dynamic(btcUSD)
	require.NoError(t, err)
	require.Equal(t, uint32(0), dyn.InvalidPriceCount)
	require.Equal(t, uint32(60), dyn.LatestFeedTime)
}

func TestRecordFeedPreconditions(t *testing.T) {
	s, _ := newState(t, feederA)

	tests := []struct {
		name      string
		publisher domain.AccountID
		pair      domain.PairKey
		time      uint32
		want      error
	}{
		{name: "unaligned time", publisher: feederA, pair: btcUSD, time: 61, want: domain.ErrPrecondition},
		{name: "not a feeder", publisher: outsider, pair: btcUSD, time: 60, want: domain.ErrPrecondition},
		{name: "unknown pair", publisher: feederA, pair: domain.PairKey{PlatformID: "1000001", QuoteBase: "ETH/USD"}, time: 60, want: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RecordFeed(tt.publisher, tt.pair, tt.time, 100, false)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRecordFeedRejectsDelistedPair(t *testing.T) {
	s, _ := newState(t, feederA)
	_, err := s.SetStatus(btcUSD, domain.PairDelisted)
	require.NoError(t, err)

	require.ErrorIs(t, s.RecordFeed(feederA, btcUSD, 60, 100, false), domain.ErrPrecondition)
}

func TestRecordFeedIsIdempotentPerPublisher(t *testing.T) {
	s, _ := newState(t, feederA, feederB)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 120, 100, false))
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 120, 100, false))

	slot, err := s.Slot(btcUSD, 120)
	require.NoError(t, err)
	require.Equal(t, uint64(1), slot.TotalFeedCount)
	require.Equal(t, []domain.AccountID{feederA}, slot.Submissions[100])
}

func TestRecordFeedLatestSubmissionWins(t *testing.T) {
	s, _ := newState(t, feederA, feederB)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 120, 100, false))
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 120, 200, false))

	slot, err := s.Slot(btcUSD, 120)
	require.NoError(t, err)
	require.Equal(t, uint64(1), slot.TotalFeedCount)
	require.NotContains(t, slot.Submissions, domain.Price(100))
	p, ok := slot.PriceOf(feederA)
	require.True(t, ok)
	require.Equal(t, domain.Price(200), p)
}

func TestRecordFeedResetClearsSlot(t *testing.T) {
	s, _ := newState(t, feederA, feederB)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 120, 100, false))
	require.NoError(t, s.RecordFeed(feederB, btcUSD, 120, 100, false))
	require.NoError(t, s.RecordFeed(feederB, btcUSD, 120, 300, true))

	slot, err := s.Slot(btcUSD, 120)
	require.NoError(t, err)
	require.Equal(t, uint64(1), slot.TotalFeedCount)
	require.Equal(t, map[domain.Price][]domain.AccountID{300: {feederB}}, slot.Submissions)
}

func TestConfirmationQuorum(t *testing.T) {
	s, _ := newState(t, feederA, feederB, feederC)
	require.Equal(t, 2, s.Quorum(3))

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 180, 500, false))
	q, err := s.QueryPrice(btcUSD, 180)
	require.NoError(t, err)
	require.Equal(t, domain.QuotePending, q.Status)
	require.Equal(t, domain.InvalidFeedPrice, q.Price.Price)

	require.NoError(t, s.RecordFeed(feederB, btcUSD, 180, 500, false))
	q, err = s.QueryPrice(btcUSD, 180)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteConfirmed, q.Status)
	require.Equal(t, domain.Price(500), q.Price.Price)
}

func TestConfirmedInvalidIsDistinctFromNoData(t *testing.T) {
	s, _ := newState(t, feederA)

	q, err := s.QueryPrice(btcUSD, 240)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteNoData, q.Status)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 240, domain.InvalidFeedPrice, false))
	q, err = s.QueryPrice(btcUSD, 240)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteConfirmed, q.Status)
	require.False(t, q.Price.Valid())
}

func TestQueryPriceErrors(t *testing.T) {
	s, _ := newState(t, feederA)

	_, err := s.QueryPrice(btcUSD, 61)
	require.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = s.QueryPrice(domain.PairKey{PlatformID: "1", QuoteBase: "X/Y"}, 60)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLatestValidIsMonotonicAndIgnoresInvalid(t *testing.T) {
	s, _ := newState(t, feederA)

	feeds := []struct {
		time  uint32
		price domain.Price
	}{
		{600, 100},
		{300, 50},
		{660, domain.InvalidFeedPrice},
		{720, domain.InvalidFeedPrice},
	}
	for _, f := range feeds {
		require.NoError(t, s.RecordFeed(feederA, btcUSD, f.time, f.price, false))
	}

	dyn, err := s.Dynamic(btcUSD)
	require.NoError(t, err)
	require.Equal(t, uint32(600), dyn.LatestValidTime)
	require.Equal(t, domain.Price(100), dyn.LatestValidPrice.Price)
	require.Equal(t, uint32(720), dyn.LatestFeedTime)
	require.Equal(t, uint32(2), dyn.InvalidPriceCount)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 780, 110, false))
	dyn, err = s.Dynamic(btcUSD)
	require.NoError(t, err)
	require.Equal(t, uint32(0), dyn.InvalidPriceCount)
	require.Equal(t, uint32(780), dyn.LatestValidTime)
}

func TestLatestValidNeverFed(t *testing.T) {
	s, _ := newState(t, feederA)

	ts, price, err := s.LatestValid(btcUSD)
	require.NoError(t, err)
	require.Zero(t, ts)
	require.Zero(t, price.Price)
}

func TestBucketsAreCreatedPerWindow(t *testing.T) {
	s, _ := newState(t, feederA)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 60, 1, false))
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 86340, 2, false))
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 86400, 3, false))

	buckets, err := s.Buckets(btcUSD)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Equal(t, uint32(0), buckets[0].Start)
	require.Len(t, buckets[0].Slots, 2)
	require.Equal(t, uint32(86400), buckets[1].Start)
}

func TestObserverSeesEveryFeed(t *testing.T) {
	s, _ := newState(t, feederA)
	rec := &recorder{}
	s.SetObserver(rec)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 60, 7, false))
	require.Error(t, s.RecordFeed(outsider, btcUSD, 60, 7, false))

	require.Len(t, rec.events, 1)
	require.Equal(t, uint32(120), rec.events[0].BlockTime)
	require.True(t, rec.events[0].Confirmed)
}

func TestFeedRevertsWithUndoSession(t *testing.T) {
	s, db := newState(t, feederA)

	sess := db.StartUndoSession()
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 60, 9, false))
	sess.Undo()

	dyn, err := s.Dynamic(btcUSD)
	require.NoError(t, err)
	require.Empty(t, dyn.Buckets)
	require.Zero(t, dyn.LatestFeedTime)

	_, err = s.Bucket(btcUSD, 60)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPruneBuckets(t *testing.T) {
	db := objectdb.New()
	s := New(db, Config{ConfirmQuorumPercent: 5001, BucketRetention: domain.BucketInterval}, fixedClock(0), slog.New(slog.DiscardHandler))
	_, err := s.RegisterPair(btcUSD, domain.PairVisibleActive, []domain.AccountID{feederA})
	require.NoError(t, err)

	require.NoError(t, s.RecordFeed(feederA, btcUSD, 60, 1, false))
	require.NoError(t, s.RecordFeed(feederA, btcUSD, 86400+60, 2, false))

	pruned, err := s.PruneBuckets(2*domain.BucketInterval - 1)
	require.NoError(t, err)
	require.Empty(t, pruned)

	pruned, err = s.PruneBuckets(2 * domain.BucketInterval)
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	require.Equal(t, uint32(0), pruned[0].Start)

	fixed, err := s.Fixed(btcUSD)
	require.NoError(t, err)
	require.Equal(t, "oracle/1000001/BTC_USD/0000000000.json", fixed.Archived[0])

	q, err := s.QueryPrice(btcUSD, 60)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteNoData, q.Status)

	require.ErrorIs(t, s.RecordFeed(feederA, btcUSD, 120, 3, false), domain.ErrPrecondition)
}

func TestRegisterPairTwice(t *testing.T) {
	s, _ := newState(t, feederA)
	_, err := s.RegisterPair(btcUSD, domain.PairVisibleActive, nil)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSetFeeders(t *testing.T) {
	s, _ := newState(t, feederA)
	pair, err := s.Pair(btcUSD)
	require.NoError(t, err)

	updated, err := s.SetFeeders(pair.ID, []domain.AccountID{feederC, feederB, feederC})
	require.NoError(t, err)
	require.Equal(t, []domain.AccountID{feederB, feederC}, updated.Feeders)
	require.ErrorIs(t, s.RecordFeed(feederA, btcUSD, 60, 1, false), domain.ErrPrecondition)
}
