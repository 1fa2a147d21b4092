package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
	"github.com/alanyoungcy/aftchain/internal/oracle"
)

const (
	feederA domain.AccountID = "1.2.10"
	feederB domain.AccountID = "1.2.11"
)

var btcUSD = domain.PairKey{PlatformID: "1000001", QuoteBase: "BTC/USD"}

type capture struct {
	events []string
	err    error
}

func (c *capture) Notify(_ context.Context, event, _, _ string) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func newMonitor(alerter Alerter) *FeedMonitor {
	return New(DefaultConfig(), alerter, slog.New(slog.DiscardHandler))
}

func feedEvent(publisher domain.AccountID, t, blockTime uint32, price domain.Price, confirmed bool) oracle.FeedEvent {
	return oracle.FeedEvent{Publisher: publisher, Pair: btcUSD, Time: t, Price: price, BlockTime: blockTime, Confirmed: confirmed}
}

func kinds(alarms []Alarm) []string {
	var out []string
	for _, a := range alarms {
		out = append(out, a.Kind)
	}
	return out
}

func TestOnFeedCountsAndPending(t *testing.T) {
	m := newMonitor(nil)
	m.OnFeed(feedEvent(feederA, 60, 100, 5000000000, false))
	m.OnFeed(feedEvent(feederB, 60, 100, domain.InvalidFeedPrice, false))
	m.OnFeed(feedEvent(feederA, 120, 160, 5000000000, false))

	snap := m.Snapshot()
	require.Len(t, snap.Pairs, 1)
	require.Equal(t, uint64(3), snap.Pairs[0].Total.Total)
	require.Equal(t, uint64(1), snap.Pairs[0].Total.Invalid)
	require.Equal(t, uint64(66), snap.Pairs[0].Total.ValidRate())
	require.Len(t, snap.Pairs[0].Pending, 3)

	m.OnFeed(feedEvent(feederB, 60, 170, 5000000000, true))
	snap = m.Snapshot()
	require.Len(t, snap.Pairs[0].Pending, 1)
	require.Equal(t, uint32(120), snap.Pairs[0].Pending[0].PriceTime)

	require.Len(t, snap.Feeders, 2)
	require.Equal(t, feederA, snap.Feeders[0].Feeder)
	require.Equal(t, uint64(2), snap.Feeders[0].PerPair[btcUSD])
	require.Empty(t, m.Pending())
	m.DumpStat()
}

func TestPeriodRollover(t *testing.T) {
	m := newMonitor(nil)
	m.OnFeed(feedEvent(feederA, 60, 100, 1, false))
	m.OnFeed(feedEvent(feederA, 420, 401, 1, false))

	snap := m.Snapshot()
	require.Equal(t, uint32(401), snap.PeriodStart)
	require.Equal(t, uint64(2), snap.Pairs[0].Total.Total)
	require.Equal(t, uint64(1), snap.Pairs[0].Latest.Total)
}

func TestDelayAndInvalidStreakAlarms(t *testing.T) {
	m := newMonitor(nil)
	m.OnFeed(feedEvent(feederA, 60, 360, 1, false))
	m.OnFeed(feedEvent(feederA, 60, 361, 1, false))
	require.Equal(t, []string{AlarmFeedDelay}, kinds(m.Pending()))

	m = newMonitor(nil)
	for i := range 4 {
		m.OnFeed(feedEvent(feederB, uint32(60*(i+1)), uint32(60*(i+1)), domain.InvalidFeedPrice, false))
	}
	alarms := m.Pending()
	require.Equal(t, []string{AlarmInvalidStreak}, kinds(alarms))
	require.Equal(t, string(feederB), alarms[0].Target)
}

func TestCheckFeedersAlarmsOncePerOutage(t *testing.T) {
	m := newMonitor(nil)
	m.OnFeed(feedEvent(feederA, 60, 100, 1, false))

	m.CheckFeeders(400, []domain.AccountID{feederA, feederB, feederB})
	alarms := m.Pending()
	require.Equal(t, []string{AlarmFeederOffline}, kinds(alarms))
	require.Equal(t, string(feederB), alarms[0].Target)

	m.CheckFeeders(401, []domain.AccountID{feederA, feederB})
	require.Equal(t, []string{AlarmFeederOffline, AlarmFeederOffline}, kinds(m.Pending()))

	m.CheckFeeders(500, []domain.AccountID{feederA, feederB})
	require.Len(t, m.Pending(), 2)

	m.OnFeed(feedEvent(feederA, 480, 500, 1, false))
	m.CheckFeeders(1000, []domain.AccountID{feederA})
	require.Len(t, m.Pending(), 3)
}

func TestCheckStale(t *testing.T) {
	db := objectdb.New()
	clock := oracleClock(60)
	src := oracle.New(db, oracle.DefaultConfig(), &clock, slog.New(slog.DiscardHandler))
	_, err := src.RegisterPair(btcUSD, domain.PairVisibleActive, []domain.AccountID{feederA})
	require.NoError(t, err)
	require.NoError(t, src.RecordFeed(feederA, btcUSD, 60, 5000000000, false))

	m := newMonitor(nil)
	m.CheckStale(300, src)
	require.Empty(t, m.Pending())

	m.CheckStale(361, src)
	m.CheckStale(420, src)
	require.Equal(t, []string{AlarmStalePrice}, kinds(m.Pending()))

	clock = 480
	require.NoError(t, src.RecordFeed(feederA, btcUSD, 480, 5000000000, false))
	m.CheckStale(480, src)
	m.CheckStale(781, src)
	require.Len(t, m.Pending(), 2)

	m.Inspect(781, src)
	require.Equal(t, []string{AlarmStalePrice, AlarmStalePrice, AlarmFeederOffline}, kinds(m.Pending()))
}

type oracleClock uint32

func (c *oracleClock) HeadBlockTime() uint32 { return uint32(*c) }

func TestFlush(t *testing.T) {
	sink := &capture{err: errors.New("down")}
	m := newMonitor(sink)
	m.CheckFeeders(1000, []domain.AccountID{feederA, feederB})

	require.Error(t, m.Flush(context.Background()))
	require.Len(t, m.Pending(), 2)

	sink.err = nil
	require.NoError(t, m.Flush(context.Background()))
	require.Empty(t, m.Pending())
	require.Equal(t, []string{AlarmFeederOffline, AlarmFeederOffline}, sink.events)
}

func TestPendingIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPending = 1
	m := New(cfg, nil, slog.New(slog.DiscardHandler))
	m.CheckFeeders(1000, []domain.AccountID{feederA, feederB})
	require.Len(t, m.Pending(), 1)
	require.NoError(t, m.Flush(context.Background()))
	require.Empty(t, m.Pending())
}
