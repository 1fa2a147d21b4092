// Package monitor watches oracle feeds from outside consensus. It keeps
// per-pair and per-feeder statistics, raises alarms for delayed, invalid,
// missing and stale prices, and hands the alarms to a notifier.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/oracle"
)

// Alarm kinds, also used as notifier event names.
const (
	AlarmFeedDelay     = "feed_delay"
	AlarmInvalidStreak = "invalid_streak"
	AlarmFeederOffline = "feeder_offline"
	AlarmStalePrice    = "stale_price"
)

// Config holds the alarm thresholds. Times are in seconds of block time.
type Config struct {
	Period         uint32 `toml:"period"`
	FeedDelayGuard uint32 `toml:"feed_delay_guard"`
	OfflineGuard   uint32 `toml:"offline_guard"`
	InvalidGuard   uint64 `toml:"invalid_guard"`
	StaleGuard     uint32 `toml:"stale_guard"`
	MaxPending     int    `toml:"max_pending"`
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		Period:         300,
		FeedDelayGuard: 300,
		OfflineGuard:   300,
		InvalidGuard:   3,
		StaleGuard:     300,
		MaxPending:     1024,
	}
}

// Alarm is one condition worth telling an operator about.
type Alarm struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Message string `json:"message"`
	At      uint32 `json:"at"`
}

// Alerter delivers alarms. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PriceSource is the read side of the oracle used for staleness checks.
type PriceSource interface {
	PairsByStatus(status domain.PairStatus) []domain.CoinPair
	Dynamic(key domain.PairKey) (domain.OracleDynamicData, error)
}

// Record is one feed kept in the latest period until its slot is confirmed.
type Record struct {
	Feeder    domain.AccountID `json:"feeder"`
	Price     domain.Price     `json:"price"`
	PriceTime uint32           `json:"price_time"`
	FeedTime  uint32           `json:"feed_time"`
}

// Stat counts feeds.
type Stat struct {
	Total      uint64 `json:"total"`
	Invalid    uint64 `json:"invalid"`
	LatestFeed uint32 `json:"latest_feed"`
}

// Valid is the number of feeds that carried a real price.
func (s Stat) Valid() uint64 { return s.Total - s.Invalid }

// ValidRate is the valid share in percent. Zero when nothing was fed.
func (s Stat) ValidRate() uint64 {
	if s.Total == 0 {
		return 0
	}
	return s.Valid() * 100 / s.Total
}

func (s *Stat) add(price domain.Price, at uint32) {
	s.Total++
	if price == domain.InvalidFeedPrice {
		s.Invalid++
	}
	s.LatestFeed = at
}

type pairStat struct {
	Stat
	confirmedUpTo uint32
	pending       []Record
}

type feederStat struct {
	Stat
	perPair map[domain.PairKey]uint64
}

// FeedMonitor implements oracle.FeedObserver. It is safe for concurrent use:
// the chain calls OnFeed while a delivery loop drains alarms.
type FeedMonitor struct {
	cfg     Config
	alerter Alerter
	logger  *slog.Logger

	mu            sync.Mutex
	periodStart   uint32
	pairs         map[domain.PairKey]*Stat
	feeders       map[domain.AccountID]*Stat
	latestPairs   map[domain.PairKey]*pairStat
	latestFeeders map[domain.AccountID]*feederStat
	offline       map[domain.AccountID]bool
	stale         map[domain.PairKey]bool
	pending       []Alarm
	dropped       int
}

var _ oracle.FeedObserver = (*FeedMonitor)(nil)

// New returns a monitor. alerter may be nil, in which case alarms are only
// logged.
func New(cfg Config, alerter Alerter, logger *slog.Logger) *FeedMonitor {
	if cfg.Period == 0 {
		cfg.Period = DefaultConfig().Period
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultConfig().MaxPending
	}
	return &FeedMonitor{
		cfg:           cfg,
		alerter:       alerter,
		logger:        logger.With(slog.String("component", "feed_monitor")),
		pairs:         make(map[domain.PairKey]*Stat),
		feeders:       make(map[domain.AccountID]*Stat),
		latestPairs:   make(map[domain.PairKey]*pairStat),
		latestFeeders: make(map[domain.AccountID]*feederStat),
		offline:       make(map[domain.AccountID]bool),
		stale:         make(map[domain.PairKey]bool),
	}
}

// Config returns the thresholds in use.
func (m *FeedMonitor) Config() Config { return m.cfg }

// OnFeed records one feed and raises delay and invalid-streak alarms.
func (m *FeedMonitor) OnFeed(ev oracle.FeedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := ev.BlockTime
	m.rollPeriod(now)

	stat(m.pairs, ev.Pair).add(ev.Price, now)
	stat(m.feeders, ev.Publisher).add(ev.Price, now)

	lp := m.latestPairs[ev.Pair]
	if lp == nil {
		lp = &pairStat{}
		m.latestPairs[ev.Pair] = lp
	}
	lp.add(ev.Price, now)
	lp.pending = append(lp.pending, Record{Feeder: ev.Publisher, Price: ev.Price, PriceTime: ev.Time, FeedTime: now})
	if ev.Confirmed && ev.Time > lp.confirmedUpTo {
		lp.confirmedUpTo = ev.Time
	}
	lp.pending = slices.DeleteFunc(lp.pending, func(r Record) bool { return r.PriceTime <= lp.confirmedUpTo })

	lf := m.latestFeeders[ev.Publisher]
	if lf == nil {
		lf = &feederStat{perPair: make(map[domain.PairKey]uint64)}
		m.latestFeeders[ev.Publisher] = lf
	}
	lf.add(ev.Price, now)
	lf.perPair[ev.Pair]++

	if m.offline[ev.Publisher] {
		delete(m.offline, ev.Publisher)
		m.logger.Info("feeder back online", slog.String("feeder", string(ev.Publisher)))
	}

	if ev.Price == domain.InvalidFeedPrice {
		m.logger.Warn("invalid price fed",
			slog.String("feeder", string(ev.Publisher)),
			slog.String("pair", ev.Pair.String()),
			slog.Uint64("time", uint64(ev.Time)),
		)
		if m.cfg.InvalidGuard > 0 && lf.Invalid == m.cfg.InvalidGuard {
			m.raise(Alarm{
				Kind:    AlarmInvalidStreak,
				Target:  string(ev.Publisher),
				Message: fmt.Sprintf("feeder %s fed %d invalid prices in the latest %ds", ev.Publisher, lf.Invalid, m.cfg.Period),
				At:      now,
			})
		}
	}

	if m.cfg.FeedDelayGuard > 0 && now > ev.Time && now-ev.Time > m.cfg.FeedDelayGuard {
		m.raise(Alarm{
			Kind:    AlarmFeedDelay,
			Target:  ev.Pair.String(),
			Message: fmt.Sprintf("feed for %s at %d arrived %ds late from %s", ev.Pair, ev.Time, now-ev.Time, ev.Publisher),
			At:      now,
		})
	}
}

func stat[K comparable](m map[K]*Stat, k K) *Stat {
	s := m[k]
	if s == nil {
		s = &Stat{}
		m[k] = s
	}
	return s
}

func (m *FeedMonitor) rollPeriod(now uint32) {
	if m.periodStart == 0 {
		m.periodStart = now
		return
	}
	if now-m.periodStart > m.cfg.Period {
		m.periodStart = now
		clear(m.latestPairs)
		clear(m.latestFeeders)
	}
}

// raise queues an alarm. Callers hold mu.
func (m *FeedMonitor) raise(a Alarm) {
	m.logger.Warn("alarm", slog.String("kind", a.Kind), slog.String("target", a.Target), slog.String("message", a.Message))
	if len(m.pending) >= m.cfg.MaxPending {
		m.dropped++
		return
	}
	m.pending = append(m.pending, a)
}

// CheckFeeders raises an alarm for every feeder that has not fed within
// OfflineGuard of now. Each feeder alarms once until it feeds again.
func (m *FeedMonitor) CheckFeeders(now uint32, feeders []domain.AccountID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range domain.NormalizeAccounts(feeders) {
		var last uint32
		if s := m.feeders[f]; s != nil {
			last = s.LatestFeed
		}
		if now < last || now-last <= m.cfg.OfflineGuard || m.offline[f] {
			continue
		}
		m.offline[f] = true
		m.raise(Alarm{
			Kind:    AlarmFeederOffline,
			Target:  string(f),
			Message: fmt.Sprintf("feeder %s has not fed for %ds (guard %ds)", f, now-last, m.cfg.OfflineGuard),
			At:      now,
		})
	}
}

// CheckStale raises an alarm for every active pair whose latest valid price
// is older than StaleGuard. Each pair alarms once until a valid price lands.
func (m *FeedMonitor) CheckStale(now uint32, src PriceSource) {
	active := src.PairsByStatus(domain.PairVisibleActive)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range active {
		dyn, err := src.Dynamic(pair.Key)
		if err != nil {
			m.logger.Error("read dynamic data", slog.String("pair", pair.Key.String()), slog.String("error", err.Error()))
			continue
		}
		if now < dyn.LatestValidTime || now-dyn.LatestValidTime <= m.cfg.StaleGuard {
			if m.stale[pair.Key] {
				delete(m.stale, pair.Key)
				m.logger.Info("price fresh again", slog.String("pair", pair.Key.String()))
			}
			continue
		}
		if m.stale[pair.Key] {
			continue
		}
		m.stale[pair.Key] = true
		m.raise(Alarm{
			Kind:   AlarmStalePrice,
			Target: pair.Key.String(),
			Message: fmt.Sprintf("valid price of %s not updated for %ds: latest valid %d at %d, latest feed at %d",
				pair.Key, now-dyn.LatestValidTime, dyn.LatestValidPrice.Price, dyn.LatestValidTime, dyn.LatestFeedTime),
			At: now,
		})
	}
}

// Inspect runs both periodic checks against the oracle's active pairs.
func (m *FeedMonitor) Inspect(now uint32, src PriceSource) {
	var feeders []domain.AccountID
	for _, p := range src.PairsByStatus(domain.PairVisibleActive) {
		feeders = append(feeders, p.Feeders...)
	}
	m.CheckFeeders(now, feeders)
	m.CheckStale(now, src)
}

// Pending returns the queued alarms without removing them.
func (m *FeedMonitor) Pending() []Alarm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pending)
}

// Flush delivers queued alarms. Alarms that fail to send stay queued.
func (m *FeedMonitor) Flush(ctx context.Context) error {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	dropped := m.dropped
	m.dropped = 0
	m.mu.Unlock()

	if dropped > 0 {
		m.logger.Warn("alarms dropped", slog.Int("count", dropped))
	}
	if m.alerter == nil {
		return nil
	}
	for i, a := range batch {
		if err := m.alerter.Notify(ctx, a.Kind, "aftchain "+a.Kind, a.Message); err != nil {
			m.requeue(batch[i:])
			return fmt.Errorf("monitor: deliver %s alarm: %w", a.Kind, err)
		}
	}
	return nil
}

func (m *FeedMonitor) requeue(rest []Alarm) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(slices.Clone(rest), m.pending...)
	if over := len(m.pending) - m.cfg.MaxPending; over > 0 {
		m.pending = m.pending[:m.cfg.MaxPending]
		m.dropped += over
	}
}
