package monitor

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// PairReport is the statistics of one pair.
type PairReport struct {
	Pair    domain.PairKey `json:"pair"`
	Total   Stat           `json:"total"`
	Latest  Stat           `json:"latest"`
	Pending []Record       `json:"pending,omitempty"`
}

// FeederReport is the statistics of one feeder.
type FeederReport struct {
	Feeder  domain.AccountID          `json:"feeder"`
	Total   Stat                      `json:"total"`
	Latest  Stat                      `json:"latest"`
	PerPair map[domain.PairKey]uint64 `json:"-"`
}

// Snapshot is a point-in-time copy of the monitor statistics.
type Snapshot struct {
	PeriodStart uint32         `json:"period_start"`
	Pairs       []PairReport   `json:"pairs"`
	Feeders     []FeederReport `json:"feeders"`
}

// Snapshot copies the current statistics, sorted by pair and feeder.
func (m *FeedMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{PeriodStart: m.periodStart}
	for key, s := range m.pairs {
		r := PairReport{Pair: key, Total: *s}
		if lp := m.latestPairs[key]; lp != nil {
			r.Latest = lp.Stat
			r.Pending = slices.Clone(lp.pending)
		}
		snap.Pairs = append(snap.Pairs, r)
	}
	slices.SortFunc(snap.Pairs, func(a, b PairReport) int { return cmp.Compare(a.Pair.String(), b.Pair.String()) })

	for id, s := range m.feeders {
		r := FeederReport{Feeder: id, Total: *s}
		if lf := m.latestFeeders[id]; lf != nil {
			r.Latest = lf.Stat
			r.PerPair = maps.Clone(lf.perPair)
		}
		snap.Feeders = append(snap.Feeders, r)
	}
	slices.SortFunc(snap.Feeders, func(a, b FeederReport) int { return cmp.Compare(a.Feeder, b.Feeder) })
	return snap
}

// DumpStat logs the accumulated and latest-period statistics.
func (m *FeedMonitor) DumpStat() {
	snap := m.Snapshot()
	for _, p := range snap.Pairs {
		m.logger.Info("pair feed stat",
			slog.String("pair", p.Pair.String()),
			slog.Uint64("total", p.Total.Total),
			slog.Uint64("valid", p.Total.Valid()),
			slog.Uint64("invalid", p.Total.Invalid),
			slog.Uint64("valid_rate", p.Total.ValidRate()),
			slog.Uint64("latest_total", p.Latest.Total),
			slog.Uint64("latest_valid_rate", p.Latest.ValidRate()),
			slog.Int("unconfirmed", len(p.Pending)),
		)
		for _, r := range p.Pending {
			m.logger.Debug("unconfirmed feed",
				slog.String("pair", p.Pair.String()),
				slog.String("feeder", string(r.Feeder)),
				slog.Uint64("price_time", uint64(r.PriceTime)),
				slog.Uint64("feed_time", uint64(r.FeedTime)),
				slog.Int64("price", int64(r.Price)),
			)
		}
	}
	for _, f := range snap.Feeders {
		m.logger.Info("feeder stat",
			slog.String("feeder", string(f.Feeder)),
			slog.Uint64("total", f.Total.Total),
			slog.Uint64("valid", f.Total.Valid()),
			slog.Uint64("invalid", f.Total.Invalid),
			slog.Uint64("valid_rate", f.Total.ValidRate()),
			slog.Uint64("latest_total", f.Latest.Total),
			slog.Uint64("latest_invalid", f.Latest.Invalid),
		)
		if f.Latest.Total == 0 {
			m.logger.Warn("feeder idle this period", slog.String("feeder", string(f.Feeder)))
		}
		for _, key := range slices.SortedFunc(maps.Keys(f.PerPair), func(a, b domain.PairKey) int {
			return cmp.Compare(a.String(), b.String())
		}) {
			m.logger.Debug("feeder pair count",
				slog.String("feeder", string(f.Feeder)),
				slog.String("pair", key.String()),
				slog.Uint64("count", f.PerPair[key]),
			)
		}
	}
}
