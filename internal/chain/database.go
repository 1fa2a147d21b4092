// Package chain applies blocks of operations to the consensus state: the
// price oracle, the subject engine and the ledger, all held in one object
// database with undo sessions.
package chain

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/ledger"
	"github.com/alanyoungcy/aftchain/internal/objectdb"
	"github.com/alanyoungcy/aftchain/internal/oracle"
	"github.com/alanyoungcy/aftchain/internal/protocol"
	"github.com/alanyoungcy/aftchain/internal/subject"
)

const byModuleName = "by_module_name"

// Config holds the chain parameters fixed at genesis.
type Config struct {
	Oracle  oracle.Config
	Subject domain.SubjectProfile
	Fees    protocol.FeeSchedule
}

// DefaultConfig returns the genesis parameters.
func DefaultConfig() Config {
	return Config{
		Oracle:  oracle.DefaultConfig(),
		Subject: domain.DefaultSubjectProfile(),
		Fees:    protocol.DefaultFeeSchedule(),
	}
}

// Genesis is the initial state.
type Genesis struct {
	Time      uint32                     `json:"time" toml:"time"`
	Balances  map[domain.AccountID]int64 `json:"balances" toml:"balances"`
	Platforms []domain.PlatformConfig    `json:"platforms" toml:"platforms"`
}

type headClock struct {
	num  uint64
	time uint32
}

func (c *headClock) HeadBlockTime() uint32 { return c.time }
func (c *headClock) HeadBlockNum() uint64  { return c.num }

// Database is the consensus state machine.
type Database struct {
	db       *objectdb.DB
	clock    *headClock
	oracle   *oracle.State
	subjects *subject.Engine
	ledger   *ledger.Ledger
	registry *Registry
	modules  *objectdb.Table[domain.ModuleCfgID, domain.ModuleConfig]
	fees     protocol.FeeSchedule
	digest   string
	logger   *slog.Logger
}

// New builds the state from genesis. Genesis writes are permanent.
func New(cfg Config, gen Genesis, logger *slog.Logger) (*Database, error) {
	if err := CheckProfile(cfg.Subject); err != nil {
		return nil, fmt.Errorf("chain: genesis profile: %w", err)
	}
	db := objectdb.New()
	clock := &headClock{time: gen.Time}
	prices := oracle.New(db, cfg.Oracle, clock, logger)
	l := ledger.New(db)
	engine, err := subject.New(db, cfg.Subject, clock, prices, l, logger)
	if err != nil {
		return nil, err
	}

	d := &Database{
		db:       db,
		clock:    clock,
		oracle:   prices,
		subjects: engine,
		ledger:   l,
		registry: NewRegistry(),
		modules: objectdb.NewTable[domain.ModuleCfgID, domain.ModuleConfig](
			db, "module_cfg", domain.ProtocolSpace, domain.ModuleCfgType, domain.ModuleConfig.Clone),
		fees:   cfg.Fees,
		logger: logger.With(slog.String("component", "chain")),
	}
	d.modules.AddIndex(objectdb.IndexSpec[domain.ModuleConfig]{
		Name: byModuleName, Unique: true,
		Key: func(m domain.ModuleConfig) string { return m.Name },
	})
	d.registry.Register(domain.ModuleCoin, NewCoinConfigurator(prices, d.logger))
	d.registry.Register(domain.ModuleSubject, NewSubjectConfigurator(engine))

	accounts := make([]domain.AccountID, 0, len(gen.Balances))
	for acct := range gen.Balances {
		accounts = append(accounts, acct)
	}
	slices.Sort(accounts)
	for _, acct := range accounts {
		if err := l.Credit(acct, domain.CoreAmount(gen.Balances[acct])); err != nil {
			return nil, fmt.Errorf("chain: genesis balance %s: %w", acct, err)
		}
	}
	for _, p := range gen.Platforms {
		for _, qb := range sortedKeys(p.QuoteBases) {
			key := domain.PairKey{PlatformID: p.PlatformID, QuoteBase: qb}
			if _, err := prices.RegisterPair(key, p.PairStatusFor(qb), p.Feeders); err != nil {
				return nil, fmt.Errorf("chain: genesis pair %s: %w", key, err)
			}
		}
	}

	d.digest, err = d.StateDigest()
	if err != nil {
		return nil, err
	}
	return d, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// SetFeedObserver attaches a non-consensus observer to the oracle.
func (d *Database) SetFeedObserver(o oracle.FeedObserver) {
	d.oracle.SetObserver(o)
}

// Oracle returns the oracle state.
func (d *Database) Oracle() *oracle.State { return d.oracle }

// Subjects returns the subject engine.
func (d *Database) Subjects() *subject.Engine { return d.subjects }

// Ledger returns the account balances.
func (d *Database) Ledger() *ledger.Ledger { return d.ledger }

// Registry returns the module configurators.
func (d *Database) Registry() *Registry { return d.registry }

// Fees returns the fee schedule.
func (d *Database) Fees() protocol.FeeSchedule { return d.fees }

// Head returns the number, time and state digest of the last applied block.
func (d *Database) Head() (uint64, uint32, string) {
	return d.clock.num, d.clock.time, d.digest
}

// ModuleConfig returns the last applied configuration of a module.
func (d *Database) ModuleConfig(name string) (domain.ModuleConfig, error) {
	return d.modules.Find(byModuleName, name)
}
