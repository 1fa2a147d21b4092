package chain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/oracle"
	"github.com/alanyoungcy/aftchain/internal/protocol"
	"github.com/alanyoungcy/aftchain/internal/subject"
)

// Configurator validates and applies module configuration changes for one
// module.
type Configurator interface {
	Evaluate(op protocol.ModuleConfigOp) error
	Apply(op protocol.ModuleConfigOp) error
}

// Registry maps module names to their configurators.
type Registry struct {
	modules map[string]Configurator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Configurator)}
}

// Register installs c for module name, replacing any previous one.
func (r *Registry) Register(name string, c Configurator) {
	r.modules[name] = c
}

// Get returns the configurator of a module.
func (r *Registry) Get(name string) (Configurator, error) {
	c, ok := r.modules[name]
	if !ok {
		return nil, domain.NotFoundf("module %q", name)
	}
	return c, nil
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	out := make([]string, 0, len(r.modules))
	for name := range r.modules {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// decodeValue converts a free-form config value into a typed struct.
func decodeValue(value map[string]any, into any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return domain.Validationf("config value: %v", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return domain.Validationf("config value: %v", err)
	}
	return nil
}

// CoinConfig is the value of a COIN module config.
type CoinConfig struct {
	Platforms []domain.PlatformConfig `json:"platforms" validate:"required,min=1,dive"`
}

// CoinConfigurator lists, relists and delists oracle pairs.
type CoinConfigurator struct {
	oracle   *oracle.State
	validate *validator.Validate
	logger   *slog.Logger
}

// NewCoinConfigurator returns the COIN module configurator.
func NewCoinConfigurator(o *oracle.State, logger *slog.Logger) *CoinConfigurator {
	return &CoinConfigurator{oracle: o, validate: validator.New(), logger: logger}
}

func (c *CoinConfigurator) parse(op protocol.ModuleConfigOp) (CoinConfig, error) {
	var cfg CoinConfig
	if err := decodeValue(op.CfgValue, &cfg); err != nil {
		return CoinConfig{}, err
	}
	if err := c.validate.Struct(cfg); err != nil {
		return CoinConfig{}, domain.Validationf("coin config: %v", err)
	}
	return cfg, nil
}

// Evaluate checks the change without touching state.
func (c *CoinConfigurator) Evaluate(op protocol.ModuleConfigOp) error {
	cfg, err := c.parse(op)
	if err != nil {
		return err
	}
	for _, p := range cfg.Platforms {
		for qb := range p.QuoteBases {
			key := domain.PairKey{PlatformID: p.PlatformID, QuoteBase: qb}
			_, err := c.oracle.Pair(key)
			exists := err == nil
			switch op.OpType {
			case domain.ModuleCfgInsert:
				if exists {
					return domain.Preconditionf("pair %s already listed", key)
				}
			case domain.ModuleCfgUpdate, domain.ModuleCfgDelete:
				if !exists {
					return domain.Preconditionf("pair %s not listed", key)
				}
			}
		}
	}
	return nil
}

// Apply registers new pairs, updates the status and feeders of existing
// ones, or delists them. Pairs are never removed so their history stays
// queryable.
func (c *CoinConfigurator) Apply(op protocol.ModuleConfigOp) error {
	cfg, err := c.parse(op)
	if err != nil {
		return err
	}
	for _, p := range cfg.Platforms {
		quoteBases := make([]string, 0, len(p.QuoteBases))
		for qb := range p.QuoteBases {
			quoteBases = append(quoteBases, qb)
		}
		slices.Sort(quoteBases)
		for _, qb := range quoteBases {
			key := domain.PairKey{PlatformID: p.PlatformID, QuoteBase: qb}
			if err := c.applyPair(op.OpType, key, p.PairStatusFor(qb), p.Feeders); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *CoinConfigurator) applyPair(kind domain.ModuleCfgOpType, key domain.PairKey, status domain.PairStatus, feeders []domain.AccountID) error {
	switch kind {
	case domain.ModuleCfgInsert:
		_, err := c.oracle.RegisterPair(key, status, feeders)
		return err
	case domain.ModuleCfgDelete:
		_, err := c.oracle.SetStatus(key, domain.PairDelisted)
		return err
	}
	pair, err := c.oracle.SetStatus(key, status)
	if err != nil {
		return err
	}
	if len(feeders) > 0 {
		if _, err := c.oracle.SetFeeders(pair.ID, feeders); err != nil {
			return err
		}
	}
	c.logger.Debug("pair updated", slog.String("pair", key.String()), slog.String("status", string(status)))
	return nil
}

// SubjectConfigurator updates the subject profile. Fields missing from the
// config value keep their current setting; delete restores the defaults.
type SubjectConfigurator struct {
	engine *subject.Engine
}

// NewSubjectConfigurator returns the SUBJECT module configurator.
func NewSubjectConfigurator(e *subject.Engine) *SubjectConfigurator {
	return &SubjectConfigurator{engine: e}
}

func (c *SubjectConfigurator) next(op protocol.ModuleConfigOp) (domain.SubjectProfile, error) {
	if op.OpType == domain.ModuleCfgDelete {
		return domain.DefaultSubjectProfile(), nil
	}
	p := c.engine.Profile()
	if err := decodeValue(op.CfgValue, &p); err != nil {
		return domain.SubjectProfile{}, err
	}
	if err := CheckProfile(p); err != nil {
		return domain.SubjectProfile{}, err
	}
	return p, nil
}

// Evaluate checks the resulting profile.
func (c *SubjectConfigurator) Evaluate(op protocol.ModuleConfigOp) error {
	_, err := c.next(op)
	return err
}

// Apply stores the resulting profile.
func (c *SubjectConfigurator) Apply(op protocol.ModuleConfigOp) error {
	p, err := c.next(op)
	if err != nil {
		return err
	}
	return c.engine.SetProfile(p)
}

// CheckProfile rejects subject parameters the lifecycle cannot run with.
func CheckProfile(p domain.SubjectProfile) error {
	switch {
	case p.VoteDurationPercent == 0 || p.VoteDurationPercent > protocol.FullPercent:
		return domain.Validationf("vote_duration_percent %d outside (0, %d]", p.VoteDurationPercent, protocol.FullPercent)
	case p.TradeFeePercent > protocol.FullPercent || p.WinFundPercent > protocol.FullPercent || p.BurnPercent > protocol.FullPercent:
		return domain.Validationf("percentages must not exceed %d", protocol.FullPercent)
	case p.VoteAmountRange.Min <= 0 || p.VoteAmountRange.Min > p.VoteAmountRange.Max:
		return domain.Validationf("invalid vote amount range [%d, %d]", p.VoteAmountRange.Min, p.VoteAmountRange.Max)
	case p.CreatorVoteRange.Min <= 0 || p.CreatorVoteRange.Min > p.CreatorVoteRange.Max:
		return domain.Validationf("invalid creator vote range [%d, %d]", p.CreatorVoteRange.Min, p.CreatorVoteRange.Max)
	case p.MinPredictionSeconds > p.MaxPredictionSeconds:
		return domain.Validationf("prediction duration bounds inverted")
	case p.VoteMaxTimes == 0:
		return domain.Validationf("vote_max_times must be positive")
	case p.DelayForRestore <= p.DelayForJudge+p.DelaySettle:
		return domain.Validationf("delay_for_restore must exceed judge and settle delays")
	}
	return nil
}

func (d *Database) applyModuleConfig(op protocol.ModuleConfigOp) error {
	if op.Proposer != domain.CommitteeAccount && op.Proposer != domain.WitnessAccount {
		return domain.Preconditionf("%s may not configure modules", op.Proposer)
	}
	c, err := d.registry.Get(op.ModuleName)
	if err != nil {
		return err
	}
	if err := c.Evaluate(op); err != nil {
		return err
	}
	if err := c.Apply(op); err != nil {
		return err
	}
	return d.recordModuleConfig(op)
}

func (d *Database) recordModuleConfig(op protocol.ModuleConfigOp) error {
	now := d.clock.HeadBlockTime()
	cur, err := d.modules.Find(byModuleName, op.ModuleName)
	if err != nil {
		_, err = d.modules.Create(func(id domain.ModuleCfgID) domain.ModuleConfig {
			return domain.ModuleConfig{ID: id, Name: op.ModuleName, Value: op.CfgValue, LastUpdate: now, LastModifier: op.Proposer}
		})
		if err != nil {
			return fmt.Errorf("chain: record module config: %w", err)
		}
		return nil
	}
	_, err = d.modules.Modify(cur.ID, func(m *domain.ModuleConfig) error {
		m.Value = op.CfgValue
		m.LastUpdate = now
		m.LastModifier = op.Proposer
		return nil
	})
	return err
}
