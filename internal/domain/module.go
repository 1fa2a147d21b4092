package domain

// Module names understood by the configurator registry.
const (
	ModuleCoin    = "COIN"
	ModuleSubject = "SUBJECT"
)

// ModuleCfgOpType is the kind of change a module config operation makes.
type ModuleCfgOpType uint8

const (
	ModuleCfgUpdate ModuleCfgOpType = 1
	ModuleCfgInsert ModuleCfgOpType = 2
	ModuleCfgDelete ModuleCfgOpType = 3
)

// ModuleConfig is the persisted configuration of one module.
type ModuleConfig struct {
	ID           ModuleCfgID    `json:"id"`
	Name         string         `json:"module_name"`
	Value        map[string]any `json:"module_cfg"`
	LastUpdate   uint32         `json:"last_update_time"`
	LastModifier AccountID      `json:"last_modifier"`
}

// Clone returns a copy with its own top-level value map.
func (m ModuleConfig) Clone() ModuleConfig {
	m.Value = cloneMap(m.Value)
	return m
}

// PlatformConfig describes one price platform and its pairs in a COIN
// module config. QuoteBases maps a quote/base to an optional per-pair status
// overriding Status.
type PlatformConfig struct {
	PlatformID string            `json:"platform_id" validate:"required"`
	QuoteBases map[string]string `json:"quote_bases" validate:"required,min=1"`
	Status     PairStatus        `json:"status" validate:"required,oneof=1 2 3"`
	PlatformEN string            `json:"platform_en"`
	PlatformCN string            `json:"platform_cn"`
	TimeZone   string            `json:"time_zone"`
	Feeders    []AccountID       `json:"feeders,omitempty"`
}

// PairStatusFor returns the effective status of quoteBase on this platform.
func (p PlatformConfig) PairStatusFor(quoteBase string) PairStatus {
	if s := PairStatus(p.QuoteBases[quoteBase]); s.Valid() {
		return s
	}
	return p.Status
}

// AmountRange is an inclusive [Min, Max] bound on a core-asset amount.
type AmountRange struct {
	Min int64 `json:"min" toml:"min"`
	Max int64 `json:"max" toml:"max"`
}

// Contains reports whether amount lies within the range.
func (r AmountRange) Contains(amount int64) bool {
	return amount >= r.Min && amount <= r.Max
}

// SubjectProfile holds the chain-wide parameters of the subject lifecycle.
// Percentages are in units of 1/10000.
type SubjectProfile struct {
	DelayForJudge        uint32      `json:"delay_for_judge" toml:"delay_for_judge"`
	DelaySettle          uint32      `json:"delay_settle" toml:"delay_settle"`
	DelayForRestore      uint32      `json:"delay_for_restore" toml:"delay_for_restore"`
	VoteDurationPercent  uint64      `json:"vote_duration_percent" toml:"vote_duration_percent"`
	VoteAmountRange      AmountRange `json:"vote_amount_range" toml:"vote_amount_range"`
	VoteMaxTimes         uint32      `json:"vote_max_times" toml:"vote_max_times"`
	MinPredictionSeconds uint32      `json:"prediction_duration_less" toml:"prediction_duration_less"`
	MaxPredictionSeconds uint32      `json:"prediction_duration_more" toml:"prediction_duration_more"`
	TradeFeePercent      uint64      `json:"trade_fee_percent" toml:"trade_fee_percent"`
	WinFundPercent       uint64      `json:"win_fund_percent" toml:"win_fund_percent"`
	BurnPercent          uint64      `json:"burn_percent_on_creator_loss" toml:"burn_percent_on_creator_loss"`
	CreatorVoteRange     AmountRange `json:"creator_vote" toml:"creator_vote"`
	EventOperators       []AccountID `json:"event_operators" toml:"event_operators"`
}

// DefaultSubjectProfile returns the genesis subject parameters.
func DefaultSubjectProfile() SubjectProfile {
	return SubjectProfile{
		DelayForJudge:        180,
		DelaySettle:          600,
		DelayForRestore:      86400,
		VoteDurationPercent:  4000,
		VoteAmountRange:      AmountRange{Min: 1 * CorePrecision, Max: 1000000 * CorePrecision},
		VoteMaxTimes:         5,
		MinPredictionSeconds: 3600,
		MaxPredictionSeconds: 157680000,
		TradeFeePercent:      3000,
		WinFundPercent:       500,
		BurnPercent:          500,
		CreatorVoteRange:     AmountRange{Min: 50 * CorePrecision, Max: 1000000 * CorePrecision},
		EventOperators:       []AccountID{CommitteeAccount, WitnessAccount},
	}
}

// IsEventOperator reports whether account may drive events on any subject.
func (p SubjectProfile) IsEventOperator(account AccountID) bool {
	for _, op := range p.EventOperators {
		if op == account {
			return true
		}
	}
	return false
}
