package protocol

import "github.com/alanyoungcy/aftchain/internal/domain"

// FullPercent is 100% in basis points.
const FullPercent = 10000

// FeeSchedule holds the core-asset fee of every operation.
type FeeSchedule struct {
	FeedPrice           int64 `toml:"feed_price"`
	UpdateFeedProducers int64 `toml:"update_feed_producers"`
	PublishBasic        int64 `toml:"publish_basic"`
	PublishPerHour      int64 `toml:"publish_per_hour"`
	// VotePercent is charged on the vote quantity, in basis points.
	VotePercent  int64 `toml:"vote_percent"`
	Event        int64 `toml:"event"`
	ModuleConfig int64 `toml:"module_config"`
}

// DefaultFeeSchedule returns the genesis fees.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		FeedPrice:           100,
		UpdateFeedProducers: 500 * domain.CorePrecision,
		PublishBasic:        5 * domain.CorePrecision,
		PublishPerHour:      domain.CorePrecision / 20,
		VotePercent:         80,
		Event:               0,
		ModuleConfig:        domain.CorePrecision,
	}
}

// CheckFee fails when the fee attached to op is below the schedule.
func CheckFee(op Operation, s FeeSchedule) (int64, error) {
	need := op.RequiredFee(s)
	paid := op.PaidFee().Amount
	if paid < need {
		return need, domain.Preconditionf("%s: insufficient fee %d, need %d", op.Type(), paid, need)
	}
	return need, nil
}
