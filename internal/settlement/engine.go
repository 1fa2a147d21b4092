// Package settlement computes how a judged subject's pool is split between
// winning voters, the creator and the burn sink. All arithmetic is integer
// multiply-then-divide with truncation.
package settlement

import (
	"math"
	"slices"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// FullPercent is 100% in percent units.
const FullPercent = 10000

// CutPercentAmount returns floor(a * p / 10000). Non-positive amounts cut to
// zero and results beyond int64 saturate.
func CutPercentAmount(a int64, p uint64) int64 {
	if a <= 0 || p == 0 {
		return 0
	}
	return mulDiv(uint64(a), p, FullPercent)
}

// mulDiv returns floor(a*b/d) saturated to MaxInt64, without overflow.
func mulDiv(a, b, d uint64) int64 {
	x := new(uint256.Int).SetUint64(a)
	x.Mul(x, new(uint256.Int).SetUint64(b))
	x.Div(x, new(uint256.Int).SetUint64(d))
	if !x.IsUint64() || x.Uint64() > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(x.Uint64())
}

// Params are the percentage parameters of a settlement, in 1/10000.
type Params struct {
	TradeFeePercent uint64
	WinFundPercent  uint64
	BurnPercent     uint64
}

// Input is everything Judge needs about a subject.
type Input struct {
	CreatorVote string
	Stats       domain.SubjectStatistics
	Winning     []string
	Params      Params
}

// Judge computes the settlement result. It is pure, so calling it twice on
// the same input yields the same result.
func Judge(in Input) (domain.SubjectResult, error) {
	if len(in.Winning) == 0 {
		return domain.SubjectResult{}, domain.OutOfRangef("no winning option")
	}
	winning := slices.Clone(in.Winning)
	slices.Sort(winning)
	winning = slices.Compact(winning)

	res := domain.SubjectResult{WinningKeys: winning}
	for _, n := range in.Stats.Total {
		res.AccountTotal += n
	}
	if res.AccountTotal == 0 {
		return res, nil
	}

	res.CreatorIsWin = slices.Contains(winning, in.CreatorVote)
	for _, k := range winning {
		res.AccountWin += in.Stats.Total[k]
		res.FundsWin += in.Stats.Funds[k]
	}

	res.FundPool = in.Stats.FundPool
	if res.FundPool < 0 {
		return domain.SubjectResult{}, domain.Consistencyf("negative fund pool %d", res.FundPool)
	}
	if res.FundsWin < 0 || res.FundsWin > res.FundPool {
		return domain.SubjectResult{}, domain.Consistencyf("winning funds %d outside pool %d", res.FundsWin, res.FundPool)
	}

	losing := res.FundPool - res.FundsWin
	if res.CreatorIsWin {
		res.CreatorWin = CutPercentAmount(losing, in.Params.WinFundPercent)
	} else {
		res.FundForBurn = min(CutPercentAmount(res.FundPool, in.Params.BurnPercent), losing)
	}
	return res, nil
}

// Payout is what one vote receives.
type Payout struct {
	VoteID   domain.VoteID
	Voter    domain.AccountID
	Amount   int64
	Refunded bool
}

// Distributable returns the part of the losing funds shared among voters.
func Distributable(res domain.SubjectResult) int64 {
	return res.FundPool - res.FundsWin - res.CreatorWin - res.FundForBurn
}

// Distribute pays winning votes their stake plus a pro-rata share of the
// distributable losing funds. When nothing was staked on the winning
// options the distributable funds are refunded pro-rata to every vote.
// Truncation remainder is returned as dust. Votes keep their input order.
func Distribute(res domain.SubjectResult, votes []domain.SubjectVote) ([]Payout, int64, error) {
	if res.AccountTotal == 0 {
		return nil, 0, nil
	}
	pool := Distributable(res)
	if pool < 0 {
		return nil, 0, domain.Consistencyf("negative distributable funds %d", pool)
	}

	out := make([]Payout, 0, len(votes))
	var paid, staked int64
	if res.FundsWin > 0 {
		for _, v := range votes {
			p := Payout{VoteID: v.ID, Voter: v.Voter}
			if slices.Contains(res.WinningKeys, v.MyVote) {
				share := mulDiv(uint64(pool), uint64(v.Quantity.Amount), uint64(res.FundsWin))
				p.Amount = v.Quantity.Amount + share
				paid += share
				staked += v.Quantity.Amount
			}
			out = append(out, p)
		}
		if staked != res.FundsWin {
			return nil, 0, domain.Consistencyf("winning stakes %d differ from funds_win %d", staked, res.FundsWin)
		}
		return out, pool - paid, nil
	}

	for _, v := range votes {
		share := mulDiv(uint64(pool), uint64(v.Quantity.Amount), uint64(res.FundPool))
		out = append(out, Payout{VoteID: v.ID, Voter: v.Voter, Amount: share, Refunded: true})
		paid += share
	}
	return out, pool - paid, nil
}

// Refund returns every vote's stake exactly.
func Refund(votes []domain.SubjectVote) []Payout {
	out := make([]Payout, 0, len(votes))
	for _, v := range votes {
		out = append(out, Payout{VoteID: v.ID, Voter: v.Voter, Amount: v.Quantity.Amount, Refunded: true})
	}
	return out
}
