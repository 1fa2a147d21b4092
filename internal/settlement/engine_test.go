package settlement

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

var defaultParams = Params{TradeFeePercent: 3000, WinFundPercent: 500, BurnPercent: 500}

func vote(id string, voter domain.AccountID, key string, stake int64) domain.SubjectVote {
	return domain.SubjectVote{
		ID:       domain.VoteID(id),
		Voter:    voter,
		MyVote:   key,
		Quantity: domain.CoreAmount(stake),
	}
}

func stats(votes ...domain.SubjectVote) domain.SubjectStatistics {
	s := domain.SubjectStatistics{
		Total: map[string]uint64{"0": 0, "1": 0},
		Funds: map[string]int64{"0": 0, "1": 0},
	}
	for _, v := range votes {
		s.Total[v.MyVote]++
		s.Funds[v.MyVote] += v.Quantity.Amount
		s.FundPool += v.Quantity.Amount
	}
	return s
}

func TestCutPercentAmount(t *testing.T) {
	tests := []struct {
		name string
		a    int64
		p    uint64
		want int64
	}{
		{name: "zero percent", a: 12345, p: 0, want: 0},
		{name: "full percent", a: 12345, p: FullPercent, want: 12345},
		{name: "truncates", a: 999, p: 3000, want: 299},
		{name: "negative saturates to zero", a: -500, p: 5000, want: 0},
		{name: "no overflow at max", a: math.MaxInt64, p: FullPercent, want: math.MaxInt64},
		{name: "saturates above max", a: math.MaxInt64, p: 2 * FullPercent, want: math.MaxInt64},
		{name: "large half", a: math.MaxInt64, p: 5000, want: math.MaxInt64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CutPercentAmount(tt.a, tt.p))
		})
	}
}

func TestCutPercentAmountIdentities(t *testing.T) {
	for _, a := range []int64{0, 1, 7, 10000, 123456789, math.MaxInt64} {
		require.Zero(t, CutPercentAmount(a, 0))
		require.Equal(t, a, CutPercentAmount(a, FullPercent))
	}
}

func TestJudgeDualRadioScenario(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "0", 100),
		vote("1.22.1", "1.2.101", "1", 300),
	}
	in := Input{CreatorVote: "0", Stats: stats(votes...), Winning: []string{"1"}, Params: defaultParams}

	res, err := Judge(in)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.AccountWin)
	require.Equal(t, uint64(2), res.AccountTotal)
	require.Equal(t, int64(300), res.FundsWin)
	require.Equal(t, int64(400), res.FundPool)
	require.False(t, res.CreatorIsWin)
	require.Equal(t, int64(20), res.FundForBurn)
	require.Zero(t, res.CreatorWin)

	payouts, dust, err := Distribute(res, votes)
	require.NoError(t, err)
	require.Zero(t, dust)
	require.Equal(t, []Payout{
		{VoteID: "1.22.0", Voter: "1.2.100"},
		{VoteID: "1.22.1", Voter: "1.2.101", Amount: 300 + 80},
	}, payouts)
}

func TestJudgeCreatorWins(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "1", 1000),
		vote("1.22.1", "1.2.101", "1", 3000),
		vote("1.22.2", "1.2.102", "0", 2001),
	}
	res, err := Judge(Input{CreatorVote: "1", Stats: stats(votes...), Winning: []string{"1"}, Params: defaultParams})
	require.NoError(t, err)
	require.True(t, res.CreatorIsWin)
	require.Equal(t, int64(100), res.CreatorWin)
	require.Zero(t, res.FundForBurn)

	payouts, dust, err := Distribute(res, votes)
	require.NoError(t, err)
	require.Equal(t, int64(1000+475), payouts[0].Amount)
	require.Equal(t, int64(3000+1425), payouts[1].Amount)
	require.Zero(t, payouts[2].Amount)
	require.Equal(t, int64(1), dust)
	assertConserved(t, res, payouts, dust)
}

func TestJudgeBurnSaturatesAtLosingFunds(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "1", 10000),
		vote("1.22.1", "1.2.101", "0", 1),
	}
	res, err := Judge(Input{CreatorVote: "0", Stats: stats(votes...), Winning: []string{"1"}, Params: defaultParams})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.FundForBurn)

	payouts, dust, err := Distribute(res, votes)
	require.NoError(t, err)
	require.Equal(t, int64(10000), payouts[0].Amount)
	assertConserved(t, res, payouts, dust)
}

func TestJudgeNoVotes(t *testing.T) {
	res, err := Judge(Input{CreatorVote: "0", Stats: stats(), Winning: []string{"1"}, Params: defaultParams})
	require.NoError(t, err)
	require.Zero(t, res.AccountTotal)
	require.Zero(t, res.FundPool)
	require.Equal(t, []string{"1"}, res.WinningKeys)

	payouts, dust, err := Distribute(res, nil)
	require.NoError(t, err)
	require.Empty(t, payouts)
	require.Zero(t, dust)
}

func TestJudgeEmptyOutcome(t *testing.T) {
	_, err := Judge(Input{CreatorVote: "0", Stats: stats(vote("1.22.0", "1.2.100", "0", 5)), Params: defaultParams})
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestJudgeInconsistentPoolIsFatal(t *testing.T) {
	s := stats(vote("1.22.0", "1.2.100", "1", 50))
	s.FundPool = -1
	_, err := Judge(Input{CreatorVote: "0", Stats: s, Winning: []string{"1"}, Params: defaultParams})
	require.True(t, domain.IsFatal(err))

	s = stats(vote("1.22.0", "1.2.100", "1", 50))
	s.Funds["1"] = 51
	_, err = Judge(Input{CreatorVote: "0", Stats: s, Winning: []string{"1"}, Params: defaultParams})
	require.True(t, domain.IsFatal(err))
}

func TestJudgeIsIdempotent(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "0", 777),
		vote("1.22.1", "1.2.101", "1", 333),
	}
	in := Input{CreatorVote: "1", Stats: stats(votes...), Winning: []string{"0"}, Params: defaultParams}

	first, err := Judge(in)
	require.NoError(t, err)
	second, err := Judge(in)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDistributeRefundsWhenNoWinningStake(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "0", 300),
		vote("1.22.1", "1.2.101", "0", 700),
	}
	res, err := Judge(Input{CreatorVote: "0", Stats: stats(votes...), Winning: []string{"1"}, Params: defaultParams})
	require.NoError(t, err)
	require.Zero(t, res.FundsWin)
	require.Equal(t, int64(50), res.FundForBurn)

	payouts, dust, err := Distribute(res, votes)
	require.NoError(t, err)
	require.Equal(t, int64(285), payouts[0].Amount)
	require.Equal(t, int64(665), payouts[1].Amount)
	require.True(t, payouts[0].Refunded)
	require.Zero(t, dust)
	assertConserved(t, res, payouts, dust)
}

func TestRefundReturnsStakesExactly(t *testing.T) {
	votes := []domain.SubjectVote{
		vote("1.22.0", "1.2.100", "0", 123),
		vote("1.22.1", "1.2.101", "1", 456),
	}
	payouts := Refund(votes)
	require.Len(t, payouts, 2)
	require.Equal(t, int64(123), payouts[0].Amount)
	require.Equal(t, int64(456), payouts[1].Amount)
	require.True(t, payouts[1].Refunded)
}

func assertConserved(t *testing.T, res domain.SubjectResult, payouts []Payout, dust int64) {
	t.Helper()
	total := res.CreatorWin + res.FundForBurn + dust
	for _, p := range payouts {
		total += p.Amount
	}
	require.Equal(t, res.FundPool, total)
}
