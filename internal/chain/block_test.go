package chain

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/protocol"
)

const (
	feeder   domain.AccountID = "1.2.10"
	alice    domain.AccountID = "1.2.100"
	bob      domain.AccountID = "1.2.101"
	outsider domain.AccountID = "1.2.99"

	coin = domain.CorePrecision
)

var btcUSD = domain.PairKey{PlatformID: "1000001", QuoteBase: "BTC/USD"}

func genesis() Genesis {
	return Genesis{
		Time: 1000,
		Balances: map[domain.AccountID]int64{
			feeder:                  10 * coin,
			outsider:                10 * coin,
			alice:                   1000 * coin,
			bob:                     1000 * coin,
			domain.WitnessAccount:   10 * coin,
			domain.CommitteeAccount: 10 * coin,
		},
		Platforms: []domain.PlatformConfig{{
			PlatformID: "1000001",
			QuoteBases: map[string]string{"BTC/USD": ""},
			Status:     domain.PairVisibleActive,
			Feeders:    []domain.AccountID{feeder},
		}},
	}
}

func newDatabase(t *testing.T, cfg Config, gen Genesis) *Database {
	t.Helper()
	d, err := New(cfg, gen, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return d
}

func push(t *testing.T, d *Database, ts uint32, ops ...protocol.Operation) BlockResult {
	t.Helper()
	num, _, _ := d.Head()
	blk := protocol.Block{Number: num + 1, Timestamp: ts}
	for _, op := range ops {
		blk.Operations = append(blk.Operations, protocol.MustWrap(op))
	}
	res, err := d.PushBlock(context.Background(), blk)
	require.NoError(t, err)
	return res
}

func feed(publisher domain.AccountID, t uint32, price domain.Price) protocol.CoinFeedPriceOp {
	return protocol.CoinFeedPriceOp{
		Fee:        domain.CoreAmount(100),
		Publisher:  publisher,
		PlatformID: btcUSD.PlatformID,
		QuoteBase:  btcUSD.QuoteBase,
		Prices:     map[uint32]domain.Price{t: price},
	}
}

func supply(d *Database) int64 {
	var total int64
	for _, b := range d.Ledger().Balances() {
		total += b.Balance
	}
	return total
}

func TestFeedThroughBlock(t *testing.T) {
	d := newDatabase(t, DefaultConfig(), genesis())
	_, _, before := d.Head()

	res := push(t, d, 1060, feed(feeder, 60, 5000000000))
	require.Len(t, res.Applied, 1)
	require.Empty(t, res.Rejected)
	require.Equal(t, int64(100), res.Applied[0].Fee)
	require.NotEqual(t, before, res.Digest)

	q, err := d.Oracle().QueryPrice(btcUSD, 60)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteConfirmed, q.Status)
	require.Equal(t, domain.Price(5000000000), q.Price.Price)
	require.Equal(t, int64(10*coin-100), d.Ledger().Balance(feeder, domain.CoreAsset))
	require.Equal(t, int64(10*coin+100), d.Ledger().Balance(domain.CommitteeAccount, domain.CoreAsset))
}

func TestRejectedOperationLeavesNoTrace(t *testing.T) {
	d := newDatabase(t, DefaultConfig(), genesis())
	unaligned := feed(feeder, 61, 1)
	cheap := feed(feeder, 60, 1)
	cheap.Fee.Amount = 99

	res := push(t, d, 1060, feed(outsider, 60, 1), unaligned, cheap, feed(feeder, 120, 7))
	require.Len(t, res.Rejected, 3)
	require.Contains(t, res.Rejected[0].Error, "not a feeder")
	require.Contains(t, res.Rejected[1].Error, "time not aligned to 60")
	require.Contains(t, res.Rejected[2].Error, "insufficient fee")
	require.Len(t, res.Applied, 1)
	require.Equal(t, 3, res.Applied[0].Index)

	require.Equal(t, int64(10*coin), d.Ledger().Balance(outsider, domain.CoreAsset))
	q, err := d.Oracle().QueryPrice(btcUSD, 60)
	require.NoError(t, err)
	require.Equal(t, domain.QuoteNoData, q.Status)
}

func TestBlockSequencing(t *testing.T) {
	d := newDatabase(t, DefaultConfig(), genesis())
	ctx := context.Background()

	_, err := d.PushBlock(ctx, protocol.Block{Number: 2, Timestamp: 1060})
	require.ErrorIs(t, err, domain.ErrPrecondition)
	_, err = d.PushBlock(ctx, protocol.Block{Number: 1, Timestamp: 999})
	require.ErrorIs(t, err, domain.ErrPrecondition)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = d.PushBlock(canceled, protocol.Block{Number: 1, Timestamp: 1060})
	require.ErrorIs(t, err, context.Canceled)

	push(t, d, 1060)
	num, ts, _ := d.Head()
	require.Equal(t, uint64(1), num)
	require.Equal(t, uint32(1060), ts)
}

func TestFatalErrorRevertsBlock(t *testing.T) {
	gen := genesis()
	gen.Balances[domain.CommitteeAccount] = math.MaxInt64
	d := newDatabase(t, DefaultConfig(), gen)
	_, _, digest := d.Head()

	blk := protocol.Block{Number: 1, Timestamp: 1060, Operations: []protocol.Envelope{
		protocol.MustWrap(feed(feeder, 60, 5000000000)),
	}}
	_, err := d.PushBlock(context.Background(), blk)
	require.True(t, domain.IsFatal(err))

	num, ts, after := d.Head()
	require.Zero(t, num)
	require.Equal(t, uint32(1000), ts)
	require.Equal(t, digest, after)
	require.Equal(t, int64(10*coin), d.Ledger().Balance(feeder, domain.CoreAsset))
	_, err = d.Oracle().Bucket(btcUSD, 60)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDigestIsDeterministic(t *testing.T) {
	a := newDatabase(t, DefaultConfig(), genesis())
	b := newDatabase(t, DefaultConfig(), genesis())

	for _, d := range []*Database{a, b} {
		push(t, d, 1060, feed(feeder, 60, 5000000000), feed(feeder, 120, domain.InvalidFeedPrice))
		push(t, d, 1120, feed(feeder, 60, 5100000000))
	}
	_, _, da := a.Head()
	_, _, db := b.Head()
	require.Equal(t, da, db)

	push(t, b, 1180, feed(feeder, 180, 1))
	_, _, db = b.Head()
	require.NotEqual(t, da, db)
}

func TestSubjectMarketThroughBlocks(t *testing.T) {
	d := newDatabase(t, DefaultConfig(), genesis())
	total := supply(d)

	publish := protocol.SubjectPublishOp{
		Fee:         domain.CoreAmount(5*coin + 10*coin/20),
		Creator:     alice,
		SubjectName: "derby",
		Content: &protocol.SubjectContent{Template: domain.SubjectTemplate{
			Event: domain.EventScore, Vote: "0", Type: domain.RuleDualRadio,
			Options: map[string]domain.OptionValue{"0": {}, "1": {}},
		}},
		Opts: &protocol.SubjectOptions{
			CreateTime:         1060,
			PredictionInterval: 1060 + 36000,
			CreatorVote:        domain.CoreAmount(50 * coin),
		},
	}
	res := push(t, d, 1060, publish)
	require.Len(t, res.Applied, 1)
	subjectID := domain.SubjectID(res.Applied[0].Object)
	subj, err := d.Subjects().Subject(subjectID)
	require.NoError(t, err)

	vote := protocol.SubjectVoteOp{
		Fee: domain.CoreAmount(12 * coin / 10), Voter: bob, SubjectID: subjectID,
		Quantity: domain.CoreAmount(150 * coin), CreatorVote: "0", MyVote: "1",
	}
	res = push(t, d, 1120, vote)
	require.Len(t, res.Applied, 1)
	require.Len(t, res.Transitions, 1)

	res = push(t, d, subj.Expires.VoteEnd)
	require.Equal(t, domain.StatusVoteEnd, res.Transitions[0].To)

	opts, err := protocol.NewEventOptions(map[string]any{"result": "1"})
	require.NoError(t, err)
	judge := protocol.SubjectEventOp{Fee: domain.CoreAmount(0), Oper: alice, SubjectID: subjectID, Event: "judge", Options: opts}
	res = push(t, d, subj.Expires.PredictionEnd+180, judge)
	require.Len(t, res.Applied, 1)

	res = push(t, d, subj.Expires.Settle)
	require.Len(t, res.Transitions, 1)
	require.Equal(t, domain.StatusSettle, res.Transitions[0].To)

	require.Equal(t, int64(1000*coin-55*coin/10-50*coin+36*coin/100), d.Ledger().Balance(alice, domain.CoreAsset))
	require.Equal(t, int64(1000*coin-150*coin-12*coin/10+190*coin), d.Ledger().Balance(bob, domain.CoreAsset))
	require.Equal(t, int64(10*coin), d.Ledger().Burned(domain.CoreAsset))
	require.Equal(t, total, supply(d))
}

func TestBucketsArePrunedByBlockTime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Oracle.BucketRetention = 86400
	d := newDatabase(t, cfg, genesis())

	push(t, d, 1060, feed(feeder, 960, 5000000000))
	res := push(t, d, 86400+86400-60)
	require.Empty(t, res.Pruned)

	res = push(t, d, 86400+86400)
	require.Len(t, res.Pruned, 1)
	require.Equal(t, uint32(0), res.Pruned[0].Start)

	fixed, err := d.Oracle().Fixed(btcUSD)
	require.NoError(t, err)
	require.Contains(t, fixed.Archived, uint32(0))

	res = push(t, d, 86400+86400+60, feed(feeder, 1020, 1))
	require.Len(t, res.Rejected, 1)
}

func TestPublishCreateTimeCannotShortenFee(t *testing.T) {
	end := uint32(1060 + 240*3600)
	publish := func(createTime uint32, fee int64) protocol.SubjectPublishOp {
		return protocol.SubjectPublishOp{
			Fee:         domain.CoreAmount(fee),
			Creator:     alice,
			SubjectName: "long",
			Content: &protocol.SubjectContent{Template: domain.SubjectTemplate{
				Event: domain.EventScore, Vote: "0", Type: domain.RuleDualRadio,
				Options: map[string]domain.OptionValue{"0": {}, "1": {}},
			}},
			Opts: &protocol.SubjectOptions{
				CreateTime:         createTime,
				PredictionInterval: end,
				CreatorVote:        domain.CoreAmount(50 * coin),
			},
		}
	}

	tests := []struct {
		name     string
		op       protocol.SubjectPublishOp
		rejected string
	}{
		{name: "create time in the future", op: publish(end-1, 5*coin), rejected: "create time"},
		{name: "basic fee on a long subject", op: publish(1060, 5*coin), rejected: "insufficient fee"},
		{name: "full fee", op: publish(1060, 5*coin+240*coin/20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDatabase(t, DefaultConfig(), genesis())
			res := push(t, d, 1060, tt.op)
			if tt.rejected == "" {
				require.Len(t, res.Applied, 1)
				return
			}
			require.Empty(t, res.Applied)
			require.Len(t, res.Rejected, 1)
			require.Contains(t, res.Rejected[0].Error, tt.rejected)
			require.Equal(t, int64(1000*coin), d.Ledger().Balance(alice, domain.CoreAsset))
		})
	}
}

func TestPublishWithoutContentIsRejected(t *testing.T) {
	d := newDatabase(t, DefaultConfig(), genesis())
	op := protocol.SubjectPublishOp{Fee: domain.CoreAmount(5 * coin), Creator: alice, SubjectName: "empty"}

	res := push(t, d, 1060, op)
	require.Empty(t, res.Applied)
	require.Len(t, res.Rejected, 1)
	require.Contains(t, res.Rejected[0].Error, "needs content")
	require.Equal(t, int64(1000*coin), d.Ledger().Balance(alice, domain.CoreAsset))
}
