package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

func feedOp(prices map[uint32]domain.Price) CoinFeedPriceOp {
	return CoinFeedPriceOp{
		Fee:        domain.CoreAmount(100),
		Publisher:  "1.2.10",
		PlatformID: "1000001",
		QuoteBase:  "BTC/USD",
		Prices:     prices,
	}
}

func TestCoinFeedPriceValidate(t *testing.T) {
	tests := []struct {
		name    string
		op      CoinFeedPriceOp
		wantMsg string
	}{
		{name: "ok", op: feedOp(map[uint32]domain.Price{60: 5000000000})},
		{name: "negative fee", op: func() CoinFeedPriceOp {
			op := feedOp(map[uint32]domain.Price{60: 1})
			op.Fee.Amount = -1
			return op
		}(), wantMsg: "zero fee"},
		{name: "empty prices", op: feedOp(nil), wantMsg: "empty prices"},
		{name: "unaligned", op: feedOp(map[uint32]domain.Price{60: 1, 61: 2}), wantMsg: "time not aligned to 60"},
		{name: "missing publisher", op: func() CoinFeedPriceOp {
			op := feedOp(map[uint32]domain.Price{60: 1})
			op.Publisher = ""
			return op
		}(), wantMsg: "Publisher"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func publishOp(hours uint32) SubjectPublishOp {
	return SubjectPublishOp{
		Fee:         domain.CoreAmount(0),
		Creator:     "1.2.100",
		SubjectName: "derby",
		Content: &SubjectContent{Template: domain.SubjectTemplate{
			Event: domain.EventScore, Vote: "0", Type: domain.RuleDualRadio,
			Options: map[string]domain.OptionValue{"0": {}, "1": {}},
		}},
		Opts: &SubjectOptions{
			CreateTime:         1000,
			PredictionInterval: 1000 + hours*3600 + 59,
			CreatorVote:        domain.CoreAmount(50 * domain.CorePrecision),
		},
	}
}

func TestSubjectPublishValidate(t *testing.T) {
	require.NoError(t, publishOp(10).Validate())

	op := publishOp(10)
	op.Content.Template.Event = "weather"
	require.ErrorIs(t, op.Validate(), domain.ErrValidation)

	op = publishOp(10)
	op.Opts.PredictionInterval = 999
	require.ErrorIs(t, op.Validate(), domain.ErrValidation)

	op = publishOp(10)
	op.Content, op.Opts = nil, nil
	require.NoError(t, op.Validate())

	op = publishOp(10)
	op.Opts.CreatorVote.AssetID = "1.3.1"
	require.ErrorIs(t, op.Validate(), domain.ErrValidation)

	op = publishOp(10)
	op.ArticleURL = "not a url"
	require.ErrorIs(t, op.Validate(), domain.ErrValidation)
}

func TestRequiredFees(t *testing.T) {
	s := DefaultFeeSchedule()

	require.Equal(t, int64(100), feedOp(nil).RequiredFee(s))
	require.Equal(t, int64(500*domain.CorePrecision), CoinUpdateFeedProducersOp{}.RequiredFee(s))
	require.Equal(t, int64(5*domain.CorePrecision+10*5000000), publishOp(10).RequiredFee(s))

	noContent := publishOp(10)
	noContent.Content = nil
	require.Equal(t, int64(5*domain.CorePrecision), noContent.RequiredFee(s))

	vote := SubjectVoteOp{Quantity: domain.CoreAmount(10 * domain.CorePrecision)}
	require.Equal(t, int64(8000000), vote.RequiredFee(s))
	huge := SubjectVoteOp{Quantity: domain.CoreAmount(math.MaxInt64)}
	require.Equal(t, int64(73786976294838206), huge.RequiredFee(s))
	require.Zero(t, SubjectEventOp{}.RequiredFee(s))
	require.Equal(t, domain.CorePrecision, ModuleConfigOp{}.RequiredFee(s))
}

func TestCheckFee(t *testing.T) {
	s := DefaultFeeSchedule()
	op := feedOp(map[uint32]domain.Price{60: 1})

	need, err := CheckFee(op, s)
	require.NoError(t, err)
	require.Equal(t, int64(100), need)

	op.Fee.Amount = 99
	_, err = CheckFee(op, s)
	require.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestModuleConfigFeePayer(t *testing.T) {
	require.Equal(t, domain.WitnessAccount, ModuleConfigOp{ModuleName: domain.ModuleCoin}.FeePayer())
	require.Equal(t, domain.CommitteeAccount, ModuleConfigOp{ModuleName: domain.ModuleSubject}.FeePayer())

	op := ModuleConfigOp{
		Fee: domain.CoreAmount(domain.CorePrecision), Proposer: "1.2.0",
		ModuleName: "TOKEN", CfgValue: map[string]any{"a": 1}, OpType: domain.ModuleCfgUpdate,
	}
	require.ErrorIs(t, op.Validate(), domain.ErrValidation)
	op.ModuleName = domain.ModuleSubject
	require.NoError(t, op.Validate())
}

func TestEnvelopeDecode(t *testing.T) {
	opts, err := NewEventOptions(map[string]any{"result": []any{"1", "2"}})
	require.NoError(t, err)
	ops := []Operation{
		feedOp(map[uint32]domain.Price{60: 5000000000, 120: domain.InvalidFeedPrice}),
		publishOp(2),
		SubjectVoteOp{Fee: domain.CoreAmount(1), Voter: "1.2.101", SubjectID: "1.21.0", Quantity: domain.CoreAmount(5), CreatorVote: "0", MyVote: "1"},
		SubjectEventOp{Fee: domain.CoreAmount(0), Oper: "1.2.0", SubjectID: "1.21.0", Event: "judge", Options: opts},
	}
	for _, op := range ops {
		env, err := Wrap(op)
		require.NoError(t, err)
		require.Equal(t, op.Type(), env.Type)

		back, err := env.Decode()
		require.NoError(t, err)
		require.Equal(t, op.Type(), back.Type())
		require.Equal(t, op.FeePayer(), back.FeePayer())
	}

	env := MustWrap(ops[3])
	back, err := env.Decode()
	require.NoError(t, err)
	require.Equal(t, map[string]any{"result": []any{"1", "2"}}, back.(SubjectEventOp).OptionsMap())

	feed, err := MustWrap(ops[0]).Decode()
	require.NoError(t, err)
	require.Equal(t, domain.InvalidFeedPrice, feed.(CoinFeedPriceOp).Prices[120])

	_, err = Envelope{Type: "transfer", Payload: []byte(`{}`)}.Decode()
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = Envelope{Type: OpSubjectVote, Payload: []byte(`{"voter":`)}.Decode()
	require.ErrorIs(t, err, domain.ErrValidation)
}
