package optionrule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

func dualRadio() domain.SubjectTemplate {
	return domain.SubjectTemplate{
		Event: domain.EventScore,
		Type:  domain.RuleDualRadio,
		Vote:  "0",
		Options: map[string]domain.OptionValue{
			"0": {Alpha: "home"},
			"1": {Alpha: "away"},
		},
	}
}

func priceBands() domain.SubjectTemplate {
	return domain.SubjectTemplate{
		Event: domain.EventPrice,
		Unit:  domain.PriceUnit{PlatformID: "1000001", QuoteBase: "BTC/USD"},
		Type:  domain.RuleContinuousInterval,
		Vote:  "mid",
		Options: map[string]domain.OptionValue{
			"low":  {Alpha: "0", Beta: "40"},
			"mid":  {Alpha: "40", Beta: "60.5"},
			"high": {Alpha: "60.5", Beta: "1000000"},
		},
	}
}

func TestKindAliases(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "dual_radio", want: domain.RuleDualRadio},
		{in: "mutil_radio", want: domain.RuleMultiRadio},
		{in: "mutil_check", want: domain.RuleMultiCheck},
		{in: "multi_check", want: domain.RuleMultiCheck},
		{in: "continuous_interval", want: domain.RuleContinuousInterval},
		{in: "lottery", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Kind(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestValidateSchema(t *testing.T) {
	overlapping := priceBands()
	overlapping.Options["mid"] = domain.OptionValue{Alpha: "39", Beta: "60.5"}

	inverted := priceBands()
	inverted.Options["low"] = domain.OptionValue{Alpha: "40", Beta: "0"}

	tooPrecise := priceBands()
	tooPrecise.Options["low"] = domain.OptionValue{Alpha: "0", Beta: "0.123456789"}

	threeWay := dualRadio()
	threeWay.Options["2"] = domain.OptionValue{Alpha: "draw"}

	empty := dualRadio()
	empty.Options = nil

	checkOverlap := priceBands()
	checkOverlap.Type = "mutil_check"
	checkOverlap.Options["mid"] = domain.OptionValue{Alpha: "39", Beta: "60.5"}

	tests := []struct {
		name    string
		tmpl    domain.SubjectTemplate
		wantErr bool
	}{
		{name: "dual radio", tmpl: dualRadio()},
		{name: "price bands", tmpl: priceBands()},
		{name: "overlapping bands", tmpl: overlapping, wantErr: true},
		{name: "inverted band", tmpl: inverted, wantErr: true},
		{name: "more than eight decimals", tmpl: tooPrecise, wantErr: true},
		{name: "dual radio with three options", tmpl: threeWay, wantErr: true},
		{name: "no options", tmpl: empty, wantErr: true},
		{name: "multi check may overlap", tmpl: checkOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSchema(tt.tmpl)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestInitialAccumulatorsCoverEveryOption(t *testing.T) {
	tmpl := priceBands()
	require.Equal(t, map[string]uint64{"low": 0, "mid": 0, "high": 0}, InitialTotals(tmpl))
	require.Equal(t, map[string]int64{"low": 0, "mid": 0, "high": 0}, InitialFunds(tmpl))
}

func TestValidVoteKey(t *testing.T) {
	require.True(t, ValidVoteKey(dualRadio(), "1"))
	require.False(t, ValidVoteKey(dualRadio(), "2"))
}

func TestResolveOutcome(t *testing.T) {
	multiCheck := domain.SubjectTemplate{
		Event: domain.EventScore,
		Type:  "mutil_check",
		Options: map[string]domain.OptionValue{
			"a": {}, "b": {}, "c": {},
		},
	}

	tests := []struct {
		name    string
		tmpl    domain.SubjectTemplate
		in      domain.JudgeInput
		want    []string
		wantErr error
	}{
		{name: "dual radio key", tmpl: dualRadio(), in: domain.JudgeInput{Keys: []string{"1"}}, want: []string{"1"}},
		{name: "dual radio value as key", tmpl: dualRadio(), in: domain.JudgeInput{Value: "0"}, want: []string{"0"}},
		{name: "dual radio unknown key", tmpl: dualRadio(), in: domain.JudgeInput{Keys: []string{"7"}}, wantErr: domain.ErrValidation},
		{name: "dual radio two keys", tmpl: dualRadio(), in: domain.JudgeInput{Keys: []string{"0", "1"}}, wantErr: domain.ErrValidation},
		{name: "multi check many keys", tmpl: multiCheck, in: domain.JudgeInput{Keys: []string{"c", "a", "c"}}, want: []string{"a", "c"}},
		{name: "interval lower bound inclusive", tmpl: priceBands(), in: domain.JudgeInput{Value: "40"}, want: []string{"mid"}},
		{name: "interval upper bound exclusive", tmpl: priceBands(), in: domain.JudgeInput{Value: "60.5"}, want: []string{"high"}},
		{name: "interval fractional", tmpl: priceBands(), in: domain.JudgeInput{Value: "60.49999999"}, want: []string{"mid"}},
		{name: "interval no match", tmpl: priceBands(), in: domain.JudgeInput{Value: "-1"}, wantErr: domain.ErrOutOfRange},
		{name: "interval above range", tmpl: priceBands(), in: domain.JudgeInput{Value: "1000000"}, wantErr: domain.ErrOutOfRange},
		{name: "interval bad value", tmpl: priceBands(), in: domain.JudgeInput{Value: "abc"}, wantErr: domain.ErrValidation},
		{name: "nothing supplied", tmpl: priceBands(), in: domain.JudgeInput{}, wantErr: domain.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOutcome(tt.tmpl, tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveOutcomeDualRadioPriceBands(t *testing.T) {
	tmpl := domain.SubjectTemplate{
		Event: domain.EventPrice,
		Type:  domain.RuleDualRadio,
		Options: map[string]domain.OptionValue{
			"0": {Alpha: "0", Beta: "3000"},
			"1": {Alpha: "3000", Beta: "122222000"},
		},
	}
	require.NoError(t, ValidateSchema(tmpl))

	got, err := ResolveOutcome(tmpl, domain.JudgeInput{Value: PriceToDecimal(350000000000)})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, got)
}

func TestPriceToDecimal(t *testing.T) {
	require.Equal(t, "50.00000000", PriceToDecimal(5000000000))
	require.Equal(t, "0.00000001", PriceToDecimal(1))
}
