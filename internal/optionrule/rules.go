// Package optionrule interprets a subject's option schema: which keys may be
// voted on, how accumulators are seeded and which keys win for a judged
// outcome. Every function is pure.
package optionrule

import (
	"slices"

	"github.com/cockroachdb/apd/v3"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// MaxFractionDigits is the decimal precision of interval bounds.
const MaxFractionDigits = 8

var aliases = map[string]string{
	"mutil_radio": domain.RuleMultiRadio,
	"mutil_check": domain.RuleMultiCheck,
}

// Kind returns the canonical rule kind, accepting legacy spellings.
func Kind(name string) (string, error) {
	if canon, ok := aliases[name]; ok {
		return canon, nil
	}
	switch name {
	case domain.RuleDualRadio, domain.RuleMultiRadio, domain.RuleMultiCheck, domain.RuleContinuousInterval:
		return name, nil
	}
	return "", domain.Validationf("unknown option rule %q", name)
}

// ParseDecimal parses a bound or judge value with at most
// MaxFractionDigits fractional digits.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, domain.Validationf("invalid decimal %q", s)
	}
	if d.Form != apd.Finite {
		return nil, domain.Validationf("decimal %q is not finite", s)
	}
	var reduced apd.Decimal
	reduced.Reduce(d)
	if reduced.Exponent < -MaxFractionDigits {
		return nil, domain.Validationf("decimal %q has more than %d fractional digits", s, MaxFractionDigits)
	}
	return d, nil
}

// PriceToDecimal renders an 8-decimal fixed-point price as a decimal string.
func PriceToDecimal(p domain.Price) string {
	return apd.New(int64(p), -domain.PricePrecision).Text('f')
}

type interval struct {
	key         string
	alpha, beta *apd.Decimal
}

func intervals(t domain.SubjectTemplate) ([]interval, error) {
	out := make([]interval, 0, len(t.Options))
	for _, key := range t.OptionKeys() {
		v := t.Options[key]
		alpha, err := ParseDecimal(v.Alpha)
		if err != nil {
			return nil, err
		}
		beta, err := ParseDecimal(v.Beta)
		if err != nil {
			return nil, err
		}
		if alpha.Cmp(beta) >= 0 {
			return nil, domain.Validationf("option %q: alpha %s must be below beta %s", key, v.Alpha, v.Beta)
		}
		out = append(out, interval{key: key, alpha: alpha, beta: beta})
	}
	slices.SortFunc(out, func(a, b interval) int { return a.alpha.Cmp(b.alpha) })
	return out, nil
}

// usesBounds reports whether outcomes are resolved numerically. Price
// subjects bucket the judged price by option bounds for every rule kind.
func usesBounds(t domain.SubjectTemplate, kind string) bool {
	return kind == domain.RuleContinuousInterval || t.Event == domain.EventPrice
}

// ValidateSchema checks that the template's options fit its rule kind.
func ValidateSchema(t domain.SubjectTemplate) error {
	kind, err := Kind(t.Type)
	if err != nil {
		return err
	}
	if len(t.Options) == 0 {
		return domain.Validationf("no options declared")
	}
	for key := range t.Options {
		if key == "" {
			return domain.Validationf("empty option key")
		}
	}
	if kind == domain.RuleDualRadio && len(t.Options) != 2 {
		return domain.Validationf("dual_radio needs exactly 2 options, got %d", len(t.Options))
	}
	if !usesBounds(t, kind) {
		return nil
	}
	ivs, err := intervals(t)
	if err != nil {
		return err
	}
	if kind == domain.RuleMultiCheck {
		return nil
	}
	for i := 1; i < len(ivs); i++ {
		if ivs[i-1].beta.Cmp(ivs[i].alpha) > 0 {
			return domain.Validationf("options %q and %q overlap", ivs[i-1].key, ivs[i].key)
		}
	}
	return nil
}

// InitialTotals seeds a zero vote count for every declared option.
func InitialTotals(t domain.SubjectTemplate) map[string]uint64 {
	out := make(map[string]uint64, len(t.Options))
	for key := range t.Options {
		out[key] = 0
	}
	return out
}

// InitialFunds seeds a zero fund for every declared option.
func InitialFunds(t domain.SubjectTemplate) map[string]int64 {
	out := make(map[string]int64, len(t.Options))
	for key := range t.Options {
		out[key] = 0
	}
	return out
}

// ValidVoteKey reports whether key is a declared option.
func ValidVoteKey(t domain.SubjectTemplate, key string) bool {
	_, ok := t.Options[key]
	return ok
}

// ResolveOutcome maps a judged outcome to the winning option keys, sorted.
// A numeric value is bucketed by option bounds; explicit keys are checked
// against the schema. An outcome matching no option is ErrOutOfRange.
func ResolveOutcome(t domain.SubjectTemplate, in domain.JudgeInput) ([]string, error) {
	kind, err := Kind(t.Type)
	if err != nil {
		return nil, err
	}
	if len(in.Keys) > 0 && kind != domain.RuleContinuousInterval {
		return resolveKeys(t, kind, in.Keys)
	}
	if in.Value == "" {
		return nil, domain.OutOfRangef("no outcome supplied")
	}
	if !usesBounds(t, kind) {
		return resolveKeys(t, kind, []string{in.Value})
	}
	return resolveValue(t, kind, in.Value)
}

func resolveKeys(t domain.SubjectTemplate, kind string, keys []string) ([]string, error) {
	out := slices.Clone(keys)
	slices.Sort(out)
	out = slices.Compact(out)
	for _, k := range out {
		if !ValidVoteKey(t, k) {
			return nil, domain.Validationf("outcome %q is not a declared option", k)
		}
	}
	if kind != domain.RuleMultiCheck && len(out) != 1 {
		return nil, domain.Validationf("%s outcome must be a single option, got %d", kind, len(out))
	}
	return out, nil
}

func resolveValue(t domain.SubjectTemplate, kind, value string) ([]string, error) {
	v, err := ParseDecimal(value)
	if err != nil {
		return nil, err
	}
	ivs, err := intervals(t)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, iv := range ivs {
		if iv.alpha.Cmp(v) <= 0 && v.Cmp(iv.beta) < 0 {
			out = append(out, iv.key)
			if kind != domain.RuleMultiCheck {
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, domain.OutOfRangef("outcome %s matches no option", value)
	}
	slices.Sort(out)
	return out, nil
}
