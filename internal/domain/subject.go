package domain

import (
	"fmt"
	"slices"
)

// SubjectStatus is the lifecycle state of a prediction market.
type SubjectStatus uint8

const (
	StatusNone SubjectStatus = iota
	StatusCreate
	StatusVoteBegin
	StatusVoteEnd
	StatusJudge
	StatusSettle
	StatusClose
	StatusRestore
)

var statusNames = [...]string{
	StatusNone:      "none",
	StatusCreate:    "create",
	StatusVoteBegin: "vote_begin",
	StatusVoteEnd:   "vote_end",
	StatusJudge:     "judge",
	StatusSettle:    "settle",
	StatusClose:     "close",
	StatusRestore:   "restore",
}

func (s SubjectStatus) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ParseSubjectStatus maps a status name back to its value.
func ParseSubjectStatus(name string) (SubjectStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return SubjectStatus(i), nil
		}
	}
	return StatusNone, Validationf("unknown subject status %q", name)
}

// EnableVote reports whether votes are accepted in this state.
func (s SubjectStatus) EnableVote() bool {
	return s == StatusCreate || s == StatusVoteBegin
}

// EnableRestore reports whether the market can still be aborted.
func (s SubjectStatus) EnableRestore() bool {
	return s != StatusSettle && s != StatusClose && s != StatusRestore
}

// Terminal reports whether no further transition is possible.
func (s SubjectStatus) Terminal() bool {
	return s == StatusClose || s == StatusRestore
}

// StatusExpires holds the persisted lifecycle deadlines, in unix seconds.
type StatusExpires struct {
	Create        uint32 `json:"create"`
	VoteBegin     uint32 `json:"vote_begin"`
	VoteEnd       uint32 `json:"vote_end"`
	PredictionEnd uint32 `json:"prediction_end"`
	Settle        uint32 `json:"settle"`
}

// Event types a subject template may declare.
const (
	EventPrice       = "price"
	EventScore       = "score"
	EventTemperature = "temperature"
)

// Rule kinds for a subject's option schema.
const (
	RuleDualRadio          = "dual_radio"
	RuleMultiRadio         = "multi_radio"
	RuleMultiCheck         = "multi_check"
	RuleContinuousInterval = "continuous_interval"
)

// PriceUnit names the trading pair a "price" subject is judged against.
type PriceUnit struct {
	PlatformID string `json:"platform_id"`
	QuoteBase  string `json:"quote_base"`
}

// Key returns the oracle pair key for the unit.
func (u PriceUnit) Key() PairKey {
	return PairKey{PlatformID: u.PlatformID, QuoteBase: u.QuoteBase}
}

// OptionValue is the (alpha, beta) bound pair of one option. For interval
// rules it is the half-open range [alpha, beta).
type OptionValue struct {
	Alpha string `json:"alpha"`
	Beta  string `json:"beta"`
}

// SubjectTemplate is the market definition supplied at publish time.
type SubjectTemplate struct {
	Event   string                 `json:"event"`
	Unit    PriceUnit              `json:"unit"`
	After   uint32                 `json:"after"`
	Vote    string                 `json:"vote"`
	Type    string                 `json:"type"`
	Options map[string]OptionValue `json:"options"`
	Title   map[string]OptionValue `json:"title,omitempty"`
}

// OptionKeys returns the declared option keys in sorted order.
func (t SubjectTemplate) OptionKeys() []string {
	keys := make([]string, 0, len(t.Options))
	for k := range t.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Clone returns a deep copy.
func (t SubjectTemplate) Clone() SubjectTemplate {
	t.Options = cloneMap(t.Options)
	t.Title = cloneMap(t.Title)
	return t
}

// JudgeInput is the realized outcome handed to the option rules. Value is
// used by interval rules, Keys by discrete rules.
type JudgeInput struct {
	Value string   `json:"value,omitempty"`
	Keys  []string `json:"keys,omitempty"`
}

// SubjectResult is the settlement outcome. It is computed once.
type SubjectResult struct {
	CreatorIsWin bool     `json:"creator_is_win"`
	CreatorWin   int64    `json:"creator_win"`
	AccountWin   uint64   `json:"account_win"`
	AccountTotal uint64   `json:"account_total"`
	FundsWin     int64    `json:"funds_win"`
	FundPool     int64    `json:"fund_pool"`
	FundForBurn  int64    `json:"fund_for_burn"`
	WinningKeys  []string `json:"winning_keys"`
	PayoutDust   int64    `json:"payout_dust"`
}

// Subject is a prediction market.
type Subject struct {
	ID              SubjectID       `json:"id"`
	Name            string          `json:"subject_name"`
	ArticleURL      string          `json:"article_url"`
	Description     string          `json:"description"`
	Creator         AccountID       `json:"creator"`
	DeferredFee     int64           `json:"deferred_fee"`
	Status          SubjectStatus   `json:"status"`
	Expires         StatusExpires   `json:"status_expires"`
	Template        SubjectTemplate `json:"template"`
	CreatorStake    Asset           `json:"creator_vote"`
	FeedPriceResult CoinPrice       `json:"feed_price_result"`
	JudgeInput      *JudgeInput     `json:"judge_input,omitempty"`
	Result          *SubjectResult  `json:"result,omitempty"`
	StatisticsID    StatisticsID    `json:"statistics"`
	Exts            int             `json:"exts"`
	LastTransition  uint32          `json:"last_transition"`
}

// Clone returns a deep copy.
func (s Subject) Clone() Subject {
	s.Template = s.Template.Clone()
	if s.JudgeInput != nil {
		ji := *s.JudgeInput
		ji.Keys = slices.Clone(ji.Keys)
		s.JudgeInput = &ji
	}
	if s.Result != nil {
		r := *s.Result
		r.WinningKeys = slices.Clone(r.WinningKeys)
		s.Result = &r
	}
	return s
}

// SubjectStatistics aggregates every accepted vote of a subject.
type SubjectStatistics struct {
	ID            StatisticsID      `json:"id"`
	Owner         SubjectID         `json:"owner"`
	Total         map[string]uint64 `json:"total"`
	Funds         map[string]int64  `json:"funds"`
	FundPool      int64             `json:"fund_pool"`
	FeePool       int64             `json:"fee_pool"`
	SubjectIncome int64             `json:"subject_income"`
}

// FundsSum returns the sum of all per-option funds.
func (s SubjectStatistics) FundsSum() int64 {
	var sum int64
	for _, v := range s.Funds {
		sum += v
	}
	return sum
}

// Clone returns a deep copy.
func (s SubjectStatistics) Clone() SubjectStatistics {
	s.Total = cloneMap(s.Total)
	s.Funds = cloneMap(s.Funds)
	return s
}

// VotePayout records what a vote received when the subject finished.
type VotePayout struct {
	Amount   int64  `json:"amount"`
	Refunded bool   `json:"refunded"`
	Time     uint32 `json:"time"`
}

// SubjectVote is one accepted vote submission.
type SubjectVote struct {
	ID          VoteID      `json:"id"`
	Voter       AccountID   `json:"voter"`
	SubjectID   SubjectID   `json:"subject_id"`
	SubjectName string      `json:"subject_name"`
	DeferredFee int64       `json:"deferred_fee"`
	VoteTime    uint32      `json:"vote_time"`
	Quantity    Asset       `json:"quantity"`
	CreatorVote string      `json:"creator_vote"`
	MyVote      string      `json:"my_vote"`
	Payout      *VotePayout `json:"payout,omitempty"`
}

// Clone returns a deep copy.
func (v SubjectVote) Clone() SubjectVote {
	if v.Payout != nil {
		p := *v.Payout
		v.Payout = &p
	}
	return v
}

// SubjectEvent records an event operation and how the lifecycle handled it.
type SubjectEvent struct {
	ID        EventID        `json:"id"`
	Oper      AccountID      `json:"oper"`
	SubjectID SubjectID      `json:"subject_id"`
	Event     string         `json:"event"`
	Options   map[string]any `json:"options,omitempty"`
	BlockNum  uint64         `json:"block_num"`
	Time      uint32         `json:"time"`
	Status    SubjectStatus  `json:"status"`
	Message   string         `json:"message,omitempty"`
}

// Clone returns a shallow copy of the options map; values are treated as
// immutable once recorded.
func (e SubjectEvent) Clone() SubjectEvent {
	e.Options = cloneMap(e.Options)
	return e
}
