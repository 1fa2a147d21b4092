// Package protocol defines the chain operations, their stateless validation
// and the fees they are charged.
package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/settlement"
)

// OpType names an operation on the wire.
type OpType string

const (
	OpCoinFeedPrice           OpType = "coin_feed_price"
	OpCoinUpdateFeedProducers OpType = "coin_update_feed_producers"
	OpSubjectPublish          OpType = "subject_publish"
	OpSubjectVote             OpType = "subject_vote"
	OpSubjectEvent            OpType = "subject_event"
	OpModuleConfig            OpType = "module_cfg"
)

// Operation is implemented by every op.
type Operation interface {
	Type() OpType
	FeePayer() domain.AccountID
	PaidFee() domain.Asset
	Validate() error
	RequiredFee(s FeeSchedule) int64
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() { validate = validator.New() })
	return validate
}

func checkStruct(op any) error {
	err := structValidator().Struct(op)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return domain.Validationf("%s failed %q", verrs[0].Namespace(), verrs[0].Tag())
	}
	return domain.Validationf("%v", err)
}

func checkFee(fee domain.Asset) error {
	if fee.Amount < 0 {
		return domain.Validationf("zero fee")
	}
	if fee.AssetID != domain.CoreAsset {
		return domain.Validationf("fee must be paid in %s", domain.CoreAsset)
	}
	return nil
}

// CoinFeedPriceOp publishes prices for one pair at one or more aligned
// times.
type CoinFeedPriceOp struct {
	Fee        domain.Asset            `json:"fee"`
	Publisher  domain.AccountID        `json:"publisher" validate:"required"`
	CoinID     domain.CoinID           `json:"coin_id"`
	PlatformID string                  `json:"platform_id" validate:"required"`
	QuoteBase  string                  `json:"quote_base" validate:"required"`
	Prices     map[uint32]domain.Price `json:"prices"`
	ResetPrice bool                    `json:"reset_price"`
}

func (op CoinFeedPriceOp) Type() OpType               { return OpCoinFeedPrice }
func (op CoinFeedPriceOp) FeePayer() domain.AccountID { return op.Publisher }
func (op CoinFeedPriceOp) PaidFee() domain.Asset      { return op.Fee }

// Pair returns the pair key the feed targets.
func (op CoinFeedPriceOp) Pair() domain.PairKey {
	return domain.PairKey{PlatformID: op.PlatformID, QuoteBase: op.QuoteBase}
}

func (op CoinFeedPriceOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	if len(op.Prices) == 0 {
		return domain.Validationf("empty prices")
	}
	for t := range op.Prices {
		if t%domain.FeedAlignment != 0 {
			return domain.Validationf("time not aligned to 60")
		}
	}
	return checkStruct(op)
}

func (op CoinFeedPriceOp) RequiredFee(s FeeSchedule) int64 { return s.FeedPrice }

// CoinUpdateFeedProducersOp replaces the feeder set of a pair.
type CoinUpdateFeedProducersOp struct {
	Fee              domain.Asset       `json:"fee"`
	Publisher        domain.AccountID   `json:"publisher" validate:"required"`
	CoinToUpdate     domain.CoinID      `json:"coin_to_update" validate:"required"`
	NewFeedProducers []domain.AccountID `json:"new_feed_producers" validate:"dive,required"`
}

func (op CoinUpdateFeedProducersOp) Type() OpType               { return OpCoinUpdateFeedProducers }
func (op CoinUpdateFeedProducersOp) FeePayer() domain.AccountID { return op.Publisher }
func (op CoinUpdateFeedProducersOp) PaidFee() domain.Asset      { return op.Fee }

func (op CoinUpdateFeedProducersOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	return checkStruct(op)
}

func (op CoinUpdateFeedProducersOp) RequiredFee(s FeeSchedule) int64 { return s.UpdateFeedProducers }

// SubjectContent is the optional descriptive part of a publish.
type SubjectContent struct {
	Description string                 `json:"description"`
	Template    domain.SubjectTemplate `json:"template_subject"`
}

// SubjectOptions carries the timing and stake of a publish.
type SubjectOptions struct {
	CreateTime         uint32       `json:"create_time"`
	PredictionInterval uint32       `json:"prediction_interval" validate:"gtefield=CreateTime"`
	CreatorVote        domain.Asset `json:"creator_vote"`
}

// SubjectPublishOp creates a prediction subject.
type SubjectPublishOp struct {
	Fee         domain.Asset     `json:"fee"`
	Creator     domain.AccountID `json:"creator" validate:"required"`
	SubjectName string           `json:"subject_name" validate:"required,max=256"`
	ArticleURL  string           `json:"article_url,omitempty" validate:"omitempty,url"`
	Content     *SubjectContent  `json:"content,omitempty"`
	Opts        *SubjectOptions  `json:"opts,omitempty"`
	Exts        int              `json:"exts,omitempty"`
}

func (op SubjectPublishOp) Type() OpType               { return OpSubjectPublish }
func (op SubjectPublishOp) FeePayer() domain.AccountID { return op.Creator }
func (op SubjectPublishOp) PaidFee() domain.Asset      { return op.Fee }

func (op SubjectPublishOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	if err := checkStruct(op); err != nil {
		return err
	}
	if op.Content != nil {
		switch op.Content.Template.Event {
		case domain.EventPrice, domain.EventScore, domain.EventTemperature:
		default:
			return domain.Validationf("unsupported event %q", op.Content.Template.Event)
		}
	}
	if op.Opts != nil && op.Opts.CreatorVote.AssetID != domain.CoreAsset {
		return domain.Validationf("creator vote must be %s", domain.CoreAsset)
	}
	return nil
}

// RequiredFee charges the basic fee plus a per-hour rate over the
// prediction interval when content is attached.
func (op SubjectPublishOp) RequiredFee(s FeeSchedule) int64 {
	fee := s.PublishBasic
	if op.Content != nil && op.Opts != nil && op.Opts.PredictionInterval > op.Opts.CreateTime {
		hours := int64(op.Opts.PredictionInterval-op.Opts.CreateTime) / 3600
		fee += hours * s.PublishPerHour
	}
	return fee
}

// SubjectVoteOp stakes on one option of a subject.
type SubjectVoteOp struct {
	Fee         domain.Asset     `json:"fee"`
	Voter       domain.AccountID `json:"voter" validate:"required"`
	SubjectID   domain.SubjectID `json:"subject_id" validate:"required"`
	Quantity    domain.Asset     `json:"quantity"`
	CreatorVote string           `json:"creator_vote" validate:"required"`
	MyVote      string           `json:"my_vote" validate:"required"`
}

func (op SubjectVoteOp) Type() OpType               { return OpSubjectVote }
func (op SubjectVoteOp) FeePayer() domain.AccountID { return op.Voter }
func (op SubjectVoteOp) PaidFee() domain.Asset      { return op.Fee }

func (op SubjectVoteOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	if op.Quantity.AssetID != domain.CoreAsset {
		return domain.Validationf("vote quantity must be %s", domain.CoreAsset)
	}
	return checkStruct(op)
}

func (op SubjectVoteOp) RequiredFee(s FeeSchedule) int64 {
	if s.VotePercent <= 0 {
		return 0
	}
	return settlement.CutPercentAmount(op.Quantity.Amount, uint64(s.VotePercent))
}

// SubjectEventOp drives an explicit lifecycle event.
type SubjectEventOp struct {
	Fee       domain.Asset     `json:"fee"`
	Oper      domain.AccountID `json:"oper" validate:"required"`
	SubjectID domain.SubjectID `json:"subject_id" validate:"required"`
	Event     string           `json:"event" validate:"required"`
	Options   *structpb.Struct `json:"options,omitempty" validate:"-"`
}

func (op SubjectEventOp) Type() OpType               { return OpSubjectEvent }
func (op SubjectEventOp) FeePayer() domain.AccountID { return op.Oper }
func (op SubjectEventOp) PaidFee() domain.Asset      { return op.Fee }

func (op SubjectEventOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	return checkStruct(op)
}

func (op SubjectEventOp) RequiredFee(s FeeSchedule) int64 { return s.Event }

// OptionsMap returns the event options as plain Go values.
func (op SubjectEventOp) OptionsMap() map[string]any {
	if op.Options == nil {
		return nil
	}
	return op.Options.AsMap()
}

// NewEventOptions builds event options from plain values.
func NewEventOptions(v map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(v)
	if err != nil {
		return nil, domain.Validationf("event options: %v", err)
	}
	return s, nil
}

// ModuleConfigOp inserts, updates or deletes module configuration.
type ModuleConfigOp struct {
	Fee        domain.Asset           `json:"fee"`
	Proposer   domain.AccountID       `json:"proposer" validate:"required"`
	ModuleName string                 `json:"module_name" validate:"required,oneof=COIN SUBJECT"`
	CfgValue   map[string]any         `json:"cfg_value" validate:"required"`
	OpType     domain.ModuleCfgOpType `json:"op_type" validate:"min=1,max=3"`
}

func (op ModuleConfigOp) Type() OpType          { return OpModuleConfig }
func (op ModuleConfigOp) PaidFee() domain.Asset { return op.Fee }

// FeePayer is the witness account for the coin module and the committee
// account otherwise.
func (op ModuleConfigOp) FeePayer() domain.AccountID {
	if op.ModuleName == domain.ModuleCoin {
		return domain.WitnessAccount
	}
	return domain.CommitteeAccount
}

func (op ModuleConfigOp) Validate() error {
	if err := checkFee(op.Fee); err != nil {
		return err
	}
	return checkStruct(op)
}

func (op ModuleConfigOp) RequiredFee(s FeeSchedule) int64 { return s.ModuleConfig }

// String renders an op for logs.
func String(op Operation) string {
	return fmt.Sprintf("%s(payer=%s)", op.Type(), op.FeePayer())
}
