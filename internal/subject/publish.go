package subject

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/optionrule"
	"github.com/alanyoungcy/aftchain/internal/settlement"
)

var templateEvents = []string{domain.EventPrice, domain.EventScore, domain.EventTemperature}

// ValidEvent reports whether event is a template event type.
func ValidEvent(event string) bool {
	return slices.Contains(templateEvents, event)
}

// PublishRequest carries a validated publish operation.
type PublishRequest struct {
	Creator       domain.AccountID
	Name          string
	ArticleURL    string
	Description   string
	Template      domain.SubjectTemplate
	PredictionEnd uint32
	CreatorStake  domain.Asset
	Fee           int64
	Exts          int
}

// Publish creates a subject in the create state. The creator's stake is
// recorded as the first vote on the creator's declared option.
func (e *Engine) Publish(req PublishRequest) (domain.Subject, error) {
	now := e.clock.HeadBlockTime()
	p := e.Profile()

	if req.Name == "" {
		return domain.Subject{}, domain.Validationf("empty subject name")
	}
	if _, err := e.subjects.Find(byName, req.Name); err == nil {
		return domain.Subject{}, domain.Preconditionf("subject name %q already used", req.Name)
	}
	if !ValidEvent(req.Template.Event) {
		return domain.Subject{}, domain.Validationf("unsupported event %q", req.Template.Event)
	}
	if err := optionrule.ValidateSchema(req.Template); err != nil {
		return domain.Subject{}, err
	}
	if !optionrule.ValidVoteKey(req.Template, req.Template.Vote) {
		return domain.Subject{}, domain.Validationf("creator vote %q is not a declared option", req.Template.Vote)
	}
	if req.Template.Event == domain.EventPrice {
		if _, err := e.prices.Pair(req.Template.Unit.Key()); err != nil {
			return domain.Subject{}, err
		}
	}
	if req.PredictionEnd <= now {
		return domain.Subject{}, domain.Preconditionf("prediction end %d not after head time %d", req.PredictionEnd, now)
	}
	if d := req.PredictionEnd - now; d < p.MinPredictionSeconds || d > p.MaxPredictionSeconds {
		return domain.Subject{}, domain.Preconditionf("prediction duration %ds outside [%d, %d]", d, p.MinPredictionSeconds, p.MaxPredictionSeconds)
	}
	if req.CreatorStake.AssetID != domain.CoreAsset {
		return domain.Subject{}, domain.Validationf("creator stake must be %s", domain.CoreAsset)
	}
	if !p.CreatorVoteRange.Contains(req.CreatorStake.Amount) {
		return domain.Subject{}, domain.Preconditionf("creator stake %d outside [%d, %d]", req.CreatorStake.Amount, p.CreatorVoteRange.Min, p.CreatorVoteRange.Max)
	}
	if err := e.ledger.Debit(req.Creator, req.CreatorStake); err != nil {
		return domain.Subject{}, err
	}

	subjectID := e.subjects.NextID()
	st, err := e.stats.Create(func(id domain.StatisticsID) domain.SubjectStatistics {
		return domain.SubjectStatistics{
			ID:    id,
			Owner: subjectID,
			Total: optionrule.InitialTotals(req.Template),
			Funds: optionrule.InitialFunds(req.Template),
		}
	})
	if err != nil {
		return domain.Subject{}, fmt.Errorf("subject: create statistics: %w", err)
	}

	subj, err := e.subjects.Create(func(id domain.SubjectID) domain.Subject {
		return domain.Subject{
			ID:              id,
			Name:            req.Name,
			ArticleURL:      req.ArticleURL,
			Description:     req.Description,
			Creator:         req.Creator,
			DeferredFee:     req.Fee,
			Status:          domain.StatusCreate,
			Expires:         Expiry(p, now, req.PredictionEnd),
			Template:        req.Template,
			CreatorStake:    req.CreatorStake,
			FeedPriceResult: domain.CoinPrice{Price: domain.InvalidFeedPrice},
			StatisticsID:    st.ID,
			Exts:            req.Exts,
			LastTransition:  now,
		}
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Subject{}, domain.Preconditionf("subject name %q already used", req.Name)
		}
		return domain.Subject{}, fmt.Errorf("subject: create: %w", err)
	}

	if _, err := e.recordVote(subj, st.ID, req.Creator, req.CreatorStake, subj.Template.Vote, 0, p, now); err != nil {
		return domain.Subject{}, err
	}

	e.logger.Debug("subject published",
		slog.String("id", string(subj.ID)),
		slog.String("name", subj.Name),
		slog.Uint64("prediction_end", uint64(subj.Expires.PredictionEnd)),
	)
	return subj, nil
}

// VoteRequest carries a validated vote operation.
type VoteRequest struct {
	Voter       domain.AccountID
	SubjectID   domain.SubjectID
	Quantity    domain.Asset
	CreatorVote string
	MyVote      string
	Fee         int64
}

// Vote accepts a stake on one option of an open subject. The operation fee
// goes to the subject's fee pool and the creator's trade-fee share to its
// income.
func (e *Engine) Vote(req VoteRequest) (domain.SubjectVote, error) {
	now := e.clock.HeadBlockTime()
	p := e.Profile()

	subj, err := e.subjects.Get(req.SubjectID)
	if err != nil {
		return domain.SubjectVote{}, err
	}
	if !subj.Status.EnableVote() {
		return domain.SubjectVote{}, domain.Preconditionf("subject %s does not accept votes in %s", subj.ID, subj.Status)
	}
	if now < subj.Expires.VoteBegin || now >= subj.Expires.VoteEnd {
		return domain.SubjectVote{}, domain.Preconditionf("vote at %d outside window [%d, %d)", now, subj.Expires.VoteBegin, subj.Expires.VoteEnd)
	}
	if req.Quantity.AssetID != domain.CoreAsset {
		return domain.SubjectVote{}, domain.Validationf("vote stake must be %s", domain.CoreAsset)
	}
	if !p.VoteAmountRange.Contains(req.Quantity.Amount) {
		return domain.SubjectVote{}, domain.Preconditionf("vote stake %d outside [%d, %d]", req.Quantity.Amount, p.VoteAmountRange.Min, p.VoteAmountRange.Max)
	}
	if req.CreatorVote != subj.Template.Vote {
		return domain.SubjectVote{}, domain.Preconditionf("creator vote %q does not match subject", req.CreatorVote)
	}
	if !optionrule.ValidVoteKey(subj.Template, req.MyVote) {
		return domain.SubjectVote{}, domain.Preconditionf("option %q is not declared", req.MyVote)
	}
	prior, _ := e.votes.Range(bySubjectVoter, voterKey(subj.ID, req.Voter))
	cast := len(prior)
	if req.Voter == subj.Creator && cast > 0 {
		// The publish stake is not a vote.
		cast--
	}
	if uint32(cast) >= p.VoteMaxTimes {
		return domain.SubjectVote{}, domain.Preconditionf("%s already voted %d times", req.Voter, cast)
	}
	if req.Fee < 0 {
		return domain.SubjectVote{}, domain.Validationf("negative fee")
	}
	if err := e.ledger.Debit(req.Voter, req.Quantity); err != nil {
		return domain.SubjectVote{}, err
	}
	return e.recordVote(subj, subj.StatisticsID, req.Voter, req.Quantity, req.MyVote, req.Fee, p, now)
}

func (e *Engine) recordVote(subj domain.Subject, statsID domain.StatisticsID, voter domain.AccountID, stake domain.Asset, option string, fee int64, p domain.SubjectProfile, now uint32) (domain.SubjectVote, error) {
	v, err := e.votes.Create(func(id domain.VoteID) domain.SubjectVote {
		return domain.SubjectVote{
			ID:          id,
			Voter:       voter,
			SubjectID:   subj.ID,
			SubjectName: subj.Name,
			DeferredFee: fee,
			VoteTime:    now,
			Quantity:    stake,
			CreatorVote: subj.Template.Vote,
			MyVote:      option,
		}
	})
	if err != nil {
		return domain.SubjectVote{}, fmt.Errorf("subject: create vote: %w", err)
	}
	_, err = e.stats.Modify(statsID, func(s *domain.SubjectStatistics) error {
		s.Total[option]++
		s.Funds[option] += stake.Amount
		s.FundPool += stake.Amount
		s.FeePool += fee
		s.SubjectIncome += settlement.CutPercentAmount(fee, p.TradeFeePercent)
		if s.FundPool < 0 || s.FeePool < 0 {
			return domain.Consistencyf("subject %s: pool overflow", subj.ID)
		}
		return nil
	})
	if err != nil {
		return domain.SubjectVote{}, err
	}
	return v, nil
}
