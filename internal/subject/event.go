package subject

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/optionrule"
	"github.com/alanyoungcy/aftchain/internal/settlement"
)

// EventRequest carries a subject event operation.
type EventRequest struct {
	Oper      domain.AccountID
	SubjectID domain.SubjectID
	Event     string
	Options   map[string]any
}

// HandleEvent drives an explicit lifecycle transition and records the event.
func (e *Engine) HandleEvent(req EventRequest) (domain.SubjectEvent, error) {
	now := e.clock.HeadBlockTime()
	p := e.Profile()

	subj, err := e.subjects.Get(req.SubjectID)
	if err != nil {
		return domain.SubjectEvent{}, err
	}
	if req.Oper != subj.Creator && !p.IsEventOperator(req.Oper) {
		return domain.SubjectEvent{}, domain.Preconditionf("%s may not drive events of subject %s", req.Oper, subj.ID)
	}

	var msg string
	switch req.Event {
	case EventJudge:
		msg, err = e.judge(subj, req.Options, p, now)
	case EventSettle:
		if subj.Status != domain.StatusJudge {
			return domain.SubjectEvent{}, domain.Preconditionf("settle requires judge, subject %s is %s", subj.ID, subj.Status)
		}
		if now < subj.Expires.Settle {
			return domain.SubjectEvent{}, domain.Preconditionf("settle opens at %d", subj.Expires.Settle)
		}
		err = e.settle(subj, p, now)
	case EventClose:
		if subj.Status != domain.StatusSettle {
			return domain.SubjectEvent{}, domain.Preconditionf("close requires settle, subject %s is %s", subj.ID, subj.Status)
		}
		_, err = e.subjects.Modify(subj.ID, func(s *domain.Subject) error {
			return e.setStatus(s, domain.StatusClose, now)
		})
	case EventRestore:
		if !subj.Status.EnableRestore() {
			return domain.SubjectEvent{}, domain.Preconditionf("subject %s cannot be restored from %s", subj.ID, subj.Status)
		}
		msg = "aborted by " + string(req.Oper)
		err = e.restore(subj, now)
	default:
		return domain.SubjectEvent{}, domain.Preconditionf("unknown subject event %q", req.Event)
	}
	if err != nil {
		return domain.SubjectEvent{}, err
	}

	after, err := e.subjects.Get(subj.ID)
	if err != nil {
		return domain.SubjectEvent{}, err
	}
	ev, err := e.events.Create(func(id domain.EventID) domain.SubjectEvent {
		return domain.SubjectEvent{
			ID:        id,
			Oper:      req.Oper,
			SubjectID: subj.ID,
			Event:     req.Event,
			Options:   req.Options,
			BlockNum:  e.clock.HeadBlockNum(),
			Time:      now,
			Status:    after.Status,
			Message:   msg,
		}
	})
	if err != nil {
		return domain.SubjectEvent{}, fmt.Errorf("subject: record event: %w", err)
	}
	e.logger.Debug("subject event",
		slog.String("id", string(subj.ID)),
		slog.String("event", req.Event),
		slog.String("status", after.Status.String()),
	)
	return ev, nil
}

// judge records the realized outcome. Price subjects snapshot the oracle's
// confirmed price at prediction end; other subjects take options.result.
// Malformed outcomes are rejected; an outcome outside every option is kept
// and fails at settlement, leaving the subject in judge.
func (e *Engine) judge(subj domain.Subject, opts map[string]any, p domain.SubjectProfile, now uint32) (string, error) {
	if subj.Status != domain.StatusVoteEnd && subj.Status != domain.StatusJudge {
		return "", domain.Preconditionf("judge requires vote_end, subject %s is %s", subj.ID, subj.Status)
	}
	if uint64(now) < JudgeOpens(p, subj) {
		return "", domain.Preconditionf("judge opens at %d", JudgeOpens(p, subj))
	}

	var (
		input domain.JudgeInput
		feed  = subj.FeedPriceResult
	)
	if subj.Template.Event == domain.EventPrice {
		key := subj.Template.Unit.Key()
		at := subj.Expires.PredictionEnd - subj.Expires.PredictionEnd%domain.FeedAlignment
		quote, err := e.prices.QueryPrice(key, at)
		if err != nil {
			return "", err
		}
		if quote.Status != domain.QuoteConfirmed || !quote.Price.Valid() {
			return "", domain.Preconditionf("no confirmed price for %s at %d (%s)", key, at, quote.Status)
		}
		feed = quote.Price
		input.Value = optionrule.PriceToDecimal(quote.Price.Price)
	} else {
		var err error
		if input, err = judgeInputFromOptions(opts); err != nil {
			return "", err
		}
	}

	msg := ""
	if _, err := optionrule.ResolveOutcome(subj.Template, input); err != nil {
		if !errors.Is(err, domain.ErrOutOfRange) {
			return "", err
		}
		msg = err.Error()
	}

	_, err := e.subjects.Modify(subj.ID, func(s *domain.Subject) error {
		s.FeedPriceResult = feed
		s.JudgeInput = &input
		return e.setStatus(s, domain.StatusJudge, now)
	})
	return msg, err
}

func judgeInputFromOptions(opts map[string]any) (domain.JudgeInput, error) {
	raw, ok := opts["result"]
	if !ok {
		return domain.JudgeInput{}, domain.Validationf("judge event needs options.result")
	}
	switch v := raw.(type) {
	case string:
		return domain.JudgeInput{Value: v}, nil
	case float64:
		return domain.JudgeInput{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return domain.JudgeInput{}, domain.Validationf("options.result entries must be strings")
			}
			keys = append(keys, s)
		}
		return domain.JudgeInput{Keys: keys}, nil
	default:
		return domain.JudgeInput{}, domain.Validationf("unsupported options.result type %T", raw)
	}
}

// settle resolves the judged outcome, computes the result and pays out.
func (e *Engine) settle(subj domain.Subject, p domain.SubjectProfile, now uint32) error {
	if subj.JudgeInput == nil {
		return domain.Consistencyf("subject %s in judge without an outcome", subj.ID)
	}
	winning, err := optionrule.ResolveOutcome(subj.Template, *subj.JudgeInput)
	if err != nil {
		return err
	}
	st, err := e.stats.Get(subj.StatisticsID)
	if err != nil {
		return domain.Consistencyf("subject %s statistics missing", subj.ID)
	}
	res, err := settlement.Judge(settlement.Input{
		CreatorVote: subj.Template.Vote,
		Stats:       st,
		Winning:     winning,
		Params: settlement.Params{
			TradeFeePercent: p.TradeFeePercent,
			WinFundPercent:  p.WinFundPercent,
			BurnPercent:     p.BurnPercent,
		},
	})
	if err != nil {
		return err
	}
	votes := e.Votes(subj.ID)
	payouts, dust, err := settlement.Distribute(res, votes)
	if err != nil {
		return err
	}
	res.PayoutDust = dust

	if err := e.pay(payouts, now); err != nil {
		return err
	}
	if err := e.ledger.Burn(domain.CoreAmount(res.FundForBurn)); err != nil {
		return err
	}
	if err := e.ledger.Credit(subj.Creator, domain.CoreAmount(res.CreatorWin+st.SubjectIncome)); err != nil {
		return err
	}
	protocol := st.FeePool - st.SubjectIncome + dust
	if protocol < 0 {
		return domain.Consistencyf("subject %s: income %d exceeds fee pool %d", subj.ID, st.SubjectIncome, st.FeePool)
	}
	if err := e.ledger.Credit(e.ProtocolAccount, domain.CoreAmount(protocol)); err != nil {
		return err
	}

	_, err = e.subjects.Modify(subj.ID, func(s *domain.Subject) error {
		s.Result = &res
		return e.setStatus(s, domain.StatusSettle, now)
	})
	if err != nil {
		return err
	}
	e.logger.Info("subject settled",
		slog.String("id", string(subj.ID)),
		slog.Any("winning", res.WinningKeys),
		slog.Int64("fund_pool", res.FundPool),
		slog.Int64("burn", res.FundForBurn),
	)
	return nil
}

// restore aborts a subject, returning every stake exactly. Fees are not
// refunded and go to the protocol account.
func (e *Engine) restore(subj domain.Subject, now uint32) error {
	st, err := e.stats.Get(subj.StatisticsID)
	if err != nil {
		return domain.Consistencyf("subject %s statistics missing", subj.ID)
	}
	if err := e.pay(settlement.Refund(e.Votes(subj.ID)), now); err != nil {
		return err
	}
	if err := e.ledger.Credit(e.ProtocolAccount, domain.CoreAmount(st.FeePool)); err != nil {
		return err
	}
	_, err = e.subjects.Modify(subj.ID, func(s *domain.Subject) error {
		return e.setStatus(s, domain.StatusRestore, now)
	})
	if err != nil {
		return err
	}
	e.logger.Info("subject restored", slog.String("id", string(subj.ID)), slog.Int64("fund_pool", st.FundPool))
	return nil
}

func (e *Engine) pay(payouts []settlement.Payout, now uint32) error {
	for _, po := range payouts {
		if err := e.ledger.Credit(po.Voter, domain.CoreAmount(po.Amount)); err != nil {
			return err
		}
		_, err := e.votes.Modify(po.VoteID, func(v *domain.SubjectVote) error {
			v.Payout = &domain.VotePayout{Amount: po.Amount, Refunded: po.Refunded, Time: now}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subject: record payout: %w", err)
		}
	}
	return nil
}
