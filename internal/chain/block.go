package chain

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/aftchain/internal/domain"
	"github.com/alanyoungcy/aftchain/internal/protocol"
	"github.com/alanyoungcy/aftchain/internal/subject"
)

// OpResult is the outcome of one operation in a block.
type OpResult struct {
	Index int             `json:"index"`
	Type  protocol.OpType `json:"type"`
	Fee   int64           `json:"fee"`
	Error string          `json:"error,omitempty"`
	// Object is the id of the object the operation created, if any.
	Object string `json:"object,omitempty"`
	// Subject is set for operations that touch a subject.
	Subject domain.SubjectID `json:"subject,omitempty"`
}

// BlockResult summarises an applied block.
type BlockResult struct {
	Number      uint64               `json:"number"`
	Timestamp   uint32               `json:"timestamp"`
	Digest      string               `json:"digest"`
	Applied     []OpResult           `json:"applied"`
	Rejected    []OpResult           `json:"rejected"`
	Transitions []subject.Transition `json:"transitions"`
	// Pruned holds the price buckets moved out of hot state by this block.
	Pruned []domain.PriceBucket `json:"-"`
}

// PushBlock applies blk on top of the head. Each operation runs in its own
// undo session: a failing operation is reverted and reported while the
// rest of the block proceeds. A consistency failure reverts the whole
// block and is returned; the node must halt.
func (d *Database) PushBlock(ctx context.Context, blk protocol.Block) (BlockResult, error) {
	if err := ctx.Err(); err != nil {
		return BlockResult{}, err
	}
	prevNum, prevTime := d.clock.num, d.clock.time
	if blk.Number != prevNum+1 {
		return BlockResult{}, domain.Preconditionf("block %d does not follow head %d", blk.Number, prevNum)
	}
	if blk.Timestamp < prevTime {
		return BlockResult{}, domain.Preconditionf("block time %d before head time %d", blk.Timestamp, prevTime)
	}

	session := d.db.StartUndoSession()
	d.clock.num, d.clock.time = blk.Number, blk.Timestamp
	abort := func(err error) (BlockResult, error) {
		session.Undo()
		d.clock.num, d.clock.time = prevNum, prevTime
		d.logger.Error("block aborted", slog.Uint64("block", blk.Number), slog.String("error", err.Error()))
		return BlockResult{}, err
	}

	res := BlockResult{Number: blk.Number, Timestamp: blk.Timestamp}
	pruned, err := d.oracle.PruneBuckets(blk.Timestamp)
	if err != nil {
		return abort(err)
	}
	res.Pruned = pruned
	if res.Transitions, err = d.subjects.Advance(blk.Timestamp); err != nil {
		return abort(err)
	}

	for i, env := range blk.Operations {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		out := OpResult{Index: i, Type: env.Type}
		opSession := d.db.StartUndoSession()
		fee, object, subj, err := d.applyEnvelope(env)
		if err != nil {
			opSession.Undo()
			if domain.IsFatal(err) {
				return abort(err)
			}
			out.Error = err.Error()
			res.Rejected = append(res.Rejected, out)
			d.logger.Debug("operation rejected",
				slog.Uint64("block", blk.Number),
				slog.Int("index", i),
				slog.String("type", string(env.Type)),
				slog.String("error", out.Error),
			)
			continue
		}
		opSession.Commit()
		out.Fee, out.Object, out.Subject = fee, object, subj
		res.Applied = append(res.Applied, out)
	}

	digest, err := d.StateDigest()
	if err != nil {
		return abort(err)
	}
	session.Commit()
	d.digest = digest
	res.Digest = digest

	d.logger.Info("block applied",
		slog.Uint64("block", blk.Number),
		slog.Int("applied", len(res.Applied)),
		slog.Int("rejected", len(res.Rejected)),
		slog.Int("transitions", len(res.Transitions)),
		slog.String("digest", digest),
	)
	return res, nil
}

// applyEnvelope validates an operation, charges its fee and evaluates it.
func (d *Database) applyEnvelope(env protocol.Envelope) (int64, string, domain.SubjectID, error) {
	op, err := env.Decode()
	if err != nil {
		return 0, "", "", err
	}
	if err := op.Validate(); err != nil {
		return 0, "", "", err
	}
	// The publish fee is priced from create_time, so it may not run ahead
	// of the block.
	if pub, ok := op.(protocol.SubjectPublishOp); ok && pub.Opts != nil && pub.Opts.CreateTime > d.clock.time {
		return 0, "", "", domain.Preconditionf("create time %d after block time %d", pub.Opts.CreateTime, d.clock.time)
	}
	if _, err := protocol.CheckFee(op, d.fees); err != nil {
		return 0, "", "", err
	}
	paid := op.PaidFee()
	if err := d.ledger.Debit(op.FeePayer(), paid); err != nil {
		return 0, "", "", err
	}
	// Vote fees stay with the subject until it settles or restores.
	if op.Type() != protocol.OpSubjectVote {
		if err := d.ledger.Credit(domain.CommitteeAccount, paid); err != nil {
			return 0, "", "", err
		}
	}
	object, subj, err := d.evaluate(op)
	if err != nil {
		return 0, "", "", err
	}
	return paid.Amount, object, subj, nil
}

// evaluate returns the created object id and the subject touched, if any.
func (d *Database) evaluate(op protocol.Operation) (string, domain.SubjectID, error) {
	switch op := op.(type) {
	case protocol.CoinFeedPriceOp:
		return "", "", d.applyFeed(op)
	case protocol.CoinUpdateFeedProducersOp:
		return "", "", d.applyUpdateFeedProducers(op)
	case protocol.SubjectPublishOp:
		if op.Content == nil || op.Opts == nil {
			return "", "", domain.Preconditionf("publish needs content and opts")
		}
		subj, err := d.subjects.Publish(subject.PublishRequest{
			Creator:       op.Creator,
			Name:          op.SubjectName,
			ArticleURL:    op.ArticleURL,
			Description:   op.Content.Description,
			Template:      op.Content.Template,
			PredictionEnd: op.Opts.PredictionInterval,
			CreatorStake:  op.Opts.CreatorVote,
			Fee:           op.Fee.Amount,
			Exts:          op.Exts,
		})
		return string(subj.ID), subj.ID, err
	case protocol.SubjectVoteOp:
		v, err := d.subjects.Vote(subject.VoteRequest{
			Voter:       op.Voter,
			SubjectID:   op.SubjectID,
			Quantity:    op.Quantity,
			CreatorVote: op.CreatorVote,
			MyVote:      op.MyVote,
			Fee:         op.Fee.Amount,
		})
		return string(v.ID), op.SubjectID, err
	case protocol.SubjectEventOp:
		ev, err := d.subjects.HandleEvent(subject.EventRequest{
			Oper:      op.Oper,
			SubjectID: op.SubjectID,
			Event:     op.Event,
			Options:   op.OptionsMap(),
		})
		return string(ev.ID), op.SubjectID, err
	case protocol.ModuleConfigOp:
		return "", "", d.applyModuleConfig(op)
	}
	return "", "", domain.Validationf("unsupported operation %T", op)
}

func (d *Database) applyFeed(op protocol.CoinFeedPriceOp) error {
	key := op.Pair()
	if op.CoinID != "" {
		pair, err := d.oracle.Pair(key)
		if err != nil {
			return err
		}
		if pair.ID != op.CoinID {
			return domain.Preconditionf("coin %s is not pair %s", op.CoinID, key)
		}
	}
	times := make([]uint32, 0, len(op.Prices))
	for t := range op.Prices {
		times = append(times, t)
	}
	slices.Sort(times)
	for _, t := range times {
		if err := d.oracle.RecordFeed(op.Publisher, key, t, op.Prices[t], op.ResetPrice); err != nil {
			return err
		}
	}
	return nil
}

func (d *Database) applyUpdateFeedProducers(op protocol.CoinUpdateFeedProducersOp) error {
	if op.Publisher != domain.CommitteeAccount && op.Publisher != domain.WitnessAccount {
		return domain.Preconditionf("%s may not change feed producers", op.Publisher)
	}
	_, err := d.oracle.SetFeeders(op.CoinToUpdate, op.NewFeedProducers)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFoundf("coin %s", op.CoinToUpdate)
	}
	return err
}
