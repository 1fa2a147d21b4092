package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// Envelope is the wire form of one operation.
type Envelope struct {
	Type    OpType          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Block is an ordered batch of operations applied at one timestamp.
type Block struct {
	Number     uint64     `json:"number"`
	Timestamp  uint32     `json:"timestamp"`
	Operations []Envelope `json:"operations"`
}

// Wrap encodes op into an envelope.
func Wrap(op Operation) (Envelope, error) {
	raw, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", op.Type(), err)
	}
	return Envelope{Type: op.Type(), Payload: raw}, nil
}

// MustWrap is Wrap for ops known to encode.
func MustWrap(op Operation) Envelope {
	env, err := Wrap(op)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode returns the typed operation held by env.
func (env Envelope) Decode() (Operation, error) {
	var (
		op  Operation
		err error
	)
	switch env.Type {
	case OpCoinFeedPrice:
		op, err = decodeAs[CoinFeedPriceOp](env.Payload)
	case OpCoinUpdateFeedProducers:
		op, err = decodeAs[CoinUpdateFeedProducersOp](env.Payload)
	case OpSubjectPublish:
		op, err = decodeAs[SubjectPublishOp](env.Payload)
	case OpSubjectVote:
		op, err = decodeAs[SubjectVoteOp](env.Payload)
	case OpSubjectEvent:
		op, err = decodeAs[SubjectEventOp](env.Payload)
	case OpModuleConfig:
		op, err = decodeAs[ModuleConfigOp](env.Payload)
	default:
		return nil, domain.Validationf("unknown operation type %q", env.Type)
	}
	if err != nil {
		return nil, domain.Validationf("decode %s: %v", env.Type, err)
	}
	return op, nil
}

func decodeAs[T Operation](raw json.RawMessage) (Operation, error) {
	var op T
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, err
	}
	return op, nil
}

type eventOpJSON struct {
	Fee       domain.Asset     `json:"fee"`
	Oper      domain.AccountID `json:"oper"`
	SubjectID domain.SubjectID `json:"subject_id"`
	Event     string           `json:"event"`
	Options   json.RawMessage  `json:"options,omitempty"`
}

// MarshalJSON renders Options with protojson.
func (op SubjectEventOp) MarshalJSON() ([]byte, error) {
	out := eventOpJSON{Fee: op.Fee, Oper: op.Oper, SubjectID: op.SubjectID, Event: op.Event}
	if op.Options != nil {
		raw, err := protojson.Marshal(op.Options)
		if err != nil {
			return nil, err
		}
		out.Options = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses Options with protojson.
func (op *SubjectEventOp) UnmarshalJSON(data []byte) error {
	var in eventOpJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*op = SubjectEventOp{Fee: in.Fee, Oper: in.Oper, SubjectID: in.SubjectID, Event: in.Event}
	if len(in.Options) > 0 && string(in.Options) != "null" {
		opts := &structpb.Struct{}
		if err := protojson.Unmarshal(in.Options, opts); err != nil {
			return err
		}
		op.Options = opts
	}
	return nil
}
