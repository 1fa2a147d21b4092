package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/aftchain/internal/chain"
	"github.com/alanyoungcy/aftchain/internal/domain"
)

// SubjectView is the read side of the subject engine.
type SubjectView interface {
	Subject(id domain.SubjectID) (domain.Subject, error)
	Statistics(id domain.SubjectID) (domain.SubjectStatistics, error)
	Votes(id domain.SubjectID) []domain.SubjectVote
	Events(id domain.SubjectID) []domain.SubjectEvent
}

// PriceView is the read side of the oracle.
type PriceView interface {
	Pairs() []domain.CoinPair
	LatestValid(key domain.PairKey) (uint32, domain.CoinPrice, error)
}

// ProjectionStores are the Postgres tables fed by the projection.
type ProjectionStores struct {
	Subjects domain.SubjectStore
	Votes    domain.VoteStore
	Events   domain.EventStore
	Blocks   domain.BlockStore
}

// ProjectionService copies committed chain state into the query stores,
// the latest price cache and the result stream. Nothing it writes is read
// back by the chain. Any destination may be left nil.
type ProjectionService struct {
	subjects SubjectView
	prices   PriceView
	stores   *ProjectionStores
	cache    domain.PriceCache
	bus      domain.SignalBus
	stream   string
	logger   *slog.Logger
}

// NewProjectionService creates a ProjectionService. Results are appended to
// stream and published on the channel of the same name.
func NewProjectionService(
	subjects SubjectView,
	prices PriceView,
	stores *ProjectionStores,
	cache domain.PriceCache,
	bus domain.SignalBus,
	stream string,
	logger *slog.Logger,
) *ProjectionService {
	return &ProjectionService{
		subjects: subjects,
		prices:   prices,
		stores:   stores,
		cache:    cache,
		bus:      bus,
		stream:   stream,
		logger:   logger.With(slog.String("component", "projection")),
	}
}

// Project records one committed block.
func (s *ProjectionService) Project(ctx context.Context, res chain.BlockResult) error {
	if s.stores != nil {
		if err := s.projectSubjects(ctx, res); err != nil {
			return err
		}
		if err := s.stores.Blocks.Insert(ctx, domain.BlockRecord{
			Number:    res.Number,
			Timestamp: res.Timestamp,
			Digest:    res.Digest,
			Applied:   len(res.Applied),
			Rejected:  len(res.Rejected),
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("projection: block %d: %w", res.Number, err)
		}
	}
	if s.cache != nil {
		if err := s.projectPrices(ctx); err != nil {
			return err
		}
	}
	if s.bus != nil && s.stream != "" {
		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("projection: encode block %d: %w", res.Number, err)
		}
		if err := s.bus.StreamAppend(ctx, s.stream, raw); err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, s.stream, raw); err != nil {
			s.logger.WarnContext(ctx, "result publish failed", slog.Uint64("block", res.Number), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Touched lists the subjects changed by res in id order.
func Touched(res chain.BlockResult) []domain.SubjectID {
	var ids []domain.SubjectID
	for _, t := range res.Transitions {
		ids = append(ids, t.SubjectID)
	}
	for _, op := range res.Applied {
		if op.Subject != "" {
			ids = append(ids, op.Subject)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (s *ProjectionService) projectSubjects(ctx context.Context, res chain.BlockResult) error {
	for _, id := range Touched(res) {
		subj, err := s.subjects.Subject(id)
		if err != nil {
			return fmt.Errorf("projection: subject %s: %w", id, err)
		}
		stats, err := s.subjects.Statistics(id)
		if err != nil {
			return fmt.Errorf("projection: statistics %s: %w", id, err)
		}
		if err := s.stores.Subjects.Upsert(ctx, subj, stats); err != nil {
			return err
		}
		if err := s.stores.Votes.Upsert(ctx, s.subjects.Votes(id)); err != nil {
			return err
		}
		if err := s.stores.Events.Insert(ctx, s.subjects.Events(id)); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProjectionService) projectPrices(ctx context.Context) error {
	for _, pair := range s.prices.Pairs() {
		t, price, err := s.prices.LatestValid(pair.Key)
		if err != nil {
			return fmt.Errorf("projection: latest %s: %w", pair.Key, err)
		}
		if t == 0 {
			continue
		}
		if err := s.cache.SetLatest(ctx, domain.LatestPrice{Pair: pair.Key.String(), Price: price.Price, Time: t}); err != nil {
			return err
		}
	}
	return nil
}
