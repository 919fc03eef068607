package candles

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/logging"
	"market-observer/internal/models"
	"market-observer/internal/store"
)

// Service exposes the candle query surface and regeneration. Stored candles
// are a cache, always re-derivable from snapshot history.
type Service struct {
	store  store.DataStore
	logger zerolog.Logger
}

// NewService creates a new candle service backed by the given store.
func NewService(dataStore store.DataStore, logger zerolog.Logger) *Service {
	return &Service{
		store:  dataStore,
		logger: logging.WithComponent(logger, "candles"),
	}
}

// List returns the latest candles for a timeframe, oldest first,
// optionally filtered by pair.
func (s *Service) List(ctx context.Context, timeframe models.Timeframe, pair string, limit int) ([]models.Candle, error) {
	if !timeframe.Valid() {
		return nil, apperrors.NewValidationError("timeframe", string(timeframe), "unknown timeframe")
	}
	return s.store.GetCandles(ctx, store.CandleFilter{Timeframe: timeframe, Pair: pair, Limit: limit})
}

// ListRange returns candles within a date range.
func (s *Service) ListRange(ctx context.Context, timeframe models.Timeframe, pair string, start, end time.Time) ([]models.Candle, error) {
	if !timeframe.Valid() {
		return nil, apperrors.NewValidationError("timeframe", string(timeframe), "unknown timeframe")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return nil, apperrors.NewValidationError("end", end, "must not precede start")
	}
	return s.store.GetCandles(ctx, store.CandleFilter{Timeframe: timeframe, Pair: pair, Start: start, End: end})
}

// Latest returns the most recent candle for a timeframe.
func (s *Service) Latest(ctx context.Context, timeframe models.Timeframe, pair string) (*models.Candle, error) {
	if !timeframe.Valid() {
		return nil, apperrors.NewValidationError("timeframe", string(timeframe), "unknown timeframe")
	}
	return s.store.GetLatestCandle(ctx, timeframe, pair)
}

// Stats returns stored candle counts per timeframe.
func (s *Service) Stats(ctx context.Context) (map[models.Timeframe]int, error) {
	return s.store.CandleStats(ctx)
}

// Regenerate rebuilds one timeframe's candles for a pair from the full
// snapshot history, replacing whatever was stored. Aggregation is a pure
// function of the history, so the replacement is always safe.
func (s *Service) Regenerate(ctx context.Context, timeframe models.Timeframe, pair string) (int, error) {
	if !timeframe.Valid() {
		return 0, apperrors.NewValidationError("timeframe", string(timeframe), "unknown timeframe")
	}
	if pair == "" {
		return 0, apperrors.NewValidationError("pair", pair, "must not be empty")
	}

	snapshots, err := s.store.GetSnapshots(ctx, store.SnapshotFilter{})
	if err != nil {
		return 0, err
	}

	ticks := ExtractTicks(snapshots, pair)
	rebuilt := Aggregate(pair, ticks, timeframe)

	if err := s.store.DeleteCandles(ctx, timeframe, pair); err != nil {
		return 0, err
	}
	if err := s.store.SaveCandles(ctx, rebuilt); err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("pair", pair).
		Str("timeframe", string(timeframe)).
		Int("candles", len(rebuilt)).
		Msg("Regenerated candles from history")

	return len(rebuilt), nil
}

// RegenerateAll rebuilds every timeframe for a pair.
func (s *Service) RegenerateAll(ctx context.Context, pair string) (map[models.Timeframe]int, error) {
	counts := make(map[models.Timeframe]int, len(models.Timeframes))
	for _, tf := range models.Timeframes {
		n, err := s.Regenerate(ctx, tf, pair)
		if err != nil {
			return counts, err
		}
		counts[tf] = n
	}
	return counts, nil
}
