// Package alerts holds alert records and evaluates them against market
// quotes with asset-specific tolerance semantics.
package alerts

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/logging"
	"market-observer/internal/models"
	"market-observer/internal/store"
)

// Engine owns alert records. All mutations go through it; a triggered
// alert is terminal and never re-armed automatically.
type Engine struct {
	store  store.DataStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine creates a new alert engine backed by the given store.
func NewEngine(dataStore store.DataStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  dataStore,
		logger: logging.WithComponent(logger, "alerts"),
		now:    time.Now,
	}
}

// CreateRequest carries the fields needed to create an alert.
type CreateRequest struct {
	Pair          string
	TargetPrice   float64
	Condition     models.AlertCondition
	Channels      []models.AlertChannel
	Email         string
	Phone         string
	CustomMessage string
}

// Create validates the request and persists a new active alert.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*models.Alert, error) {
	if req.Pair == "" {
		return nil, apperrors.NewValidationError("pair", req.Pair, "must not be empty")
	}
	if !req.Condition.Valid() {
		return nil, apperrors.NewValidationError("condition", string(req.Condition), "must be above, below or equal")
	}
	if len(req.Channels) == 0 {
		return nil, apperrors.NewValidationError("channels", req.Channels, "at least one channel required")
	}
	for _, ch := range req.Channels {
		switch ch {
		case models.ChannelEmail:
			if req.Email == "" {
				return nil, apperrors.NewValidationError("email", req.Email, "required for the email channel")
			}
		case models.ChannelSMS:
			if req.Phone == "" {
				return nil, apperrors.NewValidationError("phone", req.Phone, "required for the sms channel")
			}
		default:
			return nil, apperrors.NewValidationError("channels", string(ch), "unknown channel")
		}
	}

	alert := &models.Alert{
		ID:            uuid.NewString(),
		Pair:          req.Pair,
		TargetPrice:   req.TargetPrice,
		Condition:     req.Condition,
		Status:        models.StatusActive,
		Channels:      req.Channels,
		Email:         req.Email,
		Phone:         req.Phone,
		CustomMessage: req.CustomMessage,
		CreatedAt:     e.now().UTC(),
	}

	if err := e.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("alert_id", alert.ID).
		Str("pair", alert.Pair).
		Float64("target", alert.TargetPrice).
		Str("condition", string(alert.Condition)).
		Msg("Created alert")

	return alert, nil
}

// Get retrieves an alert by ID.
func (e *Engine) Get(ctx context.Context, id string) (*models.Alert, error) {
	return e.store.GetAlert(ctx, id)
}

// List retrieves all alerts.
func (e *Engine) List(ctx context.Context) ([]models.Alert, error) {
	return e.store.ListAlerts(ctx, store.AlertFilter{})
}

// ListByStatus retrieves alerts in a given status.
func (e *Engine) ListByStatus(ctx context.Context, status models.AlertStatus) ([]models.Alert, error) {
	return e.store.ListAlerts(ctx, store.AlertFilter{Status: status})
}

// Delete removes an alert.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.store.DeleteAlert(ctx, id); err != nil {
		return err
	}
	e.logger.Info().Str("alert_id", id).Msg("Deleted alert")
	return nil
}

// BuildPriceMap parses raw quotes into a pair→price map. Prices carry
// thousands separators; unparsable entries are skipped, not fatal.
func (e *Engine) BuildPriceMap(quotes []models.Quote) map[string]float64 {
	prices := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		price, err := ParsePrice(q.Price)
		if err != nil {
			e.logger.Warn().
				Str("pair", q.Pair).
				Str("raw", q.Price).
				Msg("Skipping unparsable quote")
			continue
		}
		prices[q.Pair] = price
	}
	return prices
}

// ParsePrice parses a feed price string, tolerating thousands separators.
func ParsePrice(raw string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, apperrors.NewParseError("", raw, nil)
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, apperrors.NewParseError("", raw, err)
	}
	return price, nil
}

// Evaluate checks every active alert against the price map and returns
// trigger events. lastCheckedPrice is updated on every evaluated alert so
// operators can observe staleness. Evaluation order across alerts carries
// no meaning; the result is deterministic for a given price map and alert
// set. An alert is only marked triggered once its durability write has
// succeeded.
func (e *Engine) Evaluate(ctx context.Context, prices map[string]float64) ([]models.TriggerEvent, error) {
	active, err := e.store.ListAlerts(ctx, store.AlertFilter{Status: models.StatusActive})
	if err != nil {
		return nil, err
	}

	var events []models.TriggerEvent
	for i := range active {
		alert := active[i]

		current, ok := prices[alert.Pair]
		if !ok {
			continue
		}

		price := current
		alert.LastCheckedPrice = &price

		if e.shouldTrigger(&alert, current) {
			now := e.now().UTC()
			alert.Status = models.StatusTriggered
			alert.TriggeredAt = &now

			if err := e.store.UpdateAlert(ctx, &alert); err != nil {
				// Durability failed: leave the alert active, do not emit.
				e.logger.Error().Err(err).
					Str("alert_id", alert.ID).
					Msg("Failed to persist alert trigger")
				continue
			}

			logging.LogAlertTriggered(e.logger, alert.ID, alert.Pair, string(alert.Condition), alert.TargetPrice, current)
			events = append(events, models.TriggerEvent{Alert: alert, CurrentPrice: current})
			continue
		}

		if err := e.store.UpdateAlert(ctx, &alert); err != nil {
			e.logger.Error().Err(err).
				Str("alert_id", alert.ID).
				Msg("Failed to update last checked price")
		}
	}

	return events, nil
}

func (e *Engine) shouldTrigger(alert *models.Alert, current float64) bool {
	switch alert.Condition {
	case models.ConditionAbove:
		return current >= alert.TargetPrice
	case models.ConditionBelow:
		return current <= alert.TargetPrice
	case models.ConditionEqual:
		tolerance := Tolerance(alert.Pair)
		return math.Abs(current-alert.TargetPrice) <= tolerance
	default:
		return false
	}
}
