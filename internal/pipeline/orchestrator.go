// Package pipeline drives the observation cycle: poll, health-check,
// record, evaluate alerts, broadcast.
package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/alerts"
	"market-observer/internal/logging"
	"market-observer/internal/models"
	"market-observer/internal/notify"
	"market-observer/internal/observer"
	"market-observer/internal/replay"
	"market-observer/internal/store"
	"market-observer/internal/stream"
)

// Config holds orchestrator timings.
type Config struct {
	// Interval is the fixed delay between cycle starts.
	Interval time.Duration
	// PollTimeout bounds each Observation Source poll.
	PollTimeout time.Duration
	// RecoverTimeout bounds a post-stall recovery attempt.
	RecoverTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Second,
		PollTimeout:    10 * time.Second,
		RecoverTimeout: 30 * time.Second,
	}
}

// Orchestrator runs one pipeline cycle per interval. Cycles are strictly
// sequential: the next poll never starts before the current cycle's sinks
// have each been attempted once. All pipeline state mutations happen on
// this single loop, so the downstream components need no locking of their
// own.
type Orchestrator struct {
	config     Config
	source     observer.Source
	monitor    *observer.Monitor
	dataStore  store.DataStore
	engine     *alerts.Engine
	session    *replay.Session
	hub        *stream.Hub
	dispatcher *notify.Dispatcher
	logger     zerolog.Logger

	now func() time.Time
}

// NewOrchestrator wires the pipeline components together. Every
// collaborator is passed in explicitly; the orchestrator owns none of
// their lifecycles except the loop itself.
func NewOrchestrator(
	cfg Config,
	source observer.Source,
	monitor *observer.Monitor,
	dataStore store.DataStore,
	engine *alerts.Engine,
	session *replay.Session,
	hub *stream.Hub,
	dispatcher *notify.Dispatcher,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig().PollTimeout
	}
	if cfg.RecoverTimeout <= 0 {
		cfg.RecoverTimeout = DefaultConfig().RecoverTimeout
	}
	return &Orchestrator{
		config:     cfg,
		source:     source,
		monitor:    monitor,
		dataStore:  dataStore,
		engine:     engine,
		session:    session,
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logging.WithComponent(logger, "pipeline"),
		now:        time.Now,
	}
}

// Run executes cycles until ctx is cancelled. Shutdown happens between
// cycles, never mid-cycle, so no partial alert state is left behind. A
// failed cycle is logged and the loop continues; uptime beats any single
// cycle's result.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().Dur("interval", o.config.Interval).Msg("Pipeline started")

	ticker := time.NewTicker(o.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Pipeline stopped")
			return ctx.Err()
		case <-ticker.C:
			o.RunCycle(ctx)
		}
	}
}

// RunCycle executes a single pipeline cycle. Exported so the CLI can run
// one-shot observations and tests can drive the pipeline deterministically.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	started := o.now()

	snap, err := o.poll(ctx)
	if err != nil {
		// A failed poll is a skipped cycle, not a stall: the monitor only
		// judges unchanging data, never absent data.
		logging.LogCycle(o.logger, 0, 0, 0, o.now().Sub(started), err)
		return
	}

	if o.monitor.Check(snap, o.now()) {
		o.recover(ctx)
	}

	if err := o.dataStore.AppendSnapshot(ctx, snap); err != nil {
		o.logger.Error().Err(err).Msg("Failed to record snapshot")
	}

	effective := o.effectiveSnapshot(snap)

	prices := o.engine.BuildPriceMap(effective.Pairs)
	events, err := o.engine.Evaluate(ctx, prices)
	if err != nil {
		o.logger.Error().Err(err).Msg("Alert evaluation failed")
	}

	for _, event := range events {
		if o.dispatcher != nil {
			// Channel failures are already isolated inside Dispatch; the
			// combined error is informational only.
			if derr := o.dispatcher.Dispatch(ctx, event); derr != nil {
				o.logger.Warn().Err(derr).Str("alert_id", event.Alert.ID).
					Msg("Some notification channels failed")
			}
		}
	}

	payload := o.buildPayload(ctx, effective)
	delivered := o.hub.Broadcast(ctx, payload)

	logging.LogCycle(o.logger, len(effective.Pairs), len(events), delivered, o.now().Sub(started), nil)
}

func (o *Orchestrator) poll(ctx context.Context) (*models.Snapshot, error) {
	pollCtx, cancel := context.WithTimeout(ctx, o.config.PollTimeout)
	defer cancel()
	return o.source.Poll(pollCtx)
}

// recover issues the source refresh after a detected stall. Best effort:
// the error is logged and the cycle proceeds either way.
func (o *Orchestrator) recover(ctx context.Context) {
	recoverCtx, cancel := context.WithTimeout(ctx, o.config.RecoverTimeout)
	defer cancel()

	if err := o.source.Recover(recoverCtx); err != nil {
		o.logger.Warn().Err(err).Msg("Feed recovery failed")
		return
	}
	o.logger.Info().Msg("Feed recovery issued")
}

// effectiveSnapshot substitutes the replay session's next snapshot for the
// live one while playback is active, falling back to live data when the
// session yields nothing.
func (o *Orchestrator) effectiveSnapshot(live *models.Snapshot) *models.Snapshot {
	if o.session == nil || !o.session.IsPlaying() {
		return live
	}
	if next := o.session.Next(); next != nil {
		return next
	}
	return live
}

func (o *Orchestrator) buildPayload(ctx context.Context, snap *models.Snapshot) models.Payload {
	summary := models.AlertSummary{
		Active:    []models.Alert{},
		Triggered: []models.Alert{},
	}

	if active, err := o.engine.ListByStatus(ctx, models.StatusActive); err == nil {
		summary.Active = active
	} else {
		o.logger.Error().Err(err).Msg("Failed to list active alerts")
	}
	if triggered, err := o.engine.ListByStatus(ctx, models.StatusTriggered); err == nil {
		summary.Triggered = triggered
	} else {
		o.logger.Error().Err(err).Msg("Failed to list triggered alerts")
	}

	return models.Payload{
		Title:   snap.Title,
		Majors:  snap.Majors,
		Pairs:   snap.Pairs,
		Changes: snap.Changes,
		Ts:      snap.Timestamp,
		Alerts:  summary,
	}
}
