// Package stream distributes pipeline payloads to registered sinks.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/logging"
	"market-observer/internal/models"
)

// Sink receives broadcast payloads. A sink that returns an error is
// considered dead and removed from the hub; Close is then called once.
type Sink interface {
	// Send delivers a payload. Implementations must respect ctx.
	Send(ctx context.Context, payload models.Payload) error
	// Close releases the sink's resources.
	Close() error
}

// HubConfig holds configuration for the broadcast hub.
type HubConfig struct {
	// SendTimeout bounds each per-sink delivery attempt.
	SendTimeout time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendTimeout: 2 * time.Second,
	}
}

// Hub implements a fan-out pattern: one payload per cycle is delivered to
// every registered sink. Delivery is sequential and a failing sink never
// blocks the pipeline for longer than SendTimeout.
type Hub struct {
	config HubConfig
	logger zerolog.Logger

	mu     sync.Mutex
	sinks  map[uint64]Sink
	nextID uint64

	metricsMu sync.RWMutex
	sent      uint64
	dropped   uint64
}

// NewHub creates a hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultHubConfig().SendTimeout
	}
	return &Hub{
		config: config,
		logger: logging.WithComponent(logger, "stream"),
		sinks:  make(map[uint64]Sink),
	}
}

// Register adds a sink and returns its handle for later removal.
func (h *Hub) Register(sink Sink) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	h.sinks[id] = sink
	h.logger.Info().Uint64("sink_id", id).Int("sinks", len(h.sinks)).Msg("Sink registered")
	return id
}

// Unregister removes and closes a sink. Unknown handles are ignored.
func (h *Hub) Unregister(id uint64) {
	h.mu.Lock()
	sink, ok := h.sinks[id]
	if ok {
		delete(h.sinks, id)
	}
	remaining := len(h.sinks)
	h.mu.Unlock()

	if ok {
		sink.Close()
		h.logger.Info().Uint64("sink_id", id).Int("sinks", remaining).Msg("Sink unregistered")
	}
}

// Broadcast delivers the payload to every registered sink. Sinks that fail
// are dropped and closed; remaining sinks still receive the payload. The
// return value is the number of sinks that received it.
func (h *Hub) Broadcast(ctx context.Context, payload models.Payload) int {
	h.mu.Lock()
	targets := make(map[uint64]Sink, len(h.sinks))
	for id, sink := range h.sinks {
		targets[id] = sink
	}
	h.mu.Unlock()

	delivered := 0
	for id, sink := range targets {
		sendCtx, cancel := context.WithTimeout(ctx, h.config.SendTimeout)
		err := sink.Send(sendCtx, payload)
		cancel()

		if err != nil {
			h.logger.Warn().Err(err).Uint64("sink_id", id).Msg("Sink failed, dropping")
			h.Unregister(id)
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
			continue
		}
		delivered++
	}

	h.metricsMu.Lock()
	h.sent += uint64(delivered)
	h.metricsMu.Unlock()
	return delivered
}

// SinkCount returns the number of registered sinks.
func (h *Hub) SinkCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sinks)
}

// Metrics returns cumulative delivery counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		PayloadsSent: h.sent,
		SinksDropped: h.dropped,
		Sinks:        h.SinkCount(),
	}
}

// HubMetrics contains hub delivery counters.
type HubMetrics struct {
	PayloadsSent uint64
	SinksDropped uint64
	Sinks        int
}

// Close unregisters and closes every sink.
func (h *Hub) Close() {
	h.mu.Lock()
	sinks := h.sinks
	h.sinks = make(map[uint64]Sink)
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
	}
}

// SinkFunc adapts a function to the Sink interface. Close is a no-op.
type SinkFunc func(ctx context.Context, payload models.Payload) error

// Send implements Sink.
func (f SinkFunc) Send(ctx context.Context, payload models.Payload) error {
	return f(ctx, payload)
}

// Close implements Sink.
func (f SinkFunc) Close() error { return nil }
