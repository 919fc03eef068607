package observer

import (
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/logging"
	"market-observer/internal/models"
)

// MonitorConfig holds feed health monitoring configuration.
type MonitorConfig struct {
	// StallTimeout is how long the designated instrument may stay
	// unchanged before the feed is considered stalled.
	StallTimeout time.Duration
	// WeekdayPair is the instrument watched Monday through Friday.
	WeekdayPair string
	// WeekendPair is watched on Saturday and Sunday, when forex markets
	// are closed and a crypto instrument is the better liveness signal.
	WeekendPair string
}

// DefaultMonitorConfig returns the default monitoring configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StallTimeout: 30 * time.Second,
		WeekdayPair:  "GOLD",
		WeekendPair:  "BITCOIN",
	}
}

// Monitor decides whether the feed is still producing genuinely new data.
//
// Policy: a single designated instrument is tracked rather than the whole
// quote set, with the instrument switched by day of week. A volatile
// instrument going quiet is a far stronger stall signal than an illiquid
// symbol holding its price. Non-empty change markers also count as life.
// The monitor is deterministic: time is injected through Check's now
// argument, so the same snapshot sequence always yields the same verdict.
type Monitor struct {
	config MonitorConfig
	logger zerolog.Logger

	lastPrice   string
	lastChanged time.Time
	tracking    bool
}

// NewMonitor creates a new feed health monitor.
func NewMonitor(config MonitorConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{
		config: config,
		logger: logging.WithComponent(logger, "monitor"),
	}
}

// DesignatedPair returns the instrument watched for liveness at time t.
func (m *Monitor) DesignatedPair(t time.Time) string {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return m.config.WeekendPair
	default:
		return m.config.WeekdayPair
	}
}

// Check inspects a snapshot and reports whether the feed has stalled.
// Returning true means a recovery should be issued; internal tracking is
// reset at that point so each stall produces exactly one recovery signal.
func (m *Monitor) Check(snap *models.Snapshot, now time.Time) bool {
	if snap == nil {
		return false
	}

	// Change markers from the source are direct evidence of life.
	if len(snap.Changes) > 0 {
		m.markAlive(now)
		return false
	}

	pair := m.DesignatedPair(now)
	price, found := findPrice(snap.Pairs, pair)
	if !found {
		// Designated instrument absent from this snapshot. Start tracking
		// from now rather than triggering on missing data.
		if !m.tracking {
			m.lastChanged = now
			m.tracking = true
		}
		return false
	}

	if !m.tracking || price != m.lastPrice {
		m.logger.Debug().
			Str("pair", pair).
			Str("old", m.lastPrice).
			Str("new", price).
			Msg("Designated instrument updated")
		m.lastPrice = price
		m.markAlive(now)
		return false
	}

	elapsed := now.Sub(m.lastChanged)
	if elapsed < m.config.StallTimeout {
		return false
	}

	logging.LogStall(m.logger, pair, elapsed)
	m.Reset()
	return true
}

// Reset clears stall tracking, e.g. after a recovery has been issued.
func (m *Monitor) Reset() {
	m.lastPrice = ""
	m.lastChanged = time.Time{}
	m.tracking = false
}

func (m *Monitor) markAlive(now time.Time) {
	m.lastChanged = now
	m.tracking = true
}

func findPrice(quotes []models.Quote, pair string) (string, bool) {
	for _, q := range quotes {
		if q.Pair == pair {
			return q.Price, true
		}
	}
	return "", false
}
