// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"market-observer/internal/models"
)

// DataStore defines the interface for data persistence. All operations are
// atomic per record; the core requires no multi-record transactions.
type DataStore interface {
	// Alerts
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	UpdateAlert(ctx context.Context, alert *models.Alert) error
	DeleteAlert(ctx context.Context, id string) error

	// Snapshot history (append-only, time-ordered)
	AppendSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.Snapshot, error)
	GetSnapshotAt(ctx context.Context, index int) (*models.Snapshot, error)
	GetLatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	CountSnapshots(ctx context.Context) (int, error)
	SnapshotDateRange(ctx context.Context) (earliest, latest time.Time, err error)
	ClearSnapshots(ctx context.Context) error

	// Candles (derived data, regenerated wholesale)
	SaveCandles(ctx context.Context, candles []models.Candle) error
	GetCandles(ctx context.Context, filter CandleFilter) ([]models.Candle, error)
	GetLatestCandle(ctx context.Context, timeframe models.Timeframe, pair string) (*models.Candle, error)
	CandleStats(ctx context.Context) (map[models.Timeframe]int, error)
	DeleteCandles(ctx context.Context, timeframe models.Timeframe, pair string) error

	// Lifecycle
	Close() error
}

// AlertFilter represents filters for querying alerts.
type AlertFilter struct {
	Pair   string
	Status models.AlertStatus
	Limit  int
}

// SnapshotFilter represents filters for querying snapshot history.
type SnapshotFilter struct {
	Start time.Time
	End   time.Time
	Limit int
}

// CandleFilter represents filters for querying candles.
type CandleFilter struct {
	Timeframe models.Timeframe
	Pair      string
	Start     time.Time
	End       time.Time
	Limit     int
}
