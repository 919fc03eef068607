// Package observer defines the observation-source contract and the feed
// health monitoring that sits in front of it.
package observer

import (
	"context"

	"market-observer/internal/models"
)

// Source produces market snapshots on demand. The concrete extraction
// technology (DOM scraping, API polling) lives behind this interface.
type Source interface {
	// Poll captures a fresh snapshot. Callers bound it with a context
	// timeout; a failed poll is a skipped cycle, not a stall.
	Poll(ctx context.Context) (*models.Snapshot, error)

	// Recover asks the source to refresh itself after a detected stall.
	// Best effort: errors are logged by callers, never raised further.
	Recover(ctx context.Context) error
}
