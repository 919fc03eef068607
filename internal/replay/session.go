// Package replay plays back a recorded snapshot sequence at controllable
// speed, independent of real time.
package replay

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/logging"
	"market-observer/internal/models"
)

// State is a replay playback state.
type State string

const (
	StateStopped State = "stopped"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Speed bounds for playback.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Status reports the session's observable state.
type Status struct {
	State           State   `json:"state"`
	CurrentIndex    int     `json:"current_index"`
	TotalSnapshots  int     `json:"total_snapshots"`
	ProgressPercent float64 `json:"progress_percent"`
	Speed           float64 `json:"speed"`
}

// Session is the replay state machine. One session exists per process; the
// orchestrator substitutes its output for live data while it is playing.
// Status reads may run concurrently with the driver loop, so all state is
// mutex-guarded.
type Session struct {
	mu        sync.RWMutex
	state     State
	snapshots []models.Snapshot
	current   int
	speed     float64
	logger    zerolog.Logger
}

// NewSession creates a stopped replay session.
func NewSession(logger zerolog.Logger) *Session {
	return &Session{
		state:  StateStopped,
		speed:  1.0,
		logger: logging.WithComponent(logger, "replay"),
	}
}

// Start begins playback over the given snapshot sequence.
func (s *Session) Start(snapshots []models.Snapshot, startIndex int, speed float64) (Status, error) {
	if len(snapshots) == 0 {
		return s.Status(), apperrors.Wrap(apperrors.ErrInvalidArgument, "no snapshots provided")
	}
	if startIndex < 0 || startIndex >= len(snapshots) {
		return s.Status(), apperrors.NewValidationError("start_index", startIndex, "out of range")
	}

	s.mu.Lock()
	s.snapshots = snapshots
	s.current = startIndex
	s.speed = clampSpeed(speed)
	s.state = StatePlaying
	status := s.statusLocked()
	s.mu.Unlock()

	logging.LogReplay(s.logger, string(StatePlaying), status.CurrentIndex, status.TotalSnapshots, status.Speed)
	return status, nil
}

// Pause suspends playback. No-op unless playing.
func (s *Session) Pause() Status {
	s.mu.Lock()
	if s.state == StatePlaying {
		s.state = StatePaused
		s.logger.Info().Int("index", s.current).Int("total", len(s.snapshots)).Msg("Replay paused")
	}
	status := s.statusLocked()
	s.mu.Unlock()
	return status
}

// Resume continues a paused playback. No-op unless paused.
func (s *Session) Resume() Status {
	s.mu.Lock()
	if s.state == StatePaused {
		s.state = StatePlaying
		s.logger.Info().Msg("Replay resumed")
	}
	status := s.statusLocked()
	s.mu.Unlock()
	return status
}

// Stop ends playback from any state and rewinds to the start.
func (s *Session) Stop() Status {
	s.mu.Lock()
	s.state = StateStopped
	s.current = 0
	status := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info().Msg("Replay stopped")
	return status
}

// SetSpeed clamps and applies the playback speed. Allowed in any state;
// takes effect on the next advance.
func (s *Session) SetSpeed(speed float64) Status {
	s.mu.Lock()
	s.speed = clampSpeed(speed)
	status := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info().Float64("speed", status.Speed).Msg("Replay speed set")
	return status
}

// SeekToIndex jumps to a snapshot index. An out-of-range index leaves
// state unchanged and is reported to the caller.
func (s *Session) SeekToIndex(index int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.snapshots) {
		return s.statusLocked(), apperrors.NewValidationError("index", index, "out of range")
	}
	s.current = index
	s.logger.Info().Int("index", index).Int("total", len(s.snapshots)).Msg("Replay seek")
	return s.statusLocked(), nil
}

// SeekToPercent jumps to a percentage of the timeline, clamped to the last
// snapshot so 100% never lands past the end.
func (s *Session) SeekToPercent(percent float64) (Status, error) {
	if percent < 0 || percent > 100 {
		return s.Status(), apperrors.NewValidationError("percent", percent, "must be between 0 and 100")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.snapshots)
	if total > 0 {
		index := int(math.Floor(percent / 100 * float64(total)))
		if index > total-1 {
			index = total - 1
		}
		s.current = index
		s.logger.Info().Float64("percent", percent).Int("index", s.current).Msg("Replay seek")
	}
	return s.statusLocked(), nil
}

// Next returns the snapshot at the current position and advances by
// max(1, floor(speed)). It returns nil once playback runs off the end, at
// which point the session stops itself.
//
// Speeds below 1.0 do not sub-step between snapshots: the advance is
// always at least one, so 0.25x plays at the same rate as 1x. True
// slow-motion would need interpolation between snapshots and is not
// implemented.
func (s *Session) Next() *models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying || len(s.snapshots) == 0 {
		return nil
	}

	if s.current >= len(s.snapshots) {
		s.state = StateStopped
		s.logger.Info().Msg("Replay finished")
		return nil
	}

	snap := s.snapshots[s.current]

	step := int(math.Floor(s.speed))
	if step < 1 {
		step = 1
	}
	s.current += step

	return &snap
}

// IsPlaying reports whether the session is currently playing.
func (s *Session) IsPlaying() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StatePlaying
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	total := len(s.snapshots)
	progress := 0.0
	if total > 0 {
		progress = float64(s.current) / float64(total) * 100
	}
	return Status{
		State:           s.state,
		CurrentIndex:    s.current,
		TotalSnapshots:  total,
		ProgressPercent: progress,
		Speed:           s.speed,
	}
}

func clampSpeed(speed float64) float64 {
	if speed < MinSpeed {
		return MinSpeed
	}
	if speed > MaxSpeed {
		return MaxSpeed
	}
	return speed
}
