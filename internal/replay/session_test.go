package replay

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/models"
)

func makeSnapshots(n int) []models.Snapshot {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	snaps := make([]models.Snapshot, n)
	for i := 0; i < n; i++ {
		snaps[i] = models.Snapshot{
			Title:     fmt.Sprintf("snap-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
	}
	return snaps
}

func TestPlaybackAdvancesByFlooredSpeed(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(10), 3, 2.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	first := s.Next()
	if first == nil || first.Title != "snap-3" {
		t.Fatalf("First snapshot = %v, want snap-3", first)
	}
	second := s.Next()
	if second == nil || second.Title != "snap-5" {
		t.Fatalf("Second snapshot = %v, want snap-5", second)
	}
}

func TestPlaybackStopsAfterLastSnapshot(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(10), 3, 2.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var last *models.Snapshot
	for i := 0; i < 4; i++ {
		if snap := s.Next(); snap != nil {
			last = snap
		}
	}
	if last == nil || last.Title != "snap-9" {
		t.Fatalf("Last returned snapshot = %v, want snap-9", last)
	}

	// currentIndex has run off the end; the next call stops the session.
	if snap := s.Next(); snap != nil {
		t.Fatalf("Expected nil after end, got %v", snap.Title)
	}
	if got := s.Status().State; got != StateStopped {
		t.Errorf("State = %s, want stopped", got)
	}
}

func TestSlowSpeedStillAdvancesByOne(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(5), 0, 0.25); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if snap := s.Next(); snap == nil || snap.Title != "snap-0" {
		t.Fatalf("First snapshot = %v, want snap-0", snap)
	}
	if snap := s.Next(); snap == nil || snap.Title != "snap-1" {
		t.Fatalf("Second snapshot = %v, want snap-1", snap)
	}
}

func TestStartValidation(t *testing.T) {
	s := NewSession(zerolog.Nop())

	if _, err := s.Start(nil, 0, 1.0); err == nil {
		t.Error("Start with no snapshots should fail")
	}
	if _, err := s.Start(makeSnapshots(5), 5, 1.0); err == nil {
		t.Error("Start with out-of-range index should fail")
	}
	if _, err := s.Start(makeSnapshots(5), -1, 1.0); err == nil {
		t.Error("Start with negative index should fail")
	}
	if got := s.Status().State; got != StateStopped {
		t.Errorf("Failed starts changed state to %s", got)
	}
}

func TestSpeedIsClamped(t *testing.T) {
	s := NewSession(zerolog.Nop())

	status, err := s.Start(makeSnapshots(5), 0, 100)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status.Speed != MaxSpeed {
		t.Errorf("Speed = %v, want %v", status.Speed, MaxSpeed)
	}

	if got := s.SetSpeed(0.01).Speed; got != MinSpeed {
		t.Errorf("Speed = %v, want %v", got, MinSpeed)
	}
	if got := s.SetSpeed(1.5).Speed; got != 1.5 {
		t.Errorf("Speed = %v, want 1.5", got)
	}
}

func TestPauseAndResume(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(5), 0, 1.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if got := s.Pause().State; got != StatePaused {
		t.Fatalf("State after pause = %s", got)
	}
	if snap := s.Next(); snap != nil {
		t.Error("Next returned a snapshot while paused")
	}

	// Resume from stopped is a no-op, from paused it plays.
	if got := s.Resume().State; got != StatePlaying {
		t.Fatalf("State after resume = %s", got)
	}
	if snap := s.Next(); snap == nil || snap.Title != "snap-0" {
		t.Errorf("Next after resume = %v, want snap-0", snap)
	}

	stopped := s.Stop()
	if stopped.State != StateStopped || stopped.CurrentIndex != 0 {
		t.Errorf("Stop status = %+v, want stopped at index 0", stopped)
	}
	if got := s.Resume().State; got != StateStopped {
		t.Errorf("Resume from stopped = %s, want stopped", got)
	}
}

func TestSeekToIndex(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(10), 0, 1.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status, err := s.SeekToIndex(7)
	if err != nil {
		t.Fatalf("SeekToIndex failed: %v", err)
	}
	if status.CurrentIndex != 7 {
		t.Errorf("CurrentIndex = %d, want 7", status.CurrentIndex)
	}

	if _, err := s.SeekToIndex(10); err == nil {
		t.Error("Out-of-range seek should fail")
	}
	if got := s.Status().CurrentIndex; got != 7 {
		t.Errorf("Failed seek moved index to %d", got)
	}
}

func TestSeekToPercentClampsToLastSnapshot(t *testing.T) {
	s := NewSession(zerolog.Nop())
	if _, err := s.Start(makeSnapshots(10), 0, 1.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status, err := s.SeekToPercent(100)
	if err != nil {
		t.Fatalf("SeekToPercent failed: %v", err)
	}
	if status.CurrentIndex != 9 {
		t.Errorf("CurrentIndex = %d, want 9", status.CurrentIndex)
	}

	status, err = s.SeekToPercent(50)
	if err != nil {
		t.Fatalf("SeekToPercent failed: %v", err)
	}
	if status.CurrentIndex != 5 {
		t.Errorf("CurrentIndex = %d, want 5", status.CurrentIndex)
	}

	if _, err := s.SeekToPercent(101); err == nil {
		t.Error("Percent above 100 should fail")
	}
	if _, err := s.SeekToPercent(-1); err == nil {
		t.Error("Negative percent should fail")
	}
}

func TestStatusProgress(t *testing.T) {
	s := NewSession(zerolog.Nop())

	status := s.Status()
	if status.ProgressPercent != 0 || status.TotalSnapshots != 0 {
		t.Errorf("Empty session status = %+v", status)
	}

	if _, err := s.Start(makeSnapshots(4), 1, 1.0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status = s.Status()
	if status.ProgressPercent != 25 {
		t.Errorf("ProgressPercent = %v, want 25", status.ProgressPercent)
	}
	if status.TotalSnapshots != 4 {
		t.Errorf("TotalSnapshots = %d, want 4", status.TotalSnapshots)
	}
}
