package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-observer/internal/alerts"
	"market-observer/internal/models"
	"market-observer/internal/observer"
	"market-observer/internal/replay"
	"market-observer/internal/store"
	"market-observer/internal/stream"
)

// fakeSource serves scripted snapshots and counts recovery requests.
type fakeSource struct {
	snap        *models.Snapshot
	err         error
	pollCount   int
	recoverHits int
}

func (f *fakeSource) Poll(ctx context.Context) (*models.Snapshot, error) {
	f.pollCount++
	if f.err != nil {
		return nil, f.err
	}
	// Copy so callers never share the scripted snapshot.
	snap := *f.snap
	return &snap, nil
}

func (f *fakeSource) Recover(ctx context.Context) error {
	f.recoverHits++
	return nil
}

func liveSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Title:  "Live Rates",
		Majors: []string{"GOLD", "BTCUSD"},
		Pairs: []models.Quote{
			{Pair: "GOLD", Price: "1,950.00"},
			{Pair: "BTCUSD", Price: "50,000"},
		},
		Changes:   []string{"GOLD"},
		Timestamp: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
}

type testPipeline struct {
	orch    *Orchestrator
	source  *fakeSource
	store   store.DataStore
	engine  *alerts.Engine
	session *replay.Session
	hub     *stream.Hub
}

func newTestPipeline(t *testing.T, source *fakeSource) *testPipeline {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pipeline_test.db")
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { dataStore.Close() })

	logger := zerolog.Nop()
	engine := alerts.NewEngine(dataStore, logger)
	session := replay.NewSession(logger)
	hub := stream.NewHub(logger)
	t.Cleanup(hub.Close)

	monitor := observer.NewMonitor(observer.DefaultMonitorConfig(), logger)
	orch := NewOrchestrator(DefaultConfig(), source, monitor, dataStore, engine, session, hub, nil, logger)

	return &testPipeline{
		orch:    orch,
		source:  source,
		store:   dataStore,
		engine:  engine,
		session: session,
		hub:     hub,
	}
}

// captureSink records every payload it receives.
type captureSink struct {
	payloads []models.Payload
}

func (c *captureSink) Send(ctx context.Context, payload models.Payload) error {
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSink) Close() error { return nil }

func TestCycleRecordsEvaluatesAndBroadcasts(t *testing.T) {
	p := newTestPipeline(t, &fakeSource{snap: liveSnapshot()})
	ctx := context.Background()

	if _, err := p.engine.Create(ctx, alerts.CreateRequest{
		Pair:        "GOLD",
		TargetPrice: 1900,
		Condition:   models.ConditionAbove,
		Channels:    []models.AlertChannel{models.ChannelEmail},
		Email:       "trader@example.com",
	}); err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}

	sink := &captureSink{}
	p.hub.Register(sink)

	p.orch.RunCycle(ctx)

	count, err := p.store.CountSnapshots(ctx)
	if err != nil {
		t.Fatalf("CountSnapshots failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Snapshots recorded = %d, want 1", count)
	}

	if len(sink.payloads) != 1 {
		t.Fatalf("Payloads delivered = %d, want 1", len(sink.payloads))
	}
	payload := sink.payloads[0]
	if payload.Title != "Live Rates" || len(payload.Pairs) != 2 {
		t.Errorf("Payload = %+v", payload)
	}
	if len(payload.Alerts.Triggered) != 1 {
		t.Errorf("Triggered alerts in payload = %d, want 1", len(payload.Alerts.Triggered))
	}
	if len(payload.Alerts.Active) != 0 {
		t.Errorf("Active alerts in payload = %d, want 0", len(payload.Alerts.Active))
	}
}

func TestReplaySubstitutesPayloadButHistoryStaysLive(t *testing.T) {
	p := newTestPipeline(t, &fakeSource{snap: liveSnapshot()})
	ctx := context.Background()

	recorded := []models.Snapshot{
		{Title: "Replayed", Pairs: []models.Quote{{Pair: "GOLD", Price: "1,800.00"}},
			Timestamp: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
		{Title: "Replayed", Pairs: []models.Quote{{Pair: "GOLD", Price: "1,801.00"}},
			Timestamp: time.Date(2025, 5, 1, 9, 0, 1, 0, time.UTC)},
	}
	if _, err := p.session.Start(recorded, 0, 1.0); err != nil {
		t.Fatalf("Replay start failed: %v", err)
	}

	sink := &captureSink{}
	p.hub.Register(sink)

	p.orch.RunCycle(ctx)

	if len(sink.payloads) != 1 {
		t.Fatalf("Payloads delivered = %d, want 1", len(sink.payloads))
	}
	if sink.payloads[0].Title != "Replayed" {
		t.Errorf("Payload title = %q, want Replayed", sink.payloads[0].Title)
	}
	if sink.payloads[0].Pairs[0].Price != "1,800.00" {
		t.Errorf("Payload price = %q, want replayed price", sink.payloads[0].Pairs[0].Price)
	}

	// The live snapshot is still what lands in history.
	latest, err := p.store.GetLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("GetLatestSnapshot failed: %v", err)
	}
	if latest.Title != "Live Rates" {
		t.Errorf("Recorded title = %q, want live snapshot", latest.Title)
	}
}

func TestReplayFallsBackToLiveWhenExhausted(t *testing.T) {
	p := newTestPipeline(t, &fakeSource{snap: liveSnapshot()})
	ctx := context.Background()

	recorded := []models.Snapshot{
		{Title: "Replayed", Timestamp: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	if _, err := p.session.Start(recorded, 0, 1.0); err != nil {
		t.Fatalf("Replay start failed: %v", err)
	}

	sink := &captureSink{}
	p.hub.Register(sink)

	p.orch.RunCycle(ctx) // serves the replayed snapshot
	p.orch.RunCycle(ctx) // replay exhausted, falls back to live

	if len(sink.payloads) != 2 {
		t.Fatalf("Payloads delivered = %d, want 2", len(sink.payloads))
	}
	if sink.payloads[0].Title != "Replayed" {
		t.Errorf("First payload title = %q", sink.payloads[0].Title)
	}
	if sink.payloads[1].Title != "Live Rates" {
		t.Errorf("Second payload title = %q, want live fallback", sink.payloads[1].Title)
	}
}

// failSink always refuses delivery.
type failSink struct{ closed bool }

func (f *failSink) Send(ctx context.Context, payload models.Payload) error {
	return errors.New("connection reset")
}

func (f *failSink) Close() error {
	f.closed = true
	return nil
}

func TestFailingSinkIsDroppedOthersSurvive(t *testing.T) {
	p := newTestPipeline(t, &fakeSource{snap: liveSnapshot()})
	ctx := context.Background()

	good := &captureSink{}
	bad := &failSink{}
	p.hub.Register(good)
	p.hub.Register(bad)

	p.orch.RunCycle(ctx)

	if len(good.payloads) != 1 {
		t.Errorf("Healthy sink received %d payloads, want 1", len(good.payloads))
	}
	if !bad.closed {
		t.Error("Failed sink was not closed")
	}
	if got := p.hub.SinkCount(); got != 1 {
		t.Errorf("SinkCount = %d, want 1 after drop", got)
	}

	p.orch.RunCycle(ctx)
	if len(good.payloads) != 2 {
		t.Errorf("Healthy sink received %d payloads after second cycle, want 2", len(good.payloads))
	}
}

func TestFailedPollSkipsCycle(t *testing.T) {
	p := newTestPipeline(t, &fakeSource{err: errors.New("feed unreachable")})
	ctx := context.Background()

	sink := &captureSink{}
	p.hub.Register(sink)

	p.orch.RunCycle(ctx)

	count, _ := p.store.CountSnapshots(ctx)
	if count != 0 {
		t.Errorf("Snapshots recorded = %d, want 0 on failed poll", count)
	}
	if len(sink.payloads) != 0 {
		t.Errorf("Payloads delivered = %d, want 0 on failed poll", len(sink.payloads))
	}
	if p.source.recoverHits != 0 {
		t.Errorf("Recover called %d times; a failed poll is not a stall", p.source.recoverHits)
	}
}

func TestStalledFeedTriggersSingleRecovery(t *testing.T) {
	// Frozen price, no change markers.
	frozen := liveSnapshot()
	frozen.Changes = nil
	src := &fakeSource{snap: frozen}
	p := newTestPipeline(t, src)

	// Drive the clock manually so the stall timeout elapses across cycles.
	clock := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	p.orch.now = func() time.Time { return clock }

	ctx := context.Background()
	p.orch.RunCycle(ctx)
	if src.recoverHits != 0 {
		t.Fatalf("Recovery on first cycle")
	}

	clock = clock.Add(31 * time.Second)
	p.orch.RunCycle(ctx)
	if src.recoverHits != 1 {
		t.Fatalf("Recover calls = %d, want 1", src.recoverHits)
	}

	// The very next cycle must not re-fire for the same stall.
	clock = clock.Add(time.Second)
	p.orch.RunCycle(ctx)
	if src.recoverHits != 1 {
		t.Errorf("Recover calls = %d after reset, want still 1", src.recoverHits)
	}
}
