package alerts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"market-observer/internal/models"
	"market-observer/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, store.DataStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "alerts_test.db")
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { dataStore.Close() })
	return NewEngine(dataStore, zerolog.Nop()), dataStore
}

func mustCreate(t *testing.T, e *Engine, req CreateRequest) *models.Alert {
	t.Helper()
	if req.Email == "" {
		req.Email = "trader@example.com"
	}
	if len(req.Channels) == 0 {
		req.Channels = []models.AlertChannel{models.ChannelEmail}
	}
	alert, err := e.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}
	return alert
}

func TestEqualConditionUsesPerPairTolerance(t *testing.T) {
	tests := []struct {
		name    string
		pair    string
		target  float64
		current float64
		want    bool
	}{
		{"gold exact match", "GOLD", 1900.0, 1900.0, true},
		{"gold off by half", "GOLD", 1900.0, 1900.5, false},
		{"btc within 50", "BTCUSD", 50000, 50049, true},
		{"btc beyond 50", "BTCUSD", 50000, 50051, false},
		{"eurusd within 2 pips", "EURUSD", 1.1000, 1.1001, true},
		{"unknown pair default tolerance", "SOMEPAIR", 42.0, 42.005, true},
		{"unknown pair beyond default", "SOMEPAIR", 42.0, 42.02, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			mustCreate(t, engine, CreateRequest{
				Pair:        tt.pair,
				TargetPrice: tt.target,
				Condition:   models.ConditionEqual,
			})

			events, err := engine.Evaluate(context.Background(), map[string]float64{tt.pair: tt.current})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got := len(events) == 1; got != tt.want {
				t.Errorf("triggered = %v, want %v (pair=%s target=%v current=%v)",
					got, tt.want, tt.pair, tt.target, tt.current)
			}
		})
	}
}

func TestAboveAndBelowIncludeBoundary(t *testing.T) {
	engine, _ := newTestEngine(t)

	above := mustCreate(t, engine, CreateRequest{
		Pair: "SPX", TargetPrice: 100, Condition: models.ConditionAbove,
	})
	below := mustCreate(t, engine, CreateRequest{
		Pair: "DJI", TargetPrice: 100, Condition: models.ConditionBelow,
	})

	events, err := engine.Evaluate(context.Background(), map[string]float64{"SPX": 100, "DJI": 100})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected both boundary alerts to trigger, got %d events", len(events))
	}

	triggered := map[string]bool{}
	for _, ev := range events {
		triggered[ev.Alert.ID] = true
		if ev.CurrentPrice != 100 {
			t.Errorf("CurrentPrice = %v, want 100", ev.CurrentPrice)
		}
	}
	if !triggered[above.ID] || !triggered[below.ID] {
		t.Errorf("Expected alerts %s and %s to trigger, got %v", above.ID, below.ID, triggered)
	}
}

func TestTriggeredAlertIsTerminal(t *testing.T) {
	engine, _ := newTestEngine(t)
	alert := mustCreate(t, engine, CreateRequest{
		Pair: "GOLD", TargetPrice: 1900, Condition: models.ConditionAbove,
	})

	events, err := engine.Evaluate(context.Background(), map[string]float64{"GOLD": 1950})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 trigger event, got %d", len(events))
	}

	// Same and more extreme prices must not re-emit.
	for _, price := range []float64{1950, 2100} {
		events, err = engine.Evaluate(context.Background(), map[string]float64{"GOLD": price})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("Triggered alert re-emitted at price %v", price)
		}
	}

	got, err := engine.Get(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.StatusTriggered {
		t.Errorf("Status = %s, want triggered", got.Status)
	}
	if got.TriggeredAt == nil {
		t.Error("TriggeredAt not set")
	}
}

func TestEvaluateSkipsMissingPairs(t *testing.T) {
	engine, _ := newTestEngine(t)
	alert := mustCreate(t, engine, CreateRequest{
		Pair: "TSLA", TargetPrice: 200, Condition: models.ConditionAbove,
	})

	events, err := engine.Evaluate(context.Background(), map[string]float64{"GOLD": 1900})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Expected no events for absent pair, got %d", len(events))
	}

	got, _ := engine.Get(context.Background(), alert.ID)
	if got.Status != models.StatusActive {
		t.Errorf("Status = %s, want active", got.Status)
	}
	if got.LastCheckedPrice != nil {
		t.Error("LastCheckedPrice set for a pair that was never evaluated")
	}
}

func TestEvaluateRecordsLastCheckedPrice(t *testing.T) {
	engine, _ := newTestEngine(t)
	alert := mustCreate(t, engine, CreateRequest{
		Pair: "GOLD", TargetPrice: 5000, Condition: models.ConditionAbove,
	})

	if _, err := engine.Evaluate(context.Background(), map[string]float64{"GOLD": 1900.5}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	got, _ := engine.Get(context.Background(), alert.ID)
	if got.LastCheckedPrice == nil || *got.LastCheckedPrice != 1900.5 {
		t.Errorf("LastCheckedPrice = %v, want 1900.5", got.LastCheckedPrice)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"empty pair", CreateRequest{
			Condition: models.ConditionAbove,
			Channels:  []models.AlertChannel{models.ChannelEmail}, Email: "a@b.c",
		}},
		{"bad condition", CreateRequest{
			Pair: "GOLD", Condition: "crosses",
			Channels: []models.AlertChannel{models.ChannelEmail}, Email: "a@b.c",
		}},
		{"no channels", CreateRequest{
			Pair: "GOLD", Condition: models.ConditionAbove,
		}},
		{"email channel without address", CreateRequest{
			Pair: "GOLD", Condition: models.ConditionAbove,
			Channels: []models.AlertChannel{models.ChannelEmail},
		}},
		{"sms channel without phone", CreateRequest{
			Pair: "GOLD", Condition: models.ConditionAbove,
			Channels: []models.AlertChannel{models.ChannelSMS},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Create(ctx, tc.req); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}

	list, err := engine.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("Rejected requests left %d alerts behind", len(list))
	}
}

func TestBuildPriceMapSkipsUnparsable(t *testing.T) {
	engine, _ := newTestEngine(t)

	prices := engine.BuildPriceMap([]models.Quote{
		{Pair: "GOLD", Price: "1,950.25"},
		{Pair: "BTCUSD", Price: "49,880.00"},
		{Pair: "BROKEN", Price: "n/a"},
		{Pair: "EMPTY", Price: ""},
	})

	if len(prices) != 2 {
		t.Fatalf("Expected 2 parsed prices, got %d: %v", len(prices), prices)
	}
	if prices["GOLD"] != 1950.25 {
		t.Errorf("GOLD = %v, want 1950.25", prices["GOLD"])
	}
	if prices["BTCUSD"] != 49880.0 {
		t.Errorf("BTCUSD = %v, want 49880", prices["BTCUSD"])
	}
}

// failingStore wraps a real store but refuses alert updates, simulating a
// durability failure mid-evaluation.
type failingStore struct {
	store.DataStore
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	return errDiskFull
}

func TestTriggerNotAppliedWhenPersistFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "alerts_persist_test.db")
	real, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer real.Close()

	engine := NewEngine(&failingStore{DataStore: real}, zerolog.Nop())
	alert := mustCreate(t, engine, CreateRequest{
		Pair: "GOLD", TargetPrice: 1900, Condition: models.ConditionAbove,
	})

	events, err := engine.Evaluate(context.Background(), map[string]float64{"GOLD": 1950})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("Trigger event emitted despite failed durability write")
	}

	got, err := real.GetAlert(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("GetAlert failed: %v", err)
	}
	if got.Status != models.StatusActive {
		t.Errorf("Status = %s, want active after failed persist", got.Status)
	}
	if got.TriggeredAt != nil {
		t.Error("TriggeredAt set despite failed persist")
	}
}

func TestToleranceLookup(t *testing.T) {
	if got := Tolerance("GOLD"); got != 0.0 {
		t.Errorf("Tolerance(GOLD) = %v, want 0", got)
	}
	if got := Tolerance("BTCUSD"); got != 50.0 {
		t.Errorf("Tolerance(BTCUSD) = %v, want 50", got)
	}
	if got := Tolerance("UNKNOWN"); got != DefaultTolerance {
		t.Errorf("Tolerance(UNKNOWN) = %v, want %v", got, DefaultTolerance)
	}
}
