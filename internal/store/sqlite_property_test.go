package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"market-observer/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store_test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: candle round-trip consistency. Saving candles and retrieving
// them through the same filter produces equivalent data.
func TestProperty_CandleRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	pairs := []string{"GOLD", "BTCUSD", "EURUSD", "SPX", "USOIL", "TSLA"}
	timeframeGen := gen.OneConstOf(
		models.Timeframe1m, models.Timeframe5m, models.Timeframe15m,
		models.Timeframe1h, models.Timeframe1d,
	)

	run := 0
	properties.Property("save then retrieve produces equivalent candles", prop.ForAll(
		func(pairIdx int, timeframe models.Timeframe, count int, basePrice float64, baseVolume int64) bool {
			ctx := context.Background()
			run++
			// Unique pair per run so successive runs never collide on the
			// (pair, timeframe, bucket) key.
			pair := fmt.Sprintf("%s_%d", pairs[pairIdx%len(pairs)], run)

			candles := generateTestCandles(pair, timeframe, count, basePrice, baseVolume)
			if err := store.SaveCandles(ctx, candles); err != nil {
				t.Logf("Failed to save candles: %v", err)
				return false
			}

			retrieved, err := store.GetCandles(ctx, CandleFilter{Timeframe: timeframe, Pair: pair})
			if err != nil {
				t.Logf("Failed to get candles: %v", err)
				return false
			}
			if len(retrieved) != len(candles) {
				t.Logf("Count mismatch: expected %d, got %d", len(candles), len(retrieved))
				return false
			}
			for i, orig := range candles {
				if !candlesEqual(orig, retrieved[i]) {
					t.Logf("Candle mismatch at %d: original=%+v retrieved=%+v", i, orig, retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(pairs)-1),
		timeframeGen,
		gen.IntRange(1, 20),
		gen.Float64Range(1.0, 50000.0),
		gen.Int64Range(1, 100000),
	))

	properties.Property("saving an empty slice succeeds", prop.ForAll(
		func(timeframe models.Timeframe) bool {
			return store.SaveCandles(context.Background(), []models.Candle{}) == nil
		},
		timeframeGen,
	))

	properties.TestingRun(t)
}

// Property: alert round-trip consistency across save, get and update.
func TestProperty_AlertRoundTrip(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	conditionGen := gen.OneConstOf(models.ConditionAbove, models.ConditionBelow, models.ConditionEqual)

	run := 0
	properties.Property("saved alerts come back equivalent", prop.ForAll(
		func(pair string, target float64, condition models.AlertCondition, useSMS bool) bool {
			ctx := context.Background()
			run++

			channels := []models.AlertChannel{models.ChannelEmail}
			if useSMS {
				channels = append(channels, models.ChannelSMS)
			}

			alert := &models.Alert{
				ID:          fmt.Sprintf("alert-%d", run),
				Pair:        pair,
				TargetPrice: target,
				Condition:   condition,
				Status:      models.StatusActive,
				Channels:    channels,
				Email:       "trader@example.com",
				Phone:       "+15550100",
				CreatedAt:   time.Now().UTC().Truncate(time.Second),
			}
			if err := store.SaveAlert(ctx, alert); err != nil {
				t.Logf("SaveAlert failed: %v", err)
				return false
			}

			got, err := store.GetAlert(ctx, alert.ID)
			if err != nil {
				t.Logf("GetAlert failed: %v", err)
				return false
			}
			if got.Pair != alert.Pair || got.Condition != alert.Condition ||
				got.Status != models.StatusActive || len(got.Channels) != len(channels) {
				return false
			}
			if math.Abs(got.TargetPrice-alert.TargetPrice) > 1e-9 {
				return false
			}

			// Trigger transition survives an update round-trip.
			now := time.Now().UTC().Truncate(time.Second)
			price := target + 1
			got.Status = models.StatusTriggered
			got.TriggeredAt = &now
			got.LastCheckedPrice = &price
			if err := store.UpdateAlert(ctx, got); err != nil {
				t.Logf("UpdateAlert failed: %v", err)
				return false
			}

			again, err := store.GetAlert(ctx, alert.ID)
			if err != nil {
				return false
			}
			return again.Status == models.StatusTriggered &&
				again.TriggeredAt != nil && again.TriggeredAt.Equal(now) &&
				again.LastCheckedPrice != nil && *again.LastCheckedPrice == price
		},
		gen.RegexMatch(`[A-Z]{3,6}`),
		gen.Float64Range(0.1, 100000.0),
		conditionGen,
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestSnapshotHistoryOrderingAndRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := &models.Snapshot{
			Title:     fmt.Sprintf("snap-%d", i),
			Pairs:     []models.Quote{{Pair: "GOLD", Price: fmt.Sprintf("1,90%d.00", i)}},
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendSnapshot(ctx, snap); err != nil {
			t.Fatalf("AppendSnapshot failed: %v", err)
		}
	}

	count, err := store.CountSnapshots(ctx)
	if err != nil || count != 5 {
		t.Fatalf("CountSnapshots = %d, %v; want 5", count, err)
	}

	all, err := store.GetSnapshots(ctx, SnapshotFilter{})
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	for i, snap := range all {
		if snap.Title != fmt.Sprintf("snap-%d", i) {
			t.Errorf("Snapshot %d = %q, out of order", i, snap.Title)
		}
	}

	// Index access matches list order.
	third, err := store.GetSnapshotAt(ctx, 2)
	if err != nil || third.Title != "snap-2" {
		t.Errorf("GetSnapshotAt(2) = %v, %v", third, err)
	}
	if _, err := store.GetSnapshotAt(ctx, 99); err == nil {
		t.Error("GetSnapshotAt out of range should fail")
	}

	latest, err := store.GetLatestSnapshot(ctx)
	if err != nil || latest.Title != "snap-4" {
		t.Errorf("GetLatestSnapshot = %v, %v", latest, err)
	}
	if latest.Pairs[0].Price != "1,904.00" {
		t.Errorf("Latest price = %q", latest.Pairs[0].Price)
	}

	earliest, newest, err := store.SnapshotDateRange(ctx)
	if err != nil {
		t.Fatalf("SnapshotDateRange failed: %v", err)
	}
	if !earliest.Equal(base) || !newest.Equal(base.Add(4*time.Minute)) {
		t.Errorf("Range = %v..%v", earliest, newest)
	}

	// Bounded queries respect the window.
	window, err := store.GetSnapshots(ctx, SnapshotFilter{
		Start: base.Add(time.Minute),
		End:   base.Add(3 * time.Minute),
	})
	if err != nil || len(window) != 3 {
		t.Errorf("Windowed snapshots = %d, %v; want 3", len(window), err)
	}

	if err := store.ClearSnapshots(ctx); err != nil {
		t.Fatalf("ClearSnapshots failed: %v", err)
	}
	count, _ = store.CountSnapshots(ctx)
	if count != 0 {
		t.Errorf("Snapshots after clear = %d", count)
	}
}

func TestCandleLimitReturnsLatestOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	var candles []models.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, models.Candle{
			Pair: "GOLD", Timeframe: models.Timeframe1m,
			BucketStart: base.Add(time.Duration(i) * time.Minute),
			Open:        100, High: 110, Low: 90, Close: 105, Volume: 1,
		})
	}
	if err := store.SaveCandles(ctx, candles); err != nil {
		t.Fatalf("SaveCandles failed: %v", err)
	}

	got, err := store.GetCandles(ctx, CandleFilter{Timeframe: models.Timeframe1m, Pair: "GOLD", Limit: 3})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Candles = %d, want 3", len(got))
	}
	// The newest three buckets, ascending.
	for i, c := range got {
		want := base.Add(time.Duration(7+i) * time.Minute)
		if !c.BucketStart.Equal(want) {
			t.Errorf("Candle %d bucket = %v, want %v", i, c.BucketStart, want)
		}
	}
}

func TestDeleteAndNotFoundSemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetAlert(ctx, "missing"); err == nil {
		t.Error("GetAlert on missing ID should fail")
	}
	if err := store.DeleteAlert(ctx, "missing"); err == nil {
		t.Error("DeleteAlert on missing ID should fail")
	}
	if _, err := store.GetLatestSnapshot(ctx); err == nil {
		t.Error("GetLatestSnapshot on empty history should fail")
	}
	if _, _, err := store.SnapshotDateRange(ctx); err == nil {
		t.Error("SnapshotDateRange on empty history should fail")
	}
	if _, err := store.GetLatestCandle(ctx, models.Timeframe1m, ""); err == nil {
		t.Error("GetLatestCandle on empty table should fail")
	}
}

func generateTestCandles(pair string, timeframe models.Timeframe, count int, basePrice float64, baseVolume int64) []models.Candle {
	candles := make([]models.Candle, count)
	baseTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	width := time.Duration(timeframe.Seconds()) * time.Second

	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5
		high := math.Max(open, close) * 1.01
		low := math.Min(open, close) * 0.99

		candles[i] = models.Candle{
			Pair:        pair,
			Timeframe:   timeframe,
			BucketStart: baseTime.Add(time.Duration(i) * width),
			Open:        roundToDecimal(open, 2),
			High:        roundToDecimal(high, 2),
			Low:         roundToDecimal(low, 2),
			Close:       roundToDecimal(close, 2),
			Volume:      baseVolume + int64(i),
		}
	}
	return candles
}

func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

func candlesEqual(a, b models.Candle) bool {
	const tolerance = 1e-6
	if a.Pair != b.Pair || a.Timeframe != b.Timeframe {
		return false
	}
	if !a.BucketStart.Equal(b.BucketStart) {
		return false
	}
	if a.Volume != b.Volume {
		return false
	}
	return floatEqual(a.Open, b.Open, tolerance) &&
		floatEqual(a.High, b.High, tolerance) &&
		floatEqual(a.Low, b.Low, tolerance) &&
		floatEqual(a.Close, b.Close, tolerance)
}

func floatEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
