// Package candles turns timestamped ticks into OHLC candles across the
// eight supported timeframes.
package candles

import (
	"sort"
	"time"

	"market-observer/internal/alerts"
	"market-observer/internal/models"
)

// Aggregate groups one instrument's ticks into OHLC candles for a
// timeframe. Ticks are assumed already time-ordered; within a bucket the
// input order is preserved. Ticks with unparsable or non-positive prices
// are skipped, and a bucket with no valid ticks produces no candle.
//
// The function is pure: the same tick sequence always yields the identical
// candle list, which is what makes regeneration safe.
func Aggregate(pair string, ticks []models.Tick, timeframe models.Timeframe) []models.Candle {
	seconds := timeframe.Seconds()
	if seconds <= 0 || len(ticks) == 0 {
		return nil
	}

	grouped := make(map[int64][]float64)
	for _, tick := range ticks {
		price, err := alerts.ParsePrice(tick.Price)
		if err != nil || price <= 0 {
			continue
		}
		bucket := (tick.Timestamp.Unix() / seconds) * seconds
		grouped[bucket] = append(grouped[bucket], price)
	}

	if len(grouped) == 0 {
		return nil
	}

	buckets := make([]int64, 0, len(grouped))
	for bucket := range grouped {
		buckets = append(buckets, bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	candles := make([]models.Candle, 0, len(buckets))
	for _, bucket := range buckets {
		prices := grouped[bucket]
		candle := models.Candle{
			Pair:        pair,
			Timeframe:   timeframe,
			BucketStart: time.Unix(bucket, 0).UTC(),
			Open:        prices[0],
			High:        prices[0],
			Low:         prices[0],
			Close:       prices[len(prices)-1],
			Volume:      int64(len(prices)),
		}
		for _, p := range prices[1:] {
			if p > candle.High {
				candle.High = p
			}
			if p < candle.Low {
				candle.Low = p
			}
		}
		candles = append(candles, candle)
	}

	return candles
}

// AggregateAll runs Aggregate for every supported timeframe.
func AggregateAll(pair string, ticks []models.Tick) map[models.Timeframe][]models.Candle {
	result := make(map[models.Timeframe][]models.Candle, len(models.Timeframes))
	for _, tf := range models.Timeframes {
		result[tf] = Aggregate(pair, ticks, tf)
	}
	return result
}

// ExtractTicks pulls one instrument's tick sequence out of a snapshot
// sequence, preserving snapshot order.
func ExtractTicks(snapshots []models.Snapshot, pair string) []models.Tick {
	var ticks []models.Tick
	for _, snap := range snapshots {
		for _, q := range snap.Pairs {
			if q.Pair == pair {
				ticks = append(ticks, models.Tick{Timestamp: snap.Timestamp, Price: q.Price})
				break
			}
		}
	}
	return ticks
}
