// Package models provides domain models for the market observer.
package models

import (
	"time"
)

// Quote is a single instrument quote as extracted from the feed.
// Price is kept as the raw string the feed produced; the feed renders
// prices with thousands separators and parsing happens at the point of use.
type Quote struct {
	Pair  string `json:"pair"`
	Price string `json:"price"`
}

// Snapshot is one timestamped capture of all tracked instrument quotes.
// Immutable once recorded into history.
type Snapshot struct {
	Title       string    `json:"title"`
	Majors      []string  `json:"majors"`
	Pairs       []Quote   `json:"pairs"`
	PairsSample []string  `json:"pairsSample,omitempty"`
	Changes     []string  `json:"changes"`
	Timestamp   time.Time `json:"ts"`
}

// Tick is a single (timestamp, price) observation for one instrument,
// derived from snapshots.
type Tick struct {
	Timestamp time.Time
	Price     string
}

// Timeframe identifies a candle bucket width.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe3d  Timeframe = "3d"
)

// TimeframeSeconds maps each timeframe to its bucket width in seconds.
var TimeframeSeconds = map[Timeframe]int64{
	Timeframe1m:  60,
	Timeframe5m:  300,
	Timeframe15m: 900,
	Timeframe30m: 1800,
	Timeframe1h:  3600,
	Timeframe4h:  14400,
	Timeframe1d:  86400,
	Timeframe3d:  259200,
}

// Timeframes lists all supported timeframes in ascending bucket width.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1d, Timeframe3d,
}

// Valid reports whether the timeframe is one of the supported constants.
func (tf Timeframe) Valid() bool {
	_, ok := TimeframeSeconds[tf]
	return ok
}

// Seconds returns the bucket width in seconds, or 0 for an unknown timeframe.
func (tf Timeframe) Seconds() int64 {
	return TimeframeSeconds[tf]
}

// Candle represents OHLC data for one instrument within one time bucket.
// Volume counts the ticks that formed the candle.
type Candle struct {
	Pair        string    `json:"pair"`
	Timeframe   Timeframe `json:"timeframe"`
	BucketStart time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      int64     `json:"volume"`
}

// AlertSummary groups active and triggered alerts for the broadcast payload.
type AlertSummary struct {
	Active    []Alert `json:"active"`
	Triggered []Alert `json:"triggered"`
}

// Payload is the outbound broadcast shape produced once per pipeline cycle.
type Payload struct {
	Title   string       `json:"title"`
	Majors  []string     `json:"majors"`
	Pairs   []Quote      `json:"pairs"`
	Changes []string     `json:"changes"`
	Ts      time.Time    `json:"ts"`
	Alerts  AlertSummary `json:"alerts"`
}
