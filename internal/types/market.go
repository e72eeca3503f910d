package types

import "time"

// MarketData represents one OHLCV candle for a symbol.
type MarketData struct {
	Symbol string    `json:"symbol" csv:"symbol"`
	Time   time.Time `json:"time" csv:"time"`
	Open   float64   `json:"open" csv:"open"`
	High   float64   `json:"high" csv:"high"`
	Low    float64   `json:"low" csv:"low"`
	Close  float64   `json:"close" csv:"close"`
	Volume float64   `json:"volume" csv:"volume"`
}

// Interval is a candle timeframe.
type Interval string

const (
	Interval1m  Interval = "1min"
	Interval3m  Interval = "3min"
	Interval5m  Interval = "5min"
	Interval15m Interval = "15min"
	Interval30m Interval = "30min"
	Interval1h  Interval = "1h"
)

var intervalSeconds = map[Interval]int{
	Interval1m:  60,
	Interval3m:  180,
	Interval5m:  300,
	Interval15m: 900,
	Interval30m: 1800,
	Interval1h:  3600,
}

// Duration returns the interval length, or false when the interval is unknown.
func (i Interval) Duration() (time.Duration, bool) {
	secs, ok := intervalSeconds[i]
	if !ok {
		return 0, false
	}

	return time.Duration(secs) * time.Second, true
}

// AllIntervals lists the supported timeframes in ascending order.
func AllIntervals() []Interval {
	return []Interval{Interval1m, Interval3m, Interval5m, Interval15m, Interval30m, Interval1h}
}
