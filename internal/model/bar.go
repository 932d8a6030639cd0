// Package model holds the item type the coordinator, sinks, and demo
// harness move through the pipeline.
package model

import "time"

// Bar is one OHLCV candle for a symbol at a fixed interval - the unit of
// work submitted to a WriteCoordinator and written by a Sink.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"` // e.g. "1m", "1h", "1d"
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}
