// internal/domain/bar.go
package domain

import (
	"context"
	"time"
)

// BarDurationMinute is the only bar duration the getprices decoder emits.
const BarDurationMinute = "1m"

// Bar is one decoded OHLCV sample. Bars are write-once: the decoder creates
// them and the sink owns them afterwards.
type Bar struct {
	Symbol    string    `json:"symbol" bson:"symbol"`
	Exchange  string    `json:"exchange" bson:"exchange"`
	Duration  string    `json:"duration" bson:"duration"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Open      float64   `json:"open" bson:"open"`
	High      float64   `json:"high" bson:"high"`
	Low       float64   `json:"low" bson:"low"`
	Close     float64   `json:"close" bson:"close"`
	Volume    int64     `json:"volume" bson:"volume"`
}

// BarSink persists decoded bars.
type BarSink interface {
	// InsertBars stores a non-empty batch as a single bulk insert. The batch
	// succeeds or fails as a unit; redelivery may insert the same bars twice.
	InsertBars(ctx context.Context, bars []Bar) error
	Close(ctx context.Context) error
}

// RawArchive keeps the raw body of a FetchResult next to the decoded bars.
type RawArchive interface {
	Store(ctx context.Context, runID string, asset Asset) error
	Close() error
}
