package ingest

import (
	"math"
	"time"
)

// DefaultTimeframe identifies daily bars, the only granularity this engine
// ingests.
const DefaultTimeframe = "1d"

// Record is one daily OHLCV bar for a single instrument. Prices and volume
// are float64 so a missing cell can travel as NaN from the parser to the
// validator, which owns the missing-value policy. Timeframe and Source are
// stamped by the writer from its configuration; the parser leaves them empty.
type Record struct {
	Ticker       string
	Timestamp    time.Time // UTC midnight of the trading day
	Timeframe    string
	Source       string
	Open         float64
	High         float64
	Low          float64
	Close        float64
	Volume       float64
	Transactions *int64
}

// HasMissingOHLC reports whether any price field is absent.
func (r Record) HasMissingOHLC() bool {
	return math.IsNaN(r.Open) || math.IsNaN(r.High) || math.IsNaN(r.Low) || math.IsNaN(r.Close)
}

// Day truncates t to UTC midnight, the canonical timestamp for daily bars.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
