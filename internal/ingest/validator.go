package ingest

import (
	"math"
)

// Rejection reasons recorded in quality metrics. The wording is part of the
// persisted data, keep it stable.
const (
	ReasonMissingOHLC     = "missing OHLC field"
	ReasonPriceSanity     = "price sanity violation"
	ReasonOHLCConsistency = "OHLC consistency violation"
	ReasonNegativeVolume  = "negative volume"
)

// maxSanePrice guards against corrupted feeds; daily close prices above this
// have always been bad data rather than real quotes.
const maxSanePrice = 10_000

// Rejection pairs a rejected record with the first rule it broke.
type Rejection struct {
	Record Record
	Reason string
}

// Partition is the outcome of validating one batch: rows safe to persist and
// rows excluded with a reason. Every input row lands in exactly one side.
type Partition struct {
	Accepted []Record
	Rejected []Rejection
}

// QualityReport aggregates validation outcomes for one (ticker, day) unit.
// It is persisted independently of whether any row was accepted.
type QualityReport struct {
	Total    int
	Accepted int
	Rejected int
	Modified int // rows kept after coercion (e.g. missing volume set to zero)
	Reasons  map[string]int
	Score    float64 // accepted/total in percent; 100 for an empty batch
}

// Validate applies per-row quality rules in a fixed order: missing OHLC,
// price sanity, OHLC consistency, volume. A row failing any rule is rejected
// whole; a missing volume is coerced to zero and the row kept; a nil
// transaction count is kept as null. Row content never causes an error.
func Validate(records []Record) (Partition, QualityReport) {
	part := Partition{}
	report := QualityReport{
		Total:   len(records),
		Reasons: make(map[string]int),
	}

	for _, rec := range records {
		if reason := checkRow(&rec, &report); reason != "" {
			part.Rejected = append(part.Rejected, Rejection{Record: rec, Reason: reason})
			report.Reasons[reason]++
			continue
		}
		part.Accepted = append(part.Accepted, rec)
	}

	report.Accepted = len(part.Accepted)
	report.Rejected = len(part.Rejected)
	report.Score = 100
	if report.Total > 0 {
		report.Score = float64(report.Accepted) / float64(report.Total) * 100
	}
	return part, report
}

// checkRow returns the rejection reason for rec, or "" when the row is
// acceptable. It may coerce rec in place (missing volume becomes zero).
func checkRow(rec *Record, report *QualityReport) string {
	if rec.HasMissingOHLC() {
		return ReasonMissingOHLC
	}
	for _, price := range []float64{rec.Open, rec.High, rec.Low, rec.Close} {
		if price <= 0 || price > maxSanePrice {
			return ReasonPriceSanity
		}
	}
	if rec.High < rec.Open || rec.High < rec.Close || rec.High < rec.Low ||
		rec.Low > rec.Open || rec.Low > rec.Close {
		return ReasonOHLCConsistency
	}
	if math.IsNaN(rec.Volume) {
		rec.Volume = 0
		report.Modified++
	}
	if rec.Volume < 0 {
		return ReasonNegativeVolume
	}
	return ""
}
