package ingest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func validRecord() Record {
	return Record{
		Ticker:    "AAPL",
		Timestamp: Day(testDay),
		Open:      172.52,
		High:      173.54,
		Low:       171.82,
		Close:     173.00,
		Volume:    48229312,
	}
}

func TestValidateAcceptsCleanRows(t *testing.T) {
	part, report := Validate([]Record{validRecord(), validRecord()})
	require.Len(t, part.Accepted, 2)
	require.Empty(t, part.Rejected)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 2, report.Accepted)
	require.Equal(t, 0, report.Modified)
	require.Equal(t, 100.0, report.Score)
}

func TestValidateEmptyBatch(t *testing.T) {
	part, report := Validate(nil)
	require.Empty(t, part.Accepted)
	require.Empty(t, part.Rejected)
	require.Equal(t, 100.0, report.Score)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		reason string
	}{
		{
			name:   "missing open",
			mutate: func(r *Record) { r.Open = math.NaN() },
			reason: ReasonMissingOHLC,
		},
		{
			name:   "zero price",
			mutate: func(r *Record) { r.Low = 0 },
			reason: ReasonPriceSanity,
		},
		{
			name:   "negative price",
			mutate: func(r *Record) { r.Close = -5 },
			reason: ReasonPriceSanity,
		},
		{
			name:   "absurd price",
			mutate: func(r *Record) { r.High = 250000 },
			reason: ReasonPriceSanity,
		},
		{
			name:   "high below close",
			mutate: func(r *Record) { r.High = r.Close - 1 },
			reason: ReasonOHLCConsistency,
		},
		{
			name:   "low above open",
			mutate: func(r *Record) { r.Low = r.Open + 1 },
			reason: ReasonOHLCConsistency,
		},
		{
			name:   "negative volume",
			mutate: func(r *Record) { r.Volume = -1 },
			reason: ReasonNegativeVolume,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)

			part, report := Validate([]Record{rec})
			require.Empty(t, part.Accepted)
			require.Len(t, part.Rejected, 1)
			require.Equal(t, tt.reason, part.Rejected[0].Reason)
			require.Equal(t, 1, report.Reasons[tt.reason])
			require.Equal(t, 0.0, report.Score)
		})
	}
}

func TestValidateMissingOHLCWinsOverSanity(t *testing.T) {
	rec := validRecord()
	rec.Open = math.NaN()
	rec.Close = -3

	part, _ := Validate([]Record{rec})
	require.Len(t, part.Rejected, 1)
	require.Equal(t, ReasonMissingOHLC, part.Rejected[0].Reason)
}

func TestValidateCoercesMissingVolume(t *testing.T) {
	rec := validRecord()
	rec.Volume = math.NaN()

	part, report := Validate([]Record{rec})
	require.Len(t, part.Accepted, 1)
	require.Equal(t, 0.0, part.Accepted[0].Volume)
	require.Equal(t, 1, report.Modified)
	require.Equal(t, 100.0, report.Score)
}

func TestValidateMixedBatchScore(t *testing.T) {
	bad := validRecord()
	bad.High = 0

	part, report := Validate([]Record{validRecord(), bad, validRecord(), validRecord()})
	require.Len(t, part.Accepted, 3)
	require.Len(t, part.Rejected, 1)
	require.Equal(t, 75.0, report.Score)
	require.Equal(t, map[string]int{ReasonPriceSanity: 1}, report.Reasons)
}
