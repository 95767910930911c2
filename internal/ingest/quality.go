package ingest

import (
	"context"
	"time"
)

// QualityStore persists per-(ticker, day) validation outcomes. Metrics are
// written for every parsed unit, whether or not any row survived validation,
// so rejection trends remain visible even for days that stored nothing.
type QualityStore interface {
	RecordQuality(ctx context.Context, ticker string, day time.Time, report QualityReport) error
}
