package ingest

import (
	"context"
	"time"
)

// FailureRecord is the audit-trail row for one failed (ticker, day) unit of
// work. Records are never deleted; a successful later attempt only stamps
// ResolvedAt.
type FailureRecord struct {
	Ticker      string
	Day         time.Time
	Kind        ErrorKind
	Message     string
	Attempts    int
	FirstSeen   time.Time
	LastAttempt time.Time
	ResolvedAt  *time.Time
}

// Resolved reports whether a later attempt already succeeded.
func (f FailureRecord) Resolved() bool { return f.ResolvedAt != nil }

// FailureStore tracks per-(ticker, day) ingestion failures.
//
// RecordFailure is idempotent per key: the first call creates the row, every
// subsequent call increments the attempt counter, refreshes the error kind
// and last-attempt stamp, and re-opens a previously resolved row. MarkResolved
// stamps ResolvedAt on the open row and never deletes history. Unresolved
// lists open failures, optionally only those whose last attempt is older than
// olderThan and with fewer than maxAttempts attempts (zero disables either
// filter).
type FailureStore interface {
	RecordFailure(ctx context.Context, ticker string, day time.Time, kind ErrorKind, message string) error
	MarkResolved(ctx context.Context, ticker string, day time.Time) error
	Unresolved(ctx context.Context, olderThan time.Duration, maxAttempts int) ([]FailureRecord, error)
}
