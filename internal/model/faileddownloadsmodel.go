package model

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ohlcvd/internal/ingest"
)

var _ ingest.FailureStore = (*FailedDownloadsModel)(nil)

// FailedDownloadsModel tracks per-unit ingestion failures in
// trading.failed_downloads, one row per (ticker, day).
type FailedDownloadsModel struct {
	pool *pgxpool.Pool
}

func NewFailedDownloadsModel(pool *pgxpool.Pool) *FailedDownloadsModel {
	return &FailedDownloadsModel{pool: pool}
}

// RecordFailure upserts the failure row for (ticker, day). A repeat failure
// bumps the attempt counter and refreshes the kind and message; a failure
// after a resolution re-opens the row by clearing resolved_at.
func (m *FailedDownloadsModel) RecordFailure(ctx context.Context, ticker string, day time.Time, kind ingest.ErrorKind, message string) error {
	_, err := m.pool.Exec(ctx, `
INSERT INTO trading.failed_downloads
    (ticker, trade_date, error_kind, error_message, attempts, created_at, last_attempt_at)
VALUES ($1, $2, $3, $4, 1, now(), now())
ON CONFLICT (ticker, trade_date) DO UPDATE SET
    error_kind      = EXCLUDED.error_kind,
    error_message   = EXCLUDED.error_message,
    attempts        = trading.failed_downloads.attempts + 1,
    last_attempt_at = now(),
    resolved_at     = NULL`,
		ticker, ingest.Day(day), string(kind), message)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// MarkResolved stamps resolved_at on an open failure row for (ticker, day).
// Units that never failed have no row and the call is a no-op.
func (m *FailedDownloadsModel) MarkResolved(ctx context.Context, ticker string, day time.Time) error {
	_, err := m.pool.Exec(ctx, `
UPDATE trading.failed_downloads
SET resolved_at = now()
WHERE ticker = $1 AND trade_date = $2 AND resolved_at IS NULL`,
		ticker, ingest.Day(day))
	if err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	return nil
}

// Unresolved lists open failures eligible for another attempt. olderThan
// filters out rows attempted too recently and maxAttempts caps how often a
// row is re-tried; zero disables either filter.
func (m *FailedDownloadsModel) Unresolved(ctx context.Context, olderThan time.Duration, maxAttempts int) ([]ingest.FailureRecord, error) {
	rows, err := m.pool.Query(ctx, `
SELECT ticker, trade_date, error_kind, error_message, attempts, created_at, last_attempt_at, resolved_at
FROM trading.failed_downloads
WHERE resolved_at IS NULL
  AND ($1::float8 <= 0 OR last_attempt_at <= now() - make_interval(secs => $1::float8))
  AND ($2::int = 0 OR attempts < $2::int)
ORDER BY ticker, trade_date`,
		olderThan.Seconds(), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("query unresolved failures: %w", err)
	}
	defer rows.Close()

	var out []ingest.FailureRecord
	for rows.Next() {
		var rec ingest.FailureRecord
		var kind string
		if err := rows.Scan(&rec.Ticker, &rec.Day, &kind, &rec.Message,
			&rec.Attempts, &rec.FirstSeen, &rec.LastAttempt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan failure row: %w", err)
		}
		rec.Kind = ingest.ErrorKind(kind)
		rec.Day = ingest.Day(rec.Day)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query unresolved failures: %w", err)
	}
	return out, nil
}
