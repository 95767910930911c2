package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ohlcvd/internal/ingest"
)

var _ ingest.QualityStore = (*QualityMetricsModel)(nil)

// QualityMetricsModel persists per-unit validation outcomes in
// trading.data_quality_metrics. Re-ingesting a day overwrites its metrics.
type QualityMetricsModel struct {
	pool *pgxpool.Pool
}

func NewQualityMetricsModel(pool *pgxpool.Pool) *QualityMetricsModel {
	return &QualityMetricsModel{pool: pool}
}

func (m *QualityMetricsModel) RecordQuality(ctx context.Context, ticker string, day time.Time, report ingest.QualityReport) error {
	reasons, err := json.Marshal(reasonCounts(report))
	if err != nil {
		return fmt.Errorf("encode rejection reasons: %w", err)
	}
	_, err = m.pool.Exec(ctx, `
INSERT INTO trading.data_quality_metrics
    (ticker, trade_date, total_rows, accepted_rows, rejected_rows, modified_rows,
     rejection_reasons, quality_score, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (ticker, trade_date) DO UPDATE SET
    total_rows        = EXCLUDED.total_rows,
    accepted_rows     = EXCLUDED.accepted_rows,
    rejected_rows     = EXCLUDED.rejected_rows,
    modified_rows     = EXCLUDED.modified_rows,
    rejection_reasons = EXCLUDED.rejection_reasons,
    quality_score     = EXCLUDED.quality_score,
    recorded_at       = now()`,
		ticker, ingest.Day(day), report.Total, report.Accepted, report.Rejected,
		report.Modified, reasons, report.Score)
	if err != nil {
		return fmt.Errorf("record quality metrics: %w", err)
	}
	return nil
}

// FlagBelow lists the (ticker, day) pairs whose quality score fell below the
// given threshold, most recent first.
func (m *QualityMetricsModel) FlagBelow(ctx context.Context, threshold float64, limit int) ([]QualityFlag, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := m.pool.Query(ctx, `
SELECT ticker, trade_date, quality_score, rejected_rows
FROM trading.data_quality_metrics
WHERE quality_score < $1
ORDER BY trade_date DESC, ticker
LIMIT $2`,
		threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query quality flags: %w", err)
	}
	defer rows.Close()

	var out []QualityFlag
	for rows.Next() {
		var f QualityFlag
		if err := rows.Scan(&f.Ticker, &f.Day, &f.Score, &f.Rejected); err != nil {
			return nil, fmt.Errorf("scan quality flag: %w", err)
		}
		f.Day = ingest.Day(f.Day)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query quality flags: %w", err)
	}
	return out, nil
}

// QualityFlag is one low-quality unit surfaced by FlagBelow.
type QualityFlag struct {
	Ticker   string
	Day      time.Time
	Score    float64
	Rejected int
}

func reasonCounts(report ingest.QualityReport) map[string]int {
	if report.Reasons == nil {
		return map[string]int{}
	}
	return report.Reasons
}
