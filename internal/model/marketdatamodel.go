package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ohlcvd/internal/ingest"
)

var _ ingest.MarketStore = (*MarketDataModel)(nil)

// MarketDataModel persists OHLCV bars in trading.market_data_raw.
type MarketDataModel struct {
	pool *pgxpool.Pool
}

func NewMarketDataModel(pool *pgxpool.Pool) *MarketDataModel {
	return &MarketDataModel{pool: pool}
}

// The staging table carries an identity column so that when one batch holds
// several rows for the same key, the row copied last wins the DISTINCT ON.
const createStageSQL = `
CREATE TEMP TABLE ohlcv_stage (
    seq          bigint GENERATED ALWAYS AS IDENTITY,
    ticker       text        NOT NULL,
    ts           timestamptz NOT NULL,
    timeframe    text        NOT NULL,
    data_source  text        NOT NULL,
    open         numeric(12,4),
    high         numeric(12,4),
    low          numeric(12,4),
    close        numeric(12,4),
    volume       bigint,
    transactions bigint
) ON COMMIT DROP`

const insertFromStageSQL = `
INSERT INTO trading.market_data_raw
    (ticker, timestamp, timeframe, data_source, open, high, low, close, volume, transactions)
SELECT DISTINCT ON (ticker, ts, timeframe, data_source)
    ticker, ts, timeframe, data_source, open, high, low, close, volume, transactions
FROM ohlcv_stage
ORDER BY ticker, ts, timeframe, data_source, seq DESC`

const conflictUpdateSQL = `
ON CONFLICT (ticker, timestamp, timeframe, data_source) DO UPDATE SET
    open         = EXCLUDED.open,
    high         = EXCLUDED.high,
    low          = EXCLUDED.low,
    close        = EXCLUDED.close,
    volume       = EXCLUDED.volume,
    transactions = EXCLUDED.transactions,
    ingested_at  = now()
RETURNING (xmax <> 0) AS updated`

// UpsertBatch stages the records with COPY, then folds them into the target
// table in a single statement under one transaction. With ConflictUpdate the
// incoming row replaces an existing one for the same (ticker, timestamp,
// timeframe, data_source) key; xmax distinguishes inserts from updates.
func (m *MarketDataModel) UpsertBatch(ctx context.Context, records []ingest.Record, policy ingest.ConflictPolicy) (inserted, updated int, err error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, createStageSQL); err != nil {
		return 0, 0, fmt.Errorf("create staging table: %w", err)
	}

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ohlcv_stage"},
		[]string{"ticker", "ts", "timeframe", "data_source", "open", "high", "low", "close", "volume", "transactions"},
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			r := records[i]
			return []any{
				r.Ticker, r.Timestamp, r.Timeframe, r.Source,
				r.Open, r.High, r.Low, r.Close,
				volumeValue(r.Volume), r.Transactions,
			}, nil
		}),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("copy into staging table: %w", err)
	}
	if copied != int64(len(records)) {
		return 0, 0, fmt.Errorf("staged %d of %d rows", copied, len(records))
	}

	switch policy {
	case ingest.ConflictUpdate:
		rows, qErr := tx.Query(ctx, insertFromStageSQL+conflictUpdateSQL)
		if qErr != nil {
			return 0, 0, fmt.Errorf("upsert from staging table: %w", qErr)
		}
		for rows.Next() {
			var wasUpdate bool
			if sErr := rows.Scan(&wasUpdate); sErr != nil {
				rows.Close()
				return 0, 0, fmt.Errorf("scan upsert result: %w", sErr)
			}
			if wasUpdate {
				updated++
			} else {
				inserted++
			}
		}
		rows.Close()
		if rErr := rows.Err(); rErr != nil {
			return 0, 0, fmt.Errorf("upsert from staging table: %w", rErr)
		}
	case ingest.ConflictNothing:
		tag, qErr := tx.Exec(ctx, insertFromStageSQL+`
ON CONFLICT (ticker, timestamp, timeframe, data_source) DO NOTHING`)
		if qErr != nil {
			return 0, 0, fmt.Errorf("insert from staging table: %w", qErr)
		}
		inserted = int(tag.RowsAffected())
	case ingest.ConflictError:
		tag, qErr := tx.Exec(ctx, insertFromStageSQL)
		if qErr != nil {
			return 0, 0, fmt.Errorf("insert from staging table: %w", qErr)
		}
		inserted = int(tag.RowsAffected())
	default:
		return 0, 0, fmt.Errorf("unknown conflict policy %q", policy)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, updated, nil
}

// CoveredDays returns the set of days within [start, end] that already hold
// at least one bar for the given key.
func (m *MarketDataModel) CoveredDays(ctx context.Context, ticker, timeframe, source string, start, end time.Time) (ingest.DaySet, error) {
	rows, err := m.pool.Query(ctx, `
SELECT DISTINCT timestamp
FROM trading.market_data_raw
WHERE ticker = $1 AND timeframe = $2 AND data_source = $3
  AND timestamp >= $4 AND timestamp <= $5`,
		ticker, timeframe, source, start, end)
	if err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	defer rows.Close()

	covered := make(ingest.DaySet)
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan coverage: %w", err)
		}
		covered.Add(ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	return covered, nil
}

// LastTimestamp returns the most recent bar timestamp for the key, or the
// zero time when no bars exist yet.
func (m *MarketDataModel) LastTimestamp(ctx context.Context, ticker, timeframe, source string) (time.Time, error) {
	var ts time.Time
	err := m.pool.QueryRow(ctx, `
SELECT timestamp
FROM trading.market_data_raw
WHERE ticker = $1 AND timeframe = $2 AND data_source = $3
ORDER BY timestamp DESC
LIMIT 1`,
		ticker, timeframe, source).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last timestamp: %w", err)
	}
	return ts, nil
}

// volumeValue maps the in-memory volume to the bigint column. The validator
// coerces missing volumes to zero; a stray NaN here must not reach COPY.
func volumeValue(v float64) int64 {
	if math.IsNaN(v) {
		return 0
	}
	return int64(math.Round(v))
}
