package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"ohlcvd/pkg/retry"
)

// ConflictPolicy selects how the store resolves a row whose unique key
// (ticker, timestamp, timeframe, data_source) already exists.
type ConflictPolicy string

const (
	// ConflictUpdate is last-value-wins: the incoming row overwrites the
	// stored one inside the same bulk operation.
	ConflictUpdate ConflictPolicy = "update"
	// ConflictNothing keeps the stored row and drops the incoming duplicate.
	ConflictNothing ConflictPolicy = "nothing"
	// ConflictError surfaces the duplicate as a write failure.
	ConflictError ConflictPolicy = "error"
)

// ParseConflictPolicy validates a configured policy string.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ConflictUpdate, ConflictNothing, ConflictError:
		return p, nil
	case "":
		return ConflictUpdate, nil
	default:
		return "", fmt.Errorf("unknown conflict policy %q", s)
	}
}

// MarketStore is the persistence surface the engine needs for bar data.
// UpsertBatch must apply the whole batch as one set-oriented operation inside
// one transaction: either every row of the unit commits or none do.
type MarketStore interface {
	UpsertBatch(ctx context.Context, records []Record, policy ConflictPolicy) (inserted, updated int, err error)
	CoveredDays(ctx context.Context, ticker, timeframe, source string, start, end time.Time) (DaySet, error)
	LastTimestamp(ctx context.Context, ticker, timeframe, source string) (time.Time, error)
}

// WriteResult reports the outcome of one committed batch.
type WriteResult struct {
	Attempted          int
	Written            int
	DuplicatesResolved int
	Elapsed            time.Duration
}

// WriterConfig carries the knobs for the bulk writer.
type WriterConfig struct {
	Timeframe string
	Source    string
	Policy    ConflictPolicy
	// Timeout bounds one write attempt, connection acquisition included.
	Timeout time.Duration
	// Retry drives backoff between transient write failures.
	Retry retry.Config
	// Transient decides which store errors deserve another attempt. Nil
	// means no write is ever retried.
	Transient retry.Classifier
}

// BulkWriter commits validated batches to the market store, one transaction
// per unit of work, with bounded retries on transient failures.
type BulkWriter struct {
	store   MarketStore
	cfg     WriterConfig
	backoff *retry.Handler
}

// NewBulkWriter wires a writer around the given store.
func NewBulkWriter(store MarketStore, cfg WriterConfig) *BulkWriter {
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}
	if cfg.Policy == "" {
		cfg.Policy = ConflictUpdate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &BulkWriter{
		store:   store,
		cfg:     cfg,
		backoff: retry.New(cfg.Retry, cfg.Transient),
	}
}

// WriteBatch stamps the batch with the configured timeframe and source tag
// and commits it as a single all-or-nothing operation. Transient store errors
// are retried with exponential backoff; on exhaustion the last error is
// returned and nothing from this batch persists.
func (w *BulkWriter) WriteBatch(ctx context.Context, records []Record) (WriteResult, error) {
	result := WriteResult{Attempted: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	batch := make([]Record, len(records))
	copy(batch, records)
	for i := range batch {
		if batch[i].Timeframe == "" {
			batch[i].Timeframe = w.cfg.Timeframe
		}
		if batch[i].Source == "" {
			batch[i].Source = w.cfg.Source
		}
	}

	start := time.Now()
	var inserted, updated int
	err := w.backoff.Do(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
		var err error
		inserted, updated, err = w.store.UpsertBatch(attemptCtx, batch, w.cfg.Policy)
		return err
	})
	result.Elapsed = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("write batch %s %s: %w",
			batch[0].Ticker, batch[0].Timestamp.Format("2006-01-02"), err)
	}

	result.Written = inserted + updated
	result.DuplicatesResolved = updated

	if secs := result.Elapsed.Seconds(); secs > 0 {
		logx.WithContext(ctx).Debugf("bulk write %s %s: %d rows in %s (%.0f rows/sec)",
			batch[0].Ticker, batch[0].Timestamp.Format("2006-01-02"),
			result.Written, result.Elapsed, float64(result.Written)/secs)
	}
	return result, nil
}
