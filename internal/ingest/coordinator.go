package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"ohlcvd/pkg/fetch"
	"ohlcvd/pkg/retry"
)

// unitState is the lifecycle of one (ticker, day) unit of work. Transitions
// are one-directional; stateFailed is terminal for the attempt but the unit
// may be re-queued in a later run.
type unitState int

const (
	statePending unitState = iota
	stateFetching
	stateParsing
	stateValidating
	stateWriting
	stateSucceeded
	stateFailed
)

func (s unitState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFetching:
		return "fetching"
	case stateParsing:
		return "parsing"
	case stateValidating:
		return "validating"
	case stateWriting:
		return "writing"
	case stateSucceeded:
		return "succeeded"
	case stateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unitState(%d)", int(s))
	}
}

// CoordinatorConfig carries the run-level knobs. Pool bounds live on the
// store; worker concurrency and retry behaviour live here.
type CoordinatorConfig struct {
	// Workers bounds how many instruments are processed concurrently.
	Workers   int
	Timeframe string
	Source    string
	// FetchTimeout bounds one fetch call; timed-out calls are retried.
	FetchTimeout time.Duration
	FetchRetry   retry.Config
	// RejectAllFails controls the ambiguous all-rows-rejected case: false
	// treats it as a benign zero-row success, true records a
	// QUALITY_REJECTED failure for the unit.
	RejectAllFails bool
	// AlertRejectionPct logs an error when a unit's rejection rate exceeds
	// this percentage. Zero uses the default.
	AlertRejectionPct float64
}

const (
	defaultWorkers           = 4
	defaultFetchTimeout      = 30 * time.Second
	defaultAlertRejectionPct = 5.0
)

// RunSummary aggregates the outcome of one coordinator run. NotFound units
// (no remote file, typically weekends and holidays) are benign and counted
// apart from real failures.
type RunSummary struct {
	TotalUnits   int
	Succeeded    int
	Failed       int
	NotFound     int
	RowsWritten  int
	RowsRejected int
	Duration     time.Duration
}

func (s *RunSummary) String() string {
	return fmt.Sprintf("units=%d succeeded=%d failed=%d not_found=%d rows_written=%d rows_rejected=%d duration=%s",
		s.TotalUnits, s.Succeeded, s.Failed, s.NotFound, s.RowsWritten, s.RowsRejected, s.Duration.Round(time.Millisecond))
}

// Coordinator drives the ingestion pipeline: it computes the missing days per
// instrument, then fetches, parses, validates and writes each (ticker, day)
// unit of work, recording failures and quality metrics along the way.
//
// Units for the same instrument run in ascending date order so coverage stays
// monotonic; different instruments run concurrently under a bounded pool. The
// coordinator holds no state across units beyond the run summary.
type Coordinator struct {
	fetcher  fetch.Provider
	market   MarketStore
	writer   *BulkWriter
	failures FailureStore
	quality  QualityStore
	cfg      CoordinatorConfig

	fetchBackoff *retry.Handler
}

// NewCoordinator wires the pipeline components together.
func NewCoordinator(fetcher fetch.Provider, market MarketStore, writer *BulkWriter,
	failures FailureStore, quality QualityStore, cfg CoordinatorConfig) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = DefaultTimeframe
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.AlertRejectionPct <= 0 {
		cfg.AlertRejectionPct = defaultAlertRejectionPct
	}
	return &Coordinator{
		fetcher:      fetcher,
		market:       market,
		writer:       writer,
		failures:     failures,
		quality:      quality,
		cfg:          cfg,
		fetchBackoff: retry.New(cfg.FetchRetry, fetchRetryable),
	}
}

// fetchRetryable treats everything except a missing object and an aborted
// context as transient. Per-call timeouts surface as DeadlineExceeded and are
// retried; parent cancellation is honoured by the backoff loop itself.
func fetchRetryable(err error) bool {
	if fetch.IsNotFound(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Run ingests the closed date interval [start, end] for the given tickers and
// returns the aggregated summary. Coverage is queried fresh from the store,
// so a re-run after failures picks up exactly the days still missing.
func (c *Coordinator) Run(ctx context.Context, tickers []string, start, end time.Time) (*RunSummary, error) {
	start, end = Day(start), Day(end)
	plan := make(map[string][]time.Time)
	for _, ticker := range normalizeTickers(tickers) {
		coverage, err := c.market.CoveredDays(ctx, ticker, c.cfg.Timeframe, c.cfg.Source, start, end)
		if err != nil {
			return nil, fmt.Errorf("coverage for %s: %w", ticker, err)
		}
		plan[ticker] = MissingDays(coverage, start, end)
	}
	return c.execute(ctx, plan)
}

// RunFailed re-attempts unresolved failures whose last attempt is older than
// olderThan and that have fewer than maxAttempts attempts. Parse and quality
// rejections are skipped: the same bytes would fail the same way, those rows
// wait for manual inspection instead.
func (c *Coordinator) RunFailed(ctx context.Context, olderThan time.Duration, maxAttempts int) (*RunSummary, error) {
	unresolved, err := c.failures.Unresolved(ctx, olderThan, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list unresolved failures: %w", err)
	}

	plan := make(map[string][]time.Time)
	for _, f := range unresolved {
		switch f.Kind {
		case KindParseError, KindQualityRejected:
			continue
		}
		plan[f.Ticker] = append(plan[f.Ticker], Day(f.Day))
	}
	for ticker := range plan {
		days := plan[ticker]
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	}
	return c.execute(ctx, plan)
}

// execute processes a per-ticker plan of days. Instruments run concurrently
// under the worker limit; days within one instrument run sequentially in the
// order given. Cancellation is checked between units; a unit already in its
// write transaction commits or rolls back atomically.
func (c *Coordinator) execute(ctx context.Context, plan map[string][]time.Time) (*RunSummary, error) {
	summary := &RunSummary{}
	for _, days := range plan {
		summary.TotalUnits += len(days)
	}
	started := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for ticker, days := range plan {
		if len(days) == 0 {
			continue
		}
		ticker, days := ticker, days
		g.Go(func() error {
			for _, day := range days {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := c.runUnit(gctx, ticker, day)

				mu.Lock()
				switch {
				case res.state == stateSucceeded:
					summary.Succeeded++
				case res.kind == KindFetchNotFound:
					summary.NotFound++
				default:
					summary.Failed++
				}
				summary.RowsWritten += res.rowsWritten
				summary.RowsRejected += res.rowsRejected
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	summary.Duration = time.Since(started)
	if err != nil {
		return summary, fmt.Errorf("run cancelled: %w", err)
	}
	logx.WithContext(ctx).Infof("ingestion run complete: %s", summary)
	return summary, nil
}

type unitResult struct {
	state        unitState
	kind         ErrorKind
	err          error
	rowsWritten  int
	rowsRejected int
}

// runUnit walks one (ticker, day) unit through the state machine. Every
// failure path records exactly one failure with its kind; the success path
// resolves any outstanding failure for the same key.
func (c *Coordinator) runUnit(ctx context.Context, ticker string, day time.Time) unitResult {
	logger := logx.WithContext(ctx)

	var (
		payload []byte
		part    Partition
		report  QualityReport
		written WriteResult
	)

	state := statePending
	for {
		switch state {
		case statePending:
			state = stateFetching

		case stateFetching:
			var err error
			payload, err = c.fetchDay(ctx, ticker, day)
			if err != nil {
				if fetch.IsNotFound(err) {
					return c.failUnit(ctx, ticker, day, KindFetchNotFound, err)
				}
				return c.failUnit(ctx, ticker, day, KindFetchError, err)
			}
			state = stateParsing

		case stateParsing:
			parsed, err := ParseDay(payload, ticker, day)
			if err != nil {
				return c.failUnit(ctx, ticker, day, KindParseError, err)
			}
			part, report = Validate(parsed)
			state = stateValidating

		case stateValidating:
			if err := c.quality.RecordQuality(ctx, ticker, day, report); err != nil {
				// Metrics are best-effort; losing one must not fail the unit.
				logger.Errorf("record quality %s %s: %v", ticker, day.Format("2006-01-02"), err)
			}
			if rate := 100 - report.Score; report.Total > 0 && rate > c.cfg.AlertRejectionPct {
				logger.Errorf("high rejection rate for %s on %s: %.1f%% (%d of %d rows)",
					ticker, day.Format("2006-01-02"), rate, report.Rejected, report.Total)
			}
			if report.Total > 0 && report.Accepted == 0 && c.cfg.RejectAllFails {
				res := c.failUnit(ctx, ticker, day, KindQualityRejected,
					fmt.Errorf("all %d rows rejected", report.Total))
				res.rowsRejected = report.Rejected
				return res
			}
			state = stateWriting

		case stateWriting:
			if len(part.Accepted) == 0 {
				// No trading activity (or everything rejected under the
				// benign policy): nothing to write, the unit still succeeds.
				state = stateSucceeded
				continue
			}
			var err error
			written, err = c.writer.WriteBatch(ctx, part.Accepted)
			if err != nil {
				res := c.failUnit(ctx, ticker, day, KindWriteError, err)
				res.rowsRejected = report.Rejected
				return res
			}
			state = stateSucceeded

		case stateSucceeded:
			if err := c.failures.MarkResolved(ctx, ticker, day); err != nil {
				logger.Errorf("mark resolved %s %s: %v", ticker, day.Format("2006-01-02"), err)
			}
			logger.Debugf("unit %s %s succeeded: %d rows written, %d rejected",
				ticker, day.Format("2006-01-02"), written.Written, report.Rejected)
			return unitResult{
				state:        stateSucceeded,
				rowsWritten:  written.Written,
				rowsRejected: report.Rejected,
			}

		default:
			// stateFailed is produced by failUnit, never iterated.
			return unitResult{state: stateFailed, err: fmt.Errorf("invalid state %s", state)}
		}
	}
}

func (c *Coordinator) fetchDay(ctx context.Context, ticker string, day time.Time) ([]byte, error) {
	var payload []byte
	err := c.fetchBackoff.Do(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
		var err error
		payload, err = c.fetcher.FetchDay(callCtx, ticker, day)
		return err
	})
	return payload, err
}

func (c *Coordinator) failUnit(ctx context.Context, ticker string, day time.Time, kind ErrorKind, cause error) unitResult {
	logger := logx.WithContext(ctx)
	if kind == KindFetchNotFound {
		logger.Debugf("unit %s %s: no payload: %v", ticker, day.Format("2006-01-02"), cause)
	} else {
		logger.Errorf("unit %s %s failed (%s): %v", ticker, day.Format("2006-01-02"), kind, cause)
	}
	if err := c.failures.RecordFailure(ctx, ticker, day, kind, cause.Error()); err != nil {
		logger.Errorf("record failure %s %s: %v", ticker, day.Format("2006-01-02"), err)
	}
	return unitResult{state: stateFailed, kind: kind, err: cause}
}

func normalizeTickers(tickers []string) []string {
	set := make(map[string]struct{}, len(tickers))
	for _, ticker := range tickers {
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		if ticker == "" {
			continue
		}
		set[ticker] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for ticker := range set {
		out = append(out, ticker)
	}
	sort.Strings(out)
	return out
}
