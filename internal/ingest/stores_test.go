package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// In-memory store fakes mirroring the persistence semantics: keyed upserts,
// attempt counting and resolution tracking. Shared by the writer and
// coordinator tests.

type fakeMarketStore struct {
	mu         sync.Mutex
	rows       map[string]Record
	upsertErrs []error // popped one per UpsertBatch call before succeeding
	calls      int
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{rows: make(map[string]Record)}
}

func barKey(ticker string, ts time.Time, timeframe, source string) string {
	return fmt.Sprintf("%s|%s|%s|%s", ticker, ts.Format("2006-01-02"), timeframe, source)
}

func (s *fakeMarketStore) UpsertBatch(ctx context.Context, records []Record, policy ConflictPolicy) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.upsertErrs) > 0 {
		err := s.upsertErrs[0]
		s.upsertErrs = s.upsertErrs[1:]
		return 0, 0, err
	}

	var inserted, updated int
	for _, rec := range records {
		key := barKey(rec.Ticker, rec.Timestamp, rec.Timeframe, rec.Source)
		if _, exists := s.rows[key]; exists {
			switch policy {
			case ConflictNothing:
				continue
			case ConflictError:
				return 0, 0, fmt.Errorf("duplicate key %s", key)
			default:
				s.rows[key] = rec
				updated++
			}
			continue
		}
		s.rows[key] = rec
		inserted++
	}
	return inserted, updated, nil
}

func (s *fakeMarketStore) CoveredDays(ctx context.Context, ticker, timeframe, source string, start, end time.Time) (DaySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	covered := make(DaySet)
	for _, rec := range s.rows {
		if rec.Ticker != ticker || rec.Timeframe != timeframe || rec.Source != source {
			continue
		}
		if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
			continue
		}
		covered.Add(rec.Timestamp)
	}
	return covered, nil
}

func (s *fakeMarketStore) LastTimestamp(ctx context.Context, ticker, timeframe, source string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	for _, rec := range s.rows {
		if rec.Ticker == ticker && rec.Timeframe == timeframe && rec.Source == source && rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	return last, nil
}

func (s *fakeMarketStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *fakeMarketStore) row(ticker string, ts time.Time, timeframe, source string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[barKey(ticker, ts, timeframe, source)]
	return rec, ok
}

type fakeFailureStore struct {
	mu       sync.Mutex
	failures map[string]*FailureRecord
}

func newFakeFailureStore() *fakeFailureStore {
	return &fakeFailureStore{failures: make(map[string]*FailureRecord)}
}

func failureKey(ticker string, d time.Time) string {
	return ticker + "|" + Day(d).Format("2006-01-02")
}

func (s *fakeFailureStore) RecordFailure(ctx context.Context, ticker string, d time.Time, kind ErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	key := failureKey(ticker, d)
	if rec, ok := s.failures[key]; ok {
		rec.Kind = kind
		rec.Message = message
		rec.Attempts++
		rec.LastAttempt = now
		rec.ResolvedAt = nil
		return nil
	}
	s.failures[key] = &FailureRecord{
		Ticker:      ticker,
		Day:         Day(d),
		Kind:        kind,
		Message:     message,
		Attempts:    1,
		FirstSeen:   now,
		LastAttempt: now,
	}
	return nil
}

func (s *fakeFailureStore) MarkResolved(ctx context.Context, ticker string, d time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.failures[failureKey(ticker, d)]; ok && rec.ResolvedAt == nil {
		now := time.Now()
		rec.ResolvedAt = &now
	}
	return nil
}

func (s *fakeFailureStore) Unresolved(ctx context.Context, olderThan time.Duration, maxAttempts int) ([]FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []FailureRecord
	for _, rec := range s.failures {
		if rec.ResolvedAt != nil {
			continue
		}
		if olderThan > 0 && rec.LastAttempt.After(cutoff) {
			continue
		}
		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (s *fakeFailureStore) get(ticker string, d time.Time) (FailureRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.failures[failureKey(ticker, d)]
	if !ok {
		return FailureRecord{}, false
	}
	return *rec, true
}

type fakeQualityStore struct {
	mu      sync.Mutex
	reports map[string]QualityReport
	err     error
}

func newFakeQualityStore() *fakeQualityStore {
	return &fakeQualityStore{reports: make(map[string]QualityReport)}
}

func (s *fakeQualityStore) RecordQuality(ctx context.Context, ticker string, d time.Time, report QualityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports[failureKey(ticker, d)] = report
	return nil
}

func (s *fakeQualityStore) get(ticker string, d time.Time) (QualityReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[failureKey(ticker, d)]
	return report, ok
}
