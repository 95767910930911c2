package ingest

import "time"

// DaySet is the coverage state for one instrument: the trading days already
// durably persisted. Keys are UTC midnights.
type DaySet map[time.Time]struct{}

// Add inserts a day, normalising to UTC midnight.
func (s DaySet) Add(day time.Time) {
	s[Day(day)] = struct{}{}
}

// Contains reports whether the day is covered.
func (s DaySet) Contains(day time.Time) bool {
	_, ok := s[Day(day)]
	return ok
}

// MissingDays returns the days in [start, end] (closed interval, inclusive at
// both ends) that are absent from coverage, in ascending order.
//
// The calculation is deliberately calendar-agnostic: weekends and holidays
// are not excluded. A day with no remote file resolves to a benign
// FETCH_NOT_FOUND downstream, which keeps the calculator free of exchange
// calendars. The result is recomputable at any time from persisted coverage;
// there is no iteration state to lose.
func MissingDays(coverage DaySet, start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil
	}

	var missing []time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if coverage.Contains(day) {
			continue
		}
		missing = append(missing, day)
	}
	return missing
}
