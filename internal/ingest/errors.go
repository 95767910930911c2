package ingest

// ErrorKind classifies a unit-of-work failure for persistence and retry
// policy. The string values are stored in the failed_downloads table.
type ErrorKind string

const (
	// KindFetchNotFound marks a day with no remote payload (weekend, holiday,
	// not yet published). Benign and never retried aggressively.
	KindFetchNotFound ErrorKind = "FETCH_NOT_FOUND"
	// KindFetchError marks a transport failure; transient, retried.
	KindFetchError ErrorKind = "FETCH_ERROR"
	// KindParseError marks malformed payload bytes; permanent, the same bytes
	// will fail again, so the day is flagged for manual inspection.
	KindParseError ErrorKind = "PARSE_ERROR"
	// KindQualityRejected marks a unit whose every row was rejected by
	// validation. Only recorded when the coordinator is configured to treat
	// that as a failure.
	KindQualityRejected ErrorKind = "QUALITY_REJECTED"
	// KindWriteError marks a database write that kept failing after bounded
	// retries.
	KindWriteError ErrorKind = "WRITE_ERROR"
)

// Transient reports whether a failure of this kind is worth re-attempting in
// a later run without operator intervention.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindFetchError, KindWriteError:
		return true
	default:
		return false
	}
}

func (k ErrorKind) String() string { return string(k) }
