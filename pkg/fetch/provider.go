package fetch

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that no payload exists for the requested day. Callers
// treat it as a benign outcome (weekend, holiday, not-yet-published file)
// rather than a transport failure.
var ErrNotFound = errors.New("fetch: object not found")

// Provider fetches the raw daily market payload covering one instrument and
// calendar day. Implementations return ErrNotFound (possibly wrapped) when the
// remote object is absent; any other error is a transport failure.
type Provider interface {
	FetchDay(ctx context.Context, ticker string, day time.Time) ([]byte, error)
}

// IsNotFound reports whether err means the payload does not exist remotely.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
