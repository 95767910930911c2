package retry

import (
	"context"
	"math"
	"time"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultBackoffFactor  = 2.0
)

// Config encapsulates exponential backoff settings.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// Handler executes retryable operations with backoff.
type Handler struct {
	cfg       Config
	retryable Classifier
}

// New constructs a handler with sane defaults. The classifier decides which
// errors are transient; a nil classifier retries nothing.
func New(cfg Config, retryable Classifier) *Handler {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = defaultBackoffFactor
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if retryable == nil {
		retryable = func(error) bool { return false }
	}
	return &Handler{cfg: cfg, retryable: retryable}
}

// Do executes fn until it succeeds, exhausts attempts, or hits a
// non-retryable error. Context cancellation wins over further attempts.
func (h *Handler) Do(ctx context.Context, fn func() error) error {
	var attempt int
	backoff := h.cfg.InitialBackoff

	for {
		err := fn()
		if err == nil {
			return nil
		}

		if !h.retryable(err) || attempt >= h.cfg.MaxRetries {
			return err
		}
		attempt++

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		backoff = time.Duration(math.Min(
			float64(h.cfg.MaxBackoff),
			float64(backoff)*h.cfg.Multiplier,
		))
	}
}
