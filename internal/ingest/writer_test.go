package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ohlcvd/pkg/retry"
)

func testWriter(store MarketStore, cfg WriterConfig) *BulkWriter {
	if cfg.Source == "" {
		cfg.Source = "test"
	}
	if cfg.Retry.InitialBackoff == 0 {
		cfg.Retry.InitialBackoff = time.Millisecond
	}
	return NewBulkWriter(store, cfg)
}

func TestWriteBatchStampsDefaults(t *testing.T) {
	store := newFakeMarketStore()
	w := testWriter(store, WriterConfig{Source: "polygon"})

	rec := validRecord()
	result, err := w.WriteBatch(context.Background(), []Record{rec})
	require.NoError(t, err)
	require.Equal(t, 1, result.Attempted)
	require.Equal(t, 1, result.Written)
	require.Equal(t, 0, result.DuplicatesResolved)

	stored, ok := store.row("AAPL", rec.Timestamp, DefaultTimeframe, "polygon")
	require.True(t, ok)
	require.Equal(t, DefaultTimeframe, stored.Timeframe)
	require.Equal(t, "polygon", stored.Source)

	// The caller's slice is not mutated by the stamping.
	require.Empty(t, rec.Timeframe)
}

func TestWriteBatchEmpty(t *testing.T) {
	store := newFakeMarketStore()
	w := testWriter(store, WriterConfig{})

	result, err := w.WriteBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, result.Written)
	require.Zero(t, store.calls)
}

func TestWriteBatchLastValueWins(t *testing.T) {
	store := newFakeMarketStore()
	w := testWriter(store, WriterConfig{Policy: ConflictUpdate})

	first := validRecord()
	_, err := w.WriteBatch(context.Background(), []Record{first})
	require.NoError(t, err)

	second := validRecord()
	second.Close = 999.99
	result, err := w.WriteBatch(context.Background(), []Record{second})
	require.NoError(t, err)
	require.Equal(t, 1, result.Written)
	require.Equal(t, 1, result.DuplicatesResolved)

	stored, ok := store.row("AAPL", second.Timestamp, DefaultTimeframe, "test")
	require.True(t, ok)
	require.Equal(t, 999.99, stored.Close)
	require.Equal(t, 1, store.rowCount())
}

func TestWriteBatchConflictNothingKeepsExisting(t *testing.T) {
	store := newFakeMarketStore()
	w := testWriter(store, WriterConfig{Policy: ConflictNothing})

	first := validRecord()
	_, err := w.WriteBatch(context.Background(), []Record{first})
	require.NoError(t, err)

	second := validRecord()
	second.Close = 1.23
	result, err := w.WriteBatch(context.Background(), []Record{second})
	require.NoError(t, err)
	require.Zero(t, result.Written)

	stored, _ := store.row("AAPL", first.Timestamp, DefaultTimeframe, "test")
	require.Equal(t, first.Close, stored.Close)
}

func TestWriteBatchConflictErrorSurfaces(t *testing.T) {
	store := newFakeMarketStore()
	w := testWriter(store, WriterConfig{Policy: ConflictError})

	_, err := w.WriteBatch(context.Background(), []Record{validRecord()})
	require.NoError(t, err)

	_, err = w.WriteBatch(context.Background(), []Record{validRecord()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate key")
}

func TestWriteBatchRetriesTransient(t *testing.T) {
	store := newFakeMarketStore()
	transient := errors.New("connection reset")
	store.upsertErrs = []error{transient, transient}

	w := testWriter(store, WriterConfig{
		Retry:     retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
		Transient: func(err error) bool { return errors.Is(err, transient) },
	})

	result, err := w.WriteBatch(context.Background(), []Record{validRecord()})
	require.NoError(t, err)
	require.Equal(t, 1, result.Written)
	require.Equal(t, 3, store.calls)
}

func TestWriteBatchPermanentErrorNotRetried(t *testing.T) {
	store := newFakeMarketStore()
	store.upsertErrs = []error{errors.New("constraint violation")}

	w := testWriter(store, WriterConfig{
		Retry:     retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
		Transient: func(error) bool { return false },
	})

	_, err := w.WriteBatch(context.Background(), []Record{validRecord()})
	require.Error(t, err)
	require.Equal(t, 1, store.calls)
}

func TestWriteBatchExhaustsRetries(t *testing.T) {
	store := newFakeMarketStore()
	transient := errors.New("timeout")
	store.upsertErrs = []error{transient, transient, transient}

	w := testWriter(store, WriterConfig{
		Retry:     retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond},
		Transient: func(error) bool { return true },
	})

	_, err := w.WriteBatch(context.Background(), []Record{validRecord()})
	require.Error(t, err)
	require.ErrorIs(t, err, transient)
	require.Equal(t, 3, store.calls)
	require.Zero(t, store.rowCount())
}

func TestParseConflictPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictPolicy
		wantErr bool
	}{
		{in: "update", want: ConflictUpdate},
		{in: " Nothing ", want: ConflictNothing},
		{in: "ERROR", want: ConflictError},
		{in: "", want: ConflictUpdate},
		{in: "replace", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseConflictPolicy(tt.in)
		if tt.wantErr {
			require.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		require.Equal(t, tt.want, got)
	}
}
