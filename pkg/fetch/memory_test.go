package fetch_test

import (
	"context"
	"testing"
	"time"

	fetch "ohlcvd/pkg/fetch"
)

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := fetch.NewMemoryProvider()
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	p.Put(day, []byte("payload"))

	got, err := p.FetchDay(context.Background(), "AAPL", day)
	if err != nil {
		t.Fatalf("FetchDay error: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("unexpected payload: %q", got)
	}

	_, err = p.FetchDay(context.Background(), "AAPL", day.AddDate(0, 0, 1))
	if !fetch.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
