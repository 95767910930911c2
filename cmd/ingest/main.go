package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ohlcvd/internal/cli"
	"ohlcvd/internal/config"
	"ohlcvd/internal/ingest"
	"ohlcvd/internal/svc"
)

var (
	configFile = flag.String("f", "etc/ohlcvd.yaml", "config file path")
	symbolsArg = flag.String("symbols", "", "comma-separated tickers to ingest (required)")
	startArg   = flag.String("start", "", "first day to ingest, YYYY-MM-DD (default: resume after last stored bar, capped by the lookback window)")
	endArg     = flag.String("end", "", "last day to ingest, YYYY-MM-DD (default: yesterday)")
)

const dateLayout = "2006-01-02"

func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime)

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	tickers := splitSymbols(*symbolsArg)
	if len(tickers) == 0 {
		log.Fatalf("at least one symbol is required, e.g. -symbols AAPL,MSFT")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.NewServiceContext(*cfg)
	defer svcCtx.Close()

	start, end, err := resolveWindow(ctx, svcCtx, cfg, tickers, *startArg, *endArg)
	if err != nil {
		log.Fatalf("invalid date window: %v", err)
	}

	log.Printf("ingesting %d symbols from %s to %s", len(tickers),
		start.Format(dateLayout), end.Format(dateLayout))

	summary, err := svcCtx.Coordinator.Run(ctx, tickers, start, end)
	if err != nil {
		if summary != nil {
			log.Printf("partial result: %s", summary)
		}
		log.Fatalf("ingestion run aborted: %v", err)
	}

	fmt.Println(summary)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// resolveWindow turns the optional flag values into a closed [start, end]
// interval. The default window ends yesterday and starts the day after the
// oldest last-stored bar among the symbols, so an incremental run resumes
// where the previous one stopped; with an empty database (or a stale one)
// the start is capped by the configured lookback.
func resolveWindow(ctx context.Context, svcCtx *svc.ServiceContext, cfg *config.Config,
	tickers []string, startRaw, endRaw string) (time.Time, time.Time, error) {
	end := ingest.Day(time.Now().UTC().AddDate(0, 0, -1))
	if endRaw != "" {
		parsed, err := time.Parse(dateLayout, endRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -end: %w", err)
		}
		end = ingest.Day(parsed)
	}

	var start time.Time
	if startRaw != "" {
		parsed, err := time.Parse(dateLayout, startRaw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -start: %w", err)
		}
		start = ingest.Day(parsed)
	} else {
		start = defaultStart(ctx, svcCtx, cfg, tickers, end)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s precedes start %s",
			end.Format(dateLayout), start.Format(dateLayout))
	}
	return start, end, nil
}

func defaultStart(ctx context.Context, svcCtx *svc.ServiceContext, cfg *config.Config,
	tickers []string, end time.Time) time.Time {
	floor := end.AddDate(0, 0, -(cfg.Ingest.LookbackDays - 1))

	var oldest time.Time
	for _, ticker := range tickers {
		last, err := svcCtx.MarketData.LastTimestamp(ctx,
			strings.ToUpper(ticker), cfg.Ingest.Timeframe, cfg.Ingest.SourceTag)
		if err != nil {
			log.Printf("last timestamp for %s: %v, falling back to lookback window", ticker, err)
			return floor
		}
		if last.IsZero() {
			// A brand-new symbol needs the full lookback window.
			return floor
		}
		if oldest.IsZero() || last.Before(oldest) {
			oldest = last
		}
	}

	start := ingest.Day(oldest).AddDate(0, 0, 1)
	if start.Before(floor) {
		return floor
	}
	if start.After(end) {
		return end
	}
	return start
}
