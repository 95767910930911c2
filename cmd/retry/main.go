package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ohlcvd/internal/cli"
	"ohlcvd/internal/config"
	"ohlcvd/internal/svc"
)

var (
	configFile = flag.String("f", "etc/ohlcvd.yaml", "config file path")
	olderThan  = flag.Duration("older-than", 0, "only retry failures last attempted at least this long ago (default: config)")
	maxTries   = flag.Int("max-attempts", -1, "skip failures with this many attempts already, 0 for no cap (default: config)")
)

// Re-runs unresolved download failures. Intended for a cron schedule after
// the nightly ingest, so transient outages heal without operator action.
func main() {
	flag.Parse()
	log.SetFlags(log.Ldate | log.Ltime)

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	age := cfg.RetryOlderThan()
	if *olderThan > 0 {
		age = *olderThan
	}
	attempts := cfg.Ingest.MaxAttempts
	if *maxTries >= 0 {
		attempts = *maxTries
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.NewServiceContext(*cfg)
	defer svcCtx.Close()

	log.Printf("retrying failures older than %s with fewer than %d attempts",
		age.Round(time.Second), attempts)

	summary, err := svcCtx.Coordinator.RunFailed(ctx, age, attempts)
	if err != nil {
		if summary != nil {
			log.Printf("partial result: %s", summary)
		}
		log.Fatalf("retry run aborted: %v", err)
	}

	fmt.Println(summary)
	reportLowQuality(ctx, svcCtx)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

// reportLowQuality surfaces days whose validation score dropped below the
// alert threshold, so a retry pass doubles as a quality review.
func reportLowQuality(ctx context.Context, svcCtx *svc.ServiceContext) {
	threshold := 100 - svcCtx.Config.Ingest.AlertRejectionPct
	flags, err := svcCtx.QualityMetrics.FlagBelow(ctx, threshold, 20)
	if err != nil {
		log.Printf("quality report: %v", err)
		return
	}
	for _, f := range flags {
		log.Printf("low quality: %s %s score=%.1f rejected=%d",
			f.Ticker, f.Day.Format("2006-01-02"), f.Score, f.Rejected)
	}
}
