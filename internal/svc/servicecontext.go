package svc

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"ohlcvd/internal/config"
	"ohlcvd/internal/ingest"
	"ohlcvd/internal/model"
	"ohlcvd/pkg/fetch"
	_ "ohlcvd/pkg/fetch/s3" // register the s3 provider
)

type ServiceContext struct {
	Config config.Config

	// Pool is the single shared connection pool; every model borrows from it.
	Pool *pgxpool.Pool

	MarketData      *model.MarketDataModel
	FailedDownloads *model.FailedDownloadsModel
	QualityMetrics  *model.QualityMetricsModel

	FetchConfig    *fetch.Config
	FetchProviders map[string]fetch.Provider
	DefaultFetch   fetch.Provider

	Writer      *ingest.BulkWriter
	Coordinator *ingest.Coordinator
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	poolCfg, err := pgxpool.ParseConfig(c.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to parse postgres dsn: %v", err)
	}
	poolCfg.MinConns = c.Postgres.MinConns
	poolCfg.MaxConns = c.Postgres.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = c.AcquireTimeout()

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		log.Fatalf("failed to create postgres pool: %v", err)
	}
	svc.Pool = pool

	svc.MarketData = model.NewMarketDataModel(pool)
	svc.FailedDownloads = model.NewFailedDownloadsModel(pool)
	svc.QualityMetrics = model.NewQualityMetricsModel(pool)

	if c.Fetch.File == "" {
		log.Fatalf("fetch config is required: set fetch.file in %s", c.MainPath())
	}
	fetchCfg := c.Fetch.Value
	providers, err := fetchCfg.BuildProviders()
	if err != nil {
		log.Fatalf("failed to build fetch providers: %v", err)
	}
	svc.FetchConfig = fetchCfg
	svc.FetchProviders = providers
	if fetchCfg.Default != "" {
		svc.DefaultFetch = providers[fetchCfg.Default]
	}
	if svc.DefaultFetch == nil {
		log.Fatalf("fetch config names no default provider")
	}

	policy, err := ingest.ParseConflictPolicy(c.Ingest.ConflictPolicy)
	if err != nil {
		log.Fatalf("invalid conflict policy: %v", err)
	}
	svc.Writer = ingest.NewBulkWriter(svc.MarketData, ingest.WriterConfig{
		Timeframe: c.Ingest.Timeframe,
		Source:    c.Ingest.SourceTag,
		Policy:    policy,
		Timeout:   c.WriteTimeout(),
		Retry:     c.RetryConfig(),
		Transient: model.IsTransient,
	})

	svc.Coordinator = ingest.NewCoordinator(svc.DefaultFetch, svc.MarketData, svc.Writer,
		svc.FailedDownloads, svc.QualityMetrics, ingest.CoordinatorConfig{
			Workers:           c.Ingest.Workers,
			Timeframe:         c.Ingest.Timeframe,
			Source:            c.Ingest.SourceTag,
			FetchTimeout:      c.FetchTimeout(),
			FetchRetry:        c.RetryConfig(),
			RejectAllFails:    c.Ingest.RejectAllFails,
			AlertRejectionPct: c.Ingest.AlertRejectionPct,
		})
	return svc
}

// Close releases the shared pool. Safe to call once at shutdown.
func (s *ServiceContext) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
