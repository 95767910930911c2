package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"ohlcvd/internal/config"
	"ohlcvd/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres: %s", presence(cfg.Postgres.DSN != "")),
		fmt.Sprintf("Pool (min/max): %d / %d", cfg.Postgres.MinConns, cfg.Postgres.MaxConns),
		fmt.Sprintf("Source tag: %s", cfg.Ingest.SourceTag),
		fmt.Sprintf("Timeframe: %s", cfg.Ingest.Timeframe),
		fmt.Sprintf("Workers: %d", cfg.Ingest.Workers),
		fmt.Sprintf("Conflict policy: %s", cfg.Ingest.ConflictPolicy),
		fmt.Sprintf("Lookback: %d days", cfg.Ingest.LookbackDays),
		sectionLine("Fetch config", cfg.Fetch),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
