package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pulse/pkg/analytics"
	"github.com/platinummonkey/pulse/pkg/async"
	"github.com/platinummonkey/pulse/pkg/observability"
	"github.com/platinummonkey/pulse/pkg/storage"
	"github.com/platinummonkey/pulse/pkg/storage/postgres"
)

// Config holds the backfill run configuration
type Config struct {
	DBConnectionString string
	Start              time.Time
	End                time.Time
	Granularities      []analytics.Granularity
	Parallelism        int
	PassTimeout        time.Duration
	EventsFile         string
	LogLevel           string
}

// Backfill imports raw events (optionally) and re-aggregates a historical
// range at one or more granularities. Passes are idempotent, so a failed
// run can simply be repeated.
func main() {
	config, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := setupLogger(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.WithError(err).Error("Backfill failed")
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	config := &Config{}
	var start, end, granularities string

	fs.StringVar(&config.DBConnectionString, "db", getEnv("PULSE_POSTGRES_URL", "postgres://localhost/pulse?sslmode=disable"), "Database connection string")
	fs.StringVar(&start, "start", "", "Range start (RFC 3339 or YYYY-MM-DD, required)")
	fs.StringVar(&end, "end", "", "Range end, exclusive (RFC 3339 or YYYY-MM-DD, required)")
	fs.StringVar(&granularities, "granularities", "HOUR,DAY", "Comma-separated granularities to aggregate")
	fs.IntVar(&config.Parallelism, "parallelism", 2, "Granularities aggregated concurrently")
	fs.DurationVar(&config.PassTimeout, "pass-timeout", time.Hour, "Timeout for each granularity pass")
	fs.StringVar(&config.EventsFile, "events", "", "JSON lines file of raw events to import before aggregating")
	fs.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var err error
	if config.Start, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("-start: %w", err)
	}
	if config.End, err = parseTime(end); err != nil {
		return nil, fmt.Errorf("-end: %w", err)
	}
	if !config.Start.Before(config.End) {
		return nil, fmt.Errorf("-start must be before -end")
	}
	for _, g := range strings.Split(granularities, ",") {
		parsed, err := analytics.ParseGranularity(g)
		if err != nil {
			return nil, err
		}
		config.Granularities = append(config.Granularities, parsed)
	}
	if config.Parallelism < 1 {
		return nil, fmt.Errorf("-parallelism must be at least 1")
	}
	return config, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func run(ctx context.Context, config *Config, logger *logrus.Logger) error {
	// Library components log structured JSON to stderr; the run summary
	// goes through logrus.
	libLogger := observability.NewLogger(observability.WarnLevel, os.Stderr)

	connCfg := postgres.ConnectionConfigFromStorage(storage.Config{PostgresURL: config.DBConnectionString})
	conn, err := postgres.NewConnectionManager(ctx, connCfg, libLogger)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	if err := postgres.RunMigrations(ctx, conn.Primary(), libLogger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	events := postgres.NewEventStore(conn)
	if config.EventsFile != "" {
		n, err := importEvents(ctx, events, config.EventsFile)
		if err != nil {
			return err
		}
		logger.WithField("events", n).Info("Imported raw events")
	}

	agg, err := analytics.NewAggregator(events, postgres.NewMetricStore(conn), analytics.WithLogger(libLogger))
	if err != nil {
		return err
	}
	return backfill(ctx, agg, config, logger)
}

// backfill runs one pass per granularity, config.Parallelism at a time.
func backfill(ctx context.Context, agg *analytics.Aggregator, config *Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"start":         config.Start.Format(time.RFC3339),
		"end":           config.End.Format(time.RFC3339),
		"granularities": config.Granularities,
	}).Info("Starting backfill")

	var (
		mu      sync.Mutex
		results []analytics.PassResult
	)
	errs := async.Batch(ctx, config.Granularities, config.Parallelism, config.PassTimeout, func(ctx context.Context, g analytics.Granularity) error {
		result, err := agg.Aggregate(ctx, config.Start, config.End, g)
		if err != nil {
			return fmt.Errorf("%s: %w", g, err)
		}
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
		return nil
	})

	for _, r := range results {
		logger.WithFields(logrus.Fields{
			"granularity": r.Granularity,
			"windows":     r.Windows,
			"rows":        r.RowsWritten,
			"duration":    r.Duration.Round(time.Millisecond),
		}).Info("Granularity complete")
	}
	for _, err := range errs {
		logger.WithError(err).Error("Granularity failed")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d granularities failed", len(errs), len(config.Granularities))
	}
	logger.Info("Backfill complete")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
