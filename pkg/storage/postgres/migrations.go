package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/pulse/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the schema migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create raw_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS raw_events (
					id TEXT PRIMARY KEY,
					event_type TEXT NOT NULL,
					service TEXT NOT NULL,
					user_id TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL DEFAULT '',
					occurred_at TIMESTAMPTZ NOT NULL,
					attributes JSONB NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_raw_events_type_time ON raw_events(event_type, occurred_at);
				CREATE INDEX IF NOT EXISTS idx_raw_events_service_time ON raw_events(service, occurred_at);
			`,
		},
		{
			Version:     2,
			Description: "Create aggregated_metrics table",
			SQL: `
				CREATE TABLE IF NOT EXISTS aggregated_metrics (
					id UUID PRIMARY KEY,
					kind TEXT NOT NULL,
					name TEXT NOT NULL,
					dimension TEXT NOT NULL,
					granularity TEXT NOT NULL,
					window_start TIMESTAMPTZ NOT NULL,
					window_end TIMESTAMPTZ NOT NULL,
					value DOUBLE PRECISION NOT NULL,
					attributes JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE(name, dimension, granularity, window_start, window_end),
					CHECK (window_start <= window_end)
				);

				CREATE INDEX IF NOT EXISTS idx_aggregated_metrics_lookup ON aggregated_metrics(name, granularity, window_start);
				CREATE INDEX IF NOT EXISTS idx_aggregated_metrics_window_end ON aggregated_metrics(window_end);
			`,
		},
	}
}

// RunMigrations applies pending migrations, one transaction each.
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pulse_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM pulse_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}
		log := logger.WithFields(map[string]interface{}{
			"version":     m.Version,
			"description": m.Description,
		})
		log.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO pulse_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
