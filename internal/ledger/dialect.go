package ledger

import (
	"fmt"
	"strings"
)

// Dialect isolates the SQL differences between the supported backends.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// Placeholder returns the parameter marker for the 1-based index.
	Placeholder(index int) string
	// Schema returns the DDL statements creating the index tables.
	Schema() []string
}

type sqliteDialect struct{}

func (sqliteDialect) DriverName() string     { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }
func (sqliteDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			input_root TEXT NOT NULL,
			output_root TEXT NOT NULL,
			files_processed INTEGER DEFAULT 0,
			files_failed INTEGER DEFAULT 0,
			lines_read INTEGER DEFAULT 0,
			ip_events INTEGER DEFAULT 0,
			keyword_events INTEGER DEFAULT 0,
			write_failures INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			match_key TEXT NOT NULL,
			source TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			line TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_key ON matches(kind, match_key)`,
	}
}

type postgresDialect struct{}

func (postgresDialect) DriverName() string       { return "pgx" }
func (postgresDialect) Placeholder(i int) string { return fmt.Sprintf("$%d", i) }
func (postgresDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at BIGINT NOT NULL,
			finished_at BIGINT,
			input_root TEXT NOT NULL,
			output_root TEXT NOT NULL,
			files_processed INT DEFAULT 0,
			files_failed INT DEFAULT 0,
			lines_read BIGINT DEFAULT 0,
			ip_events BIGINT DEFAULT 0,
			keyword_events BIGINT DEFAULT 0,
			write_failures BIGINT DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			match_key TEXT NOT NULL,
			source TEXT NOT NULL,
			line_no BIGINT NOT NULL,
			line TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_key ON matches(kind, match_key)`,
	}
}

// DialectFor returns the dialect for driver ("sqlite" or "postgres").
// An empty driver is inferred from the DSN.
func DialectFor(driver, dsn string) (Dialect, error) {
	if driver == "" {
		driver = "sqlite"
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			driver = "postgres"
		}
	}
	switch driver {
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}
}

// placeholders renders n markers starting at index 1, comma separated.
func placeholders(d Dialect, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}
