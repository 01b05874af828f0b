package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	ErrNotFound = errors.New("not found")
)

// Open abre una conexión pool a Postgres usando pgx (database/sql).
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	// Workers + API comparten el pool
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// schema es idempotente; se corre en cada arranque.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS collection_events (
		id                TEXT PRIMARY KEY,
		submitter_id      TEXT NOT NULL,
		category          TEXT NOT NULL,
		lat               DOUBLE PRECISION NOT NULL,
		lon               DOUBLE PRECISION NOT NULL,
		accuracy_m        DOUBLE PRECISION NULL,
		captured_at       TIMESTAMPTZ NOT NULL,
		moisture_pct      DOUBLE PRECISION NULL,
		media             JSONB NOT NULL DEFAULT '[]',
		notes             TEXT NOT NULL DEFAULT '',
		source            JSONB NOT NULL,
		is_valid_location BOOLEAN NOT NULL,
		is_valid_season   BOOLEAN NOT NULL,
		quality_score     INT NOT NULL,
		status            TEXT NOT NULL,
		ledger_tx_id      TEXT NULL,
		ledger_block_hash TEXT NULL,
		last_error        TEXT NULL,
		retry_count       INT NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL,
		synced_at         TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS collection_events_status_idx
		ON collection_events (status, retry_count)`,
	`CREATE TABLE IF NOT EXISTS anchoring_jobs (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		payload      JSONB NOT NULL,
		priority     INT NOT NULL,
		state        TEXT NOT NULL,
		attempts     INT NOT NULL DEFAULT 0,
		max_attempts INT NOT NULL,
		backoff_ms   BIGINT NOT NULL,
		run_at       TIMESTAMPTZ NOT NULL,
		last_error   TEXT NULL,
		stall_count  INT NOT NULL DEFAULT 0,
		locked_by    TEXT NULL,
		heartbeat_at TIMESTAMPTZ NULL,
		enqueued_at  TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS anchoring_jobs_ready_idx
		ON anchoring_jobs (state, priority DESC, run_at)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         TEXT PRIMARY KEY,
		event_id   TEXT NOT NULL,
		action     TEXT NOT NULL,
		actor      TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_event_idx
		ON audit_log (event_id, created_at)`,
}

// Migrate crea tablas e índices si no existen.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

// rowScanner cubre *sql.Row y *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
