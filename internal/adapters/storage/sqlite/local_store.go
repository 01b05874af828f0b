// Package sqlite es el store durable del dispositivo de campo (driver pure Go).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"herb-trace/internal/collector"
	"herb-trace/internal/domain/collections"
)

const schema = `
CREATE TABLE IF NOT EXISTS local_events (
	event_id    TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_local_events_status ON local_events (status, created_at);
`

// LocalStore guarda el Event completo como JSON; status va en columna
// propia para poder filtrar sin decodificar.
type LocalStore struct {
	db *sql.DB
}

// Open abre (o crea) el archivo y aplica el schema.
func Open(path string) (*LocalStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Un solo writer; evita SQLITE_BUSY entre goroutines del mismo proceso.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &LocalStore{db: db}, nil
}

func (s *LocalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ collector.LocalStore = (*LocalStore)(nil)

func (s *LocalStore) Save(ctx context.Context, ev collections.Event) error {
	if strings.TrimSpace(ev.ID) == "" {
		return errors.New("event id is required")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_events (event_id, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, ev.ID, string(ev.Status), string(payload), toMillis(ev.CreatedAt), toMillis(ev.UpdatedAt))
	return err
}

func (s *LocalStore) Get(ctx context.Context, eventID string) (collections.Event, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM local_events WHERE event_id = ?`, strings.TrimSpace(eventID)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return collections.Event{}, collector.ErrNotFound
	}
	if err != nil {
		return collections.Event{}, err
	}
	return decode(payload)
}

func (s *LocalStore) List(ctx context.Context, statuses ...collections.Status) ([]collections.Event, error) {
	query := `SELECT payload FROM local_events`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		ph := make([]string, 0, len(statuses))
		for _, st := range statuses {
			ph = append(ph, "?")
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(ph, ",") + `)`
	}
	query += ` ORDER BY created_at ASC, event_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]collections.Event, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func decode(payload string) (collections.Event, error) {
	var ev collections.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return collections.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}
