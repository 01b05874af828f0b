package postgres

import (
	"context"
	"database/sql"

	"herb-trace/internal/domain/audit"
)

// AuditRepo: solo INSERT y SELECT; audit_log nunca se actualiza.
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_id, action, actor, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.EventID, string(e.Action), e.Actor, e.Detail, e.CreatedAt)
	return err
}

func (r *AuditRepo) ListByEvent(ctx context.Context, eventID string) ([]audit.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, action, actor, detail, created_at
		FROM audit_log
		WHERE event_id = $1
		ORDER BY created_at ASC, id ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e      audit.Entry
			action string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &action, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = audit.Action(action)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
