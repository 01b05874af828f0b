package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"herb-trace/internal/domain/anchoring"
)

const jobColumns = `
	id, kind, payload, priority, state,
	attempts, max_attempts, backoff_ms,
	run_at, last_error, stall_count,
	locked_by, heartbeat_at, enqueued_at, finished_at`

const stalledReason = "job stalled more than allowable limit"

// JobQueue guarda los jobs en anchoring_jobs. El claim usa
// FOR UPDATE SKIP LOCKED: atómico entre procesos y hosts.
type JobQueue struct {
	db *sql.DB
}

func NewJobQueue(db *sql.DB) *JobQueue {
	return &JobQueue{db: db}
}

var _ anchoring.Queue = (*JobQueue)(nil)

// Enqueue: el upsert solo pisa jobs terminales; uno vivo deja 0 filas.
func (q *JobQueue) Enqueue(ctx context.Context, j anchoring.Job) (bool, error) {
	kind, payload, err := anchoring.EncodePayload(j.Payload)
	if err != nil {
		return false, err
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO anchoring_jobs (`+jobColumns+`
		) VALUES ($1,$2,$3,$4,'waiting',0,$5,$6,$7,NULL,0,NULL,NULL,$8,NULL)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			priority = EXCLUDED.priority,
			state = 'waiting',
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			backoff_ms = EXCLUDED.backoff_ms,
			run_at = EXCLUDED.run_at,
			last_error = NULL,
			stall_count = 0,
			locked_by = NULL,
			heartbeat_at = NULL,
			enqueued_at = EXCLUDED.enqueued_at,
			finished_at = NULL
		WHERE anchoring_jobs.state IN ('completed', 'failed')
	`,
		j.ID,
		string(kind),
		payload,
		j.Priority,
		j.MaxAttempts,
		j.Backoff.Milliseconds(),
		j.RunAt,
		j.EnqueuedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (q *JobQueue) Claim(ctx context.Context, workerID string, now time.Time) (anchoring.Job, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE anchoring_jobs SET
			state = 'active',
			locked_by = $1,
			heartbeat_at = $2
		WHERE id = (
			SELECT id FROM anchoring_jobs
			WHERE state = 'waiting' AND run_at <= $2
			ORDER BY priority DESC, run_at ASC, enqueued_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, workerID, now)

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return anchoring.Job{}, anchoring.ErrNoJob
	}
	return j, err
}

func (q *JobQueue) Heartbeat(ctx context.Context, jobID, workerID string, now time.Time) error {
	return q.ownedExec(ctx, `
		UPDATE anchoring_jobs SET heartbeat_at = $3
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`, jobID, workerID, now)
}

func (q *JobQueue) Complete(ctx context.Context, jobID, workerID string, now time.Time) error {
	return q.ownedExec(ctx, `
		UPDATE anchoring_jobs SET
			state = 'completed',
			last_error = NULL,
			locked_by = NULL,
			heartbeat_at = NULL,
			finished_at = $3
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`, jobID, workerID, now)
}

func (q *JobQueue) Retry(ctx context.Context, jobID, workerID, lastErr string, runAt time.Time) error {
	return q.ownedExec(ctx, `
		UPDATE anchoring_jobs SET
			state = 'waiting',
			attempts = attempts + 1,
			last_error = $3,
			run_at = $4,
			locked_by = NULL,
			heartbeat_at = NULL
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`, jobID, workerID, lastErr, runAt)
}

func (q *JobQueue) Fail(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error {
	return q.ownedExec(ctx, `
		UPDATE anchoring_jobs SET
			state = 'failed',
			attempts = attempts + 1,
			last_error = $3,
			finished_at = $4,
			locked_by = NULL,
			heartbeat_at = NULL
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`, jobID, workerID, lastErr, now)
}

func (q *JobQueue) Bury(ctx context.Context, jobID, workerID, lastErr string, now time.Time) error {
	return q.ownedExec(ctx, `
		UPDATE anchoring_jobs SET
			state = 'failed',
			last_error = $3,
			finished_at = $4,
			locked_by = NULL,
			heartbeat_at = NULL
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`, jobID, workerID, lastErr, now)
}

// RecoverStalled: en un solo UPDATE; las expresiones ven la fila previa.
func (q *JobQueue) RecoverStalled(ctx context.Context, staleBefore time.Time, maxStalls int, now time.Time) ([]anchoring.Job, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE anchoring_jobs SET
			stall_count = stall_count + 1,
			state = CASE WHEN stall_count + 1 > $2 THEN 'failed' ELSE 'waiting' END,
			last_error = CASE WHEN stall_count + 1 > $2 THEN $4 ELSE last_error END,
			finished_at = CASE WHEN stall_count + 1 > $2 THEN $3 ELSE NULL END,
			run_at = CASE WHEN stall_count + 1 > $2 THEN run_at ELSE $3 END,
			locked_by = NULL,
			heartbeat_at = NULL
		WHERE state = 'active' AND heartbeat_at < $1
		RETURNING `+jobColumns, staleBefore, maxStalls, now, stalledReason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []anchoring.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *JobQueue) Get(ctx context.Context, jobID string) (anchoring.Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM anchoring_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return anchoring.Job{}, ErrNotFound
	}
	return j, err
}

func (q *JobQueue) Stats(ctx context.Context) (map[anchoring.State]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM anchoring_jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := anchoring.EmptyStats()
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[anchoring.State(state)] = n
	}
	return out, rows.Err()
}

func (q *JobQueue) ownedExec(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return anchoring.ErrJobLost
	}
	return nil
}

func scanJob(row rowScanner) (anchoring.Job, error) {
	var (
		j                   anchoring.Job
		kind, state         string
		payload             []byte
		backoffMs           int64
		lastError, lockedBy sql.NullString
		heartbeat, finished sql.NullTime
	)
	if err := row.Scan(
		&j.ID,
		&kind,
		&payload,
		&j.Priority,
		&state,
		&j.Attempts,
		&j.MaxAttempts,
		&backoffMs,
		&j.RunAt,
		&lastError,
		&j.StallCount,
		&lockedBy,
		&heartbeat,
		&j.EnqueuedAt,
		&finished,
	); err != nil {
		return anchoring.Job{}, err
	}

	p, err := anchoring.DecodePayload(anchoring.Kind(kind), payload)
	if err != nil {
		return anchoring.Job{}, err
	}
	j.Payload = p
	j.State = anchoring.State(state)
	j.Backoff = time.Duration(backoffMs) * time.Millisecond
	j.LastError = lastError.String
	j.LockedBy = lockedBy.String
	j.HeartbeatAt = timePtr(heartbeat)
	j.FinishedAt = timePtr(finished)
	j.RunAt = j.RunAt.UTC()
	j.EnqueuedAt = j.EnqueuedAt.UTC()
	return j, nil
}
