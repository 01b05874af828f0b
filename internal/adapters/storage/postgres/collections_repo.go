package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"herb-trace/internal/domain/collections"
)

const uniqueViolation = "23505"

const eventColumns = `
	id, submitter_id, category,
	lat, lon, accuracy_m,
	captured_at, moisture_pct,
	media, notes, source,
	is_valid_location, is_valid_season, quality_score,
	status, ledger_tx_id, ledger_block_hash, last_error, retry_count,
	created_at, updated_at, synced_at`

type CollectionsRepo struct {
	db *sql.DB
}

func NewCollectionsRepo(db *sql.DB) *CollectionsRepo {
	return &CollectionsRepo{db: db}
}

func (r *CollectionsRepo) Create(ctx context.Context, e collections.Event) error {
	media, source, err := encodeEventJSON(e)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO collection_events (`+eventColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`,
		e.ID,
		e.SubmitterID,
		e.Category,
		e.Location.Lat,
		e.Location.Lon,
		nullFloat(e.Location.AccuracyM),
		e.CapturedAt,
		nullFloat(e.MoisturePct),
		media,
		e.Notes,
		source,
		e.IsValidLocation,
		e.IsValidSeason,
		e.QualityScore,
		string(e.Status),
		nullString(e.LedgerTxID),
		nullString(e.LedgerBlockHash),
		nullString(e.LastError),
		e.RetryCount,
		e.CreatedAt,
		e.UpdatedAt,
		nullTime(e.SyncedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return collections.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update solo toca los campos que cambian después de la ingesta.
func (r *CollectionsRepo) Update(ctx context.Context, e collections.Event) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE collection_events SET
			status = $2,
			ledger_tx_id = $3,
			ledger_block_hash = $4,
			last_error = $5,
			retry_count = $6,
			updated_at = $7,
			synced_at = $8
		WHERE id = $1 AND status <> 'synced'
	`,
		e.ID,
		string(e.Status),
		nullString(e.LedgerTxID),
		nullString(e.LedgerBlockHash),
		nullString(e.LastError),
		e.RetryCount,
		e.UpdatedAt,
		nullTime(e.SyncedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return r.updateMiss(ctx, e.ID)
	}
	return nil
}

// updateMiss distingue fila inexistente de fila ya synced.
func (r *CollectionsRepo) updateMiss(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM collection_events WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return collections.ErrNotFound
	case err != nil:
		return err
	case collections.Status(status) == collections.StatusSynced:
		return collections.ErrAlreadySynced
	}
	return collections.ErrNotFound
}

func (r *CollectionsRepo) GetByID(ctx context.Context, id string) (collections.Event, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return collections.Event{}, collections.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM collection_events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return collections.Event{}, collections.ErrNotFound
		}
		return collections.Event{}, err
	}
	return e, nil
}

func (r *CollectionsRepo) List(ctx context.Context, filter collections.ListFilter) ([]collections.Event, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT ` + eventColumns + ` FROM collection_events WHERE 1=1`)

	args := []any{}
	argN := 1

	if len(filter.Statuses) > 0 {
		ph := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			ph = append(ph, fmt.Sprintf("$%d", argN))
			args = append(args, string(s))
			argN++
		}
		sb.WriteString(" AND status IN (" + strings.Join(ph, ",") + ")")
	}
	if filter.SubmitterID != "" {
		sb.WriteString(fmt.Sprintf(" AND submitter_id = $%d", argN))
		args = append(args, filter.SubmitterID)
		argN++
	}
	if filter.RetryCountBelow != nil {
		sb.WriteString(fmt.Sprintf(" AND retry_count < $%d", argN))
		args = append(args, *filter.RetryCountBelow)
		argN++
	}

	sb.WriteString(fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", argN))
	args = append(args, filter.EffectiveLimit())

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]collections.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *CollectionsRepo) CountByStatus(ctx context.Context) (map[collections.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM collection_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[collections.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[collections.Status(status)] = n
	}
	return out, rows.Err()
}

func encodeEventJSON(e collections.Event) ([]byte, []byte, error) {
	media := e.Media
	if media == nil {
		media = []collections.MediaRef{}
	}
	mediaJSON, err := json.Marshal(media)
	if err != nil {
		return nil, nil, fmt.Errorf("encode media: %w", err)
	}
	sourceJSON, err := json.Marshal(e.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("encode source: %w", err)
	}
	return mediaJSON, sourceJSON, nil
}

func scanEvent(row rowScanner) (collections.Event, error) {
	var (
		e                          collections.Event
		accuracy, moisture         sql.NullFloat64
		mediaJSON, sourceJSON      []byte
		status                     string
		txID, blockHash, lastError sql.NullString
		syncedAt                   sql.NullTime
	)
	if err := row.Scan(
		&e.ID,
		&e.SubmitterID,
		&e.Category,
		&e.Location.Lat,
		&e.Location.Lon,
		&accuracy,
		&e.CapturedAt,
		&moisture,
		&mediaJSON,
		&e.Notes,
		&sourceJSON,
		&e.IsValidLocation,
		&e.IsValidSeason,
		&e.QualityScore,
		&status,
		&txID,
		&blockHash,
		&lastError,
		&e.RetryCount,
		&e.CreatedAt,
		&e.UpdatedAt,
		&syncedAt,
	); err != nil {
		return collections.Event{}, err
	}

	if len(mediaJSON) > 0 {
		if err := json.Unmarshal(mediaJSON, &e.Media); err != nil {
			return collections.Event{}, fmt.Errorf("decode media: %w", err)
		}
		if len(e.Media) == 0 {
			e.Media = nil
		}
	}
	if len(sourceJSON) > 0 {
		if err := json.Unmarshal(sourceJSON, &e.Source); err != nil {
			return collections.Event{}, fmt.Errorf("decode source: %w", err)
		}
	}

	e.Location.AccuracyM = floatPtr(accuracy)
	e.MoisturePct = floatPtr(moisture)
	e.Status = collections.Status(status)
	e.LedgerTxID = txID.String
	e.LedgerBlockHash = blockHash.String
	e.LastError = lastError.String
	e.CapturedAt = e.CapturedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	e.SyncedAt = timePtr(syncedAt)
	return e, nil
}
