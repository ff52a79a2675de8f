package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkrasnov/notesync/internal/common"
	"github.com/dkrasnov/notesync/internal/dbx"
	"github.com/dkrasnov/notesync/internal/server/models"
)

// PostgresRepository implements Repository using a DBTX (either *sql.DB or
// *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `change_id, user_id, note_id, applied_at_s, client_device, client_time_s, op, payload_json, prev_version, new_version, client_edit_seq, server_edit_seq_seen`

func (r *PostgresRepository) Append(ctx context.Context, e *models.ChangeLogEntry) error {
	query := `INSERT INTO note_changes (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(ctx, query,
		e.ChangeID, e.UserID, e.NoteID, e.AppliedAt, e.ClientDevice, e.ClientTime,
		string(e.Op), e.PayloadJSON, e.PrevVersion, e.NewVersion, e.ClientEditSeq, e.ServerEditSeqSeen)
	if err != nil {
		return fmt.Errorf("failed to append change log entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByChangeID(ctx context.Context, userID, changeID string) (*models.ChangeLogEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM note_changes WHERE user_id = $1 AND change_id = $2`
	row := r.db.QueryRowContext(ctx, query, userID, changeID)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan change log entry: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) ListByUserRange(ctx context.Context, userID string, from, to int64) ([]*models.ChangeLogEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM note_changes
		WHERE user_id = $1 AND applied_at_s >= $2 AND applied_at_s <= $3
		ORDER BY applied_at_s, change_id`
	rows, err := r.db.QueryContext(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to select change log entries: %w", err)
	}
	defer rows.Close()

	var result []*models.ChangeLogEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanEntry(scan func(dest ...any) error) (*models.ChangeLogEntry, error) {
	e := &models.ChangeLogEntry{}
	var op string
	err := scan(&e.ChangeID, &e.UserID, &e.NoteID, &e.AppliedAt, &e.ClientDevice, &e.ClientTime,
		&op, &e.PayloadJSON, &e.PrevVersion, &e.NewVersion, &e.ClientEditSeq, &e.ServerEditSeqSeen)
	if err != nil {
		return nil, err
	}
	e.Op = models.Operation(op)
	return e, nil
}
