package notes

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

const noteColumns = `user_id, note_id, created_at_s, updated_at_s, payload_json, is_deleted, version, last_writer_device, last_writer_edit_seq`

func (r *PostgresRepository) GetForUpdate(ctx context.Context, userID, noteID string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE user_id = $1 AND note_id = $2 FOR UPDATE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, noteID))
}

func (r *PostgresRepository) Get(ctx context.Context, userID, noteID string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE user_id = $1 AND note_id = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID, noteID))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.Note, error) {
	n := &models.Note{}
	err := row.Scan(&n.UserID, &n.NoteID, &n.CreatedAt, &n.UpdatedAt, &n.PayloadJSON,
		&n.IsDeleted, &n.Version, &n.LastWriterDevice, &n.LastWriterEditSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan note: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Save(ctx context.Context, note *models.Note) error {
	query := `INSERT INTO notes (` + noteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, note_id) DO UPDATE SET
			updated_at_s = excluded.updated_at_s,
			payload_json = excluded.payload_json,
			is_deleted = excluded.is_deleted,
			version = excluded.version,
			last_writer_device = excluded.last_writer_device,
			last_writer_edit_seq = excluded.last_writer_edit_seq`
	_, err := r.db.ExecContext(ctx, query,
		note.UserID, note.NoteID, note.CreatedAt, note.UpdatedAt, note.PayloadJSON,
		note.IsDeleted, note.Version, note.LastWriterDevice, note.LastWriterEditSeq)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListSince(ctx context.Context, userID string, since int64, includeDeleted bool) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE user_id = $1 AND updated_at_s > $2`
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	query += ` ORDER BY updated_at_s DESC, note_id`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	var result []*models.Note
	for rows.Next() {
		n := &models.Note{}
		if err := rows.Scan(&n.UserID, &n.NoteID, &n.CreatedAt, &n.UpdatedAt, &n.PayloadJSON,
			&n.IsDeleted, &n.Version, &n.LastWriterDevice, &n.LastWriterEditSeq); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
