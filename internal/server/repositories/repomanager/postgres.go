package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dkrasnov/notesync/internal/dbx"
	"github.com/dkrasnov/notesync/internal/server/migrations"
	"github.com/dkrasnov/notesync/internal/server/repositories/changelog"
	"github.com/dkrasnov/notesync/internal/server/repositories/notes"
)

// PostgresRepositoryManager backs the repositories with PostgreSQL via the
// pgx stdlib driver.
type PostgresRepositoryManager struct {
	db *sql.DB
}

func NewPostgresRepositoryManager(dsn string) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &PostgresRepositoryManager{db: db}, nil
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, m.db, ".")
}

func (m *PostgresRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, db dbx.DBTX) error) error {
	return dbx.WithTx(ctx, m.db, nil, fn)
}

func (m *PostgresRepositoryManager) Notes(db dbx.DBTX) notes.Repository {
	if db == nil {
		db = m.db
	}
	return notes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Changes(db dbx.DBTX) changelog.Repository {
	if db == nil {
		db = m.db
	}
	return changelog.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
