package repository

import (
	"context"
	"database/sql"
	"fmt"

	"runetrack/internal/domain"
)

// DBTX is the query surface shared by *sql.DB and *sql.Tx. Repositories run
// against it so the merge engine can point them at a single transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTx runs fn inside a transaction: commit on success, guaranteed rollback
// on error or panic. A commit failure is surfaced as a fatal transaction
// error; the caller must not proceed as if the operation applied.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrTransactionFailed, err)
	}
	return nil
}
