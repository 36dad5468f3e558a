package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

type ArchiveRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewArchiveRepository(sqlDB *sql.DB, logger zerolog.Logger) *ArchiveRepository {
	return &ArchiveRepository{db: sqlDB, logger: logger}
}

func (r *ArchiveRepository) WithTx(tx *sql.Tx) *ArchiveRepository {
	return &ArchiveRepository{db: tx, logger: r.logger}
}

func (r *ArchiveRepository) Create(ctx context.Context, playerID int64, archiveUsername, previousUsername string) (*domain.Archive, error) {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO archives (player_id, archive_username, previous_username, created_at)
		VALUES (?, ?, ?, ?)`,
		playerID, archiveUsername, previousUsername, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	return &domain.Archive{
		PlayerID:         playerID,
		ArchiveUsername:  archiveUsername,
		PreviousUsername: previousUsername,
		CreatedAt:        now,
	}, nil
}

func (r *ArchiveRepository) GetByPlayerID(ctx context.Context, playerID int64) (*domain.Archive, error) {
	var a domain.Archive
	var restoredAt sql.NullTime
	var restoredUsername sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT player_id, archive_username, previous_username, restored_at, restored_username, created_at
		FROM archives WHERE player_id = ?`,
		playerID,
	).Scan(&a.PlayerID, &a.ArchiveUsername, &a.PreviousUsername, &restoredAt, &restoredUsername, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting archive: %w", err)
	}
	if restoredAt.Valid {
		a.RestoredAt = &restoredAt.Time
	}
	if restoredUsername.Valid {
		a.RestoredUsername = &restoredUsername.String
	}
	return &a, nil
}

// MarkRestored records that an archived identity's name was taken back into
// use under restoredUsername.
func (r *ArchiveRepository) MarkRestored(ctx context.Context, playerID int64, restoredUsername string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE archives SET restored_at = ?, restored_username = ?
		WHERE player_id = ?`,
		time.Now(), restoredUsername, playerID,
	)
	if err != nil {
		return fmt.Errorf("marking archive restored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrArchiveNotFound
	}
	return nil
}

func (r *ArchiveRepository) Delete(ctx context.Context, playerID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM archives WHERE player_id = ?`, playerID)
	if err != nil {
		return fmt.Errorf("deleting archive: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrArchiveNotFound
	}
	return nil
}

// UsernameTaken reports whether a synthetic archive username is already in
// use, either as an archive link or a player username.
func (r *ArchiveRepository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM archives WHERE archive_username = ?
			UNION
			SELECT 1 FROM players WHERE username = ?
		)`,
		username, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking archive username: %w", err)
	}
	return exists, nil
}
