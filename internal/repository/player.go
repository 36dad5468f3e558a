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

type PlayerRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: sqlDB, logger: logger}
}

// WithTx returns a copy of the repository scoped to tx.
func (r *PlayerRepository) WithTx(tx *sql.Tx) *PlayerRepository {
	return &PlayerRepository{db: tx, logger: r.logger}
}

const playerColumns = `id, username, display_name, status, exp, ehp, ehb,
	last_changed_at, registered_at, updated_at, latest_snapshot_id`

func scanPlayer(row interface{ Scan(...any) error }) (*domain.Player, error) {
	var p domain.Player
	var lastChanged sql.NullTime
	var latestSnapshot sql.NullInt64
	err := row.Scan(
		&p.ID, &p.Username, &p.DisplayName, &p.Status, &p.Exp, &p.EHP, &p.EHB,
		&lastChanged, &p.RegisteredAt, &p.UpdatedAt, &latestSnapshot,
	)
	if err != nil {
		return nil, err
	}
	if lastChanged.Valid {
		p.LastChangedAt = &lastChanged.Time
	}
	if latestSnapshot.Valid {
		p.LatestSnapshotID = &latestSnapshot.Int64
	}
	return &p, nil
}

// Create inserts a new player. Username must already be standardized.
func (r *PlayerRepository) Create(ctx context.Context, username, displayName string) (*domain.Player, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO players (username, display_name, status, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		username, displayName, domain.StatusActive, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}

	r.logger.Debug().Int64("player_id", id).Str("username", username).Msg("player created")

	return &domain.Player{
		ID:           id,
		Username:     username,
		DisplayName:  displayName,
		Status:       domain.StatusActive,
		RegisteredAt: now,
		UpdatedAt:    now,
	}, nil
}

func (r *PlayerRepository) GetByID(ctx context.Context, id int64) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = ?`, id)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// GetByUsername looks a player up by its standardized username.
func (r *PlayerRepository) GetByUsername(ctx context.Context, username string) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE username = ?`, username)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting player by username: %w", err)
	}
	return p, nil
}

// Rename changes a player's username and display name.
func (r *PlayerRepository) Rename(ctx context.Context, id int64, username, displayName string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE players SET username = ?, display_name = ?, updated_at = ?
		WHERE id = ?`,
		username, displayName, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("renaming player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

func (r *PlayerRepository) UpdateStatus(ctx context.Context, id int64, status domain.PlayerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid player status %q", status)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE players SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("updating player status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// UpdateAggregates refreshes the cached snapshot-derived fields.
func (r *PlayerRepository) UpdateAggregates(ctx context.Context, id int64, exp int64, ehp, ehb float64, lastChangedAt *time.Time, latestSnapshotID *int64) error {
	var lastChanged sql.NullTime
	if lastChangedAt != nil {
		lastChanged = sql.NullTime{Time: *lastChangedAt, Valid: true}
	}
	var latest sql.NullInt64
	if latestSnapshotID != nil {
		latest = sql.NullInt64{Int64: *latestSnapshotID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET exp = ?, ehp = ?, ehb = ?,
			last_changed_at = COALESCE(?, last_changed_at),
			latest_snapshot_id = COALESCE(?, latest_snapshot_id),
			updated_at = ?
		WHERE id = ?`,
		exp, ehp, ehb, lastChanged, latest, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("updating player aggregates: %w", err)
	}
	return nil
}

// ZeroAggregates clears the cached fields when a player is archived.
func (r *PlayerRepository) ZeroAggregates(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE players
		SET exp = 0, ehp = 0, ehb = 0, latest_snapshot_id = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("zeroing player aggregates: %w", err)
	}
	return nil
}

// OldestFlagged returns the flagged player whose flag has waited the
// longest, or ErrPlayerNotFound when none is flagged.
func (r *PlayerRepository) OldestFlagged(ctx context.Context) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players
		WHERE status = ?
		ORDER BY updated_at ASC, id ASC
		LIMIT 1`,
		domain.StatusFlagged,
	)
	p, err := scanPlayer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting oldest flagged player: %w", err)
	}
	return p, nil
}

// Delete removes a player row. History rows cascade.
func (r *PlayerRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}
