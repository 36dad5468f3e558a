package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

type SnapshotRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewSnapshotRepository(sqlDB *sql.DB, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{db: sqlDB, logger: logger}
}

func (r *SnapshotRepository) WithTx(tx *sql.Tx) *SnapshotRepository {
	return &SnapshotRepository{db: tx, logger: r.logger}
}

func (r *SnapshotRepository) Create(ctx context.Context, s *domain.Snapshot) (int64, error) {
	data, err := json.Marshal(s.Data)
	if err != nil {
		return 0, fmt.Errorf("marshaling snapshot data: %w", err)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (player_id, data, ehp, ehb, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		s.PlayerID, string(data), s.EHP, s.EHB, s.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating snapshot: %w", err)
	}
	s.ID = id
	return id, nil
}

func scanSnapshot(row interface{ Scan(...any) error }) (*domain.Snapshot, error) {
	var s domain.Snapshot
	var raw string
	if err := row.Scan(&s.ID, &s.PlayerID, &raw, &s.EHP, &s.EHB, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &s.Data); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot data: %w", err)
	}
	return &s, nil
}

// Latest returns the player's most recent snapshot. Snapshot ids are the
// deterministic tiebreak for equal created_at values.
func (r *SnapshotRepository) Latest(ctx context.Context, playerID int64) (*domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, player_id, data, ehp, ehb, created_at FROM snapshots
		WHERE player_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		playerID,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	return s, nil
}

// LatestBefore returns the most recent snapshot created at or before t.
func (r *SnapshotRepository) LatestBefore(ctx context.Context, playerID int64, t time.Time) (*domain.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, player_id, data, ehp, ehb, created_at FROM snapshots
		WHERE player_id = ? AND created_at <= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		playerID, t,
	)
	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot before %v: %w", t, err)
	}
	return s, nil
}

// ListByPlayer returns every snapshot in strict created_at order.
func (r *SnapshotRepository) ListByPlayer(ctx context.Context, playerID int64) ([]domain.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, data, ehp, ehb, created_at FROM snapshots
		WHERE player_id = ?
		ORDER BY created_at ASC, id ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

func (r *SnapshotRepository) CountByPlayer(ctx context.Context, playerID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE player_id = ?`, playerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return count, nil
}

// ReassignAfter moves every snapshot created strictly after t from one
// player to another. A snapshot created exactly at t stays put.
func (r *SnapshotRepository) ReassignAfter(ctx context.Context, fromID, toID int64, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE snapshots SET player_id = ?
		WHERE player_id = ? AND created_at > ?`,
		toID, fromID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("reassigning snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
