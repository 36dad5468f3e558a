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

// HistoryRepository covers the history rows that are partitioned during a
// merge/split: records, memberships, participations and group activity.
type HistoryRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewHistoryRepository(sqlDB *sql.DB, logger zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{db: sqlDB, logger: logger}
}

func (r *HistoryRepository) WithTx(tx *sql.Tx) *HistoryRepository {
	return &HistoryRepository{db: tx, logger: r.logger}
}

// --- records ---

func (r *HistoryRepository) CreateRecord(ctx context.Context, playerID int64, period domain.Period, metric domain.Metric, value int64, createdAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO records (player_id, period, metric, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		playerID, period, metric, value, createdAt, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating record: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func scanRecord(row interface{ Scan(...any) error }) (*domain.Record, error) {
	var rec domain.Record
	err := row.Scan(&rec.ID, &rec.PlayerID, &rec.Period, &rec.Metric, &rec.Value, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

const recordColumns = `id, player_id, period, metric, value, created_at, updated_at`

// RecordsAfter returns a player's records created strictly after t.
func (r *HistoryRepository) RecordsAfter(ctx context.Context, playerID int64, t time.Time) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE player_id = ? AND created_at > ?
		ORDER BY created_at ASC, id ASC`,
		playerID, t,
	)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *HistoryRepository) RecordByKey(ctx context.Context, playerID int64, period domain.Period, metric domain.Metric) (*domain.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE player_id = ? AND period = ? AND metric = ?`,
		playerID, period, metric,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

func (r *HistoryRepository) ListRecords(ctx context.Context, playerID int64) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE player_id = ?
		ORDER BY period ASC, metric ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// ReassignRecord moves one record row to another player.
func (r *HistoryRepository) ReassignRecord(ctx context.Context, recordID, toPlayerID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE records SET player_id = ? WHERE id = ?`, toPlayerID, recordID)
	if err != nil {
		return fmt.Errorf("reassigning record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reassigning record %d: no such row", recordID)
	}
	return nil
}

// --- memberships ---

func (r *HistoryRepository) CreateMembership(ctx context.Context, playerID, groupID int64, role string, createdAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO memberships (player_id, group_id, role, created_at)
		VALUES (?, ?, ?, ?)`,
		playerID, groupID, role, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating membership: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (r *HistoryRepository) ListMemberships(ctx context.Context, playerID int64) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, group_id, role, created_at FROM memberships
		WHERE player_id = ?
		ORDER BY created_at ASC, id ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var memberships []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.ID, &m.PlayerID, &m.GroupID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// ReassignMembershipsAfter moves memberships created strictly after t.
func (r *HistoryRepository) ReassignMembershipsAfter(ctx context.Context, fromID, toID int64, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE memberships SET player_id = ?
		WHERE player_id = ? AND created_at > ?`,
		toID, fromID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("reassigning memberships: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- participations ---

func (r *HistoryRepository) CreateParticipation(ctx context.Context, playerID, competitionID int64, createdAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO participations (player_id, competition_id, created_at)
		VALUES (?, ?, ?)`,
		playerID, competitionID, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating participation: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

func (r *HistoryRepository) ListParticipations(ctx context.Context, playerID int64) ([]domain.Participation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, competition_id, created_at FROM participations
		WHERE player_id = ?
		ORDER BY created_at ASC, id ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing participations: %w", err)
	}
	defer rows.Close()

	var participations []domain.Participation
	for rows.Next() {
		var p domain.Participation
		if err := rows.Scan(&p.ID, &p.PlayerID, &p.CompetitionID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning participation: %w", err)
		}
		participations = append(participations, p)
	}
	return participations, rows.Err()
}

// ReassignParticipationsAfter moves participations created strictly after t.
func (r *HistoryRepository) ReassignParticipationsAfter(ctx context.Context, fromID, toID int64, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE participations SET player_id = ?
		WHERE player_id = ? AND created_at > ?`,
		toID, fromID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("reassigning participations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- group activity ---

func (r *HistoryRepository) CreateGroupActivity(ctx context.Context, groupID, playerID int64, typ domain.GroupActivityType, role string, createdAt time.Time) (int64, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("invalid group activity type %q", typ)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO group_activity (group_id, player_id, type, role, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		groupID, playerID, typ, role, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating group activity: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ReassignGroupActivityAfter moves group activity created strictly after t.
func (r *HistoryRepository) ReassignGroupActivityAfter(ctx context.Context, fromID, toID int64, t time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE group_activity SET player_id = ?
		WHERE player_id = ? AND created_at > ?`,
		toID, fromID, t,
	)
	if err != nil {
		return 0, fmt.Errorf("reassigning group activity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GroupActivityBetween returns a player's group activity inside [from, to].
func (r *HistoryRepository) GroupActivityBetween(ctx context.Context, playerID int64, from, to time.Time) ([]domain.GroupActivity, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, group_id, player_id, type, role, created_at FROM group_activity
		WHERE player_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`,
		playerID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("listing group activity: %w", err)
	}
	defer rows.Close()

	var activity []domain.GroupActivity
	for rows.Next() {
		var a domain.GroupActivity
		if err := rows.Scan(&a.ID, &a.GroupID, &a.PlayerID, &a.Type, &a.Role, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning group activity: %w", err)
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

func (r *HistoryRepository) ListGroupActivity(ctx context.Context, playerID int64) ([]domain.GroupActivity, error) {
	return r.GroupActivityBetween(ctx, playerID, time.Time{}, time.Now().Add(24*time.Hour))
}

// DeleteGroupActivity removes activity rows by id.
func (r *HistoryRepository) DeleteGroupActivity(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM group_activity WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting group activity %d: %w", id, err)
		}
	}
	return nil
}
