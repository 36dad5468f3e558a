package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

type FlagReportRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewFlagReportRepository(sqlDB *sql.DB, logger zerolog.Logger) *FlagReportRepository {
	return &FlagReportRepository{db: sqlDB, logger: logger}
}

func (r *FlagReportRepository) WithTx(tx *sql.Tx) *FlagReportRepository {
	return &FlagReportRepository{db: tx, logger: r.logger}
}

func (r *FlagReportRepository) Create(ctx context.Context, playerID int64, report domain.FlagReportData) (int64, error) {
	raw, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("marshaling flag report: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO flag_reports (player_id, report, created_at)
		VALUES (?, ?, ?)`,
		playerID, string(raw), time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("creating flag report: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ListByPlayer returns the unresolved reports for a player, oldest first.
func (r *FlagReportRepository) ListByPlayer(ctx context.Context, playerID int64) ([]domain.FlagReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, player_id, report, resolved, created_at FROM flag_reports
		WHERE player_id = ? AND resolved = 0
		ORDER BY created_at ASC, id ASC`,
		playerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing flag reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.FlagReport
	for rows.Next() {
		var fr domain.FlagReport
		var raw string
		if err := rows.Scan(&fr.ID, &fr.PlayerID, &raw, &fr.Resolved, &fr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning flag report: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &fr.Report); err != nil {
			return nil, fmt.Errorf("unmarshaling flag report: %w", err)
		}
		reports = append(reports, fr)
	}
	return reports, rows.Err()
}

// ResolveByPlayer marks every report for a player resolved.
func (r *FlagReportRepository) ResolveByPlayer(ctx context.Context, playerID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE flag_reports SET resolved = 1 WHERE player_id = ?`, playerID)
	if err != nil {
		return fmt.Errorf("resolving flag reports: %w", err)
	}
	return nil
}
