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

type NameChangeRepository struct {
	db     DBTX
	logger zerolog.Logger
}

func NewNameChangeRepository(sqlDB *sql.DB, logger zerolog.Logger) *NameChangeRepository {
	return &NameChangeRepository{db: sqlDB, logger: logger}
}

func (r *NameChangeRepository) WithTx(tx *sql.Tx) *NameChangeRepository {
	return &NameChangeRepository{db: tx, logger: r.logger}
}

const nameChangeColumns = `id, player_id, old_name, new_name, status,
	review_context, created_at, resolved_at, updated_at`

func scanNameChange(row interface{ Scan(...any) error }) (*domain.NameChange, error) {
	var nc domain.NameChange
	var reviewContext sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&nc.ID, &nc.PlayerID, &nc.OldName, &nc.NewName, &nc.Status,
		&reviewContext, &nc.CreatedAt, &resolvedAt, &nc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reviewContext.Valid && reviewContext.String != "" {
		var rc domain.ReviewContext
		if err := json.Unmarshal([]byte(reviewContext.String), &rc); err != nil {
			return nil, fmt.Errorf("unmarshaling review context: %w", err)
		}
		nc.ReviewContext = &rc
	}
	if resolvedAt.Valid {
		nc.ResolvedAt = &resolvedAt.Time
	}
	return &nc, nil
}

func marshalReviewContext(rc *domain.ReviewContext) (sql.NullString, error) {
	if rc == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(rc)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling review context: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func (r *NameChangeRepository) Create(ctx context.Context, playerID int64, oldName, newName string) (*domain.NameChange, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO name_changes (player_id, old_name, new_name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		playerID, oldName, newName, domain.NameChangePending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating name change: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating name change: %w", err)
	}

	r.logger.Debug().Int64("name_change_id", id).
		Str("old_name", oldName).Str("new_name", newName).
		Msg("name change created")

	return &domain.NameChange{
		ID:        id,
		PlayerID:  playerID,
		OldName:   oldName,
		NewName:   newName,
		Status:    domain.NameChangePending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *NameChangeRepository) GetByID(ctx context.Context, id int64) (*domain.NameChange, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+nameChangeColumns+` FROM name_changes WHERE id = ?`, id)
	nc, err := scanNameChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNameChangeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting name change: %w", err)
	}
	return nc, nil
}

// PendingByPair returns the pending request for an exact standardized
// (oldName, newName) pair, or nil when none exists. old_name/new_name are
// stored display-cased, so matching standardizes each candidate row here.
// The pending set stays small enough that a full scan is fine; if volumes
// grow, store standardized columns and match in SQL instead.
func (r *NameChangeRepository) PendingByPair(ctx context.Context, oldStd, newStd string) (*domain.NameChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nameChangeColumns+` FROM name_changes
		WHERE status = ?
		ORDER BY created_at DESC`,
		domain.NameChangePending,
	)
	if err != nil {
		return nil, fmt.Errorf("listing pending name changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		nc, err := scanNameChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning name change: %w", err)
		}
		if domain.StandardizeUsername(nc.OldName) == oldStd &&
			domain.StandardizeUsername(nc.NewName) == newStd {
			return nc, nil
		}
	}
	return nil, rows.Err()
}

// LatestApprovedByNewName returns the most recently resolved approved
// request whose standardized new name equals newStd, or nil. Same
// standardize-and-scan tradeoff as PendingByPair.
func (r *NameChangeRepository) LatestApprovedByNewName(ctx context.Context, newStd string) (*domain.NameChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nameChangeColumns+` FROM name_changes
		WHERE status = ?
		ORDER BY resolved_at DESC, id DESC`,
		domain.NameChangeApproved,
	)
	if err != nil {
		return nil, fmt.Errorf("listing approved name changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		nc, err := scanNameChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning name change: %w", err)
		}
		if domain.StandardizeUsername(nc.NewName) == newStd {
			return nc, nil
		}
	}
	return nil, rows.Err()
}

// SiblingsWithin returns the requests created inside [from, to], excluding
// excludeID. Used for bundle detection.
func (r *NameChangeRepository) SiblingsWithin(ctx context.Context, from, to time.Time, excludeID int64) ([]domain.NameChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+nameChangeColumns+` FROM name_changes
		WHERE created_at >= ? AND created_at <= ? AND id != ?
		ORDER BY created_at ASC`,
		from, to, excludeID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sibling name changes: %w", err)
	}
	defer rows.Close()

	var siblings []domain.NameChange
	for rows.Next() {
		nc, err := scanNameChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning name change: %w", err)
		}
		siblings = append(siblings, *nc)
	}
	return siblings, rows.Err()
}

// Resolve moves a pending request to a terminal status and stamps
// resolved_at. Approvals clear the review context; denials record it.
func (r *NameChangeRepository) Resolve(ctx context.Context, id int64, status domain.NameChangeStatus, rc *domain.ReviewContext) error {
	if !status.Terminal() {
		return fmt.Errorf("resolve requires a terminal status, got %q", status)
	}
	rcJSON, err := marshalReviewContext(rc)
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE name_changes
		SET status = ?, review_context = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, rcJSON, now, now, id, domain.NameChangePending,
	)
	if err != nil {
		return fmt.Errorf("resolving name change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNameChangeNotFound
	}
	return nil
}

// Annotate records a review context on a request that stays pending.
// resolved_at remains null.
func (r *NameChangeRepository) Annotate(ctx context.Context, id int64, rc *domain.ReviewContext) error {
	rcJSON, err := marshalReviewContext(rc)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE name_changes SET review_context = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		rcJSON, time.Now(), id, domain.NameChangePending,
	)
	if err != nil {
		return fmt.Errorf("annotating name change: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNameChangeNotFound
	}
	return nil
}

// DenyPendingByPlayer denies every still-pending request owned by a player,
// except the one identified by excludeID (0 excludes nothing). The exclusion
// lets a merge keep its own triggering request pending until the transfer
// has been applied.
func (r *NameChangeRepository) DenyPendingByPlayer(ctx context.Context, playerID, excludeID int64) (int64, error) {
	rcJSON, err := marshalReviewContext(&domain.ReviewContext{Reason: domain.ReasonManualReview})
	if err != nil {
		return 0, err
	}
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE name_changes
		SET status = ?, review_context = ?, resolved_at = ?, updated_at = ?
		WHERE player_id = ? AND status = ? AND id != ?`,
		domain.NameChangeDenied, rcJSON, now, now, playerID, domain.NameChangePending, excludeID,
	)
	if err != nil {
		return 0, fmt.Errorf("denying pending name changes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
