package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"runetrack/internal/config"
	"runetrack/internal/constants"
	"runetrack/internal/domain"
	"runetrack/internal/events"
	"runetrack/internal/repository"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ArchiveService is the identity merge/split engine. It reconciles two
// overlapping historical records into one continuing identity plus one
// orphaned archive, and performs plain rename transfers when there is no
// conflict.
type ArchiveService struct {
	db          *sql.DB
	players     *repository.PlayerRepository
	snapshots   *repository.SnapshotRepository
	nameChanges *repository.NameChangeRepository
	archives    *repository.ArchiveRepository
	history     *repository.HistoryRepository
	bus         *events.Bus
	cfg         *config.Config
	logger      zerolog.Logger
}

func NewArchiveService(
	db *sql.DB,
	players *repository.PlayerRepository,
	snapshots *repository.SnapshotRepository,
	nameChanges *repository.NameChangeRepository,
	archives *repository.ArchiveRepository,
	history *repository.HistoryRepository,
	bus *events.Bus,
	cfg *config.Config,
	logger zerolog.Logger,
) *ArchiveService {
	return &ArchiveService{
		db:          db,
		players:     players,
		snapshots:   snapshots,
		nameChanges: nameChanges,
		archives:    archives,
		history:     history,
		bus:         bus,
		cfg:         cfg,
		logger:      logger,
	}
}

// TransferApproved applies an approved name change: a plain rename when
// the new name is free or held by a trivial placeholder, a full merge/split
// when the new name belongs to a distinct non-trivial tracked identity.
func (s *ArchiveService) TransferApproved(ctx context.Context, nc *domain.NameChange) error {
	owner, err := s.players.GetByID(ctx, nc.PlayerID)
	if err != nil {
		return fmt.Errorf("loading name change owner: %w", err)
	}

	newStd := domain.StandardizeUsername(nc.NewName)
	newDisplay := domain.DisplayUsername(nc.NewName)

	target, err := s.players.GetByUsername(ctx, newStd)
	switch {
	case errors.Is(err, domain.ErrPlayerNotFound):
		return s.rename(ctx, owner, newStd, newDisplay)
	case err != nil:
		return fmt.Errorf("looking up new name holder: %w", err)
	}

	if target.ID == owner.ID {
		// Capitalization-only change: the owner already holds the
		// standardized name, only the display form moves.
		if err := s.players.Rename(ctx, owner.ID, newStd, newDisplay); err != nil {
			return err
		}
		s.publishNameChanged(ctx, owner.ID, nc.OldName)
		return nil
	}

	count, err := s.snapshots.CountByPlayer(ctx, target.ID)
	if err != nil {
		return err
	}
	if count < constants.MinArchivedSnapshots {
		// The holder is a placeholder with negligible history; absorb
		// it rather than archiving it.
		if err := s.players.Delete(ctx, target.ID); err != nil {
			return fmt.Errorf("absorbing trivial name holder: %w", err)
		}
		return s.rename(ctx, owner, newStd, newDisplay)
	}

	_, err = s.split(ctx, target, owner, newStd, newDisplay, nc.ID)
	if err != nil {
		return err
	}
	s.publishNameChanged(ctx, owner.ID, nc.OldName)
	return nil
}

// ArchivePlayer archives a player and creates a fresh identity that
// continues under the disputed username. Used by the manual archive
// operation and the silent-transfer path of the flagged-snapshot reviewer.
func (s *ArchiveService) ArchivePlayer(ctx context.Context, player *domain.Player) (*domain.Player, error) {
	if player.Status == domain.StatusArchived {
		return nil, domain.ErrPlayerArchived
	}
	return s.split(ctx, player, nil, player.Username, player.DisplayName, 0)
}

func (s *ArchiveService) rename(ctx context.Context, owner *domain.Player, username, displayName string) error {
	previous := owner.DisplayName
	if err := s.players.Rename(ctx, owner.ID, username, displayName); err != nil {
		return err
	}
	if archive, err := s.archives.GetByPlayerID(ctx, owner.ID); err == nil && archive.RestoredAt == nil {
		// The owner was itself an archived identity being rescued; mark
		// the archive record as restored under its new name.
		if err := s.archives.MarkRestored(ctx, owner.ID, username); err != nil {
			s.logger.Warn().Err(err).Int64("player_id", owner.ID).Msg("failed to mark archive restored")
		}
		if player, err := s.players.GetByID(ctx, owner.ID); err == nil && player.Status == domain.StatusArchived {
			if err := s.players.UpdateStatus(ctx, owner.ID, domain.StatusActive); err != nil {
				s.logger.Warn().Err(err).Int64("player_id", owner.ID).Msg("failed to reactivate restored archive")
			}
		}
	}
	s.publishNameChanged(ctx, owner.ID, previous)
	return nil
}

// split runs the atomic merge/split. displaced loses the disputed username
// and is archived; continuing (created inside the transaction when nil)
// takes the username and every history row created strictly after the
// transition timestamp. A row created exactly at the transition timestamp
// stays with the archive. triggerNC identifies the name change driving the
// merge (0 when there is none) so it survives the pending-request sweep.
func (s *ArchiveService) split(ctx context.Context, displaced, continuing *domain.Player, username, displayName string, triggerNC int64) (*domain.Player, error) {
	transition := time.Time{}
	if latest, err := s.snapshots.Latest(ctx, displaced.ID); err == nil {
		transition = latest.CreatedAt
	} else if !errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, err
	}

	archiveName, err := s.generateArchiveUsername(ctx)
	if err != nil {
		return nil, err
	}
	previousUsername := displaced.Username

	var result *domain.Player
	err = repository.InTx(ctx, s.db, func(tx *sql.Tx) error {
		players := s.players.WithTx(tx)
		snapshots := s.snapshots.WithTx(tx)
		nameChanges := s.nameChanges.WithTx(tx)
		archives := s.archives.WithTx(tx)
		history := s.history.WithTx(tx)

		if err := players.Rename(ctx, displaced.ID, archiveName, archiveName); err != nil {
			return err
		}
		if err := players.UpdateStatus(ctx, displaced.ID, domain.StatusArchived); err != nil {
			return err
		}
		if err := players.ZeroAggregates(ctx, displaced.ID); err != nil {
			return err
		}

		if _, err := archives.Create(ctx, displaced.ID, archiveName, previousUsername); err != nil {
			return err
		}

		if continuing == nil {
			created, err := players.Create(ctx, username, displayName)
			if err != nil {
				return err
			}
			result = created
		} else {
			if err := players.Rename(ctx, continuing.ID, username, displayName); err != nil {
				return err
			}
			result = continuing
		}

		// The continuing identity's boundaries are changing; any rename
		// request still pending against either side is now meaningless,
		// except the one that triggered this merge.
		if _, err := nameChanges.DenyPendingByPlayer(ctx, result.ID, triggerNC); err != nil {
			return err
		}
		if _, err := nameChanges.DenyPendingByPlayer(ctx, displaced.ID, triggerNC); err != nil {
			return err
		}

		if _, err := snapshots.ReassignAfter(ctx, displaced.ID, result.ID, transition); err != nil {
			return err
		}
		if _, err := history.ReassignMembershipsAfter(ctx, displaced.ID, result.ID, transition); err != nil {
			return err
		}
		if _, err := history.ReassignParticipationsAfter(ctx, displaced.ID, result.ID, transition); err != nil {
			return err
		}
		if _, err := history.ReassignGroupActivityAfter(ctx, displaced.ID, result.ID, transition); err != nil {
			return err
		}

		if err := s.reassignRecords(ctx, history, displaced.ID, result.ID, transition); err != nil {
			return err
		}
		if err := s.dedupeGroupActivity(ctx, history, result.ID, transition); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Int64("displaced_id", displaced.ID).
			Str("username", username).
			Msg("merge/split transaction failed, rolled back")
		return nil, fmt.Errorf("%w: merge/split for %q: %v", domain.ErrTransactionFailed, username, err)
	}

	s.pruneTrivialArchive(ctx, displaced.ID)

	archived, err := s.players.GetByID(ctx, displaced.ID)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		archived = &domain.Player{ID: displaced.ID, Username: archiveName, Status: domain.StatusArchived}
	} else if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.Event{Kind: events.KindPlayerArchived, Payload: events.PlayerArchived{
		Player:           archived,
		PreviousUsername: previousUsername,
	}})

	s.logger.Info().
		Int64("archived_id", displaced.ID).
		Str("archive_username", archiveName).
		Str("previous_username", previousUsername).
		Int64("continuing_id", result.ID).
		Msg("identity archived")

	return result, nil
}

// reassignRecords moves the displaced identity's post-transition records to
// the continuing identity. When both sides hold a record for the same
// (period, metric) key, the greater value ends up on the continuing
// identity and the lesser row is left on the archived side; rows are moved,
// never merged or deleted.
func (s *ArchiveService) reassignRecords(ctx context.Context, history *repository.HistoryRepository, fromID, toID int64, transition time.Time) error {
	moved, err := history.RecordsAfter(ctx, fromID, transition)
	if err != nil {
		return err
	}
	for _, rec := range moved {
		existing, err := history.RecordByKey(ctx, toID, rec.Period, rec.Metric)
		if err != nil {
			return err
		}
		if existing == nil {
			if err := history.ReassignRecord(ctx, rec.ID, toID); err != nil {
				return err
			}
			continue
		}
		if rec.Value > existing.Value {
			if err := history.ReassignRecord(ctx, existing.ID, fromID); err != nil {
				return err
			}
			if err := history.ReassignRecord(ctx, rec.ID, toID); err != nil {
				return err
			}
		}
		// Otherwise the lesser moved row stays on the archived side.
	}
	return nil
}

// dedupeGroupActivity deletes spurious left/joined pairs produced by an
// un-submitted in-game rename: a "left" and a "joined" event in the same
// group with the same role, both inside the merge window around the
// transition timestamp, represent a single non-event.
func (s *ArchiveService) dedupeGroupActivity(ctx context.Context, history *repository.HistoryRepository, playerID int64, transition time.Time) error {
	window := s.cfg.Review.MergeActivityWindow
	from := transition.Add(-window)
	to := transition.Add(window)

	activity, err := history.GroupActivityBetween(ctx, playerID, from, to)
	if err != nil {
		return err
	}

	type key struct {
		groupID int64
		role    string
	}
	lefts := make(map[key][]int64)
	joins := make(map[key][]int64)
	for _, a := range activity {
		k := key{groupID: a.GroupID, role: a.Role}
		switch a.Type {
		case domain.ActivityLeft:
			lefts[k] = append(lefts[k], a.ID)
		case domain.ActivityJoined:
			joins[k] = append(joins[k], a.ID)
		case domain.ActivityChangedRole:
		}
	}

	var doomed []int64
	for k, leftIDs := range lefts {
		joinIDs := joins[k]
		pairs := len(leftIDs)
		if len(joinIDs) < pairs {
			pairs = len(joinIDs)
		}
		for i := 0; i < pairs; i++ {
			doomed = append(doomed, leftIDs[i], joinIDs[i])
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return history.DeleteGroupActivity(ctx, doomed...)
}

// pruneTrivialArchive deletes an archived identity that retained fewer than
// two snapshots; a profile with negligible history is not worth keeping.
func (s *ArchiveService) pruneTrivialArchive(ctx context.Context, playerID int64) {
	count, err := s.snapshots.CountByPlayer(ctx, playerID)
	if err != nil {
		s.logger.Error().Err(err).Int64("player_id", playerID).Msg("failed to count archived snapshots")
		return
	}
	if count >= constants.MinArchivedSnapshots {
		return
	}

	if err := s.archives.Delete(ctx, playerID); err != nil && !errors.Is(err, domain.ErrArchiveNotFound) {
		s.logger.Error().Err(err).Int64("player_id", playerID).Msg("failed to delete trivial archive")
		return
	}
	if err := s.players.Delete(ctx, playerID); err != nil {
		s.logger.Error().Err(err).Int64("player_id", playerID).Msg("failed to delete trivial archived player")
		return
	}
	s.logger.Info().Int64("player_id", playerID).Int64("snapshots", count).Msg("trivial archive pruned")
}

func (s *ArchiveService) generateArchiveUsername(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		digits, err := gonanoid.Generate("0123456789", constants.ArchiveDigits)
		if err != nil {
			return "", fmt.Errorf("generating archive username: %w", err)
		}
		candidate := constants.ArchiveUsernamePrefix + digits
		taken, err := s.archives.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find a free archive username")
}

func (s *ArchiveService) publishNameChanged(ctx context.Context, playerID int64, previousUsername string) {
	player, err := s.players.GetByID(ctx, playerID)
	if err != nil {
		s.logger.Error().Err(err).Int64("player_id", playerID).Msg("failed to reload renamed player")
		return
	}
	now := time.Now()
	if err := s.players.UpdateAggregates(ctx, player.ID, player.Exp, player.EHP, player.EHB, &now, nil); err != nil {
		s.logger.Warn().Err(err).Int64("player_id", playerID).Msg("failed to stamp last changed time")
	}
	s.bus.Publish(ctx, events.Event{Kind: events.KindPlayerNameChanged, Payload: events.PlayerNameChanged{
		Player:           player,
		PreviousUsername: previousUsername,
	}})
}
