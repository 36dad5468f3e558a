package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"runetrack/internal/domain"
	"runetrack/internal/efficiency"
	"runetrack/internal/events"
	"runetrack/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// PlayerService owns the update pipeline: fetch live hiscores stats, build
// a candidate snapshot, gate it through the bounds checker, and persist it.
type PlayerService struct {
	players    *repository.PlayerRepository
	snapshots  *repository.SnapshotRepository
	reports    *repository.FlagReportRepository
	hiscores   StatsFetcher
	bounds     BoundsChecker
	flagReview *FlagReviewService
	archiver   *ArchiveService
	bus        *events.Bus
	logger     zerolog.Logger

	updates singleflight.Group
	now     func() time.Time
}

func NewPlayerService(
	players *repository.PlayerRepository,
	snapshots *repository.SnapshotRepository,
	reports *repository.FlagReportRepository,
	hiscores StatsFetcher,
	bounds BoundsChecker,
	flagReview *FlagReviewService,
	archiver *ArchiveService,
	bus *events.Bus,
	logger zerolog.Logger,
) *PlayerService {
	return &PlayerService{
		players:    players,
		snapshots:  snapshots,
		reports:    reports,
		hiscores:   hiscores,
		bounds:     bounds,
		flagReview: flagReview,
		archiver:   archiver,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns a tracked player by username.
func (s *PlayerService) Get(ctx context.Context, username string) (*domain.Player, error) {
	std := domain.StandardizeUsername(username)
	if err := domain.ValidateUsername(std); err != nil {
		return nil, err
	}
	return s.players.GetByUsername(ctx, std)
}

type updateResult struct {
	player   *domain.Player
	snapshot *domain.Snapshot
}

// Update refreshes a player's stats from the hiscores, registering the
// player first if the username is not yet tracked. A candidate snapshot
// that fails the bounds check never reaches the store directly; it goes
// through the flagged-snapshot reviewer instead. Concurrent updates for
// the same username coalesce into a single hiscores fetch.
func (s *PlayerService) Update(ctx context.Context, username string) (*domain.Player, *domain.Snapshot, error) {
	std := domain.StandardizeUsername(username)
	if err := domain.ValidateUsername(std); err != nil {
		return nil, nil, err
	}

	v, err, _ := s.updates.Do(std, func() (any, error) {
		player, snap, err := s.update(ctx, username, std)
		if err != nil {
			return nil, err
		}
		return updateResult{player: player, snapshot: snap}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	res := v.(updateResult)
	return res.player, res.snapshot, nil
}

func (s *PlayerService) update(ctx context.Context, username, std string) (*domain.Player, *domain.Snapshot, error) {
	player, err := s.players.GetByUsername(ctx, std)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		player, err = s.players.Create(ctx, std, domain.DisplayUsername(username))
	}
	if err != nil {
		return nil, nil, err
	}
	if player.Status == domain.StatusArchived {
		return nil, nil, domain.ErrPlayerArchived
	}

	data, err := s.hiscores.FetchStats(ctx, std)
	if errors.Is(err, domain.ErrHiscoresNotFound) {
		if player.Status == domain.StatusActive {
			if serr := s.players.UpdateStatus(ctx, player.ID, domain.StatusUnranked); serr != nil {
				return nil, nil, serr
			}
		}
		return nil, nil, fmt.Errorf("updating %q: %w", std, err)
	}
	if err != nil {
		return nil, nil, err
	}

	cand := &domain.Snapshot{
		PlayerID:  player.ID,
		Data:      data,
		EHP:       efficiency.EHP(data),
		EHB:       efficiency.EHB(data),
		CreatedAt: s.now(),
	}

	prev, err := s.snapshots.Latest(ctx, player.ID)
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, nil, err
	}

	if prev != nil && !s.bounds.Plausible(prev, cand) {
		fresh, err := s.flagReview.HandleImplausible(ctx, player, prev, cand)
		if err != nil {
			return nil, nil, err
		}
		if fresh == nil {
			return nil, nil, fmt.Errorf("updating %q: %w", std, domain.ErrPlayerFlagged)
		}
		// Silent transfer: the candidate data belongs to whoever holds
		// the username now, so persist it against the fresh identity.
		player = fresh
		prev = nil
		cand.PlayerID = fresh.ID
	}

	return s.persist(ctx, player, prev, cand)
}

func (s *PlayerService) persist(ctx context.Context, player *domain.Player, prev, cand *domain.Snapshot) (*domain.Player, *domain.Snapshot, error) {
	id, err := s.snapshots.Create(ctx, cand)
	if err != nil {
		return nil, nil, err
	}
	cand.ID = id

	var lastChanged *time.Time
	if prev == nil || anyGain(prev.Data, cand.Data) {
		t := cand.CreatedAt
		lastChanged = &t
	}
	if err := s.players.UpdateAggregates(ctx, player.ID, cand.OverallExperience(), cand.EHP, cand.EHB, lastChanged, &cand.ID); err != nil {
		return nil, nil, err
	}
	if player.Status == domain.StatusUnranked || player.Status == domain.StatusFlagged {
		if err := s.players.UpdateStatus(ctx, player.ID, domain.StatusActive); err != nil {
			return nil, nil, err
		}
	}

	updated, err := s.players.GetByID(ctx, player.ID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Int64("player_id", updated.ID).
		Str("username", updated.Username).
		Int64("experience", updated.Exp).
		Msg("player updated")

	s.bus.Publish(ctx, events.Event{Kind: events.KindPlayerUpdated, Payload: events.PlayerUpdated{
		Player:   updated,
		Snapshot: cand,
	}})
	return updated, cand, nil
}

// Archive archives a player on explicit request and creates a fresh
// identity continuing under the same username.
func (s *PlayerService) Archive(ctx context.Context, username string) (*domain.Player, error) {
	player, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	fresh, err := s.archiver.ArchivePlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	if err := s.reports.ResolveByPlayer(ctx, player.ID); err != nil {
		s.logger.Warn().Err(err).Int64("player_id", player.ID).Msg("failed to resolve flag reports after archive")
	}
	return fresh, nil
}

// RecheckOldestFlagged force-clears the longest-flagged player back to
// Active and reruns the normal update path, so no flagged player stays
// stuck forever. A miss (no flagged players) is not an error.
func (s *PlayerService) RecheckOldestFlagged(ctx context.Context) error {
	player, err := s.players.OldestFlagged(ctx)
	if errors.Is(err, domain.ErrPlayerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.players.UpdateStatus(ctx, player.ID, domain.StatusActive); err != nil {
		return err
	}
	if err := s.reports.ResolveByPlayer(ctx, player.ID); err != nil {
		return err
	}

	s.logger.Info().
		Int64("player_id", player.ID).
		Str("username", player.Username).
		Msg("rechecking flagged player")

	_, _, err = s.Update(ctx, player.Username)
	return err
}
