package service

import (
	"context"

	"runetrack/internal/config"
	"runetrack/internal/domain"
	"runetrack/internal/events"
	"runetrack/internal/repository"

	"github.com/rs/zerolog"
)

// FlagReviewService classifies a rejected candidate snapshot. The update
// pipeline calls it after the bounds checker rules a jump implausible, and
// acts on the verdict: either the player stays flagged for a human, or the
// player is archived and the verdict carries the fresh identity the update
// should be retried against.
type FlagReviewService struct {
	players  *repository.PlayerRepository
	reports  *repository.FlagReportRepository
	bounds   BoundsChecker
	archiver *ArchiveService
	bus      *events.Bus
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewFlagReviewService(
	players *repository.PlayerRepository,
	reports *repository.FlagReportRepository,
	bounds BoundsChecker,
	archiver *ArchiveService,
	bus *events.Bus,
	cfg *config.Config,
	logger zerolog.Logger,
) *FlagReviewService {
	return &FlagReviewService{
		players:  players,
		reports:  reports,
		bounds:   bounds,
		archiver: archiver,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleImplausible inspects the prev->cand jump that the bounds checker
// rejected. The three outcomes:
//
//   - possible rollback: upstream served stale data or the player's
//     progress was reverted; flag and wait for a human.
//   - silent transfer: the losses are too large to be a rollback, so the
//     username changed hands without a submitted name change; archive the
//     old identity and return the fresh one so the caller retries. No
//     report is filed, there is nothing for a human to decide.
//   - pure excessive gain: flag with a stackable-skill signal for the
//     human reviewer.
//
// The returned player is non-nil only in the silent-transfer case.
func (s *FlagReviewService) HandleImplausible(ctx context.Context, player *domain.Player, prev, cand *domain.Snapshot) (*domain.Player, error) {
	negatives := negativeGains(prev.Data, cand.Data)
	excessive := s.bounds.Excessive(prev, cand)
	excessiveReversed := s.bounds.Excessive(cand, prev)

	report := domain.FlagReportData{
		PreviousEHP:    prev.EHP,
		PreviousEHB:    prev.EHB,
		PreviousRank:   prev.OverallRank(),
		RejectedEHP:    cand.EHP,
		RejectedEHB:    cand.EHB,
		RejectedRank:   cand.OverallRank(),
		NegativeGains:  len(negatives) > 0,
		ExcessiveGains: excessive,
	}

	if len(negatives) == 0 {
		// Pure excessive gain. Record what share of the gained efficiency
		// came from stackable skills; a high share suggests macroing, a
		// low one suggests a legitimate grind or a transfer.
		report.StackableGainedRatio = stackableRatio(prev.Data, cand.Data)
		if err := s.flag(ctx, player, report); err != nil {
			return nil, err
		}
		return nil, nil
	}

	lost := lostEfficiency(prev.Data, cand.Data)
	report.LostEfficiency = lost

	allowedLoss := s.cfg.Review.RollbackShare * (prev.EHP + prev.EHB)
	if allowedLoss > s.cfg.Review.RollbackHoursCap {
		allowedLoss = s.cfg.Review.RollbackHoursCap
	}
	report.PossibleRollback = !excessive && !excessiveReversed && lost <= allowedLoss

	if report.PossibleRollback {
		if err := s.flag(ctx, player, report); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// The candidate diverges too far in both directions to be the same
	// account's data: the username changed hands without a submitted name
	// change. Archive the old identity and hand back the fresh one; the
	// resolution is automatic, so no manual-review report is created.
	fresh, err := s.archiver.ArchivePlayer(ctx, player)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("archived_id", player.ID).
		Int64("fresh_id", fresh.ID).
		Str("username", fresh.Username).
		Msg("silent name transfer detected, identity archived")
	return fresh, nil
}

func (s *FlagReviewService) flag(ctx context.Context, player *domain.Player, report domain.FlagReportData) error {
	if err := s.players.UpdateStatus(ctx, player.ID, domain.StatusFlagged); err != nil {
		return err
	}
	if _, err := s.reports.Create(ctx, player.ID, report); err != nil {
		return err
	}

	player.Status = domain.StatusFlagged
	s.logger.Warn().
		Int64("player_id", player.ID).
		Str("username", player.Username).
		Bool("negative_gains", report.NegativeGains).
		Bool("excessive_gains", report.ExcessiveGains).
		Bool("possible_rollback", report.PossibleRollback).
		Msg("player flagged for manual review")

	s.bus.Publish(ctx, events.Event{Kind: events.KindPlayerFlagged, Payload: events.PlayerFlagged{
		Player: player,
		Report: report,
	}})
	return nil
}
