package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"runetrack/internal/config"
	"runetrack/internal/domain"
	"runetrack/internal/efficiency"
	"runetrack/internal/repository"

	"github.com/rs/zerolog"
)

// StatsFetcher is the hiscores lookup consumed by the review and update
// services. api.HiscoresClient satisfies it.
type StatsFetcher interface {
	FetchStats(ctx context.Context, username string) (domain.SnapshotData, error)
}

// ReviewService runs the auto-review heuristics over a pending name change
// and resolves it, annotates it, or leaves it alone. It runs asynchronously
// from the job runtime; a hiscores outage surfaces as a transient error so
// the runtime retries.
type ReviewService struct {
	players     *repository.PlayerRepository
	snapshots   *repository.SnapshotRepository
	nameChanges *repository.NameChangeRepository
	hiscores    StatsFetcher
	archiver    *ArchiveService
	cfg         *config.Config
	logger      zerolog.Logger

	// now is swapped out in tests.
	now func() time.Time
}

func NewReviewService(
	players *repository.PlayerRepository,
	snapshots *repository.SnapshotRepository,
	nameChanges *repository.NameChangeRepository,
	hiscores StatsFetcher,
	archiver *ArchiveService,
	cfg *config.Config,
	logger zerolog.Logger,
) *ReviewService {
	return &ReviewService{
		players:     players,
		snapshots:   snapshots,
		nameChanges: nameChanges,
		hiscores:    hiscores,
		archiver:    archiver,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Review evaluates one pending request. First matching rule wins; only an
// approval or denial changes the request's status, every other outcome
// annotates the request and leaves it pending for a human.
func (s *ReviewService) Review(ctx context.Context, id int64) error {
	nc, err := s.nameChanges.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if nc.Status.Terminal() {
		s.logger.Debug().Int64("name_change_id", id).Str("status", string(nc.Status)).Msg("request already resolved, skipping review")
		return nil
	}

	oldStd := domain.StandardizeUsername(nc.OldName)
	newStd := domain.StandardizeUsername(nc.NewName)

	oldStats, err := s.snapshots.LatestBefore(ctx, nc.PlayerID, nc.CreatedAt)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return s.deny(ctx, nc, &domain.ReviewContext{Reason: domain.ReasonOldStatsCannotBeFound})
	}
	if err != nil {
		return err
	}

	if oldStd == newStd {
		return s.approve(ctx, nc)
	}

	modifier, err := s.bundleModifier(ctx, nc)
	if err != nil {
		return err
	}

	newData, newTime, err := s.gatherNewStats(ctx, newStd, oldStats.CreatedAt)
	if errors.Is(err, domain.ErrHiscoresNotFound) {
		return s.deny(ctx, nc, &domain.ReviewContext{Reason: domain.ReasonNewNameNotOnHiscores})
	}
	if err != nil {
		return err
	}

	if negatives := negativeGains(oldStats.Data, newData); len(negatives) > 0 {
		return s.deny(ctx, nc, &domain.ReviewContext{
			Reason:        domain.ReasonNegativeGains,
			NegativeGains: negatives,
		})
	}

	hoursDiff := newTime.Sub(oldStats.CreatedAt).Hours()
	allowedHours := s.allowedTransitionHours(oldStats.OverallExperience()) * modifier
	if hoursDiff > allowedHours {
		return s.annotate(ctx, nc, &domain.ReviewContext{
			Reason:       domain.ReasonTransitionPeriodTooLong,
			MaxHoursDiff: allowedHours,
			HoursDiff:    hoursDiff,
		})
	}

	ehpDiff := efficiency.EHP(newData) - oldStats.EHP
	ehbDiff := efficiency.EHB(newData) - oldStats.EHB
	if ehpDiff+ehbDiff > hoursDiff*modifier {
		return s.annotate(ctx, nc, &domain.ReviewContext{
			Reason:    domain.ReasonExcessiveGains,
			EHPDiff:   ehpDiff,
			EHBDiff:   ehbDiff,
			HoursDiff: hoursDiff,
		})
	}

	minTotalLevel := int(float64(s.cfg.Review.MinTotalLevel) / modifier)
	if totalLevel := efficiency.TotalLevel(oldStats.Data); totalLevel < minTotalLevel {
		return s.annotate(ctx, nc, &domain.ReviewContext{
			Reason:        domain.ReasonTotalLevelTooLow,
			MinTotalLevel: minTotalLevel,
			TotalLevel:    totalLevel,
		})
	}

	return s.approve(ctx, nc)
}

// gatherNewStats prefers a stored snapshot of the new name's own tracked
// identity when one exists and postdates the old stats; a live hiscores
// lookup is the fallback. The returned time anchors the transition-period
// and efficiency-rate rules.
func (s *ReviewService) gatherNewStats(ctx context.Context, newStd string, oldStatsAt time.Time) (domain.SnapshotData, time.Time, error) {
	if target, err := s.players.GetByUsername(ctx, newStd); err == nil {
		snap, err := s.snapshots.Latest(ctx, target.ID)
		if err == nil && snap.CreatedAt.After(oldStatsAt) {
			return snap.Data, snap.CreatedAt, nil
		}
		if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
			return nil, time.Time{}, err
		}
	} else if !errors.Is(err, domain.ErrPlayerNotFound) {
		return nil, time.Time{}, err
	}

	data, err := s.hiscores.FetchStats(ctx, newStd)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, s.now(), nil
}

// bundleModifier relaxes the review thresholds for requests submitted in a
// tight burst, on the theory that bulk submissions from an automated client
// are more likely legitimate. When at least half of the request's window
// siblings were approved the thresholds double.
func (s *ReviewService) bundleModifier(ctx context.Context, nc *domain.NameChange) (float64, error) {
	window := s.cfg.Review.BundleWindow
	siblings, err := s.nameChanges.SiblingsWithin(ctx, nc.CreatedAt.Add(-window), nc.CreatedAt.Add(window), nc.ID)
	if err != nil {
		return 0, err
	}
	if len(siblings) == 0 {
		return 1, nil
	}

	approved := 0
	for _, sib := range siblings {
		if sib.Status == domain.NameChangeApproved {
			approved++
		}
	}
	if float64(approved)/float64(len(siblings)) >= s.cfg.Review.BundleApprovedShare {
		return 2, nil
	}
	return 1, nil
}

func (s *ReviewService) allowedTransitionHours(oldOverallExp int64) float64 {
	bonus := float64(oldOverallExp) / float64(s.cfg.Review.BonusTransitionExp) * s.cfg.Review.BonusTransitionHours
	return s.cfg.Review.BaseTransitionHours + bonus
}

// approve applies the transfer first and only then resolves the request, so
// a failed merge/split leaves the request pending instead of approved with
// nothing applied.
func (s *ReviewService) approve(ctx context.Context, nc *domain.NameChange) error {
	if err := s.archiver.TransferApproved(ctx, nc); err != nil {
		return fmt.Errorf("applying name change %d: %w", nc.ID, err)
	}
	if err := s.nameChanges.Resolve(ctx, nc.ID, domain.NameChangeApproved, nil); err != nil {
		return err
	}
	s.logger.Info().
		Int64("name_change_id", nc.ID).
		Str("old_name", nc.OldName).
		Str("new_name", nc.NewName).
		Msg("name change approved")
	return nil
}

func (s *ReviewService) deny(ctx context.Context, nc *domain.NameChange, rc *domain.ReviewContext) error {
	if err := s.nameChanges.Resolve(ctx, nc.ID, domain.NameChangeDenied, rc); err != nil {
		return err
	}
	s.logger.Info().
		Int64("name_change_id", nc.ID).
		Str("reason", string(rc.Reason)).
		Msg("name change denied")
	return nil
}

func (s *ReviewService) annotate(ctx context.Context, nc *domain.NameChange, rc *domain.ReviewContext) error {
	if err := s.nameChanges.Annotate(ctx, nc.ID, rc); err != nil {
		return err
	}
	s.logger.Info().
		Int64("name_change_id", nc.ID).
		Str("reason", string(rc.Reason)).
		Msg("name change left pending for manual review")
	return nil
}
