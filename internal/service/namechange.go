package service

import (
	"context"
	"errors"
	"fmt"

	"runetrack/internal/domain"
	"runetrack/internal/events"
	"runetrack/internal/repository"

	"github.com/rs/zerolog"
)

// NameChangeService handles submission and lookup of name change requests.
// Review and approval happen asynchronously; see ReviewService.
type NameChangeService struct {
	players     *repository.PlayerRepository
	nameChanges *repository.NameChangeRepository
	bus         *events.Bus
	logger      zerolog.Logger
}

func NewNameChangeService(
	players *repository.PlayerRepository,
	nameChanges *repository.NameChangeRepository,
	bus *events.Bus,
	logger zerolog.Logger,
) *NameChangeService {
	return &NameChangeService{
		players:     players,
		nameChanges: nameChanges,
		bus:         bus,
		logger:      logger,
	}
}

// Submit validates and records a single name change request. On success the
// request is Pending and a submitted event is published so the job runtime
// can schedule its review.
func (s *NameChangeService) Submit(ctx context.Context, oldName, newName string) (*domain.NameChange, error) {
	oldStd := domain.StandardizeUsername(oldName)
	newStd := domain.StandardizeUsername(newName)

	if err := domain.ValidateUsername(oldStd); err != nil {
		return nil, fmt.Errorf("%w: old name %q", err, oldName)
	}
	if err := domain.ValidateUsername(newStd); err != nil {
		return nil, fmt.Errorf("%w: new name %q", err, newName)
	}
	// Exact, case-sensitive comparison on the sanitized forms: a pure
	// capitalization change ("psikoi" -> "Psikoi") is a legitimate request
	// and gets auto-approved during review.
	if domain.DisplayUsername(oldName) == domain.DisplayUsername(newName) {
		return nil, domain.ErrSameName
	}

	owner, err := s.players.GetByUsername(ctx, oldStd)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			return nil, fmt.Errorf("%w: no tracked player named %q", domain.ErrPlayerNotFound, oldStd)
		}
		return nil, err
	}
	if owner.Status == domain.StatusArchived {
		return nil, domain.ErrPlayerArchived
	}

	pending, err := s.nameChanges.PendingByPair(ctx, oldStd, newStd)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, &domain.ConflictError{
			Message:       "an identical name change is already pending review",
			ConflictingID: pending.ID,
		}
	}

	latest, err := s.nameChanges.LatestApprovedByNewName(ctx, newStd)
	if err != nil {
		return nil, err
	}
	if latest != nil && domain.StandardizeUsername(latest.OldName) == oldStd {
		return nil, &domain.ConflictError{
			Message:       "this name change has already been approved",
			ConflictingID: latest.ID,
		}
	}

	nc, err := s.nameChanges.Create(ctx, owner.ID, domain.DisplayUsername(oldName), domain.DisplayUsername(newName))
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("name_change_id", nc.ID).
		Str("old_name", nc.OldName).
		Str("new_name", nc.NewName).
		Msg("name change submitted")

	s.bus.Publish(ctx, events.Event{Kind: events.KindNameChangeSubmitted, Payload: events.NameChangeSubmitted{
		Request: nc,
	}})
	return nc, nil
}

// SubmitBulk applies Submit per entry and tolerates per-entry failures,
// returning how many were accepted. It fails only when the input itself is
// empty.
func (s *NameChangeService) SubmitBulk(ctx context.Context, pairs []domain.NameChangePair) (int, error) {
	if len(pairs) == 0 {
		return 0, domain.ErrEmptyBatch
	}

	submitted := 0
	for _, pair := range pairs {
		if _, err := s.Submit(ctx, pair.OldName, pair.NewName); err != nil {
			s.logger.Debug().Err(err).
				Str("old_name", pair.OldName).
				Str("new_name", pair.NewName).
				Msg("bulk entry rejected")
			continue
		}
		submitted++
	}
	return submitted, nil
}

// Get returns a single request by id, including its review context.
func (s *NameChangeService) Get(ctx context.Context, id int64) (*domain.NameChange, error) {
	return s.nameChanges.GetByID(ctx, id)
}
