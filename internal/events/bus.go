// Package events is the fire-and-forget message bus between the core
// engines and their observers. Delivery is at-most-once with no ordering
// guarantee across subscribers; a failing handler never affects the
// publisher or other handlers.
package events

import (
	"context"
	"sync"

	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

type Kind string

const (
	KindNameChangeSubmitted Kind = "name_change_submitted"
	KindPlayerNameChanged   Kind = "player_name_changed"
	KindPlayerArchived      Kind = "player_archived"
	KindPlayerFlagged       Kind = "player_flagged"
	KindPlayerUpdated       Kind = "player_updated"
)

type Event struct {
	Kind    Kind
	Payload any
}

type NameChangeSubmitted struct {
	Request *domain.NameChange
}

type PlayerNameChanged struct {
	Player           *domain.Player
	PreviousUsername string
}

type PlayerArchived struct {
	Player           *domain.Player
	PreviousUsername string
}

type PlayerFlagged struct {
	Player *domain.Player
	Report domain.FlagReportData
}

type PlayerUpdated struct {
	Player   *domain.Player
	Snapshot *domain.Snapshot
}

type Handler func(ctx context.Context, ev Event)

type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
	logger   zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]Handler),
		logger:   logger,
	}
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Publish delivers ev to every subscriber of its kind, each in its own
// goroutine. Panics are recovered and logged.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Kind]
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error().
						Str("kind", string(ev.Kind)).
						Interface("panic", r).
						Msg("event handler panicked")
				}
			}()
			h(ctx, ev)
		}(h)
	}
}
