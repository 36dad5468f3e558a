// Package server exposes the HTTP API: name change submission and lookup,
// player updates, and manual archiving. All review work happens
// asynchronously; these handlers only validate, persist, and enqueue.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"runetrack/internal/domain"
	"runetrack/internal/middleware"
	"runetrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type Server struct {
	nameChanges *service.NameChangeService
	players     *service.PlayerService
	logger      zerolog.Logger
}

func New(nameChanges *service.NameChangeService, players *service.PlayerService, logger zerolog.Logger) *Server {
	return &Server{
		nameChanges: nameChanges,
		players:     players,
		logger:      logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID(s.logger))
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/names", func(r chi.Router) {
			r.Post("/", s.submitNameChange)
			r.Post("/bulk", s.submitNameChangeBulk)
			r.Get("/{id}", s.getNameChange)
		})
		r.Route("/players/{username}", func(r chi.Router) {
			r.Get("/", s.getPlayer)
			r.Post("/update", s.updatePlayer)
			r.Post("/archive", s.archivePlayer)
		})
	})

	return r
}

type nameChangeResponse struct {
	ID            int64                 `json:"id"`
	PlayerID      int64                 `json:"playerId"`
	OldName       string                `json:"oldName"`
	NewName       string                `json:"newName"`
	Status        string                `json:"status"`
	ReviewContext *domain.ReviewContext `json:"reviewContext,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	ResolvedAt    *time.Time            `json:"resolvedAt,omitempty"`
}

func toNameChangeResponse(nc *domain.NameChange) nameChangeResponse {
	return nameChangeResponse{
		ID:            nc.ID,
		PlayerID:      nc.PlayerID,
		OldName:       nc.OldName,
		NewName:       nc.NewName,
		Status:        string(nc.Status),
		ReviewContext: nc.ReviewContext,
		CreatedAt:     nc.CreatedAt,
		ResolvedAt:    nc.ResolvedAt,
	}
}

type playerResponse struct {
	ID            int64      `json:"id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"displayName"`
	Status        string     `json:"status"`
	Experience    int64      `json:"experience"`
	EHP           float64    `json:"ehp"`
	EHB           float64    `json:"ehb"`
	LastChangedAt *time.Time `json:"lastChangedAt,omitempty"`
	RegisteredAt  time.Time  `json:"registeredAt"`
}

func toPlayerResponse(p *domain.Player) playerResponse {
	return playerResponse{
		ID:            p.ID,
		Username:      p.Username,
		DisplayName:   p.DisplayName,
		Status:        string(p.Status),
		Experience:    p.Exp,
		EHP:           p.EHP,
		EHB:           p.EHB,
		LastChangedAt: p.LastChangedAt,
		RegisteredAt:  p.RegisteredAt,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) submitNameChange(w http.ResponseWriter, r *http.Request) {
	var body domain.NameChangePair
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	nc, err := s.nameChanges.Submit(r.Context(), body.OldName, body.NewName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toNameChangeResponse(nc))
}

func (s *Server) submitNameChangeBulk(w http.ResponseWriter, r *http.Request) {
	var body []domain.NameChangePair
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}

	submitted, err := s.nameChanges.SubmitBulk(r.Context(), body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]int{"submitted": submitted})
}

func (s *Server) getNameChange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid name change id"))
		return
	}

	nc, err := s.nameChanges.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toNameChangeResponse(nc))
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.players.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPlayerResponse(player))
}

func (s *Server) updatePlayer(w http.ResponseWriter, r *http.Request) {
	player, _, err := s.players.Update(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPlayerResponse(player))
}

func (s *Server) archivePlayer(w http.ResponseWriter, r *http.Request) {
	fresh, err := s.players.Archive(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPlayerResponse(fresh))
}

type errorResponse struct {
	Error         string `json:"error"`
	ConflictingID *int64 `json:"conflictingId,omitempty"`
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		s.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFound(err):
		s.writeError(w, http.StatusNotFound, err)
	case domain.IsConflict(err):
		var conflict *domain.ConflictError
		errors.As(err, &conflict)
		s.writeJSON(w, http.StatusConflict, errorResponse{
			Error:         conflict.Message,
			ConflictingID: &conflict.ConflictingID,
		})
	case errors.Is(err, domain.ErrPlayerArchived), errors.Is(err, domain.ErrPlayerFlagged):
		s.writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, domain.ErrHiscoresUnavailable):
		s.writeError(w, http.StatusBadGateway, err)
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
