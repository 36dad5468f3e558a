package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"runetrack/internal/config"
	"runetrack/internal/database"
	"runetrack/internal/domain"
	"runetrack/internal/events"
	"runetrack/internal/repository"
	"runetrack/internal/service"

	"github.com/rs/zerolog"
)

type fixedHiscores struct {
	stats map[string]domain.SnapshotData
}

func (f *fixedHiscores) FetchStats(_ context.Context, username string) (domain.SnapshotData, error) {
	data, ok := f.stats[username]
	if !ok {
		return nil, domain.ErrHiscoresNotFound
	}
	return data, nil
}

func testServer(t *testing.T) (*Server, *repository.PlayerRepository) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	players := repository.NewPlayerRepository(db, log)
	snapshots := repository.NewSnapshotRepository(db, log)
	nameChanges := repository.NewNameChangeRepository(db, log)
	archives := repository.NewArchiveRepository(db, log)
	history := repository.NewHistoryRepository(db, log)
	reports := repository.NewFlagReportRepository(db, log)
	bus := events.NewBus(log)
	cfg := &config.Config{
		Review: config.ReviewConfig{
			BaseTransitionHours:  504,
			BonusTransitionHours: 168,
			BonusTransitionExp:   2_000_000,
			MinTotalLevel:        700,
			RollbackHoursCap:     24,
			RollbackShare:        0.2,
		},
	}

	hiscores := &fixedHiscores{stats: map[string]domain.SnapshotData{
		"zezima": {domain.Overall: {Rank: 1, Value: 1_000_000}},
	}}

	archive := service.NewArchiveService(db, players, snapshots, nameChanges, archives, history, bus, cfg, log)
	flagReview := service.NewFlagReviewService(players, reports, service.NewBoundsChecker(), archive, bus, cfg, log)
	playerSvc := service.NewPlayerService(players, snapshots, reports, hiscores, service.NewBoundsChecker(), flagReview, archive, bus, log)
	nameChangeSvc := service.NewNameChangeService(players, nameChanges, bus, log)

	return New(nameChangeSvc, playerSvc, log), players
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSubmitNameChangeEndpoint(t *testing.T) {
	srv, players := testServer(t)
	router := srv.Router()

	if _, err := players.Create(context.Background(), "zezima", "Zezima"); err != nil {
		t.Fatalf("seeding player: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/names", domain.NameChangePair{
		OldName: "Zezima", NewName: "Lynx Titan",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s, want 201", rec.Code, rec.Body.String())
	}

	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if created.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Status)
	}

	// Duplicate pair: 409 carrying the conflicting id.
	rec = doJSON(t, router, http.MethodPost, "/v1/names", domain.NameChangePair{
		OldName: "Zezima", NewName: "Lynx Titan",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	var conflict struct {
		ConflictingID *int64 `json:"conflictingId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &conflict); err != nil {
		t.Fatalf("decoding conflict: %v", err)
	}
	if conflict.ConflictingID == nil || *conflict.ConflictingID != created.ID {
		t.Errorf("conflictingId = %v, want %d", conflict.ConflictingID, created.ID)
	}
}

func TestSubmitNameChangeValidation(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/names", domain.NameChangePair{
		OldName: "bad!name", NewName: "zezima",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid name status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/names", domain.NameChangePair{
		OldName: "ghost", NewName: "zezima",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("untracked owner status = %d, want 404", rec.Code)
	}
}

func TestBulkEndpoint(t *testing.T) {
	srv, players := testServer(t)
	router := srv.Router()

	if _, err := players.Create(context.Background(), "zezima", "Zezima"); err != nil {
		t.Fatalf("seeding player: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/names/bulk", []domain.NameChangePair{
		{OldName: "Zezima", NewName: "Lynx Titan"},
		{OldName: "ghost", NewName: "whatever"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s, want 201", rec.Code, rec.Body.String())
	}
	var out struct {
		Submitted int `json:"submitted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if out.Submitted != 1 {
		t.Errorf("submitted = %d, want 1", out.Submitted)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/names/bulk", []domain.NameChangePair{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestGetNameChangeEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodGet, "/v1/names/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing request status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/names/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestUpdatePlayerEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/v1/players/zezima/update", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s, want 200", rec.Code, rec.Body.String())
	}
	var player struct {
		Username   string `json:"username"`
		Experience int64  `json:"experience"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &player); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if player.Username != "zezima" || player.Experience != 1_000_000 {
		t.Errorf("player = %+v", player)
	}

	// The hiscores do not know this name: the player ends up unranked and
	// the caller sees the miss.
	rec = doJSON(t, router, http.MethodPost, "/v1/players/ghost/update", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("hiscores miss status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/players/zezima", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get after update = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", rec.Code)
	}
}
