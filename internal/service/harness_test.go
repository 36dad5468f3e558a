package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"runetrack/internal/config"
	"runetrack/internal/database"
	"runetrack/internal/domain"
	"runetrack/internal/efficiency"
	"runetrack/internal/events"
	"runetrack/internal/repository"

	"github.com/rs/zerolog"
)

// fakeHiscores serves canned stats per username. Usernames without an entry
// behave as absent from the hiscores.
type fakeHiscores struct {
	mu    sync.Mutex
	stats map[string]domain.SnapshotData
	errs  map[string]error
}

func newFakeHiscores() *fakeHiscores {
	return &fakeHiscores{
		stats: make(map[string]domain.SnapshotData),
		errs:  make(map[string]error),
	}
}

func (f *fakeHiscores) FetchStats(_ context.Context, username string) (domain.SnapshotData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[username]; err != nil {
		return nil, err
	}
	data, ok := f.stats[username]
	if !ok {
		return nil, domain.ErrHiscoresNotFound
	}
	return data, nil
}

func (f *fakeHiscores) set(username string, data domain.SnapshotData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[username] = data
}

func (f *fakeHiscores) fail(username string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[username] = err
}

type harness struct {
	db          *sql.DB
	cfg         *config.Config
	hiscores    *fakeHiscores
	bus         *events.Bus
	players     *repository.PlayerRepository
	snapshots   *repository.SnapshotRepository
	nameChanges *repository.NameChangeRepository
	archives    *repository.ArchiveRepository
	history     *repository.HistoryRepository
	reports     *repository.FlagReportRepository

	archive    *ArchiveService
	nameChange *NameChangeService
	review     *ReviewService
	flagReview *FlagReviewService
	player     *PlayerService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	cfg := &config.Config{
		Review: config.ReviewConfig{
			BundleWindow:         250 * time.Millisecond,
			BundleApprovedShare:  0.5,
			BaseTransitionHours:  504,
			BonusTransitionHours: 168,
			BonusTransitionExp:   2_000_000,
			MinTotalLevel:        700,
			RollbackHoursCap:     24,
			RollbackShare:        0.2,
			MergeActivityWindow:  24 * time.Hour,
		},
	}

	h := &harness{
		db:          db,
		cfg:         cfg,
		hiscores:    newFakeHiscores(),
		bus:         events.NewBus(log),
		players:     repository.NewPlayerRepository(db, log),
		snapshots:   repository.NewSnapshotRepository(db, log),
		nameChanges: repository.NewNameChangeRepository(db, log),
		archives:    repository.NewArchiveRepository(db, log),
		history:     repository.NewHistoryRepository(db, log),
		reports:     repository.NewFlagReportRepository(db, log),
	}

	h.archive = NewArchiveService(db, h.players, h.snapshots, h.nameChanges, h.archives, h.history, h.bus, cfg, log)
	h.nameChange = NewNameChangeService(h.players, h.nameChanges, h.bus, log)
	h.review = NewReviewService(h.players, h.snapshots, h.nameChanges, h.hiscores, h.archive, cfg, log)
	h.flagReview = NewFlagReviewService(h.players, h.reports, NewBoundsChecker(), h.archive, h.bus, cfg, log)
	h.player = NewPlayerService(h.players, h.snapshots, h.reports, h.hiscores, NewBoundsChecker(), h.flagReview, h.archive, h.bus, log)

	return h
}

// statsAllSkills builds snapshot data with the same experience in every
// trained skill and no boss kills.
func statsAllSkills(exp int64) domain.SnapshotData {
	data := make(domain.SnapshotData, len(domain.Skills)+len(domain.Bosses))
	for _, m := range domain.Skills {
		if m == domain.Overall {
			data[m] = domain.MetricValue{Rank: 100, Value: exp * int64(len(domain.Skills)-1)}
			continue
		}
		data[m] = domain.MetricValue{Rank: 100, Value: exp}
	}
	for _, m := range domain.Bosses {
		data[m] = domain.MetricValue{Rank: -1, Value: -1}
	}
	return data
}

func withMetric(data domain.SnapshotData, m domain.Metric, value int64) domain.SnapshotData {
	out := make(domain.SnapshotData, len(data))
	for k, v := range data {
		out[k] = v
	}
	out[m] = domain.MetricValue{Rank: 100, Value: value}
	return out
}

func (h *harness) addPlayer(t *testing.T, username string) *domain.Player {
	t.Helper()
	p, err := h.players.Create(context.Background(), domain.StandardizeUsername(username), domain.DisplayUsername(username))
	if err != nil {
		t.Fatalf("creating player %q: %v", username, err)
	}
	return p
}

func (h *harness) addSnapshot(t *testing.T, playerID int64, data domain.SnapshotData, at time.Time) *domain.Snapshot {
	t.Helper()
	snap := &domain.Snapshot{
		PlayerID:  playerID,
		Data:      data,
		EHP:       efficiency.EHP(data),
		EHB:       efficiency.EHB(data),
		CreatedAt: at,
	}
	if _, err := h.snapshots.Create(context.Background(), snap); err != nil {
		t.Fatalf("creating snapshot: %v", err)
	}
	return snap
}

func (h *harness) getNameChange(t *testing.T, id int64) *domain.NameChange {
	t.Helper()
	nc, err := h.nameChanges.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("loading name change %d: %v", id, err)
	}
	return nc
}

func (h *harness) getPlayer(t *testing.T, id int64) *domain.Player {
	t.Helper()
	p, err := h.players.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("loading player %d: %v", id, err)
	}
	return p
}
