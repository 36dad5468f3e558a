package repository

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"runetrack/internal/database"
	"runetrack/internal/domain"

	"github.com/rs/zerolog"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlayerLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewPlayerRepository(db, zerolog.Nop())

	created, err := repo.Create(ctx, "zezima", "Zezima")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != domain.StatusActive {
		t.Errorf("new player status = %q, want active", created.Status)
	}

	got, err := repo.GetByUsername(ctx, "zezima")
	if err != nil {
		t.Fatalf("GetByUsername: %v", err)
	}
	if got.ID != created.ID || got.DisplayName != "Zezima" {
		t.Errorf("GetByUsername = %+v", got)
	}

	if _, err := repo.GetByUsername(ctx, "ghost"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Errorf("missing player err = %v, want ErrPlayerNotFound", err)
	}

	if err := repo.Rename(ctx, created.ID, "lynx titan", "Lynx Titan"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := repo.GetByUsername(ctx, "zezima"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Error("old username still resolves after rename")
	}
	renamed, err := repo.GetByUsername(ctx, "lynx titan")
	if err != nil {
		t.Fatalf("GetByUsername after rename: %v", err)
	}
	if renamed.ID != created.ID {
		t.Errorf("rename changed identity: id %d != %d", renamed.ID, created.ID)
	}

	now := time.Now()
	if err := repo.UpdateAggregates(ctx, created.ID, 1_000_000, 12.5, 3.5, &now, nil); err != nil {
		t.Fatalf("UpdateAggregates: %v", err)
	}
	updated, _ := repo.GetByID(ctx, created.ID)
	if updated.Exp != 1_000_000 || updated.EHP != 12.5 || updated.EHB != 3.5 {
		t.Errorf("aggregates = exp %d ehp %f ehb %f", updated.Exp, updated.EHP, updated.EHB)
	}
	if updated.LastChangedAt == nil {
		t.Error("lastChangedAt not stored")
	}

	if err := repo.ZeroAggregates(ctx, created.ID); err != nil {
		t.Fatalf("ZeroAggregates: %v", err)
	}
	zeroed, _ := repo.GetByID(ctx, created.ID)
	if zeroed.Exp != 0 || zeroed.EHP != 0 || zeroed.EHB != 0 {
		t.Errorf("aggregates not zeroed: %+v", zeroed)
	}
}

func TestPlayerOldestFlagged(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	repo := NewPlayerRepository(db, zerolog.Nop())

	if _, err := repo.OldestFlagged(ctx); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Fatalf("OldestFlagged on empty table = %v, want ErrPlayerNotFound", err)
	}

	first, _ := repo.Create(ctx, "first", "First")
	second, _ := repo.Create(ctx, "second", "Second")

	if err := repo.UpdateStatus(ctx, first.ID, domain.StatusFlagged); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := repo.UpdateStatus(ctx, second.ID, domain.StatusFlagged); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	oldest, err := repo.OldestFlagged(ctx)
	if err != nil {
		t.Fatalf("OldestFlagged: %v", err)
	}
	if oldest.ID != first.ID {
		t.Errorf("oldest flagged = %d, want %d", oldest.ID, first.ID)
	}
}

func TestSnapshotLatestAndReassign(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	snapshots := NewSnapshotRepository(db, zerolog.Nop())

	a, _ := players.Create(ctx, "alpha", "Alpha")
	b, _ := players.Create(ctx, "beta", "Beta")

	base := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	mk := func(playerID int64, at time.Time) int64 {
		t.Helper()
		id, err := snapshots.Create(ctx, &domain.Snapshot{
			PlayerID:  playerID,
			Data:      domain.SnapshotData{domain.Overall: {Rank: 100, Value: 1000}},
			CreatedAt: at,
		})
		if err != nil {
			t.Fatalf("creating snapshot: %v", err)
		}
		return id
	}

	mk(a.ID, base)
	mk(a.ID, base.Add(time.Hour))
	mk(a.ID, base.Add(2*time.Hour))
	// Same timestamp as the latest: the higher id must win the tie.
	tieID := mk(a.ID, base.Add(2*time.Hour))

	latest, err := snapshots.Latest(ctx, a.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != tieID {
		t.Errorf("Latest tie-break returned id %d, want %d", latest.ID, tieID)
	}

	before, err := snapshots.LatestBefore(ctx, a.ID, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("LatestBefore: %v", err)
	}
	if !before.CreatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("LatestBefore = %v, want %v", before.CreatedAt, base.Add(time.Hour))
	}

	if _, err := snapshots.Latest(ctx, b.ID); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("Latest for empty player = %v, want ErrSnapshotNotFound", err)
	}

	// Strictly-after partition: the row created exactly at the boundary
	// stays behind.
	moved, err := snapshots.ReassignAfter(ctx, a.ID, b.ID, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ReassignAfter: %v", err)
	}
	if moved != 2 {
		t.Errorf("ReassignAfter moved %d rows, want 2", moved)
	}
	remaining, _ := snapshots.CountByPlayer(ctx, a.ID)
	if remaining != 2 {
		t.Errorf("source kept %d snapshots, want 2", remaining)
	}
	gained, _ := snapshots.CountByPlayer(ctx, b.ID)
	if gained != 2 {
		t.Errorf("target gained %d snapshots, want 2", gained)
	}
}

func TestNameChangeResolveInvariant(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	repo := NewNameChangeRepository(db, zerolog.Nop())

	p, _ := players.Create(ctx, "zezima", "Zezima")
	nc, err := repo.Create(ctx, p.ID, "Zezima", "Lynx Titan")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if nc.Status != domain.NameChangePending || nc.ResolvedAt != nil {
		t.Fatalf("fresh request: status=%q resolvedAt=%v", nc.Status, nc.ResolvedAt)
	}

	// Annotating keeps the request pending and unresolved.
	if err := repo.Annotate(ctx, nc.ID, &domain.ReviewContext{Reason: domain.ReasonExcessiveGains, EHPDiff: 10}); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	annotated, _ := repo.GetByID(ctx, nc.ID)
	if annotated.Status != domain.NameChangePending || annotated.ResolvedAt != nil {
		t.Errorf("annotated request: status=%q resolvedAt=%v, want pending/nil", annotated.Status, annotated.ResolvedAt)
	}
	if annotated.ReviewContext == nil || annotated.ReviewContext.Reason != domain.ReasonExcessiveGains {
		t.Errorf("annotation not stored: %+v", annotated.ReviewContext)
	}

	if err := repo.Resolve(ctx, nc.ID, domain.NameChangePending, nil); err == nil {
		t.Error("Resolve with a non-terminal status should fail")
	}

	if err := repo.Resolve(ctx, nc.ID, domain.NameChangeApproved, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	resolved, _ := repo.GetByID(ctx, nc.ID)
	if resolved.Status != domain.NameChangeApproved || resolved.ResolvedAt == nil {
		t.Errorf("resolved request: status=%q resolvedAt=%v", resolved.Status, resolved.ResolvedAt)
	}
	if resolved.ReviewContext != nil {
		t.Errorf("approval should clear the review context, got %+v", resolved.ReviewContext)
	}

	// A terminal request cannot be resolved again.
	if err := repo.Resolve(ctx, nc.ID, domain.NameChangeDenied, nil); !errors.Is(err, domain.ErrNameChangeNotFound) {
		t.Errorf("double resolve = %v, want ErrNameChangeNotFound", err)
	}
}

func TestNameChangePairLookups(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	repo := NewNameChangeRepository(db, zerolog.Nop())

	p, _ := players.Create(ctx, "iron man", "Iron Man")
	nc, _ := repo.Create(ctx, p.ID, "Iron_Man", "Lynx Titan")

	// Pair matching runs on standardized forms.
	found, err := repo.PendingByPair(ctx, "iron man", "lynx titan")
	if err != nil {
		t.Fatalf("PendingByPair: %v", err)
	}
	if found == nil || found.ID != nc.ID {
		t.Fatalf("PendingByPair = %+v, want id %d", found, nc.ID)
	}

	if found, _ := repo.PendingByPair(ctx, "iron man", "someone else"); found != nil {
		t.Errorf("unexpected pending pair match: %+v", found)
	}

	if err := repo.Resolve(ctx, nc.ID, domain.NameChangeApproved, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if found, _ := repo.PendingByPair(ctx, "iron man", "lynx titan"); found != nil {
		t.Error("resolved request still matched as pending")
	}

	approved, err := repo.LatestApprovedByNewName(ctx, "lynx titan")
	if err != nil {
		t.Fatalf("LatestApprovedByNewName: %v", err)
	}
	if approved == nil || approved.ID != nc.ID {
		t.Fatalf("LatestApprovedByNewName = %+v, want id %d", approved, nc.ID)
	}
}

func TestDenyPendingByPlayer(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	repo := NewNameChangeRepository(db, zerolog.Nop())

	p, _ := players.Create(ctx, "zezima", "Zezima")
	other, _ := players.Create(ctx, "other", "Other")

	excluded, _ := repo.Create(ctx, p.ID, "Zezima", "Name One")
	first, _ := repo.Create(ctx, p.ID, "Zezima", "Name Two")
	second, _ := repo.Create(ctx, p.ID, "Zezima", "Name Three")
	untouched, _ := repo.Create(ctx, other.ID, "Other", "Name Four")

	n, err := repo.DenyPendingByPlayer(ctx, p.ID, excluded.ID)
	if err != nil {
		t.Fatalf("DenyPendingByPlayer: %v", err)
	}
	if n != 2 {
		t.Errorf("denied %d requests, want 2", n)
	}

	for _, id := range []int64{first.ID, second.ID} {
		nc, _ := repo.GetByID(ctx, id)
		if nc.Status != domain.NameChangeDenied || nc.ResolvedAt == nil {
			t.Errorf("request %d: status=%q resolvedAt=%v, want denied/set", id, nc.Status, nc.ResolvedAt)
		}
		if nc.ReviewContext == nil || nc.ReviewContext.Reason != domain.ReasonManualReview {
			t.Errorf("request %d review context = %+v, want manual_review", id, nc.ReviewContext)
		}
	}

	spared, _ := repo.GetByID(ctx, excluded.ID)
	if spared.Status != domain.NameChangePending {
		t.Errorf("excluded request was denied too")
	}
	kept, _ := repo.GetByID(ctx, untouched.ID)
	if kept.Status != domain.NameChangePending {
		t.Errorf("other player's request was denied too")
	}
}

func TestArchiveRepository(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	repo := NewArchiveRepository(db, zerolog.Nop())

	p, _ := players.Create(ctx, "archive12345", "archive12345")

	if taken, _ := repo.UsernameTaken(ctx, "archive99999"); taken {
		t.Error("free username reported taken")
	}
	if taken, _ := repo.UsernameTaken(ctx, "archive12345"); !taken {
		t.Error("username held by a player reported free")
	}

	archive, err := repo.Create(ctx, p.ID, "archive12345", "zezima")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if archive.PreviousUsername != "zezima" || archive.RestoredAt != nil {
		t.Errorf("archive = %+v", archive)
	}

	if err := repo.MarkRestored(ctx, p.ID, "zezima"); err != nil {
		t.Fatalf("MarkRestored: %v", err)
	}
	restored, err := repo.GetByPlayerID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByPlayerID: %v", err)
	}
	if restored.RestoredAt == nil || restored.RestoredUsername == nil || *restored.RestoredUsername != "zezima" {
		t.Errorf("restored archive = %+v", restored)
	}

	if err := repo.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByPlayerID(ctx, p.ID); !errors.Is(err, domain.ErrArchiveNotFound) {
		t.Errorf("deleted archive lookup = %v, want ErrArchiveNotFound", err)
	}
}

func TestRecordsPartitionAndReassign(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	history := NewHistoryRepository(db, zerolog.Nop())

	a, _ := players.Create(ctx, "alpha", "Alpha")
	b, _ := players.Create(ctx, "beta", "Beta")

	transition := time.Now().Add(-time.Hour).Truncate(time.Second)

	atID, err := history.CreateRecord(ctx, a.ID, domain.PeriodWeek, domain.Agility, 50_000, transition)
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	afterID, err := history.CreateRecord(ctx, a.ID, domain.PeriodWeek, domain.Slayer, 9_000, transition.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	moved, err := history.RecordsAfter(ctx, a.ID, transition)
	if err != nil {
		t.Fatalf("RecordsAfter: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != afterID {
		t.Fatalf("RecordsAfter = %+v, want exactly the post-transition row %d", moved, afterID)
	}

	if rec, _ := history.RecordByKey(ctx, b.ID, domain.PeriodWeek, domain.Slayer); rec != nil {
		t.Fatalf("RecordByKey on empty player = %+v, want nil", rec)
	}

	if err := history.ReassignRecord(ctx, afterID, b.ID); err != nil {
		t.Fatalf("ReassignRecord: %v", err)
	}
	rec, _ := history.RecordByKey(ctx, b.ID, domain.PeriodWeek, domain.Slayer)
	if rec == nil || rec.Value != 9_000 {
		t.Fatalf("reassigned record = %+v", rec)
	}
	stayed, _ := history.RecordByKey(ctx, a.ID, domain.PeriodWeek, domain.Agility)
	if stayed == nil || stayed.ID != atID {
		t.Error("at-boundary record should stay with its owner")
	}
}

func TestGroupActivityWindowAndDelete(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())
	history := NewHistoryRepository(db, zerolog.Nop())

	p, _ := players.Create(ctx, "zezima", "Zezima")
	base := time.Now().Truncate(time.Second)

	leftID, _ := history.CreateGroupActivity(ctx, 7, p.ID, domain.ActivityLeft, "member", base.Add(-time.Minute))
	joinID, _ := history.CreateGroupActivity(ctx, 7, p.ID, domain.ActivityJoined, "member", base.Add(time.Minute))
	outsideID, _ := history.CreateGroupActivity(ctx, 7, p.ID, domain.ActivityJoined, "member", base.Add(48*time.Hour))

	within, err := history.GroupActivityBetween(ctx, p.ID, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GroupActivityBetween: %v", err)
	}
	if len(within) != 2 {
		t.Fatalf("window returned %d rows, want 2", len(within))
	}

	if err := history.DeleteGroupActivity(ctx, leftID, joinID); err != nil {
		t.Fatalf("DeleteGroupActivity: %v", err)
	}
	all, _ := history.ListGroupActivity(ctx, p.ID)
	if len(all) != 1 || all[0].ID != outsideID {
		t.Fatalf("remaining activity = %+v, want only the out-of-window row", all)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())

	sentinel := errors.New("boom")
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := players.WithTx(tx).Create(ctx, "zezima", "Zezima"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("InTx error = %v, want wrapped sentinel", err)
	}

	if _, err := players.GetByUsername(ctx, "zezima"); !errors.Is(err, domain.ErrPlayerNotFound) {
		t.Error("insert survived a rolled-back transaction")
	}
}

func TestInTxCommits(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)
	players := NewPlayerRepository(db, zerolog.Nop())

	err := InTx(ctx, db, func(tx *sql.Tx) error {
		_, err := players.WithTx(tx).Create(ctx, "zezima", "Zezima")
		return err
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if _, err := players.GetByUsername(ctx, "zezima"); err != nil {
		t.Errorf("committed row missing: %v", err)
	}
}
