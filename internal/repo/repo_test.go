package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"devmatch/internal/db"
	"devmatch/internal/domain"
	"devmatch/internal/migrate"
	"devmatch/internal/repo"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := r.UpsertSkill(ctx, domain.Skill{ID: "go", Name: "Go"}); err != nil {
		t.Fatal(err)
	}
	for _, d := range []domain.Developer{
		{ID: "d1", UserID: "u1", Level: domain.LevelMid, ApprovalStatus: domain.ApprovalApproved, Availability: domain.AvailabilityAvailable, SkillYears: map[string]int{"go": 2}},
		{ID: "d2", UserID: "u2", Level: domain.LevelMid, ApprovalStatus: domain.ApprovalApproved, Availability: domain.AvailabilityBusy, SkillYears: map[string]int{"go": 2}},
		{ID: "d3", UserID: "client", Level: domain.LevelExpert, ApprovalStatus: domain.ApprovalApproved, Availability: domain.AvailabilityAvailable, SkillYears: map[string]int{"go": 9}},
	} {
		if err := r.UpsertDeveloper(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.InsertProject(ctx, domain.Project{ID: "p1", ClientID: "client", Status: domain.ProjectStatusSubmitted, SkillIDs: []string{"go"}, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatal(err)
	}
	return r
}

func withTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func seedBatch(t *testing.T, r repo.Repo, devs ...string) domain.AssignmentBatch {
	t.Helper()
	ctx := context.Background()
	b := domain.AssignmentBatch{ID: "b1", ProjectID: "p1", BatchNumber: 1, Status: domain.BatchActive, Selection: domain.LevelCounts{Mid: len(devs)}, CreatedAt: t0, UpdatedAt: t0}
	withTx(t, r, func(tx *sql.Tx) {
		if err := r.InsertBatchTx(ctx, tx, b); err != nil {
			t.Fatalf("insert batch: %v", err)
		}
		for _, d := range devs {
			if err := r.InsertCandidateTx(ctx, tx, domain.AssignmentCandidate{
				ID: "c-" + d, BatchID: b.ID, ProjectID: "p1", DeveloperID: d, SkillID: "go",
				Level: domain.LevelMid, SourceLevel: domain.LevelMid, ResponseStatus: domain.ResponsePending,
				AssignedAt: t0, AcceptanceDeadline: t0.Add(15 * time.Minute), StatusText: domain.ResponsePending.StatusText(),
			}); err != nil {
				t.Fatalf("insert candidate: %v", err)
			}
		}
	})
	return b
}

func TestGetProjectNotFound(t *testing.T) {
	r := newRepo(t)
	if _, err := r.GetProject(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEligibleMembersFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	filter := repo.EligibleFilter{
		SkillIDs:       []string{"go"},
		ApprovalStatus: domain.ApprovalApproved,
		Availability:   []string{domain.AvailabilityAvailable, domain.AvailabilityChecking},
		ExcludeUserID:  "client",
	}
	withTx(t, r, func(tx *sql.Tx) {
		members, err := r.EligibleMembersTx(ctx, tx, filter)
		if err != nil {
			t.Fatalf("eligible: %v", err)
		}
		if len(members) != 1 || members[0].DeveloperID != "d1" {
			t.Fatalf("expected only d1, got %+v", members)
		}
	})

	seedBatch(t, r, "d1")
	withTx(t, r, func(tx *sql.Tx) {
		members, err := r.EligibleMembersTx(ctx, tx, filter)
		if err != nil {
			t.Fatalf("eligible: %v", err)
		}
		if len(members) != 0 {
			t.Fatalf("developer with a pending offer must be excluded, got %+v", members)
		}
	})
}

func TestConditionalUpdatesReportLostRaces(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	b := seedBatch(t, r, "d1", "d2")
	withTx(t, r, func(tx *sql.Tx) {
		ok, err := r.RespondTx(ctx, tx, "c-d1", domain.ResponseAccepted, true, t0.Add(time.Minute), 60)
		if err != nil || !ok {
			t.Fatalf("first respond: %v %v", ok, err)
		}
		ok, err = r.RespondTx(ctx, tx, "c-d1", domain.ResponseRejected, false, t0.Add(2*time.Minute), 120)
		if err != nil || ok {
			t.Fatalf("second respond must lose: %v %v", ok, err)
		}
		ok, err = r.TransitionBatchTx(ctx, tx, b.ID, domain.BatchActive, domain.BatchCompleted, t0)
		if err != nil || !ok {
			t.Fatalf("transition: %v %v", ok, err)
		}
		ok, err = r.TransitionBatchTx(ctx, tx, b.ID, domain.BatchActive, domain.BatchCompleted, t0)
		if err != nil || ok {
			t.Fatalf("second transition must lose: %v %v", ok, err)
		}
		statuses := []string{domain.ProjectStatusSubmitted, domain.ProjectStatusAssigning}
		ok, err = r.ClaimProjectTx(ctx, tx, "p1", "d1", statuses, t0)
		if err != nil || !ok {
			t.Fatalf("claim: %v %v", ok, err)
		}
		ok, err = r.ClaimProjectTx(ctx, tx, "p1", "d2", statuses, t0)
		if err != nil || ok {
			t.Fatalf("second claim must lose: %v %v", ok, err)
		}
	})
	p, _ := r.GetProject(ctx, "p1")
	if p.Status != domain.ProjectStatusAccepted || p.ContactRevealedDeveloperID == nil || *p.ContactRevealedDeveloperID != "d1" {
		t.Fatalf("unexpected project %+v", p)
	}
	c, _ := r.GetCandidate(ctx, "c-d1")
	if c.StatusText != "Developer accepted" || c.ResponseSeconds == nil || *c.ResponseSeconds != 60 {
		t.Fatalf("unexpected candidate %+v", c)
	}
}

func TestSingleWinnerIndex(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedBatch(t, r, "d1", "d2")
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if ok, err := r.RespondTx(ctx, tx, "c-d1", domain.ResponseAccepted, true, t0, 0); err != nil || !ok {
		t.Fatalf("first winner: %v %v", ok, err)
	}
	if _, err := r.RespondTx(ctx, tx, "c-d2", domain.ResponseAccepted, true, t0, 0); err == nil {
		t.Fatalf("a second winner for the project must violate the unique index")
	}
}

func TestInvalidateAndCursors(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	b := seedBatch(t, r, "d1", "d2")
	withTx(t, r, func(tx *sql.Tx) {
		ids, err := r.InvalidatePendingTx(ctx, tx, b.ID)
		if err != nil {
			t.Fatalf("invalidate: %v", err)
		}
		if len(ids) != 2 {
			t.Fatalf("expected 2 invalidated, got %v", ids)
		}
		if err := r.AdvanceCursorTx(ctx, tx, "go", domain.LevelMid, "d1", t0); err != nil {
			t.Fatal(err)
		}
		if err := r.AdvanceCursorTx(ctx, tx, "go", domain.LevelMid, "d2", t0.Add(time.Second)); err != nil {
			t.Fatal(err)
		}
		cursors, err := r.CursorsTx(ctx, tx, []string{"go"})
		if err != nil {
			t.Fatal(err)
		}
		if cursors["go"][domain.LevelMid] != "d2" {
			t.Fatalf("cursor not advanced: %+v", cursors)
		}
	})
	c, _ := r.GetCandidate(ctx, "c-d2")
	if c.ResponseStatus != domain.ResponseInvalidated || c.RespondedAt != nil || c.StatusText != "Offer withdrawn" {
		t.Fatalf("unexpected invalidated candidate %+v", c)
	}
	tally, err := r.CountByResponse(ctx, b.ID)
	if err != nil || tally[domain.ResponseInvalidated] != 2 {
		t.Fatalf("tally: %v %v", tally, err)
	}
	cursors, _ := r.ListCursors(ctx)
	if len(cursors) != 1 || cursors[0].LastDeveloperID != "d2" {
		t.Fatalf("unexpected cursors %+v", cursors)
	}
}
