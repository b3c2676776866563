package devmatchsdk_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"devmatch/internal/config"
	"devmatch/internal/db"
	"devmatch/internal/domain"
	"devmatch/internal/engine"
	"devmatch/internal/migrate"
	"devmatch/internal/server"
	devmatchsdk "devmatch/sdk/go"
)

func startServer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), zap.NewNop())
	if err := e.Repo.UpsertSkill(ctx, domain.Skill{ID: "go", Name: "Go"}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("f-%02d", i)
		if err := e.Repo.UpsertDeveloper(ctx, domain.Developer{
			ID: id, UserID: "u-" + id, Level: domain.LevelFresher,
			ApprovalStatus: domain.ApprovalApproved, Availability: domain.AvailabilityAvailable,
			SkillYears: map[string]int{"go": 1},
		}); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	if err := e.Repo.InsertProject(ctx, domain.Project{
		ID: "p1", ClientID: "client-1", Status: domain.ProjectStatusSubmitted,
		SkillIDs: []string{"go"}, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{JWTSecret: "sdk-secret", AllowLegacyUserHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	return "http://" + ln.Addr().String()
}

func asUser(baseURL, userID string) *devmatchsdk.Client {
	c := devmatchsdk.New(baseURL, "")
	c.UserID = userID
	return c
}

func TestClientRoundTrip(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()

	res, err := asUser(baseURL, "client-1").GenerateBatch(ctx, "p1", &devmatchsdk.LevelCounts{Fresher: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Candidates) != 2 || res.Batch.BatchNumber != 1 {
		t.Fatalf("unexpected batch %+v", res)
	}

	dev := asUser(baseURL, "u-f-02")
	offers, err := dev.MyOffers(ctx, "pending")
	if err != nil {
		t.Fatalf("offers: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("expected one offer, got %d", len(offers))
	}
	out, err := dev.Reject(ctx, offers[0].ID)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if out.Candidate.ResponseStatus != "rejected" || out.Candidate.StatusText != "Developer declined" {
		t.Fatalf("unexpected reject result %+v", out.Candidate)
	}

	_, err = dev.Accept(ctx, offers[0].ID)
	var apiErr *devmatchsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "invalid_response_status" || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected invalid_response_status, got %v", err)
	}

	view, err := asUser(baseURL, "client-1").CurrentBatch(ctx, "p1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if view.Batch.ID != res.Batch.ID || view.Project.Status != "assigning" {
		t.Fatalf("unexpected view %+v", view)
	}

	events, err := asUser(baseURL, "client-1").Events(ctx, "p1", "candidate.rejected", 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].ActorID != "u-f-02" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestClientRefreshReusesSelection(t *testing.T) {
	baseURL := startServer(t)
	ctx := context.Background()
	client := asUser(baseURL, "client-1")

	if _, err := client.GenerateBatch(ctx, "p1", &devmatchsdk.LevelCounts{Fresher: 1}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	res, err := client.RefreshBatch(ctx, "p1", nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Batch.BatchNumber != 2 || res.Batch.Selection.Fresher != 1 || len(res.Invalidated) != 1 {
		t.Fatalf("unexpected refresh %+v", res)
	}
}

func TestClientExpireRequiresAdmin(t *testing.T) {
	baseURL := startServer(t)
	_, err := asUser(baseURL, "client-1").ExpireDue(context.Background())
	var apiErr *devmatchsdk.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
