package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"devmatch/internal/config"
	"devmatch/internal/db"
	"devmatch/internal/domain"
	"devmatch/internal/engine"
	"devmatch/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	engine engine.Engine
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default(), zap.NewNop())
	seedDirectory(t, e)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyUserHeader: true},
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
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		engine: e,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedDirectory(t *testing.T, e engine.Engine) {
	t.Helper()
	ctx := context.Background()
	for _, s := range []string{"go", "rust"} {
		if err := e.Repo.UpsertSkill(ctx, domain.Skill{ID: s, Name: s}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("m-%02d", i)
		if err := e.Repo.UpsertDeveloper(ctx, domain.Developer{
			ID:             id,
			UserID:         "u-" + id,
			Level:          domain.LevelMid,
			ApprovalStatus: domain.ApprovalApproved,
			Availability:   domain.AvailabilityAvailable,
			SkillYears:     map[string]int{"go": 3},
		}); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now()
	for _, p := range []domain.Project{
		{ID: "p1", ClientID: "client-1", Status: domain.ProjectStatusSubmitted, SkillIDs: []string{"go"}, CreatedAt: now, UpdatedAt: now},
		{ID: "p2", ClientID: "client-1", Status: domain.ProjectStatusSubmitted, SkillIDs: []string{"rust"}, CreatedAt: now, UpdatedAt: now},
	} {
		if err := e.Repo.InsertProject(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func bearer(t *testing.T, sub string, roles ...string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, sub, roles...)}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p1/batches", map[string]any{"mid": 2}, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p1/batches", map[string]any{"mid": 2},
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d %s", res.StatusCode, string(body))
	}
}

func TestGenerateAcceptFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p1/batches", map[string]any{"mid": 2}, bearer(t, "someone-else"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign client, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p1/batches", map[string]any{"mid": 2}, bearer(t, "client-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate: %d %s", res.StatusCode, string(body))
	}
	var generated BatchResultResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		t.Fatalf("unmarshal batch: %v", err)
	}
	if len(generated.Candidates) != 2 || generated.Project.Status != domain.ProjectStatusAssigning ||
		generated.Batch.Selection != (LevelCountsRequest{Mid: 2}) {
		t.Fatalf("unexpected batch %+v", generated)
	}
	winner, sibling := generated.Candidates[0], generated.Candidates[1]

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/candidates/"+winner.ID+"/accept", nil, bearer(t, "u-"+sibling.DeveloperID))
	if res.StatusCode != http.StatusForbidden || errorCode(t, body) != "not_your_assignment" {
		t.Fatalf("expected not_your_assignment, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/candidates/"+winner.ID+"/accept", nil, bearer(t, "u-"+winner.DeveloperID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(body))
	}
	var accepted CandidateResultResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if !accepted.Candidate.IsFirstAccepted || accepted.Project.Status != domain.ProjectStatusAccepted || !accepted.Project.ContactRevealEnabled {
		t.Fatalf("unexpected accept result %+v", accepted)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/candidates/"+sibling.ID+"/accept", nil, bearer(t, "u-"+sibling.DeveloperID))
	if res.StatusCode != http.StatusConflict || errorCode(t, body) != "batch_not_active" {
		t.Fatalf("expected batch_not_active, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/p1/batches/current", nil, bearer(t, "client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("current batch: %d %s", res.StatusCode, string(body))
	}
	var view BatchViewResponse
	_ = json.Unmarshal(body, &view)
	if view.Batch.Status != string(domain.BatchCompleted) || len(view.Candidates) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/p1/events?type=project.accepted", nil, bearer(t, "client-1"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"project.accepted"`) {
		t.Fatalf("events: %d %s", res.StatusCode, string(body))
	}
}

func TestErrorKindsMapToStatuses(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p2/batches", nil, bearer(t, "client-1"))
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, body) != "no_eligible_candidates" {
		t.Fatalf("expected no_eligible_candidates, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/candidates/missing/reject", nil, bearer(t, "u-m-01"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, body) != "candidate_not_found" {
		t.Fatalf("expected candidate_not_found, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/nope/batches/current", nil, bearer(t, "admin", RoleAdmin))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(body))
	}
}

func TestOffersAndMaintenance(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/p1/batches", nil, map[string]string{"X-User-Id": "client-1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate with legacy header: %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me/offers?status=pending", nil, bearer(t, "u-m-02"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("offers: %d %s", res.StatusCode, string(body))
	}
	var offers []CandidateResponse
	if err := json.Unmarshal(body, &offers); err != nil {
		t.Fatalf("unmarshal offers: %v", err)
	}
	if len(offers) != 1 || offers[0].DeveloperID != "m-02" || offers[0].StatusText != "Awaiting developer response" {
		t.Fatalf("unexpected offers %+v", offers)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/maintenance/expire", nil, bearer(t, "client-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without admin role, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/maintenance/expire", nil, bearer(t, "ops", RoleAdmin))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expire: %d %s", res.StatusCode, string(body))
	}
	var expired ExpireResponse
	_ = json.Unmarshal(body, &expired)
	if expired.Expired != 0 {
		t.Fatalf("nothing is due yet, got %d", expired.Expired)
	}
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "devmatch_http_requests_total") {
		t.Fatalf("metrics: %d", res.StatusCode)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "/v1/candidates/{candidate_id}/accept") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	bodies := make([][]byte, 8)
	var g errgroup.Group
	for i := range bodies {
		g.Go(func() error {
			res, err := client.Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.StatusCode != http.StatusOK {
				return fmt.Errorf("openapi: %d", res.StatusCode)
			}
			bodies[i], err = io.ReadAll(res.Body)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for i, b := range bodies {
		if len(b) == 0 || !bytes.Equal(b, bodies[0]) {
			t.Fatalf("response %d differs from the first document", i)
		}
	}
}
