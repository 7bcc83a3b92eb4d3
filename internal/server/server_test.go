package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/config"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/db"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/domain"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/engine"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/migrate"
	"github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/internal/orchestrator"
	timetablesdk "github.com/Harjotraith04/Time-Table-Generation-AI-Tool-sub001/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Server.Simulation.QueueDelay = 0
	cfg.Server.Simulation.PhaseDuration = 10 * time.Millisecond
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevLogin: true},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

func login(t *testing.T, srv *testServer, actor string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]string{"actor_id": actor}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var out DevLoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func markAllCompleted(t *testing.T, srv *testServer, headers map[string]string) domain.ValidationSnapshot {
	t.Helper()
	var snap domain.ValidationSnapshot
	for _, d := range domain.ValidationDomains {
		res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/validation/"+string(d), map[string]any{
			"status": "completed",
			"count":  4,
		}, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("set %s status %d: %s", d, res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			t.Fatalf("unmarshal snapshot: %v", err)
		}
	}
	return snap
}

func generationBody(algorithm string) map[string]any {
	return map[string]any{
		"name":          "Fall 2026 CS",
		"academic_year": "2026-2027",
		"semester":      "fall",
		"department":    "CS",
		"year":          2,
		"settings": map[string]any{
			"algorithm":          algorithm,
			"max_iterations":     1000,
			"population_size":    100,
			"crossover_rate":     0.8,
			"mutation_rate":      0.1,
			"optimization_goals": []string{"minimize_gaps"},
			"working_week": map[string]any{
				"days":                  []string{"monday", "tuesday"},
				"start_time":            "09:00",
				"end_time":              "17:00",
				"slot_duration_minutes": 60,
				"breaks":                []map[string]string{{"start": "12:00", "end": "13:00"}},
			},
			"allow_back_to_back":     true,
			"enforce_breaks":         true,
			"balance_workload":       true,
			"prioritize_preferences": false,
		},
	}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error
}

func TestHealthIsPublicAndRestRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/validation", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/validation", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "invalid_credentials" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestValidationBecomesReady(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/validation", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validation status %d: %s", res.StatusCode, string(data))
	}
	var snap domain.ValidationSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Overall.Ready {
		t.Fatalf("fresh service should not be ready")
	}
	if len(snap.Domains) != len(domain.ValidationDomains) {
		t.Fatalf("expected every domain reported, got %d", len(snap.Domains))
	}

	snap = markAllCompleted(t, srv, headers)
	if !snap.Overall.Ready {
		t.Fatalf("expected ready after completing every domain: %+v", snap)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/validation/courses", map[string]any{
		"status": "completed",
		"count":  4,
		"issues": []map[string]string{{"code": "overlap", "message": "two sections share a room", "severity": "error"}},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set courses status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Overall.Ready {
		t.Fatalf("blocking issue should close the gate")
	}
	if got := snap.Domains[domain.DomainCourses].Issues.Count; got != 1 {
		t.Fatalf("expected 1 issue on courses, got %d", got)
	}
}

func TestSetDomainRejectsUnknownDomain(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/validation/parking", map[string]any{"status": "completed"}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestGenerateRequiresReadiness(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/timetables/generate", generationBody("genetic"), headers)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	body := decodeError(t, data)
	if body.Code != "not_ready" {
		t.Fatalf("unexpected code %q", body.Code)
	}
	blocking, ok := body.Details["blocking"].([]any)
	if !ok || len(blocking) != len(domain.ValidationDomains) {
		t.Fatalf("expected every domain blocking, got %v", body.Details)
	}
}

func TestGenerateRejectsBadSettings(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")
	markAllCompleted(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/timetables/generate", generationBody("quantum"), headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	body := decodeError(t, data)
	if body.Details["field"] != "settings.algorithm" {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestGenerateAndPollJob(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")
	markAllCompleted(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/timetables/generate", generationBody("genetic"), headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("generate status %d: %s", res.StatusCode, string(data))
	}
	var submitted SubmitResponse
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if submitted.JobID == "" || submitted.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected submit response %+v", submitted)
	}

	deadline := time.Now().Add(5 * time.Second)
	var job domain.GenerationJob
	for time.Now().Before(deadline) {
		res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/"+submitted.JobID, nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("job status %d: %s", res.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &job); err != nil {
			t.Fatalf("unmarshal job: %v", err)
		}
		if job.Status.Terminal() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed job, got %+v", job)
	}
	if job.CreatedBy != "registrar" {
		t.Fatalf("expected job attributed to registrar, got %q", job.CreatedBy)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs?status=completed", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list jobs status %d: %s", res.StatusCode, string(data))
	}
	var list JobListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != submitted.JobID {
		t.Fatalf("unexpected job list %+v", list.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs?status=running", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list running jobs status %d: %s", res.StatusCode, string(data))
	}
	list = JobListResponse{}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal running list: %v", err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("expected no running jobs, got %+v", list.Items)
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs/missing", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if body := decodeError(t, data); body.Code != "not_found" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	_, secret, err := srv.Engine.CreateAPIKey(context.Background(), "scheduler-bot", "ci")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/algorithms", nil, map[string]string{"X-Api-Key": secret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("algorithms status %d: %s", res.StatusCode, string(data))
	}
	var algos AlgorithmListResponse
	if err := json.Unmarshal(data, &algos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(algos.Items) == 0 {
		t.Fatalf("expected algorithms")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/algorithms", nil, map[string]string{"X-Api-Key": "ttg_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "registrar")
	markAllCompleted(t, srv, headers)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=4&type=validation.domain_updated", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page EventListResponse
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(page.Items) != 4 || page.NextCursor == "" {
		t.Fatalf("expected full first page with cursor, got %d items cursor %q", len(page.Items), page.NextCursor)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=4&type=validation.domain_updated&cursor="+page.NextCursor, nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next EventListResponse
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(next.Items) != len(domain.ValidationDomains)-4 || next.NextCursor != "" {
		t.Fatalf("unexpected second page: %d items cursor %q", len(next.Items), next.NextCursor)
	}
	if next.Items[0].ID >= page.Items[len(page.Items)-1].ID {
		t.Fatalf("pages overlap")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d: %s", res.StatusCode, string(data))
	}
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, string(data))
	}
	if !strings.Contains(string(data), "/v0/timetables/generate") {
		t.Fatalf("openapi missing generate route")
	}
}

func TestOrchestratorAgainstService(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client := timetablesdk.New(srv.URL)
	token, err := client.DevLogin(ctx, "registrar")
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	client.BearerToken = token

	snap, err := client.FetchValidationSnapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	orch := orchestrator.New(client, orchestrator.Options{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})
	req := domain.GenerationRequest{
		Name: "Spring timetable",
		Settings: domain.RequestSettings{
			Algorithm:         "simulated_annealing",
			MaxIterations:     500,
			OptimizationGoals: []string{},
			WorkingWeek:       domain.WorkingWeek{Days: []string{"monday"}, StartTime: "09:00", EndTime: "12:00", SlotDuration: 60},
		},
	}
	if _, err := orch.RequestGeneration(ctx, req, snap); err == nil {
		t.Fatalf("expected readiness gate to block")
	}

	for _, d := range domain.ValidationDomains {
		if snap, err = client.SetDomain(ctx, d, timetablesdk.DomainUpdate{Status: domain.DomainStatusCompleted, Count: 2}); err != nil {
			t.Fatalf("set %s: %v", d, err)
		}
	}
	jobID, err := orch.RequestGeneration(ctx, req, snap)
	if err != nil {
		t.Fatalf("request generation: %v", err)
	}
	view, err := orch.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if view.State != orchestrator.StateCompleted || view.JobID != jobID {
		t.Fatalf("unexpected final view %+v", view)
	}
	if view.Message != orchestrator.MessageCompleted || view.Progress.Percent != 100 {
		t.Fatalf("unexpected completion view %+v", view)
	}
}

func TestOrchestratorReportsDraftAsFailure(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client := timetablesdk.New(srv.URL)
	token, err := client.DevLogin(ctx, "registrar")
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	client.BearerToken = token
	var snap domain.ValidationSnapshot
	for _, d := range domain.ValidationDomains {
		if snap, err = client.SetDomain(ctx, d, timetablesdk.DomainUpdate{Status: domain.DomainStatusCompleted, Count: 1}); err != nil {
			t.Fatalf("set %s: %v", d, err)
		}
	}
	orch := orchestrator.New(client, orchestrator.Options{Interval: 10 * time.Millisecond, Timeout: 5 * time.Second})
	req := domain.GenerationRequest{
		Name: "Tiny budget",
		Settings: domain.RequestSettings{
			Algorithm:         "simulated_annealing",
			MaxIterations:     1,
			OptimizationGoals: []string{},
			WorkingWeek:       domain.WorkingWeek{Days: []string{"monday"}, StartTime: "09:00", EndTime: "12:00", SlotDuration: 60},
		},
	}
	if _, err := orch.RequestGeneration(ctx, req, snap); err != nil {
		t.Fatalf("request generation: %v", err)
	}
	view, err := orch.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if view.State != orchestrator.StateFailed || view.JobStatus != domain.JobStatusDraft {
		t.Fatalf("expected draft to fail, got %+v", view)
	}
}

func TestWebhookDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []*http.Request
		bodies   []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, r)
		bodies = append(bodies, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	// Events recorded before the dispatcher starts are not delivered.
	if _, err := srv.Engine.SetDomain(ctx, domain.DomainTeachers, domain.DomainState{Status: domain.DomainStatusPending}, "registrar"); err != nil {
		t.Fatalf("set domain: %v", err)
	}
	d := newWebhookDispatcher(srv.Engine, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"validation.*"}, Secret: "s3cret"},
	}, nil)
	if d == nil {
		t.Fatalf("expected dispatcher")
	}
	d.dispatchAll(ctx)

	if _, err := srv.Engine.SetDomain(ctx, domain.DomainCourses, domain.DomainState{Status: domain.DomainStatusCompleted, Count: 9}, "registrar"); err != nil {
		t.Fatalf("set domain: %v", err)
	}
	if _, _, err := srv.Engine.CreateAPIKey(ctx, "registrar", "filtered"); err != nil {
		t.Fatalf("create api key: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(bodies))
	}
	if bodies[0].EntityID != string(domain.DomainCourses) || bodies[0].Type != "validation.domain_updated" {
		t.Fatalf("unexpected delivery %+v", bodies[0])
	}
	if received[0].Header.Get("X-Ttgen-Secret") != "s3cret" || received[0].Header.Get("X-Ttgen-Event") != "validation.domain_updated" {
		t.Fatalf("missing webhook headers: %v", received[0].Header)
	}
}

func TestWebhookDispatcherSkipsDisabledHooks(t *testing.T) {
	off := false
	if d := newWebhookDispatcher(engine.Engine{}, []config.WebhookConfig{{URL: "http://example.invalid", Enabled: &off}}, nil); d != nil {
		t.Fatalf("expected no dispatcher for disabled hooks")
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"job.completed", "validation.*", " "})
	for evt, want := range map[string]bool{
		"job.completed":             true,
		"job.failed":                false,
		"validation.domain_updated": true,
		"api_key.created":           false,
	} {
		if got := f.match(evt); got != want {
			t.Fatalf("match(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match everything")
	}
}
