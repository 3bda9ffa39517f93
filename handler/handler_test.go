package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"skuld/artifact"
	"skuld/config"
	"skuld/hub"
	"skuld/model"
	"skuld/saga"
	"skuld/store"
)

type fakeStore struct {
	runs    []model.PipelineRun
	targets map[string]*model.DeploymentTarget
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (*model.PipelineRun, error) {
	for i := range f.runs {
		if f.runs[i].ID == id {
			return &f.runs[i], nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) ListRuns(ctx context.Context, target string, limit int) ([]model.PipelineRun, error) {
	var out []model.PipelineRun
	for _, r := range f.runs {
		if target == "" || r.Target == target {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTarget(ctx context.Context, name string) (*model.DeploymentTarget, error) {
	t, ok := f.targets[name]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) ListTargets(ctx context.Context) ([]model.DeploymentTarget, error) {
	var out []model.DeploymentTarget
	for _, t := range f.targets {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) GetDailyStats(ctx context.Context) (*store.DailyStats, error) {
	return &store.DailyStats{Total: len(f.runs)}, nil
}

func (f *fakeStore) Healthy(ctx context.Context) error { return nil }

type triggerCall struct {
	target, arg string
	kind        string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []triggerCall
	done  chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{done: make(chan struct{}, 8)}
}

func (f *fakeRunner) record(kind, target, arg string) {
	f.mu.Lock()
	f.calls = append(f.calls, triggerCall{target: target, arg: arg, kind: kind})
	f.mu.Unlock()
	f.done <- struct{}{}
}

func (f *fakeRunner) Execute(ctx context.Context, target, revision string) (*model.PipelineRun, error) {
	f.record("deploy", target, revision)
	return &model.PipelineRun{Target: target, Revision: revision, Status: model.RunSucceeded}, nil
}

func (f *fakeRunner) Redeploy(ctx context.Context, target, version string) (*model.PipelineRun, error) {
	f.record("rollback", target, version)
	return &model.PipelineRun{Target: target, ArtifactVersion: version, Status: model.RunRolledBack}, nil
}

func (f *fakeRunner) wait(t *testing.T, n int) []triggerCall {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for trigger %d of %d", i+1, n)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]triggerCall(nil), f.calls...)
}

func newTestHandler(t *testing.T, db *fakeStore, runner *fakeRunner) *Handler {
	t.Helper()
	if db == nil {
		db = &fakeStore{targets: map[string]*model.DeploymentTarget{}}
	}
	if runner == nil {
		runner = newFakeRunner()
	}
	ws := hub.New(nil)
	go ws.Run()
	cfg := &config.Config{WebhookSecret: "hook-secret"}
	return New(db, runner, artifact.NewMemoryStore(), saga.NewMemoryStore(), ws, cfg)
}

func testRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/{provider}", h.Webhook)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/events", h.GetRunEvents)
		r.Get("/targets", h.ListTargets)
		r.Route("/targets/{name}", func(r chi.Router) {
			r.Use(ValidateTargetName)
			r.Get("/", h.GetTarget)
			r.Post("/deploy", h.Deploy)
			r.Post("/rollback", h.Rollback)
		})
		r.Get("/health", h.Health)
	})
	return r
}

func testTarget(name string) *model.DeploymentTarget {
	return &model.DeploymentTarget{
		Name:          name,
		Host:          name + ".internal",
		ServiceName:   "app",
		InstallPath:   "/opt/app/app",
		HealthURL:     "http://" + name + ".internal:8080/healthz",
		CredentialRef: "deploy/" + name,
	}
}

func TestDeployUnknownTarget(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/nope/deploy", strings.NewReader(`{"revision":"abc1234"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestDeployTriggersRun(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{"web-1": testTarget("web-1")}}
	runner := newFakeRunner()
	h := newTestHandler(t, db, runner)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/web-1/deploy", strings.NewReader(`{"revision":"abc1234"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}

	calls := runner.wait(t, 1)
	if calls[0].kind != "deploy" || calls[0].target != "web-1" || calls[0].arg != "abc1234" {
		t.Errorf("unexpected trigger: %+v", calls[0])
	}
}

func TestDeployDefaultsRevision(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{"web-1": testTarget("web-1")}}
	runner := newFakeRunner()
	h := newTestHandler(t, db, runner)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/web-1/deploy", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	calls := runner.wait(t, 1)
	if calls[0].arg != "HEAD" {
		t.Errorf("revision = %q, want HEAD", calls[0].arg)
	}
}

func TestRollbackResolvesPriorVersion(t *testing.T) {
	target := testTarget("web-1")
	target.ActiveVersion = "abc1234-deadbeef0000"
	db := &fakeStore{
		targets: map[string]*model.DeploymentTarget{"web-1": target},
		runs: []model.PipelineRun{
			{ID: "r2", Target: "web-1", ArtifactVersion: "abc1234-deadbeef0000", PriorVersion: "0000abc-cafecafe1111", Status: model.RunSucceeded},
			{ID: "r1", Target: "web-1", ArtifactVersion: "0000abc-cafecafe1111", Status: model.RunSucceeded},
		},
	}
	runner := newFakeRunner()
	h := newTestHandler(t, db, runner)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/web-1/rollback", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}

	calls := runner.wait(t, 1)
	if calls[0].kind != "rollback" || calls[0].arg != "0000abc-cafecafe1111" {
		t.Errorf("unexpected trigger: %+v", calls[0])
	}
}

func TestRollbackWithoutActiveVersion(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{"web-1": testTarget("web-1")}}
	h := newTestHandler(t, db, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/web-1/rollback", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestRollbackWithoutPriorVersion(t *testing.T) {
	target := testTarget("web-1")
	target.ActiveVersion = "abc1234-deadbeef0000"
	db := &fakeStore{
		targets: map[string]*model.DeploymentTarget{"web-1": target},
		runs: []model.PipelineRun{
			{ID: "r1", Target: "web-1", ArtifactVersion: "abc1234-deadbeef0000", Status: model.RunSucceeded},
		},
	}
	h := newTestHandler(t, db, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/targets/web-1/rollback", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestListRunsEmptyIsArray(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/runs", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestGetRunNotFound(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/runs/missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestValidateTargetName(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/targets/Bad_Name!/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func signGithub(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{"web-1": testTarget("web-1")}}
	h := newTestHandler(t, db, nil)
	router := testRouter(h)

	body := []byte(`{"ref":"refs/heads/main","after":"abc1234"}`)
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", "sha256=0000")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestWebhookIgnoresNonPush(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{"web-1": testTarget("web-1")}}
	h := newTestHandler(t, db, nil)
	router := testRouter(h)

	body := []byte(`{"zen":"keep it logically awesome"}`)
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "ping")
	req.Header.Set("X-Hub-Signature-256", signGithub("hook-secret", body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp["ignored"] {
		t.Error("expected ignored=true for non-push event")
	}
}

func TestWebhookPushDeploysAllTargets(t *testing.T) {
	db := &fakeStore{targets: map[string]*model.DeploymentTarget{
		"web-1": testTarget("web-1"),
		"web-2": testTarget("web-2"),
	}}
	runner := newFakeRunner()
	h := newTestHandler(t, db, runner)
	router := testRouter(h)

	body := []byte(`{"ref":"refs/heads/main","after":"abc1234def"}`)
	req := httptest.NewRequest("POST", "/api/webhooks/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", "push")
	req.Header.Set("X-Hub-Signature-256", signGithub("hook-secret", body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rr.Code, rr.Body.String())
	}

	calls := runner.wait(t, 2)
	seen := map[string]bool{}
	for _, c := range calls {
		if c.kind != "deploy" || c.arg != "abc1234def" {
			t.Errorf("unexpected trigger: %+v", c)
		}
		seen[c.target] = true
	}
	if !seen["web-1"] || !seen["web-2"] {
		t.Errorf("expected deploys for both targets, got %v", seen)
	}
}

func TestWebhookUnsupportedProvider(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/webhooks/bitbucket", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, nil, nil)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}
