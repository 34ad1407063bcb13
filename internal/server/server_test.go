package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/assetstage/assetstage/internal/auth"
	"github.com/assetstage/assetstage/internal/config"
	"github.com/assetstage/assetstage/internal/metrics"
	"github.com/assetstage/assetstage/internal/pipeline"
	"github.com/assetstage/assetstage/internal/registry"
	"github.com/assetstage/assetstage/internal/storage"
)

func init() {
	// Register metrics once for the entire test binary so that tests
	// checking /metrics output see the expected collectors.
	metrics.Register()
}

const testSecret = "server-test-secret"

// testEnv bundles a server with the in-memory backends behind it.
type testEnv struct {
	srv   *Server
	store *storage.MemoryBackend
	reg   registry.Registry
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Issuer = "accounts"
	cfg.Server.CORSOrigins = []string{"https://shop.example.com"}
	return cfg
}

// newTestEnv creates a Server over a memory store and registry.
func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	return newTestEnvWithRegistry(t, cfg, registry.NewMemoryRegistry())
}

func newTestEnvWithRegistry(t *testing.T, cfg *config.Config, reg registry.Registry) *testEnv {
	t.Helper()
	store := storage.NewMemoryBackend("assets")
	p := pipeline.New(store, reg, pipeline.ConfigFrom(cfg.Pipeline))
	srv, err := New(cfg, p, WithObjectStore(store), WithRegistry(reg))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return &testEnv{srv: srv, store: store, reg: reg}
}

func token(t *testing.T, role string) string {
	t.Helper()
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-" + strings.ToLower(role),
			Issuer:    "accounts",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

// testRequest performs a request against the full middleware chain. An
// empty role sends no Authorization header.
func testRequest(t *testing.T, env *testEnv, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, role))
	}
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
}

// failingRegistry is a MemoryRegistry whose Ping always fails.
type failingRegistry struct {
	*registry.MemoryRegistry
}

func (failingRegistry) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

// leakyRegistry fails every claim with an error carrying backend detail.
type leakyRegistry struct {
	*registry.MemoryRegistry
}

func (leakyRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	return errors.New("dial tcp 10.0.4.17:6379: NOAUTH password=hunter2")
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := config.DefaultConfig()
	p := pipeline.New(storage.NewMemoryBackend("b"), registry.NewMemoryRegistry(), pipeline.ConfigFrom(cfg.Pipeline))
	if _, err := New(cfg, p); err == nil {
		t.Fatal("New() should fail without a JWT secret")
	}
	if _, err := New(testConfig(), nil); err == nil {
		t.Fatal("New() should fail without a pipeline")
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env, "GET", "/health", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("GET /health Content-Type = %q, want application/json", ct)
	}

	var body HealthBody
	decode(t, rec, &body)
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"storage", "registry"} {
		if body.Checks[name].Status != "ok" {
			t.Errorf("%s check = %+v", name, body.Checks[name])
		}
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	env := newTestEnvWithRegistry(t, testConfig(), failingRegistry{registry.NewMemoryRegistry()})
	rec := testRequest(t, env, "GET", "/health", "", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health status = %d, want 503", rec.Code)
	}
	var body HealthBody
	decode(t, rec, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if c := body.Checks["registry"]; c.Status != "error" || !strings.Contains(c.Error, "connection refused") {
		t.Errorf("registry check = %+v", c)
	}
}

func TestHealthCheckDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.HealthCheck = false
	env := newTestEnvWithRegistry(t, cfg, failingRegistry{registry.NewMemoryRegistry()})

	rec := testRequest(t, env, "GET", "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if _, ok := body["checks"]; ok {
		t.Error("checks should be omitted when health checks are disabled")
	}
}

func TestHealthHeadEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env, "HEAD", "/health", "", "")

	if rec.Code != http.StatusOK {
		t.Errorf("HEAD /health status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestCommonHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env, "GET", "/health", "", "")

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}
	if rec.Header().Get("Server") != "assetstage" {
		t.Errorf("Server = %q", rec.Header().Get("Server"))
	}
	if rec.Header().Get("Date") == "" {
		t.Error("missing Date")
	}
}

func TestOpenAPIEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	rec := testRequest(t, env, "GET", "/openapi.json", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /openapi.json status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decode(t, rec, &body)
	if body.OpenAPI == "" {
		t.Error("missing openapi version")
	}
	for _, p := range []string{"/health", "/api/uploads", "/api/uploads/confirm", "/api/assets/commit", "/api/admin/sweep"} {
		if _, ok := body.Paths[p]; !ok {
			t.Errorf("OpenAPI document missing %s", p)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())

	// CounterVec and HistogramVec only appear after an observation.
	testRequest(t, env, "GET", "/health", "", "")

	rec := testRequest(t, env, "GET", "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	for _, name := range []string{
		"assetstage_http_requests_total",
		"assetstage_http_request_duration_seconds",
		"assetstage_promotions_total",
		"assetstage_upload_urls_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("GET /metrics does not contain %s", name)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.Metrics = false
	env := newTestEnv(t, cfg)

	rec := testRequest(t, env, "GET", "/metrics", "", "")
	if rec.Code == http.StatusOK {
		t.Errorf("GET /metrics with metrics disabled should not return 200, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/uploads", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, testConfig())

	for _, path := range []string{"/api/uploads", "/api/uploads/confirm", "/api/assets/commit", "/api/admin/sweep"} {
		rec := testRequest(t, env, "POST", path, "", `{}`)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("POST %s without token = %d, want 401", path, rec.Code)
		}
	}
}

func TestUploadFlow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	rec := testRequest(t, env, "POST", "/api/uploads", "SELLER", `{"fileName":"cat.png"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/uploads = %d: %s", rec.Code, rec.Body.String())
	}
	var ticket UploadBody
	decode(t, rec, &ticket)
	if !strings.HasSuffix(ticket.StagingKey, "_cat.png") {
		t.Errorf("stagingKey = %q", ticket.StagingKey)
	}
	if !strings.Contains(ticket.URL, "temp/"+ticket.StagingKey) {
		t.Errorf("url = %q", ticket.URL)
	}

	// The client uploads directly to the store.
	env.store.PutObject("temp/"+ticket.StagingKey, []byte("png"))

	rec = testRequest(t, env, "POST", "/api/uploads/confirm", "SELLER", `{"stagingKey":"`+ticket.StagingKey+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST /api/uploads/confirm = %d: %s", rec.Code, rec.Body.String())
	}
	if ok, _ := env.reg.Exists(ctx, ticket.StagingKey); !ok {
		t.Fatal("confirm did not claim the key")
	}

	commit := `{"thumbnailImage":{"fileName":"cat.png","fileKey":"` + ticket.StagingKey + `"}}`
	rec = testRequest(t, env, "POST", "/api/assets/commit", "SELLER", commit)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/assets/commit = %d: %s", rec.Code, rec.Body.String())
	}
	var result CommitBody
	decode(t, rec, &result)
	if result.Failed != 0 || len(result.Results) != 1 || result.Results[0].Status != "promoted" {
		t.Errorf("commit result = %+v", result)
	}
	if _, ok := env.store.GetObject("product/" + ticket.StagingKey); !ok {
		t.Error("permanent copy missing")
	}
	if _, ok := env.store.GetObject("temp/" + ticket.StagingKey); ok {
		t.Error("staging copy should be gone")
	}
	if ok, _ := env.reg.Exists(ctx, ticket.StagingKey); ok {
		t.Error("claim should be released")
	}
}

func TestUploadBlankFileName(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := testRequest(t, env, "POST", "/api/uploads", "SELLER", `{"fileName":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "IllegalKeyError") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestConfirmIllegalKey(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := testRequest(t, env, "POST", "/api/uploads/confirm", "SELLER", `{"stagingKey":"../product/x.png"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestConfirmRegistryFailureHidesCause(t *testing.T) {
	env := newTestEnvWithRegistry(t, testConfig(), leakyRegistry{registry.NewMemoryRegistry()})

	rec := testRequest(t, env, "POST", "/api/uploads/confirm", "SELLER", `{"stagingKey":"abc_cat.png"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "RegistryWriteError") {
		t.Errorf("body should name the error kind: %s", body)
	}
	for _, secret := range []string{"10.0.4.17", "hunter2", "NOAUTH"} {
		if strings.Contains(body, secret) {
			t.Errorf("body leaks %q: %s", secret, body)
		}
	}
}

func TestConfirmVerifiesUpload(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.VerifyUploads = true
	env := newTestEnv(t, cfg)

	rec := testRequest(t, env, "POST", "/api/uploads/confirm", "SELLER", `{"stagingKey":"abc_cat.png"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("confirm before upload = %d, want 404: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "UploadNotFoundError") {
		t.Errorf("body = %s", rec.Body.String())
	}

	env.store.PutObject("temp/abc_cat.png", []byte("png"))
	rec = testRequest(t, env, "POST", "/api/uploads/confirm", "SELLER", `{"stagingKey":"abc_cat.png"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("confirm after upload = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCommitPartialFailure(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.store.PutObject("temp/a_ok.png", []byte("ok"))

	body := `{"contentImages":[` +
		`{"fileName":"ok.png","fileKey":"a_ok.png"},` +
		`{"fileName":"gone.png","fileKey":"b_gone.png"}]}`
	rec := testRequest(t, env, "POST", "/api/assets/commit", "SELLER", body)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}

	var result CommitBody
	decode(t, rec, &result)
	if result.Failed != 1 || len(result.Results) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Results[0].Status != "promoted" {
		t.Errorf("first result = %+v", result.Results[0])
	}
	if r := result.Results[1]; r.Status != "failed" || r.Code != "ObjectCopyError" || r.FileName != "gone.png" {
		t.Errorf("second result = %+v", r)
	}
	if strings.Contains(result.Results[1].Error, "temp/") {
		t.Errorf("result error exposes the store cause: %q", result.Results[1].Error)
	}
}

func TestCommitRepeatedKey(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.store.PutObject("temp/a_cat.png", []byte("png"))

	body := `{"thumbnailImage":{"fileName":"thumb.png","fileKey":"a_cat.png"},` +
		`"contentImages":[{"fileName":"cat.png","fileKey":"a_cat.png"}]}`
	rec := testRequest(t, env, "POST", "/api/assets/commit", "SELLER", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var result CommitBody
	decode(t, rec, &result)
	if result.Failed != 0 || len(result.Results) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if _, ok := env.store.GetObject("product/a_cat.png"); !ok {
		t.Error("permanent copy missing")
	}
}

func TestCommitIllegalKeyOnly(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := testRequest(t, env, "POST", "/api/assets/commit", "SELLER", `{"contentImages":[{"fileName":"x.png","fileKey":""}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSweepRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, testConfig())

	rec := testRequest(t, env, "POST", "/api/admin/sweep", "SELLER", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("seller sweep = %d, want 403", rec.Code)
	}
}

func TestSweepEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.store.PutObject("temp/a_orphan.png", []byte("1"))
	env.store.PutObject("temp/b_claimed.png", []byte("2"))
	if err := env.reg.Claim(ctx, "b_claimed.png", time.Hour); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	rec := testRequest(t, env, "POST", "/api/admin/sweep?dryRun=true", "ADMIN", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dry-run sweep = %d: %s", rec.Code, rec.Body.String())
	}
	var report SweepBody
	decode(t, rec, &report)
	if !report.DryRun || len(report.Reclaimed) != 1 {
		t.Errorf("dry-run report = %+v", report)
	}
	if _, ok := env.store.GetObject("temp/a_orphan.png"); !ok {
		t.Fatal("dry run deleted an object")
	}

	rec = testRequest(t, env, "POST", "/api/admin/sweep", "ADMIN", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &report)
	if report.Scanned != 2 || report.Claimed != 1 || len(report.Reclaimed) != 1 || report.Reclaimed[0] != "a_orphan.png" {
		t.Errorf("report = %+v", report)
	}
	if _, ok := env.store.GetObject("temp/a_orphan.png"); ok {
		t.Error("orphan should be deleted")
	}
	if _, ok := env.store.GetObject("temp/b_claimed.png"); !ok {
		t.Error("claimed object should remain")
	}
}
