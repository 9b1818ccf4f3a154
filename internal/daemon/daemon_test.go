package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/keyed"
	"scribe/internal/logging"
	"scribe/internal/testsupport"
)

type fixture struct {
	cfg         *config.Config
	daemon      *daemon.Daemon
	server      *httptest.Server
	transcriber *testsupport.FakeTranscriber
	enhancer    *testsupport.FakeEnhancer
}

func newFixture(t *testing.T, backend keyed.Backend, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if backend == nil {
		backend = testsupport.MustOpenStore(t, cfg)
	}
	f := &fixture{
		cfg:         cfg,
		transcriber: &testsupport.FakeTranscriber{},
		enhancer:    &testsupport.FakeEnhancer{},
	}
	d, err := daemon.New(cfg, daemon.Deps{
		Backend:     backend,
		Transcriber: f.transcriber,
		Enhancer:    f.enhancer,
		Logger:      logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	f.daemon = d
	f.server = httptest.NewServer(d.Handler())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestPipelineLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/pipelines", "", api.SubmitRequest{PipelineID: "p1", UserID: "u1", AudioURL: "https://media.test/a.mp3"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d", resp.StatusCode)
	}
	if st := decode[api.PipelineStatus](t, resp); st.Status != "TRANSCRIBING" {
		t.Fatalf("unexpected submit status %+v", st)
	}

	calls := f.transcriber.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one transcription call, got %d", len(calls))
	}
	cbURL, err := url.Parse(calls[0].CallbackURL)
	if err != nil {
		t.Fatalf("parse callback url: %v", err)
	}
	if cbURL.Host != "scribe.test" {
		t.Fatalf("callback url should use public url, got %q", calls[0].CallbackURL)
	}

	body := `{"results":{"channels":[{"alternatives":[{"transcript":"over http"}]}]}}`
	cbResp, err := http.Post(f.server.URL+cbURL.RequestURI(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post callback: %v", err)
	}
	defer cbResp.Body.Close()
	if cbResp.StatusCode != http.StatusOK {
		t.Fatalf("callback status %d", cbResp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st := decode[api.PipelineStatus](t, f.do(t, http.MethodGet, "/api/pipelines/p1", "", nil))
		if st.Status == "DONE" {
			if st.Transcript == nil || *st.Transcript != "over http" {
				t.Fatalf("unexpected transcript %+v", st)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline never reached DONE, last %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	list := decode[api.PipelineListResponse](t, f.do(t, http.MethodGet, "/api/pipelines?status=done", "", nil))
	if len(list.Items) != 1 || list.Items[0].PipelineID != "p1" {
		t.Fatalf("unexpected listing %+v", list)
	}
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend())
	resp := f.do(t, http.MethodGet, "/api/pipelines/missing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSubmitValidationReturns400(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend())
	resp := f.do(t, http.MethodPost, "/api/pipelines", "", api.SubmitRequest{PipelineID: "p1", UserID: "u1", AudioURL: "ftp://x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if e := decode[api.ErrorResponse](t, resp); e.Code != "invalid_request" {
		t.Fatalf("unexpected error body %+v", e)
	}
}

func TestSubmitQuotaReturns429(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend(), testsupport.WithSubmitQuota(60_000, 1))
	first := f.do(t, http.MethodPost, "/api/pipelines", "", api.SubmitRequest{PipelineID: "p1", UserID: "u1", AudioURL: "https://a.test/1"})
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit status %d", first.StatusCode)
	}
	second := f.do(t, http.MethodPost, "/api/pipelines", "", api.SubmitRequest{PipelineID: "p2", UserID: "u1", AudioURL: "https://a.test/2"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if e := decode[api.ErrorResponse](t, second); e.Error != "rate_limit_exceeded" {
		t.Fatalf("unexpected error body %+v", e)
	}
	other := f.do(t, http.MethodPost, "/api/pipelines", "", api.SubmitRequest{PipelineID: "p3", UserID: "u2", AudioURL: "https://a.test/3"})
	if other.StatusCode != http.StatusAccepted {
		t.Fatalf("other user should be admitted, got %d", other.StatusCode)
	}
}

func TestRateLimitEndpoints(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend())
	req := api.ConsumeRequest{WindowMs: 60_000, MaxInWindow: 2}
	for i := 0; i < 2; i++ {
		if resp := f.do(t, http.MethodPost, "/api/ratelimit/k1/consume", "", req); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("consume %d status %d", i, resp.StatusCode)
		}
	}
	if resp := f.do(t, http.MethodPost, "/api/ratelimit/k1/consume", "", req); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	state := decode[api.RateLimitState](t, f.do(t, http.MethodGet, "/api/ratelimit/k1", "", nil))
	if state.Count != 2 || state.Key != "k1" {
		t.Fatalf("unexpected state %+v", state)
	}
	if resp := f.do(t, http.MethodDelete, "/api/ratelimit/k1", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset status %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/ratelimit/k1/consume", "", req); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("consume after reset status %d", resp.StatusCode)
	}
	bad := f.do(t, http.MethodPost, "/api/ratelimit/k1/consume", "", api.ConsumeRequest{WindowMs: 0, MaxInWindow: 1})
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid window, got %d", bad.StatusCode)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend(), testsupport.WithAPIToken("s3cret"))
	if resp := f.do(t, http.MethodGet, "/api/health", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/health", "wrong", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/health", "s3cret", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	// Callbacks authenticate with the correlation token, not the API token.
	resp, err := http.Post(f.server.URL+"/callbacks/deepgram/unknown?token=t", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post callback: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected dropped callback to return 200, got %d", resp.StatusCode)
	}
}

func TestCallbackRejectsNonObjectBody(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend())
	resp, err := http.Post(f.server.URL+"/callbacks/deepgram/p1?token=t", "application/json", strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("post callback: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealthReportsStore(t *testing.T) {
	f := newFixture(t, nil)
	health := decode[api.HealthResponse](t, f.do(t, http.MethodGet, "/api/health", "", nil))
	if !health.Store.OK || health.Store.Driver != config.DriverSQLite || health.Status != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.FreeBytes == 0 {
		t.Fatal("expected free space to be reported")
	}
}

func TestDaemonStartStopHoldsLock(t *testing.T) {
	f := newFixture(t, keyed.NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !f.daemon.Status().Running {
		t.Fatal("expected daemon to report running")
	}
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	second, err := daemon.New(f.cfg, daemon.Deps{
		Backend:     keyed.NewMemoryBackend(),
		Transcriber: &testsupport.FakeTranscriber{},
		Enhancer:    &testsupport.FakeEnhancer{},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}

	client := api.NewClient("http://"+f.daemon.Status().Address, "", nil)
	if _, err := client.Health(ctx); err != nil {
		t.Fatalf("health over real listener: %v", err)
	}

	f.daemon.Stop()
	if f.daemon.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestStartRecoversJournaledInvocations(t *testing.T) {
	backend := keyed.NewMemoryBackend()
	ctx := context.Background()
	payload, _ := json.Marshal(map[string]any{"windowMs": 60_000, "maxInWindow": 5})
	if err := backend.Begin(ctx, keyed.Invocation{ID: "inv-1", Service: "ratelimit", Key: "k", Handler: "checkAndConsume", Payload: payload, Attempt: 1}); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	f := newFixture(t, backend)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := f.daemon.Start(runCtx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.daemon.Stop()

	if pending, _ := backend.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected journal drained on start, got %d", len(pending))
	}
	if _, ok, _ := backend.Load(ctx, "ratelimit", "k"); !ok {
		t.Fatal("expected recovered invocation to commit state")
	}
}
