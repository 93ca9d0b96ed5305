package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tino-kuptz/push-to/internal/config"
	pushsync "github.com/tino-kuptz/push-to/internal/sync"
)

// mockGitClient writes a small site into the checkout directory.
type mockGitClient struct {
	calls atomic.Int32
}

func (m *mockGitClient) EnsureCheckout(_ context.Context, _, _, destDir string) (string, error) {
	m.calls.Add(1)
	if err := os.MkdirAll(filepath.Join(destDir, "dist"), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(destDir, "dist", "index.html"), []byte("deployed"), 0644); err != nil {
		return "", err
	}
	return "abc123", nil
}

// countingRunner records runs and optionally blocks until released.
type countingRunner struct {
	runs    *atomic.Int32
	started chan struct{}
	proceed chan struct{}
	once    *sync.Once
	err     error
}

func (r *countingRunner) Run(_ context.Context) (*pushsync.Report, error) {
	r.runs.Add(1)
	if r.started != nil {
		r.once.Do(func() { close(r.started) })
	}
	if r.proceed != nil {
		<-r.proceed
	}
	if r.err != nil {
		return &pushsync.Report{State: "failed"}, r.err
	}
	return &pushsync.Report{RunID: "run", State: "completed"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestConfig(t *testing.T) (*config.Config, string) {
	t.Helper()

	tmpDir := t.TempDir()

	secretPath := filepath.Join(tmpDir, "webhook_secret")
	secret := "test-secret-key"
	if err := os.WriteFile(secretPath, []byte(secret+"\n"), 0600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}

	target := filepath.Join(tmpDir, "www")
	if err := os.MkdirAll(target, 0755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Source: config.Endpoint{
			Type: config.TypeLocal,
			Git: &config.GitConfig{
				URL:         "https://github.com/test/site.git",
				Ref:         "main",
				CheckoutDir: filepath.Join(tmpDir, "checkout"),
				Subdir:      "dist",
			},
		},
		Target: config.Endpoint{Type: config.TypeLocal, Path: target},
		Serve: config.ServeConfig{
			Enabled:                 true,
			ListenAddr:              "127.0.0.1:0",
			GitHubWebhookSecretFile: secretPath,
			AllowedEventTypes:       []string{"push"},
			AllowedRefs:             []string{"refs/heads/main"},
		},
	}

	return cfg, secret
}

func newTestServer(t *testing.T, cfg *config.Config, runner *countingRunner) *Server {
	t.Helper()
	server, err := NewServer(cfg, &mockGitClient{}, testLogger())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	if runner != nil {
		server.WithRunnerFactory(func() Runner { return runner })
	}
	return server
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func pushRequest(body []byte, event, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", signature)
	return req
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewServer(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	server := newTestServer(t, cfg, nil)

	if string(server.secret) != "test-secret-key" {
		t.Errorf("expected trimmed secret, got %q", string(server.secret))
	}
	if server.debounce.delay != 2*time.Second {
		t.Errorf("expected 2s debounce, got %v", server.debounce.delay)
	}
}

func TestNewServer_SecretErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "missing file",
			setup: func(_ *testing.T, cfg *config.Config) {
				cfg.Serve.GitHubWebhookSecretFile = "/nonexistent/secret"
			},
		},
		{
			name: "empty file",
			setup: func(t *testing.T, cfg *config.Config) {
				if err := os.WriteFile(cfg.Serve.GitHubWebhookSecretFile, []byte("  \n"), 0600); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := setupTestConfig(t)
			tt.setup(t, cfg)
			if _, err := NewServer(cfg, &mockGitClient{}, testLogger()); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestStart_PerformsInitialSync(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	runs := &atomic.Int32{}
	server := newTestServer(t, cfg, &countingRunner{runs: runs})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx, ln) }()

	waitFor(t, func() bool { return runs.Load() == 1 })

	// The listener serves deliveries once the initial sync is done.
	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestVerifySignature(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	server := newTestServer(t, cfg, nil)

	body := []byte(`{"ref":"refs/heads/main"}`)
	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{name: "valid signature", body: body, signature: computeSignature(body, secret), want: true},
		{name: "invalid signature", body: body, signature: "sha256=invalid"},
		{name: "missing sha256 prefix", body: body, signature: "notsha256"},
		{name: "prefix only", body: body, signature: "sha256="},
		{name: "empty signature", body: body},
		{name: "wrong body", body: []byte(`{"ref":"refs/heads/other"}`), signature: computeSignature(body, secret)},
		{name: "wrong secret", body: body, signature: computeSignature(body, "other")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := server.verifySignature(tt.body, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEventTypeAllowed(t *testing.T) {
	tests := []struct {
		name              string
		allowedEventTypes []string
		eventType         string
		want              bool
	}{
		{name: "allowed event", allowedEventTypes: []string{"push", "release"}, eventType: "push", want: true},
		{name: "disallowed event", allowedEventTypes: []string{"push"}, eventType: "pull_request", want: false},
		{name: "no filter (allow all)", allowedEventTypes: nil, eventType: "anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := setupTestConfig(t)
			cfg.Serve.AllowedEventTypes = tt.allowedEventTypes
			server := newTestServer(t, cfg, nil)

			if got := server.isEventTypeAllowed(tt.eventType); got != tt.want {
				t.Errorf("isEventTypeAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRefAllowed(t *testing.T) {
	tests := []struct {
		name        string
		allowedRefs []string
		ref         string
		want        bool
	}{
		{name: "allowed ref", allowedRefs: []string{"refs/heads/main", "refs/heads/develop"}, ref: "refs/heads/main", want: true},
		{name: "disallowed ref", allowedRefs: []string{"refs/heads/main"}, ref: "refs/heads/feature", want: false},
		{name: "no filter (allow all)", allowedRefs: nil, ref: "refs/heads/anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := setupTestConfig(t)
			cfg.Serve.AllowedRefs = tt.allowedRefs
			server := newTestServer(t, cfg, nil)

			if got := server.isRefAllowed(tt.ref); got != tt.want {
				t.Errorf("isRefAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleWebhook_Rejections(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	runs := &atomic.Int32{}
	server := newTestServer(t, cfg, &countingRunner{runs: runs})
	server.debounce.delay = time.Millisecond

	valid := []byte(`{"ref":"refs/heads/main"}`)
	feature := []byte(`{"ref":"refs/heads/feature","after":"abc123","repository":{"full_name":"test/site"}}`)

	tests := []struct {
		name     string
		req      func() *http.Request
		wantCode int
		wantBody string
	}{
		{
			name:     "invalid method",
			req:      func() *http.Request { return httptest.NewRequest(http.MethodGet, "/", nil) },
			wantCode: http.StatusMethodNotAllowed,
		},
		{
			name: "invalid content type",
			req: func() *http.Request {
				r := pushRequest(valid, "push", computeSignature(valid, secret))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "invalid signature",
			req:      func() *http.Request { return pushRequest(valid, "push", "sha256=invalid") },
			wantCode: http.StatusForbidden,
		},
		{
			name:     "disallowed event type",
			req:      func() *http.Request { return pushRequest(valid, "pull_request", computeSignature(valid, secret)) },
			wantCode: http.StatusOK,
			wantBody: "Event type not configured",
		},
		{
			name:     "disallowed ref",
			req:      func() *http.Request { return pushRequest(feature, "push", computeSignature(feature, secret)) },
			wantCode: http.StatusOK,
			wantBody: "Ref not configured",
		},
		{
			name: "malformed payload",
			req: func() *http.Request {
				body := []byte(`{"ref":`)
				return pushRequest(body, "push", computeSignature(body, secret))
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "ping",
			req:      func() *http.Request { return pushRequest(valid, "ping", computeSignature(valid, secret)) },
			wantCode: http.StatusOK,
			wantBody: "pong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, tt.req())

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantBody != "" && !bytes.Contains(rec.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("expected body containing %q, got: %s", tt.wantBody, rec.Body.String())
			}
		})
	}

	time.Sleep(20 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("rejected deliveries must not trigger a sync, got %d runs", n)
	}
}

func TestHandleWebhook_DeploysSite(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	server := newTestServer(t, cfg, nil)
	server.debounce.delay = 10 * time.Millisecond

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {
			"full_name": "test/site"
		}
	}`)

	rec := httptest.NewRecorder()
	server.handleWebhook(rec, pushRequest(body, "push", computeSignature(body, secret)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rec.Code)
	}

	deployed := filepath.Join(cfg.Target.Path, "index.html")
	waitFor(t, func() bool {
		data, err := os.ReadFile(deployed)
		return err == nil && string(data) == "deployed"
	})
}

func TestHandleWebhook_DebouncesBursts(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	runs := &atomic.Int32{}
	server := newTestServer(t, cfg, &countingRunner{runs: runs})
	server.debounce.delay = 50 * time.Millisecond

	body := []byte(`{"ref":"refs/heads/main"}`)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		server.handleWebhook(rec, pushRequest(body, "push", computeSignature(body, secret)))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("delivery %d: expected 202, got %d", i, rec.Code)
		}
	}

	waitFor(t, func() bool { return runs.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("expected a burst to collapse into one run, got %d", n)
	}
}

func TestDebouncer(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	d := &debouncer{delay: 50 * time.Millisecond}

	for i := 0; i < 5; i++ {
		d.trigger(func() {
			mu.Lock()
			callCount++
			mu.Unlock()
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	count := callCount
	mu.Unlock()

	if count != 1 {
		t.Errorf("expected callback to be called once, got %d", count)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	var called atomic.Bool
	d := &debouncer{delay: 20 * time.Millisecond}
	d.trigger(func() { called.Store(true) })
	d.stop()

	time.Sleep(50 * time.Millisecond)
	if called.Load() {
		t.Error("stopped debouncer must not fire")
	}
}

// TestPerformSync_SingleFlight verifies that concurrent performSync calls use
// single-flight semantics: at most one sync runs at a time and at most one
// additional run is queued.
func TestPerformSync_SingleFlight(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	runs := &atomic.Int32{}
	runner := &countingRunner{
		runs:    runs,
		started: make(chan struct{}),
		proceed: make(chan struct{}),
		once:    &sync.Once{},
	}
	server := newTestServer(t, cfg, runner)

	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.performSync(ctx)
	}()

	<-runner.started

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			server.performSync(ctx)
		}()
	}
	wg.Wait()

	server.syncMu.Lock()
	pending := server.syncPending
	server.syncMu.Unlock()

	if !pending {
		t.Error("expected syncPending to be true after concurrent performSync calls")
	}

	close(runner.proceed)
	<-done

	server.syncMu.Lock()
	stillRunning := server.syncRunning
	stillPending := server.syncPending
	server.syncMu.Unlock()

	if stillRunning {
		t.Error("expected syncRunning to be false after all syncs completed")
	}
	if stillPending {
		t.Error("expected syncPending to be false after pending re-run was serviced")
	}
	if n := runs.Load(); n != 2 {
		t.Errorf("expected the first run plus one queued re-run, got %d", n)
	}
}

func TestPerformSync_FailureDoesNotWedge(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	runs := &atomic.Int32{}
	server := newTestServer(t, cfg, &countingRunner{runs: runs, err: errors.New("target unreachable")})

	server.performSync(context.Background())
	server.performSync(context.Background())

	if n := runs.Load(); n != 2 {
		t.Errorf("expected both runs to execute, got %d", n)
	}
}

func TestPerformSync_CancelledContext(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	runs := &atomic.Int32{}
	server := newTestServer(t, cfg, &countingRunner{runs: runs})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	server.performSync(ctx)

	if n := runs.Load(); n != 0 {
		t.Errorf("no run may start after shutdown, got %d", n)
	}
}
