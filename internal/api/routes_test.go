package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/bedrock-server-manager/internal/auth"
	"github.com/yourusername/bedrock-server-manager/internal/backup"
	"github.com/yourusername/bedrock-server-manager/internal/config"
	"github.com/yourusername/bedrock-server-manager/internal/console"
	"github.com/yourusername/bedrock-server-manager/internal/events"
	"github.com/yourusername/bedrock-server-manager/internal/server"
	"github.com/yourusername/bedrock-server-manager/internal/websocket"
)

type fakeServer struct {
	mu       sync.Mutex
	running  bool
	commands []string
	stopped  chan bool
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return server.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeServer) Stop(ctx context.Context, gentle bool) (server.StopResult, error) {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
	if f.stopped != nil {
		f.stopped <- gentle
	}
	return server.StopStopped, nil
}

func (f *fakeServer) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return server.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeServer) Restart(ctx context.Context, gentle bool) error { return nil }

func (f *fakeServer) Send(command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeServer) Reload() error { return f.Send("reload") }

func (f *fakeServer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeServer) Status() server.Status {
	state := server.StateStopped
	if f.Running() {
		state = server.StateRunning
	}
	return server.Status{State: state}
}

func (f *fakeServer) Stats(ctx context.Context) (*server.Stats, error) {
	if !f.Running() {
		return nil, server.ErrNotRunning
	}
	return &server.Stats{PID: 99, CPUPercent: 1.5, MemoryBytes: 1024}, nil
}

type fakeBackups struct {
	err         error
	lastTimeout time.Duration
}

func (f *fakeBackups) PerformBackup(ctx context.Context, timeout time.Duration) (*backup.Result, error) {
	f.lastTimeout = timeout
	if f.err != nil {
		return nil, f.err
	}
	return &backup.Result{ID: 1700000000000, Path: "/srv/bedrock/backups/backup-1700000000000", Level: "Bedrock level"}, nil
}

func (f *fakeBackups) Job() *backup.Job { return nil }

type testAPI struct {
	router  *gin.Engine
	server  *fakeServer
	backups *fakeBackups
	history *console.RingBuffer
	wait    func()
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	cfg.API.RateLimitPerMinute = 0
	cfg.Metrics.Enabled = false

	api := &testAPI{
		server:  &fakeServer{stopped: make(chan bool, 1)},
		backups: &fakeBackups{},
		history: console.NewRingBuffer(10),
	}
	api.router, api.wait = SetupRouter(cfg, Dependencies{
		Server:  api.server,
		Backups: api.backups,
		History: api.history,
		Hub:     websocket.NewHub(),
	})
	return api
}

func (a *testAPI) do(method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, "")
	rec := api.do(http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	api := newTestAPI(t, "")

	if rec := api.do(http.MethodPost, "/api/v1/server/stop", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("stop while stopped: expected 409, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/server/stats", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("stats while stopped: expected 409, got %d", rec.Code)
	}

	if rec := api.do(http.MethodPost, "/api/v1/server/start", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/start", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("second start: expected 409, got %d", rec.Code)
	}

	rec := api.do(http.MethodGet, "/api/v1/server/status", "", "")
	var status server.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil || status.State != server.StateRunning {
		t.Fatalf("unexpected status %s (%v)", rec.Body.String(), err)
	}

	rec = api.do(http.MethodPost, "/api/v1/server/stop?gentle=false", "", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("stop: expected 202, got %d", rec.Code)
	}
	select {
	case gentle := <-api.server.stopped:
		if gentle {
			t.Fatalf("expected a non-gentle stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("background stop never ran")
	}
	api.wait()

	if rec := api.do(http.MethodPost, "/api/v1/server/kill", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("kill while stopped: expected 409, got %d", rec.Code)
	}
}

func TestCommandEndpoint(t *testing.T) {
	api := newTestAPI(t, "")

	if rec := api.do(http.MethodPost, "/api/v1/server/command", "", `{"command":"say hi"}`); rec.Code != http.StatusConflict {
		t.Fatalf("command while stopped: expected 409, got %d", rec.Code)
	}

	api.server.Start(context.Background())

	if rec := api.do(http.MethodPost, "/api/v1/server/command", "", `{"command":"say a\nstop"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("multi-line command: expected 400, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/command", "", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing command: expected 400, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/command", "", `{"command":"  say hi "}`); rec.Code != http.StatusOK {
		t.Fatalf("command: expected 200, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/reload", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("reload: expected 200, got %d", rec.Code)
	}

	api.server.mu.Lock()
	defer api.server.mu.Unlock()
	if len(api.server.commands) != 2 || api.server.commands[0] != "say hi" || api.server.commands[1] != "reload" {
		t.Fatalf("unexpected commands %v", api.server.commands)
	}
}

func TestBackupEndpoint(t *testing.T) {
	api := newTestAPI(t, "")

	if rec := api.do(http.MethodPost, "/api/v1/backups?timeout=soon", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timeout: expected 400, got %d", rec.Code)
	}

	rec := api.do(http.MethodPost, "/api/v1/backups?timeout=45s", "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("backup: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if api.backups.lastTimeout != 45*time.Second {
		t.Fatalf("timeout not passed through: %v", api.backups.lastTimeout)
	}

	if rec := api.do(http.MethodPost, "/api/v1/backups?timeout=2h", "", ""); rec.Code != http.StatusCreated {
		t.Fatalf("backup with long timeout: expected 201, got %d", rec.Code)
	}
	if api.backups.lastTimeout != 5*time.Minute {
		t.Fatalf("timeout above the maximum not clamped: %v", api.backups.lastTimeout)
	}

	cases := map[error]int{
		backup.ErrNotRunning:       http.StatusConflict,
		backup.ErrBackupInProgress: http.StatusConflict,
		backup.ErrBackupTimedOut:   http.StatusGatewayTimeout,
		backup.ErrManifestParse:    http.StatusBadGateway,
		backup.ErrFileCopy:         http.StatusInternalServerError,
	}
	for err, want := range cases {
		api.backups.err = err
		if rec := api.do(http.MethodPost, "/api/v1/backups", "", ""); rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", err, want, rec.Code)
		}
	}

	rec = api.do(http.MethodGet, "/api/v1/backups/active", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active":false`) {
		t.Fatalf("unexpected active job response %s", rec.Body.String())
	}
}

func TestConsoleHistory(t *testing.T) {
	api := newTestAPI(t, "")

	now := time.Now()
	for _, text := range []string{"Server started.", "ERROR: something broke", "Player connected"} {
		api.history.Add(events.ConsoleLine{Text: text, Stream: events.StreamStdout, ReceivedAt: now})
	}

	rec := api.do(http.MethodGet, "/api/v1/console/history?lines=2", "", "")
	var body struct {
		Lines []events.ConsoleLine `json:"lines"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Lines) != 2 || body.Lines[1].Text != "Player connected" {
		t.Fatalf("unexpected history %s (%v)", rec.Body.String(), err)
	}

	rec = api.do(http.MethodGet, "/api/v1/console/history?filter=errors", "", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Lines) != 1 {
		t.Fatalf("unexpected filtered history %s (%v)", rec.Body.String(), err)
	}

	if rec := api.do(http.MethodGet, "/api/v1/console/history?filter=regex&pattern=(", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad regex: expected 400, got %d", rec.Code)
	}
}

func TestAuthScopes(t *testing.T) {
	api := newTestAPI(t, "a-long-test-secret")
	tokens := auth.NewTokenManager("a-long-test-secret", time.Hour)

	readToken, _, err := tokens.GenerateToken("viewer", auth.ScopeRead)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	operateToken, _, err := tokens.GenerateToken("admin", auth.ScopeOperate)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	if rec := api.do(http.MethodGet, "/api/v1/health", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/server/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token: expected 401, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/v1/server/status", readToken, ""); rec.Code != http.StatusOK {
		t.Fatalf("status with read token: expected 200, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/start", readToken, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("start with read token: expected 403, got %d", rec.Code)
	}
	if rec := api.do(http.MethodPost, "/api/v1/server/start", operateToken, ""); rec.Code != http.StatusOK {
		t.Fatalf("start with operate token: expected 200, got %d", rec.Code)
	}
}
