package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/api"
	"github.com/Rrens/secassist/internal/api/handler"
	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/security"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/session"
)

// scriptedProvider answers each Chat call with the next scripted reply
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "script-1" }
func (p *scriptedProvider) IsConfigured() bool   { return true }

func (p *scriptedProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	return p.next(), nil
}

func (p *scriptedProvider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	return p.next(), nil
}

func (p *scriptedProvider) Chat(ctx context.Context, _ []llm.Message, _ llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return llm.EmitChunked(p.next(), 4, cb), nil
}

func (p *scriptedProvider) next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replies) == 0 {
		return "no more replies"
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	return false, 0, time.Now().Add(time.Minute), nil
}

type testEnv struct {
	handler http.Handler
	store   *session.Store
	root    string
}

type envOption func(*api.Dependencies)

func newTestEnv(t *testing.T, replies []string, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := session.NewStore(ctx, session.NewMemoryPersister(), session.Options{})
	require.NoError(t, err)

	runner := service.NewRunner()
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(shutdownCtx)
		_ = store.Close(shutdownCtx)
	})

	providers := llm.NewRouter("scripted")
	providers.RegisterProvider(&scriptedProvider{replies: replies})

	hub := handler.NewEventHub()
	root := t.TempDir()
	cfg := &config.Config{Workspace: config.WorkspaceConfig{Root: root}}

	deps := api.Dependencies{
		Config:        cfg,
		Store:         store,
		Providers:     providers,
		Chat:          service.NewChatService(store, providers, hub, runner),
		Fixes:         service.NewFixService(store, providers, hub, runner, service.FixConfig{MaxAttempts: 2}),
		Confirmations: service.NewPendingConfirmations(store),
		Events:        hub,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return &testEnv{handler: api.NewRouter(deps), store: store, root: root}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var envelope map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	}
	return rec, envelope
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["data"].(map[string]any)["status"])
}

func TestRouter_Providers(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, "scripted", data["default_provider"])
	providers := data["providers"].([]any)
	require.Len(t, providers, 1)
	assert.Equal(t, "script-1", providers[0].(map[string]any)["model"])
}

func TestRouter_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions", map[string]string{"title": "SQL questions"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["data"].(map[string]any)["id"].(string)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, env.store.Snapshot().Sessions, 2)

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["data"].(map[string]any)["activeSessionId"])

	rec, body = env.do(t, http.MethodPatch, "/api/v1/sessions/"+id, map[string]string{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", body["data"].(map[string]any)["title"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/select", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"].(map[string]any)["sessions"])
}

func TestRouter_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.store.Create(domain.SessionTypeQA, "", nil)

	rec, body := env.do(t, http.MethodPatch, "/api/v1/sessions/"+sess.ID, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "field is required", body["error"].(map[string]any)["RenameSessionRequest.Title"])

	rec, body = env.do(t, http.MethodPatch, "/api/v1/sessions/"+sess.ID, map[string]string{"title": "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "field is required", body["error"].(map[string]any)["RenameSessionRequest.Title"])
	got, _ := env.store.Get(sess.ID)
	assert.Equal(t, domain.DefaultSessionTitle, got.Title)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/messages", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/fixes", map[string]any{"filePath": "app.py"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sess.ID+"/messages", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestRouter_SendMessage(t *testing.T) {
	env := newTestEnv(t, []string{"Use parameterized queries."})
	sess := env.store.Create(domain.SessionTypeQA, "", nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/messages", map[string]string{"text": "how do I fix CWE-89?"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", body["data"].(map[string]any)["status"])

	require.Eventually(t, func() bool {
		got, _ := env.store.Get(sess.ID)
		n := len(got.Messages)
		return n == 2 && !got.Messages[n-1].Pending && got.Status == domain.StatusIdle
	}, 5*time.Second, 10*time.Millisecond)

	got, _ := env.store.Get(sess.ID)
	assert.Equal(t, "Use parameterized queries.", got.Messages[1].Content)
}

func TestRouter_SendMessageRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	fix := env.store.Create(domain.SessionTypeFix, "Fix: CWE-79", nil)

	rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+fix.ID+"/messages", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/sessions/missing/messages", map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+fix.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["data"].(map[string]any)["cancelled"])
}

func TestRouter_FixFlow(t *testing.T) {
	env := newTestEnv(t, []string{
		"```python\nquery(\"SELECT * FROM users WHERE id = %s\", (user_id,))\n```",
		`{"decision": "approve", "notes": "parameterized"}`,
	})

	original := "import db\nquery(\"SELECT * FROM users WHERE id = \" + user_id)\n"
	path := filepath.Join(env.root, "app.py")
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	rec, body := env.do(t, http.MethodPost, "/api/v1/fixes", map[string]any{
		"filePath": "app.py",
		"diagnostic": map[string]any{
			"range":   map[string]any{"start": map[string]int{"line": 1, "character": 0}, "end": map[string]int{"line": 1, "character": 10}},
			"message": "SQL built from user input",
			"code":    "CWE-89",
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := body["data"].(map[string]any)
	id := data["sessionId"].(string)
	assert.Equal(t, float64(2), data["maxAttempts"])

	require.Eventually(t, func() bool {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/fixes/"+id+"/pending", nil)
		return rec.Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	rec, body = env.do(t, http.MethodGet, "/api/v1/fixes/"+id+"/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app.py", body["data"].(map[string]any)["filePath"])

	rec, _ = env.do(t, http.MethodPost, "/api/v1/fixes/"+id+"/confirm", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/fixes/"+id+"/confirm", map[string]any{"accept": true})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		got, _ := env.store.Get(id)
		return got.Status == domain.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "(user_id,)")
	assert.NotContains(t, string(content), "+ user_id")

	rec, _ = env.do(t, http.MethodPost, "/api/v1/fixes/"+id+"/confirm", map[string]any{"accept": true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRouter_FixRejectsBadPaths(t *testing.T) {
	env := newTestEnv(t, nil)
	diag := map[string]any{"message": "issue"}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/fixes", map[string]any{"filePath": "../outside.py", "diagnostic": diag})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/v1/fixes", map[string]any{"filePath": "missing.py", "diagnostic": diag})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, env.store.Snapshot().Sessions)
}

func TestRouter_Authentication(t *testing.T) {
	jwtManager := security.NewJWTManager("test-secret-with-enough-length!!", time.Hour)
	env := newTestEnv(t, nil, func(d *api.Dependencies) { d.JWT = jwtManager })

	rec, _ := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/state", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/state", nil, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/state", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwtManager.GenerateToken("vscode")
	require.NoError(t, err)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/state", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RateLimit(t *testing.T) {
	env := newTestEnv(t, nil, func(d *api.Dependencies) { d.RateLimiter = denyLimiter{} })
	sess := env.store.Create(domain.SessionTypeQA, "", nil)

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+sess.ID+"/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// reads are not limited
	rec, _ = env.do(t, http.MethodGet, "/api/v1/state", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_Events(t *testing.T) {
	env := newTestEnv(t, nil)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	reader := bufio.NewReader(resp.Body)

	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	event, data := readEvent()
	assert.Equal(t, "snapshot", event)
	assert.JSONEq(t, `{"sessions":[]}`, data)

	env.store.Create(domain.SessionTypeQA, "Streamed", nil)
	event, data = readEvent()
	assert.Equal(t, "snapshot", event)
	assert.Contains(t, data, `"title":"Streamed"`)
}
