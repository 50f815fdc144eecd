package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/session"
)

// MockProvider mocks llm.Provider. Chat replies are delivered through the
// callbacks in small chunks, like a streaming provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string         { return "mock" }
func (m *MockProvider) DefaultModel() string { return "mock-model" }
func (m *MockProvider) IsConfigured() bool   { return true }

func (m *MockProvider) Analyze(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) GenerateFix(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	args := m.Called(ctx, messages, opts, cb)
	if err := args.Error(1); err != nil {
		return "", err
	}
	return llm.EmitChunked(args.String(0), 8, cb), nil
}

// prompts returns the user prompt of every Chat call matching role
func (m *MockProvider) prompts(role string) []string {
	var out []string
	for _, c := range m.Calls {
		if c.Method != "Chat" {
			continue
		}
		opts := c.Arguments.Get(2).(llm.ChatOptions)
		if personaOf(opts) != role {
			continue
		}
		msgs := c.Arguments.Get(1).([]llm.Message)
		out = append(out, msgs[len(msgs)-1].Content)
	}
	return out
}

func personaOf(opts llm.ChatOptions) string {
	switch opts.SystemPrompt {
	case proposerPersona:
		return "proposer"
	case approvalPersona:
		return "approval"
	default:
		return "chat"
	}
}

func asProposer() any {
	return mock.MatchedBy(func(o llm.ChatOptions) bool { return personaOf(o) == "proposer" })
}

func asApprover() any {
	return mock.MatchedBy(func(o llm.ChatOptions) bool { return personaOf(o) == "approval" })
}

// staticProviders always resolves to one provider
type staticProviders struct {
	p   llm.Provider
	err error
}

func (s staticProviders) GetProvider(string) (llm.Provider, error) {
	return s.p, s.err
}

// blockingProvider streams one token then waits for cancellation
type blockingProvider struct {
	MockProvider
	started chan struct{}
}

func (b *blockingProvider) Chat(ctx context.Context, _ []llm.Message, _ llm.ChatOptions, cb *llm.Callbacks) (string, error) {
	col := llm.NewCollector(cb)
	col.Add("partial answer")
	close(b.started)
	<-ctx.Done()
	return col.Text(), ctx.Err()
}

// recordingNotifier keeps every notice
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) levels() []NoticeLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NoticeLevel, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Level
	}
	return out
}

// fakeDocument is an in-memory document recording applied edits
type fakeDocument struct {
	uri      string
	lang     string
	lines    []string
	applyErr error
	saveErr  error

	edits []appliedEdit
	saves int
}

type appliedEdit struct {
	Range domain.Range
	Text  string
}

func newFakeDocument(lines ...string) *fakeDocument {
	return &fakeDocument{uri: "src/db.go", lang: "go", lines: lines}
}

func (d *fakeDocument) URI() string        { return d.uri }
func (d *fakeDocument) LanguageID() string { return d.lang }
func (d *fakeDocument) LineCount() int     { return len(d.lines) }
func (d *fakeDocument) LineAt(i int) string {
	if i < 0 || i >= len(d.lines) {
		return ""
	}
	return d.lines[i]
}

func (d *fakeDocument) GetText(r domain.Range) string {
	var parts []string
	for i := r.Start.Line; i <= r.End.Line && i < len(d.lines); i++ {
		line := d.lines[i]
		start, end := 0, len(line)
		if i == r.Start.Line {
			start = min(r.Start.Character, len(line))
		}
		if i == r.End.Line {
			end = min(r.End.Character, len(line))
		}
		parts = append(parts, line[start:end])
	}
	return strings.Join(parts, "\n")
}

func (d *fakeDocument) ApplyEdit(_ context.Context, r domain.Range, text string) error {
	if d.applyErr != nil {
		return d.applyErr
	}
	d.edits = append(d.edits, appliedEdit{Range: r, Text: text})
	return nil
}

func (d *fakeDocument) Save(context.Context) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	d.saves++
	return nil
}

func acceptAll() Confirmer {
	return ConfirmFunc(func(context.Context, domain.FixProposal) (bool, error) { return true, nil })
}

func declineAll() Confirmer {
	return ConfirmFunc(func(context.Context, domain.FixProposal) (bool, error) { return false, nil })
}

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	st, err := session.NewStore(context.Background(), session.NewMemoryPersister(), session.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func messagesByRole(sess domain.ChatSession, role domain.MessageRole) []domain.ChatMessage {
	var out []domain.ChatMessage
	for _, m := range sess.Messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func lastMessage(sess domain.ChatSession) domain.ChatMessage {
	return sess.Messages[len(sess.Messages)-1]
}

var errProviderDown = errors.New("connection refused")
