package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/secassist/internal/domain"
)

func vulnerableDocument() *fakeDocument {
	lines := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	lines[15] = `	rows, err := db.Query("SELECT * FROM users WHERE name = '" + name + "'")`
	return newFakeDocument(lines...)
}

func sqlDiagnostic() domain.Diagnostic {
	return domain.Diagnostic{
		Range: domain.Range{
			Start: domain.Position{Line: 15, Character: 1},
			End:   domain.Position{Line: 15, Character: 60},
		},
		Message: "Possible SQL injection",
		Code:    "CWE-89",
	}
}

func newFixService(t *testing.T, provider *MockProvider, maxAttempts int) (*FixService, SessionStore) {
	t.Helper()
	store := newTestStore(t)
	svc := NewFixService(store, staticProviders{p: provider}, &recordingNotifier{}, nil, FixConfig{
		MaxAttempts:    maxAttempts,
		ContextPadding: DefaultContextPadding,
	})
	return svc, store
}

func TestFixService_AlwaysRejectedExhaustsAttempts(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("```go\nfixed()\n```", nil)
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).
		Return(`{"decision":"reject","notes":"still concatenates input"}`, nil)

	svc, store := newFixService(t, provider, 3)
	doc := vulnerableDocument()

	outcome, err := svc.Run(context.Background(), doc, sqlDiagnostic(), acceptAll())
	require.NoError(t, err)

	assert.Equal(t, FixExhausted, outcome.Result)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Len(t, provider.prompts("proposer"), 3)
	assert.Len(t, provider.prompts("approval"), 3)
	assert.Empty(t, doc.edits)
	assert.Zero(t, doc.saves)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, "Approval agent could not sign off on a safe fix after 3 attempt(s).", lastMessage(sess).Content)
	assert.Equal(t, domain.SessionTypeFix, sess.Type)
	assert.False(t, sess.AcceptsInput())
	assert.Equal(t, "Fix: CWE-89", sess.Title)
	assert.Len(t, messagesByRole(sess, domain.RoleTool), 3, "one read_file per attempt")
}

func TestFixService_RejectThenApprove(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).
		Return("```go\nfirst()\n```", nil).Once()
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).
		Return("Here you go:\n```go\n\trows, err := db.Query(\"SELECT * FROM users WHERE name = $1\", name)\n```", nil).Once()
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).
		Return("Reject: the query is still built from user input", nil).Once()
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).
		Return("```json\n{\"decision\":\"approve\",\"notes\":\"uses placeholders\"}\n```", nil).Once()

	svc, store := newFixService(t, provider, 3)
	doc := vulnerableDocument()

	outcome, err := svc.Run(context.Background(), doc, sqlDiagnostic(), acceptAll())
	require.NoError(t, err)

	assert.Equal(t, FixApplied, outcome.Result)
	assert.Equal(t, 2, outcome.Attempts)

	proposals := provider.prompts("proposer")
	require.Len(t, proposals, 2)
	assert.NotContains(t, proposals[0], "the query is still built from user input")
	assert.Contains(t, proposals[1], "Reject: the query is still built from user input")
	assert.Contains(t, proposals[1], "Attempt: 2 of 3")
	assert.Len(t, provider.prompts("approval"), 2)

	want := "\trows, err := db.Query(\"SELECT * FROM users WHERE name = $1\", name)"
	require.Len(t, doc.edits, 1)
	assert.Equal(t, want, doc.edits[0].Text)
	assert.Equal(t, domain.Range{
		Start: domain.Position{Line: 9, Character: 0},
		End:   domain.Position{Line: 21, Character: len("line 21")},
	}, doc.edits[0].Range)
	assert.Equal(t, 1, doc.saves)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, want, sess.Metadata[domain.MetaLastFixProposal])
	assert.Equal(t, "uses placeholders", sess.Metadata[domain.MetaApprovalNotes])

	tools := messagesByRole(sess, domain.RoleTool)
	require.Len(t, tools, 3)
	assert.Equal(t, "read_file", tools[0].Metadata[domain.MetaTool])
	assert.Equal(t, "write_file", tools[2].Metadata[domain.MetaTool])
	for _, m := range sess.Messages {
		assert.False(t, m.Pending)
	}
	provider.AssertExpectations(t)
}

func TestFixService_UserDeclines(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("```go\nfixed()\n```", nil)
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).Return("I approve this change", nil)

	svc, store := newFixService(t, provider, 3)
	doc := vulnerableDocument()

	outcome, err := svc.Run(context.Background(), doc, sqlDiagnostic(), declineAll())
	require.NoError(t, err)

	assert.Equal(t, FixDeclined, outcome.Result)
	assert.Empty(t, doc.edits)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, "Fix proposal declined by user.", lastMessage(sess).Content)
}

func TestFixService_EditRejected(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("```go\nfixed()\n```", nil)
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).Return(`{"decision":"approve","notes":"ok"}`, nil)

	svc, store := newFixService(t, provider, 3)
	doc := vulnerableDocument()
	doc.applyErr = fmt.Errorf("%w: document changed since the fix was proposed", ErrEditRejected)

	outcome, err := svc.Run(context.Background(), doc, sqlDiagnostic(), acceptAll())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEditRejected)
	assert.Equal(t, FixFailed, outcome.Result)
	assert.Zero(t, doc.saves)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusError, sess.Status)
	assert.Contains(t, lastMessage(sess).Content, doc.applyErr.Error())
}

func TestFixService_ProviderError(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("", errProviderDown)

	svc, store := newFixService(t, provider, 3)

	outcome, err := svc.Run(context.Background(), vulnerableDocument(), sqlDiagnostic(), acceptAll())
	assert.ErrorIs(t, err, errProviderDown)
	assert.Equal(t, FixFailed, outcome.Result)
	assert.Equal(t, 1, outcome.Attempts)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusError, sess.Status)
	assert.Contains(t, lastMessage(sess).Content, "connection refused")
	for _, m := range sess.Messages {
		assert.False(t, m.Pending)
	}
	provider.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything)
}

func TestFixService_EmptyProposalConsumesAttempt(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("```go\n\n```", nil).Once()
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("fixed()", nil).Once()
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).Return(`{"decision":"approve"}`, nil).Once()

	svc, _ := newFixService(t, provider, 2)
	doc := vulnerableDocument()

	outcome, err := svc.Run(context.Background(), doc, sqlDiagnostic(), acceptAll())
	require.NoError(t, err)
	assert.Equal(t, FixApplied, outcome.Result)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Len(t, provider.prompts("approval"), 1)
	assert.Contains(t, provider.prompts("proposer")[1], "proposal was empty")
	assert.Equal(t, "fixed()", doc.edits[0].Text)
}

func TestFixService_CancelWhileAwaitingConfirmation(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("fixed()", nil)
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).Return(`{"decision":"approve"}`, nil)

	store := newTestStore(t)
	runner := NewRunner()
	svc := NewFixService(store, staticProviders{p: provider}, nil, runner, FixConfig{MaxAttempts: 1})
	confirmations := NewPendingConfirmations(store)
	doc := vulnerableDocument()

	sessionID, err := svc.RunAsync(doc, sqlDiagnostic(), confirmations)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := confirmations.Pending(sessionID)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.True(t, svc.Cancel(sessionID))
	runner.Wait()

	sess, _ := store.Get(sessionID)
	assert.Equal(t, domain.StatusCancelled, sess.Status)
	assert.Equal(t, "Fix run cancelled.", lastMessage(sess).Content)
	assert.Empty(t, doc.edits)
	assert.ErrorIs(t, confirmations.Resolve(sessionID, true), ErrNoConfirmation)
}

func TestFixService_ConfirmThroughRegistry(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Chat", mock.Anything, mock.Anything, asProposer(), mock.Anything).Return("fixed()", nil)
	provider.On("Chat", mock.Anything, mock.Anything, asApprover(), mock.Anything).Return(`{"decision":"approve"}`, nil)

	store := newTestStore(t)
	runner := NewRunner()
	svc := NewFixService(store, staticProviders{p: provider}, nil, runner, FixConfig{})
	confirmations := NewPendingConfirmations(store)
	doc := vulnerableDocument()

	sessionID, err := svc.RunAsync(doc, sqlDiagnostic(), confirmations)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		p, ok := confirmations.Pending(sessionID)
		sess, _ := store.Get(sessionID)
		return ok && p.Replacement == "fixed()" && sess.Metadata["awaitingConfirmation"] == true
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, confirmations.Resolve(sessionID, true))
	runner.Wait()

	sess, _ := store.Get(sessionID)
	assert.Equal(t, domain.StatusCompleted, sess.Status)
	assert.Equal(t, false, sess.Metadata["awaitingConfirmation"])
	require.Len(t, doc.edits, 1)
}

func TestFixService_ProviderLookupFails(t *testing.T) {
	store := newTestStore(t)
	svc := NewFixService(store, staticProviders{err: errors.New("provider not found: x")}, nil, nil, FixConfig{})

	outcome, err := svc.Run(context.Background(), vulnerableDocument(), sqlDiagnostic(), acceptAll())
	require.Error(t, err)

	sess, _ := store.Get(outcome.SessionID)
	assert.Equal(t, domain.StatusError, sess.Status)
}

func TestFixConfig_Normalized(t *testing.T) {
	assert.Equal(t, DefaultMaxAttempts, FixConfig{}.normalized().MaxAttempts)
	assert.Equal(t, MaxAttemptsLimit, FixConfig{MaxAttempts: 50}.normalized().MaxAttempts)
	assert.Equal(t, 1, FixConfig{MaxAttempts: 1}.normalized().MaxAttempts)
	assert.Equal(t, DefaultContextPadding, FixConfig{ContextPadding: -1}.normalized().ContextPadding)
}

func TestBuildFixContext(t *testing.T) {
	doc := newFakeDocument("a", "bb", "ccc", "dddd", "eeeee")

	tests := []struct {
		name      string
		rng       domain.Range
		padding   int
		wantStart int
		wantEnd   int
		snippet   string
	}{
		{"padded inside document", rangeLines(2, 2), 1, 1, 3, "bb\nccc\ndddd"},
		{"clamped at top", rangeLines(0, 0), 6, 0, 4, "a\nbb\nccc\ndddd\neeeee"},
		{"clamped at bottom", rangeLines(4, 4), 2, 2, 4, "ccc\ndddd\neeeee"},
		{"range beyond document", rangeLines(9, 12), 0, 4, 4, "eeeee"},
		{"no padding", rangeLines(1, 2), 0, 1, 2, "bb\nccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := BuildFixContext(doc, tt.rng, tt.padding)
			assert.Equal(t, tt.wantStart, fc.Range.Start.Line)
			assert.Equal(t, 0, fc.Range.Start.Character)
			assert.Equal(t, tt.wantEnd, fc.Range.End.Line)
			assert.Equal(t, len(doc.lines[tt.wantEnd]), fc.Range.End.Character)
			assert.Equal(t, tt.snippet, fc.Snippet)
			assert.Equal(t, "go", fc.LanguageID)
		})
	}

	empty := BuildFixContext(newFakeDocument(), rangeLines(3, 3), 6)
	assert.Empty(t, empty.Snippet)
}

func rangeLines(start, end int) domain.Range {
	return domain.Range{Start: domain.Position{Line: start}, End: domain.Position{Line: end, Character: 1}}
}
