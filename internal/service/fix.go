package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
)

const (
	DefaultMaxAttempts    = 3
	MaxAttemptsLimit      = 5
	DefaultContextPadding = 6
)

// FixConfig bounds the propose/review loop
type FixConfig struct {
	MaxAttempts      int
	ContextPadding   int
	ProposerProvider string
	ApprovalProvider string
}

func (c FixConfig) normalized() FixConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	c.MaxAttempts = clamp(c.MaxAttempts, 1, MaxAttemptsLimit)
	if c.ContextPadding < 0 {
		c.ContextPadding = DefaultContextPadding
	}
	return c
}

// FixResult is the terminal outcome of a fix run
type FixResult string

const (
	FixApplied   FixResult = "applied"
	FixDeclined  FixResult = "declined"
	FixExhausted FixResult = "exhausted"
	FixFailed    FixResult = "failed"
	FixCancelled FixResult = "cancelled"
)

// FixOutcome summarizes a finished run
type FixOutcome struct {
	SessionID string              `json:"sessionId"`
	Result    FixResult           `json:"result"`
	Attempts  int                 `json:"attempts"`
	Proposal  *domain.FixProposal `json:"proposal,omitempty"`
}

// FixService runs the two-agent remediation loop for a diagnostic
type FixService struct {
	store     SessionStore
	providers ProviderSource
	notifier  Notifier
	runner    *Runner
	cfg       FixConfig
}

// NewFixService creates a new fix orchestrator
func NewFixService(store SessionStore, providers ProviderSource, notifier Notifier, runner *Runner, cfg FixConfig) *FixService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if runner == nil {
		runner = NewRunner()
	}
	return &FixService{
		store:     store,
		providers: providers,
		notifier:  notifier,
		runner:    runner,
		cfg:       cfg.normalized(),
	}
}

// MaxAttempts returns the configured attempt bound
func (s *FixService) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// Run creates a fix session for diag and drives it to a terminal status
func (s *FixService) Run(ctx context.Context, doc Document, diag domain.Diagnostic, confirmer Confirmer) (FixOutcome, error) {
	sess := s.createSession(doc, diag)
	return s.execute(ctx, sess.ID, doc, diag, confirmer)
}

// RunAsync starts a fix run in the background and returns its session id
func (s *FixService) RunAsync(doc Document, diag domain.Diagnostic, confirmer Confirmer) (string, error) {
	sess := s.createSession(doc, diag)
	err := s.runner.Go(sess.ID, func(ctx context.Context) {
		outcome, err := s.execute(ctx, sess.ID, doc, diag, confirmer)
		if err != nil {
			log.Debug().Err(err).Str("session_id", sess.ID).Str("result", string(outcome.Result)).Msg("Fix run ended with error")
		}
	})
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Cancel aborts a running fix
func (s *FixService) Cancel(sessionID string) bool {
	return s.runner.Cancel(sessionID)
}

func (s *FixService) createSession(doc Document, diag domain.Diagnostic) domain.ChatSession {
	return s.store.Create(domain.SessionTypeFix, "Fix: "+diag.Label(), map[string]any{
		domain.MetaFilePath:          doc.URI(),
		domain.MetaLanguageID:        doc.LanguageID(),
		domain.MetaDiagnosticCode:    diag.Code,
		domain.MetaDiagnosticMessage: diag.Message,
		domain.MetaVulnerability:     diag.Message,
	})
}

// fixRun carries the state of one orchestration
type fixRun struct {
	svc       *FixService
	sessionID string
	doc       Document
	diag      domain.Diagnostic
	fc        domain.FixContext
	logger    zerolog.Logger
	pendingID string
}

func (s *FixService) execute(ctx context.Context, sessionID string, doc Document, diag domain.Diagnostic, confirmer Confirmer) (FixOutcome, error) {
	r := &fixRun{
		svc:       s,
		sessionID: sessionID,
		doc:       doc,
		diag:      diag,
		logger:    log.With().Str("session_id", sessionID).Str("file", doc.URI()).Logger(),
	}
	outcome := FixOutcome{SessionID: sessionID}

	unlock, ok := s.runner.lockSession(sessionID)
	if !ok {
		return outcome, ErrSessionBusy
	}
	defer unlock()

	s.store.UpdateSessionStatus(sessionID, domain.StatusRunning)
	r.agent(fmt.Sprintf("Starting fix for %s at %s:%d.", diag.Label(), doc.URI(), diag.Range.Start.Line+1))

	r.fc = BuildFixContext(doc, diag.Range, s.cfg.ContextPadding)

	proposer, err := s.providers.GetProvider(s.cfg.ProposerProvider)
	if err != nil {
		return r.failed(outcome, err)
	}
	approver, err := s.providers.GetProvider(s.cfg.ApprovalProvider)
	if err != nil {
		return r.failed(outcome, err)
	}

	var (
		feedback []string
		approved *domain.FixProposal
	)
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		outcome.Attempts = attempt
		r.logger.Info().Int("attempt", attempt).Msg("Proposing fix")

		replacement, err := r.propose(ctx, proposer, attempt, feedback)
		if err != nil {
			return r.stop(ctx, outcome, err)
		}
		if replacement == "" {
			r.agent(fmt.Sprintf("Attempt %d produced an empty proposal.", attempt))
			feedback = append(feedback, fmt.Sprintf("Attempt %d: the proposal was empty. Return the full corrected snippet.", attempt))
			continue
		}

		result, err := r.review(ctx, approver, attempt, replacement)
		if err != nil {
			return r.stop(ctx, outcome, err)
		}
		if result.Approved() {
			approved = &domain.FixProposal{
				SessionID:   sessionID,
				FilePath:    doc.URI(),
				Range:       r.fc.Range,
				Original:    r.fc.Snippet,
				Replacement: replacement,
				Notes:       result.Notes,
				Attempt:     attempt,
			}
			break
		}

		notes := result.Notes
		if notes == "" {
			notes = "rejected without notes"
		}
		feedback = append(feedback, fmt.Sprintf("Attempt %d: %s", attempt, notes))
	}

	if approved == nil {
		outcome.Result = FixExhausted
		r.agent(fmt.Sprintf("Approval agent could not sign off on a safe fix after %d attempt(s).", outcome.Attempts))
		r.finish(domain.StatusCompleted)
		return outcome, nil
	}
	outcome.Proposal = approved

	r.agent("Fix approved. Waiting for your confirmation before editing the file.")
	accepted, err := confirmer.Confirm(ctx, *approved)
	if err != nil {
		return r.stop(ctx, outcome, err)
	}
	if !accepted {
		outcome.Result = FixDeclined
		r.agent("Fix proposal declined by user.")
		r.finish(domain.StatusCompleted)
		return outcome, nil
	}

	r.tool("write_file", map[string]any{
		"path":      doc.URI(),
		"startLine": r.fc.Range.Start.Line + 1,
		"endLine":   r.fc.Range.End.Line + 1,
	}, fmt.Sprintf("write_file %s lines %d-%d", doc.URI(), r.fc.Range.Start.Line+1, r.fc.Range.End.Line+1))

	if err := doc.ApplyEdit(ctx, r.fc.Range, approved.Replacement); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(outcome)
		}
		return r.failed(outcome, err)
	}
	if err := doc.Save(ctx); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(outcome)
		}
		return r.failed(outcome, err)
	}

	outcome.Result = FixApplied
	r.agent(fmt.Sprintf("Fix applied to %s (lines %d-%d) and saved.", doc.URI(), r.fc.Range.Start.Line+1, r.fc.Range.End.Line+1))
	r.finish(domain.StatusCompleted)
	r.logger.Info().Int("attempts", outcome.Attempts).Msg("Fix applied")
	return outcome, nil
}

// propose streams one proposal into the session and returns the extracted code
func (r *fixRun) propose(ctx context.Context, provider llm.Provider, attempt int, feedback []string) (string, error) {
	store := r.svc.store
	fc := r.fc

	r.tool("read_file", map[string]any{
		"path":      fc.FilePath,
		"startLine": fc.Range.Start.Line + 1,
		"endLine":   fc.Range.End.Line + 1,
	}, fmt.Sprintf("read_file %s lines %d-%d\n\n%s", fc.FilePath, fc.Range.Start.Line+1, fc.Range.End.Line+1, fc.Snippet))

	r.agent(fmt.Sprintf("Attempt %d of %d: proposing a fix.", attempt, r.svc.cfg.MaxAttempts))

	msg, ok := store.AddMessage(r.sessionID, domain.MessageInput{
		Role:     domain.RoleAssistant,
		Pending:  true,
		Metadata: map[string]any{"agent": "proposer", domain.MetaAttempts: attempt},
	})
	if !ok {
		return "", ErrSessionNotFound
	}
	r.pendingID = msg.ID

	prompt := buildProposalPrompt(fc, r.diag, attempt, r.svc.cfg.MaxAttempts, feedback)
	streamed := false
	full, err := provider.Chat(ctx, llm.SinglePrompt(prompt), llm.ChatOptions{
		SystemPrompt: proposerPersona,
		Temperature:  llm.Float(0),
	}, &llm.Callbacks{
		OnToken: func(fragment string) {
			streamed = true
			store.AppendToMessage(r.sessionID, msg.ID, fragment)
		},
	})
	if err != nil {
		return "", err
	}

	upd := domain.MessageUpdate{
		Pending:  ptr(false),
		Metadata: map[string]any{domain.MetaTokens: llm.EstimateTokens(full)},
	}
	if !streamed {
		upd.Content = ptr(full)
	}
	store.UpdateMessage(r.sessionID, msg.ID, upd)
	r.pendingID = ""

	return llm.ExtractCode(full), nil
}

// review asks the approval agent to judge a replacement
func (r *fixRun) review(ctx context.Context, provider llm.Provider, attempt int, replacement string) (domain.ApprovalResult, error) {
	store := r.svc.store
	r.agent(fmt.Sprintf("Attempt %d: sending the proposal to the approval agent.", attempt))

	raw, err := provider.Chat(ctx, llm.SinglePrompt(buildApprovalPrompt(r.fc, r.diag, replacement)), llm.ChatOptions{
		SystemPrompt: approvalPersona,
		Temperature:  llm.Float(0),
	}, nil)
	if err != nil {
		return domain.ApprovalResult{}, err
	}

	if strings.TrimSpace(raw) != "" {
		store.AddMessage(r.sessionID, domain.MessageInput{
			Role:     domain.RoleAssistant,
			Content:  raw,
			Metadata: map[string]any{"agent": "approval", domain.MetaAttempts: attempt},
		})
	}

	result := ParseApproval(raw)
	r.logger.Info().Int("attempt", attempt).Str("decision", string(result.Decision)).Msg("Approval agent decided")

	text := fmt.Sprintf("Approval agent decision for attempt %d: %s", attempt, result.Decision)
	if result.Notes != "" {
		text += "\n\n" + result.Notes
	}
	r.agent(text)

	store.UpdateSessionMetadata(r.sessionID, map[string]any{
		domain.MetaLastFixProposal: replacement,
		domain.MetaApprovalNotes:   result.Notes,
		domain.MetaAttempts:        attempt,
	})
	return result, nil
}

// stop ends the run after a provider or confirmation error
func (r *fixRun) stop(ctx context.Context, outcome FixOutcome, err error) (FixOutcome, error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return r.cancelled(outcome)
	}
	return r.failed(outcome, err)
}

func (r *fixRun) failed(outcome FixOutcome, cause error) (FixOutcome, error) {
	r.logger.Error().Err(cause).Msg("Fix run failed")
	r.closePending(chatFailureText)

	outcome.Result = FixFailed
	r.agent("Fix failed: " + cause.Error())
	r.finish(domain.StatusError)
	notify(r.svc.notifier, NoticeError, r.sessionID, cause.Error())
	return outcome, cause
}

func (r *fixRun) cancelled(outcome FixOutcome) (FixOutcome, error) {
	r.logger.Info().Msg("Fix run cancelled")
	r.closePending("")

	outcome.Result = FixCancelled
	r.agent("Fix run cancelled.")
	r.finish(domain.StatusCancelled)
	return outcome, context.Canceled
}

// closePending ends a streamed message interrupted by an error or cancellation
func (r *fixRun) closePending(replace string) {
	if r.pendingID == "" {
		return
	}
	store := r.svc.store
	content := replace
	if content == "" {
		content = cancelledSuffix
		if sess, ok := store.Get(r.sessionID); ok {
			if i := sess.MessageIndex(r.pendingID); i != -1 && sess.Messages[i].Content != "" {
				content = sess.Messages[i].Content + "\n\n" + cancelledSuffix
			}
		}
	}
	store.UpdateMessage(r.sessionID, r.pendingID, domain.MessageUpdate{Content: ptr(content), Pending: ptr(false)})
	r.pendingID = ""
}

func (r *fixRun) finish(status domain.SessionStatus) {
	r.svc.store.UpdateSessionStatus(r.sessionID, status)
	flushStore(r.svc.store, r.sessionID)
}

func (r *fixRun) agent(text string) {
	r.svc.store.AddMessage(r.sessionID, domain.MessageInput{Role: domain.RoleAgent, Content: text})
}

func (r *fixRun) tool(name string, args map[string]any, text string) {
	md := map[string]any{domain.MetaTool: name}
	for k, v := range args {
		md[k] = v
	}
	r.svc.store.AddMessage(r.sessionID, domain.MessageInput{Role: domain.RoleTool, Content: text, Metadata: md})
}
