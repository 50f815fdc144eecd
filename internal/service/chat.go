package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/llm"
)

// ChatService bridges user messages in qa sessions to the provider
type ChatService struct {
	store     SessionStore
	providers ProviderSource
	notifier  Notifier
	runner    *Runner
}

// NewChatService creates a new chat service
func NewChatService(store SessionStore, providers ProviderSource, notifier Notifier, runner *Runner) *ChatService {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if runner == nil {
		runner = NewRunner()
	}
	return &ChatService{
		store:     store,
		providers: providers,
		notifier:  notifier,
		runner:    runner,
	}
}

// Submit sends text to the provider and streams the answer into the session.
// Empty input is ignored. Refusals are reported through the notifier.
func (s *ChatService) Submit(ctx context.Context, sessionID, text string) error {
	sess, err := s.precheck(sessionID)
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	unlock, ok := s.runner.lockSession(sessionID)
	if !ok {
		notify(s.notifier, NoticeWarning, sessionID, "A response is already being generated for this session.")
		return ErrSessionBusy
	}
	defer unlock()

	// re-read under the session lock
	if sess, ok = s.store.Get(sessionID); !ok {
		notify(s.notifier, NoticeWarning, sessionID, "This chat session no longer exists.")
		return ErrSessionNotFound
	}
	if sess.Status == domain.StatusRunning {
		notify(s.notifier, NoticeWarning, sessionID, "A response is already being generated for this session.")
		return ErrSessionBusy
	}

	return s.run(ctx, sess, text)
}

// SubmitAsync validates the request and runs it in the background
func (s *ChatService) SubmitAsync(sessionID, text string) error {
	if _, err := s.precheck(sessionID); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	err := s.runner.Go(sessionID, func(ctx context.Context) {
		if err := s.Submit(ctx, sessionID, text); err != nil {
			log.Debug().Err(err).Str("session_id", sessionID).Msg("Async submit ended with error")
		}
	})
	if errors.Is(err, ErrSessionBusy) {
		notify(s.notifier, NoticeWarning, sessionID, "A response is already being generated for this session.")
	}
	return err
}

// Cancel aborts the in-flight request of a session
func (s *ChatService) Cancel(sessionID string) bool {
	return s.runner.Cancel(sessionID)
}

func (s *ChatService) precheck(sessionID string) (domain.ChatSession, error) {
	sess, ok := s.store.Get(sessionID)
	if !ok {
		notify(s.notifier, NoticeWarning, sessionID, "This chat session no longer exists.")
		return domain.ChatSession{}, ErrSessionNotFound
	}
	if !sess.AcceptsInput() {
		notify(s.notifier, NoticeWarning, sessionID, "This session is managed by the fix agent and does not accept messages.")
		return domain.ChatSession{}, ErrInputNotAllowed
	}
	return sess, nil
}

func (s *ChatService) run(ctx context.Context, sess domain.ChatSession, text string) error {
	sessionID := sess.ID
	logger := log.With().Str("session_id", sessionID).Logger()

	if _, ok := s.store.AddMessage(sessionID, domain.MessageInput{Role: domain.RoleUser, Content: text}); !ok {
		return ErrSessionNotFound
	}
	if sess.Title == domain.DefaultSessionTitle && !hasUserMessage(sess) {
		s.store.Rename(sessionID, autoTitle(text))
	}

	placeholder, ok := s.store.AddMessage(sessionID, domain.MessageInput{Role: domain.RoleAssistant, Pending: true})
	if !ok {
		return ErrSessionBusy
	}
	s.store.UpdateSessionStatus(sessionID, domain.StatusRunning)

	current, _ := s.store.Get(sessionID)
	history := replayHistory(current, placeholder.ID)

	provider, err := s.providers.GetProvider("")
	if err != nil {
		s.fail(sessionID, placeholder.ID, err)
		return err
	}

	systemPrompt := chatSystemPrompt(current)
	promptTokens := llm.EstimateMessages(llm.WithSystemPrompt(systemPrompt, history))

	logger.Info().
		Str("provider", provider.Name()).
		Int("history", len(history)).
		Int("prompt_tokens", promptTokens).
		Msg("Submitting chat message")

	var (
		mu        sync.Mutex
		streamed  bool
		completed bool
	)
	finish := func(full string) {
		mu.Lock()
		defer mu.Unlock()
		if completed {
			return
		}
		completed = true

		upd := domain.MessageUpdate{
			Pending: ptr(false),
			Metadata: map[string]any{
				domain.MetaTokens:       llm.EstimateTokens(full),
				domain.MetaPromptTokens: promptTokens,
				"provider":              provider.Name(),
			},
		}
		if !streamed {
			upd.Content = ptr(full)
		}
		s.store.UpdateMessage(sessionID, placeholder.ID, upd)
		s.store.UpdateSessionStatus(sessionID, domain.StatusIdle)
	}

	start := time.Now()
	full, err := provider.Chat(ctx, history, llm.ChatOptions{SystemPrompt: systemPrompt}, &llm.Callbacks{
		OnToken: func(fragment string) {
			mu.Lock()
			streamed = true
			mu.Unlock()
			s.store.AppendToMessage(sessionID, placeholder.ID, fragment)
		},
		OnComplete: finish,
	})

	if err != nil {
		if ctx.Err() != nil {
			s.cancelled(sessionID, placeholder.ID)
			return ctx.Err()
		}
		s.fail(sessionID, placeholder.ID, err)
		return err
	}

	// providers that skip OnComplete still end the message
	finish(full)
	flushStore(s.store, sessionID)

	logger.Info().Dur("latency", time.Since(start)).Msg("Chat response completed")
	return nil
}

func (s *ChatService) fail(sessionID, messageID string, cause error) {
	log.Error().Err(cause).Str("session_id", sessionID).Msg("Chat request failed")

	s.store.UpdateMessage(sessionID, messageID, domain.MessageUpdate{
		Content:  ptr(chatFailureText),
		Pending:  ptr(false),
		Metadata: map[string]any{"error": cause.Error()},
	})
	s.store.UpdateSessionStatus(sessionID, domain.StatusError)
	flushStore(s.store, sessionID)

	notify(s.notifier, NoticeError, sessionID, cause.Error())
}

func (s *ChatService) cancelled(sessionID, messageID string) {
	log.Info().Str("session_id", sessionID).Msg("Chat request cancelled")

	content := cancelledSuffix
	if sess, ok := s.store.Get(sessionID); ok {
		if i := sess.MessageIndex(messageID); i != -1 && sess.Messages[i].Content != "" {
			content = sess.Messages[i].Content + "\n\n" + cancelledSuffix
		}
	}
	s.store.UpdateMessage(sessionID, messageID, domain.MessageUpdate{
		Content: ptr(content),
		Pending: ptr(false),
	})
	s.store.UpdateSessionStatus(sessionID, domain.StatusCancelled)
	flushStore(s.store, sessionID)
}

// replayHistory returns user and assistant turns in order, without the placeholder
func replayHistory(sess domain.ChatSession, placeholderID string) []llm.Message {
	out := make([]llm.Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		if m.ID == placeholderID || !m.IsReplayable() {
			continue
		}
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func hasUserMessage(sess domain.ChatSession) bool {
	for _, m := range sess.Messages {
		if m.Role == domain.RoleUser {
			return true
		}
	}
	return false
}
