package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/secassist/internal/api/response"
	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/session"
)

// SessionHandler handles the chat panel intents
type SessionHandler struct {
	store *session.Store
	chat  *service.ChatService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(store *session.Store, chat *service.ChatService) *SessionHandler {
	return &SessionHandler{store: store, chat: chat}
}

// CreateSessionRequest is the body of POST /sessions
type CreateSessionRequest struct {
	Title string `json:"title" validate:"max=200"`
}

// RenameSessionRequest is the body of PATCH /sessions/{id}
type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,max=200"`
}

func (r *CreateSessionRequest) normalize() { r.Title = strings.TrimSpace(r.Title) }

func (r *RenameSessionRequest) normalize() { r.Title = strings.TrimSpace(r.Title) }

// SendMessageRequest is the body of POST /sessions/{id}/messages
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

// State returns the current snapshot
func (h *SessionHandler) State(w http.ResponseWriter, r *http.Request) {
	response.OK(w, h.store.Snapshot())
}

// Create starts a new Q&A session and makes it active
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input CreateSessionRequest
	if !decode(w, r, &input, true) {
		return
	}

	sess := h.store.Create(domain.SessionTypeQA, input.Title, nil)
	response.Created(w, sess)
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.store.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		response.NotFound(w, "session not found")
		return
	}
	response.OK(w, sess)
}

// Select makes a session active
func (h *SessionHandler) Select(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetActive(chi.URLParam(r, "sessionID")); err != nil {
		response.NotFound(w, "session not found")
		return
	}
	response.OK(w, h.store.Snapshot())
}

// Rename changes a session title
func (h *SessionHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var input RenameSessionRequest
	if !decode(w, r, &input, false) {
		return
	}

	id := chi.URLParam(r, "sessionID")
	if !h.store.Rename(id, input.Title) {
		response.NotFound(w, "session not found")
		return
	}

	sess, _ := h.store.Get(id)
	response.OK(w, sess)
}

// Delete removes a session, stopping any request it has in flight
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.chat.Cancel(id)
	if !h.store.Delete(id) {
		response.NotFound(w, "session not found")
		return
	}
	response.NoContent(w)
}

// ClearAll removes every session
func (h *SessionHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	for _, sess := range h.store.Snapshot().Sessions {
		h.chat.Cancel(sess.ID)
	}
	h.store.ClearAll()
	response.NoContent(w)
}

// SendMessage submits user text; the answer streams through the event feed
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var input SendMessageRequest
	if !decode(w, r, &input, false) {
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := h.chat.SubmitAsync(id, input.Text); err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.NotFound(w, "session not found")
		case errors.Is(err, service.ErrInputNotAllowed):
			response.Conflict(w, err.Error())
		case errors.Is(err, service.ErrSessionBusy):
			response.Conflict(w, err.Error())
		default:
			response.Error(w, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	response.Accepted(w, map[string]string{
		"sessionId": id,
		"status":    "accepted",
	})
}

// Cancel aborts the in-flight request of a session
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if _, ok := h.store.Get(id); !ok {
		response.NotFound(w, "session not found")
		return
	}

	response.OK(w, map[string]bool{
		"cancelled": h.chat.Cancel(id),
	})
}
