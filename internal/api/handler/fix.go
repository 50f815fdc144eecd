package handler

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/api/response"
	"github.com/Rrens/secassist/internal/domain"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/workspace"
)

// FixHandler starts fix runs on workspace files and relays user confirmation
type FixHandler struct {
	fixes         *service.FixService
	confirmations *service.PendingConfirmations
	root          string
}

// NewFixHandler creates a new fix handler for files under root
func NewFixHandler(fixes *service.FixService, confirmations *service.PendingConfirmations, root string) *FixHandler {
	return &FixHandler{fixes: fixes, confirmations: confirmations, root: root}
}

// StartFixRequest is the body of POST /fixes
type StartFixRequest struct {
	FilePath   string             `json:"filePath" validate:"required,max=1024"`
	LanguageID string             `json:"languageId" validate:"max=64"`
	Diagnostic *domain.Diagnostic `json:"diagnostic" validate:"required"`
}

// ConfirmFixRequest is the body of POST /fixes/{sessionID}/confirm
type ConfirmFixRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

// Start opens the file and runs the fix loop in the background
func (h *FixHandler) Start(w http.ResponseWriter, r *http.Request) {
	var input StartFixRequest
	if !decode(w, r, &input, false) {
		return
	}

	doc, err := workspace.Open(h.root, input.FilePath, input.LanguageID)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrPathEscape), errors.Is(err, workspace.ErrInvalidPath):
			response.BadRequest(w, err.Error())
		case errors.Is(err, os.ErrNotExist):
			response.NotFound(w, "file not found")
		default:
			log.Error().Err(err).Str("file", input.FilePath).Msg("Failed to open workspace file")
			response.InternalError(w, "failed to open file")
		}
		return
	}

	sessionID, err := h.fixes.RunAsync(doc, *input.Diagnostic, h.confirmations)
	if err != nil {
		response.Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	response.Accepted(w, map[string]any{
		"sessionId":   sessionID,
		"maxAttempts": h.fixes.MaxAttempts(),
	})
}

// Pending returns the proposal awaiting confirmation, if any
func (h *FixHandler) Pending(w http.ResponseWriter, r *http.Request) {
	proposal, ok := h.confirmations.Pending(chi.URLParam(r, "sessionID"))
	if !ok {
		response.NotFound(w, service.ErrNoConfirmation.Error())
		return
	}
	response.OK(w, proposal)
}

// Confirm accepts or declines the proposal awaiting confirmation
func (h *FixHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var input ConfirmFixRequest
	if !decode(w, r, &input, false) {
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := h.confirmations.Resolve(id, *input.Accept); err != nil {
		response.Conflict(w, err.Error())
		return
	}

	response.OK(w, map[string]any{
		"sessionId": id,
		"accepted":  *input.Accept,
	})
}

// Cancel stops a running fix
func (h *FixHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]bool{
		"cancelled": h.fixes.Cancel(chi.URLParam(r, "sessionID")),
	})
}
