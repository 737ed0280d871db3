package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/middleware"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/session"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/store"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
)

// ConversationHandler handles conversation management endpoints.
type ConversationHandler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(sessions *session.Manager, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{sessions: sessions, logger: log}
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))

	if err := ctrl.LoadConversations(r.Context()); err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListConversationsResponse{
		Conversations: ctrl.Conversations(),
		ActiveID:      ctrl.ActiveConversationID(),
	})
}

// New handles POST /api/v1/conversations. No conversation is created yet;
// the next send creates one lazily.
func (h *ConversationHandler) New(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))
	ctrl.StartNewConversation()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Select handles POST /api/v1/conversations/{id}/select
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ctrl.SelectConversation(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages:       ctrl.Messages(),
		ConversationID: id,
	})
}

// Rename handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Rename(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenameConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ctrl.RenameConversation(r.Context(), id, req.Title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to rename conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))
	id := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := ctrl.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
