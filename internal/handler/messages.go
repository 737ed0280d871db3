package handler

import (
	"net/http"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/middleware"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/session"
)

// MessageHandler handles message history endpoints.
type MessageHandler struct {
	sessions *session.Manager
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(sessions *session.Manager) *MessageHandler {
	return &MessageHandler{sessions: sessions}
}

// List handles GET /api/v1/messages and returns the active conversation's
// live message view, including any still-streaming assistant message.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages:       ctrl.Messages(),
		ConversationID: ctrl.ActiveConversationID(),
	})
}
