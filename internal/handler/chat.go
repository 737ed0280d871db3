package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/middleware"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/session"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

// ChatHandler handles the event-stream chat endpoints.
type ChatHandler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(sessions *session.Manager, log *logger.Logger) *ChatHandler {
	return &ChatHandler{sessions: sessions, logger: log}
}

// TokenEvent carries one streamed response delta.
type TokenEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
}

// ErrorEvent carries a stream-level failure.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageCompleteEvent carries the finalized assistant message.
type MessageCompleteEvent struct {
	Message model.Message `json:"message"`
}

// SetModeRequest selects a behavior profile for subsequent sends.
type SetModeRequest struct {
	Mode string `json:"mode"`
}

// Send handles POST /api/v1/chat/send and relays the assistant's reply as
// server-sent events: token events per delta, then message_complete, then
// done. Errors after the stream opens surface as error events.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(ctx))

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher := h.openStream(w)
	if flusher == nil {
		return
	}

	index := 0
	err := ctrl.Send(ctx, session.SendRequest{
		Content:     req.Content,
		Attachments: req.Attachments,
		OnDelta: func(delta string) {
			sendSSEEvent(w, flusher, "token", &TokenEvent{Token: delta, Index: index})
			index++
		},
	})
	h.finishStream(w, flusher, ctrl, err)
}

// EditImage handles POST /api/v1/chat/edit-image. The result is a single
// image document, relayed over the same event protocol for a uniform client.
func (h *ChatHandler) EditImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(ctx))

	var req model.EditImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageURL == "" || req.Instruction == "" {
		writeError(w, http.StatusBadRequest, "image_url and instruction are required")
		return
	}

	flusher := h.openStream(w)
	if flusher == nil {
		return
	}

	err := ctrl.EditImage(ctx, req.ImageURL, req.Instruction)
	h.finishStream(w, flusher, ctrl, err)
}

// Regenerate handles POST /api/v1/chat/regenerate.
func (h *ChatHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(ctx))

	var req model.RegenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	flusher := h.openStream(w)
	if flusher == nil {
		return
	}

	index := 0
	err := ctrl.RegenerateImage(ctx, req.Prompt, func(delta string) {
		sendSSEEvent(w, flusher, "token", &TokenEvent{Token: delta, Index: index})
		index++
	})
	h.finishStream(w, flusher, ctrl, err)
}

// SetMode handles PUT /api/v1/chat/mode.
func (h *ChatHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	ctrl := h.sessions.GetOrCreate(middleware.GetUserID(r.Context()))

	var req SetModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctrl.SetMode(model.Mode(req.Mode))
	writeJSON(w, http.StatusOK, map[string]string{
		"mode": string(ctrl.Mode()),
	})
}

// openStream switches the response to server-sent events. Returns nil if
// the connection cannot stream.
func (h *ChatHandler) openStream(w http.ResponseWriter) http.Flusher {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	return flusher
}

// finishStream emits the closing events for a send: an error event, or
// message_complete with the finalized assistant message followed by done.
func (h *ChatHandler) finishStream(w http.ResponseWriter, flusher http.Flusher, ctrl *session.Controller, sendErr error) {
	defer metrics.DecrementSSEConnections()

	if sendErr != nil {
		sendSSEEvent(w, flusher, "error", &ErrorEvent{
			Code:    errorCode(sendErr),
			Message: sendErr.Error(),
		})
		return
	}

	msgs := ctrl.Messages()
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == model.RoleAssistant {
		sendSSEEvent(w, flusher, "message_complete", &MessageCompleteEvent{
			Message: msgs[len(msgs)-1],
		})
	}
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrSendInFlight):
		return "send_in_flight"
	case errors.Is(err, session.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, session.ErrTooManyAttachments):
		return "too_many_attachments"
	case errors.Is(err, session.ErrNoUser):
		return "unauthorized"
	default:
		return "stream_error"
	}
}
