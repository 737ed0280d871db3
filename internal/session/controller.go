// Package session owns the in-memory conversation state and orchestrates
// the send pipeline: optimistic message insertion, cache lookup, gateway
// dispatch, stream consumption, and durable persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/cache"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/gateway"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/notify"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

// Validation skips: the HTTP layer treats these as silent no-ops rather
// than user-facing errors.
var (
	ErrEmptyMessage       = errors.New("message is empty")
	ErrSendInFlight       = errors.New("a send is already in flight")
	ErrNoUser             = errors.New("no authenticated user")
	ErrTooManyAttachments = errors.New("too many attachments")
)

const (
	defaultHistoryWindow   = 20
	defaultMaxAttachments  = 4
	defaultImageQuestion   = "What's in this image?"
	defaultGeneratedLabel  = "Here's your generated image:"
	defaultEditedLabel     = "Here's your edited image:"
	regeneratePromptPrefix = "Generate an image of "
)

// ConversationStore is the durable conversation accessor the controller
// consumes.
type ConversationStore interface {
	Create(ctx context.Context, userID string) (*model.Conversation, error)
	List(ctx context.Context, userID string) ([]model.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// MessageStore is the durable message accessor the controller consumes.
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	List(ctx context.Context, conversationID string) ([]model.Message, error)
}

// convStatus tracks how the active conversation came to be. A conversation
// created inline during a send passes through statusCreating; the next
// reload attempt consumes that state instead of clobbering the optimistic
// message list with the (empty) freshly created conversation's history.
type convStatus int

const (
	statusNone convStatus = iota
	statusCreating
	statusReady
)

// SendRequest carries one send invocation.
type SendRequest struct {
	Content     string
	Attachments []model.Attachment

	// OnDelta, when set, observes each text delta as it is applied to the
	// live assistant message.
	OnDelta func(delta string)
}

// Controller owns one user's conversation view state. All mutation goes
// through its operations; at most one send is in flight at a time.
type Controller struct {
	userID        string
	conversations ConversationStore
	messageStore  MessageStore
	gw            gateway.Sender
	cache         *cache.ResponseCache
	notifier      notify.Notifier
	logger        *logger.Logger

	historyWindow  int
	maxAttachments int

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	convs    []model.Conversation
	activeID string
	status   convStatus
	messages []model.Message
	mode     model.Mode
	inFlight bool
}

// Config assembles a Controller.
type Config struct {
	UserID        string
	Conversations ConversationStore
	Messages      MessageStore
	Gateway       gateway.Sender
	Cache         *cache.ResponseCache
	Notifier      notify.Notifier
	Logger        *logger.Logger

	// HistoryWindow caps the trailing prior-message window included in a
	// gateway payload. Zero means the default of 20.
	HistoryWindow int
	// MaxAttachments caps attachments per send. Zero means the default of 4.
	MaxAttachments int
}

// NewController creates a session controller for one user.
func NewController(cfg Config) *Controller {
	historyWindow := cfg.HistoryWindow
	if historyWindow == 0 {
		historyWindow = defaultHistoryWindow
	}
	maxAttachments := cfg.MaxAttachments
	if maxAttachments == 0 {
		maxAttachments = defaultMaxAttachments
	}

	return &Controller{
		userID:         cfg.UserID,
		conversations:  cfg.Conversations,
		messageStore:   cfg.Messages,
		gw:             cfg.Gateway,
		cache:          cfg.Cache,
		notifier:       cfg.Notifier,
		logger:         cfg.Logger,
		historyWindow:  historyWindow,
		maxAttachments: maxAttachments,
		now:            time.Now,
		newID:          func() string { return uuid.Must(uuid.NewV7()).String() },
		mode:           model.ModeGeneral,
	}
}

// LoadConversations fetches the user's conversations, newest first.
func (c *Controller) LoadConversations(ctx context.Context) error {
	convs, err := c.conversations.List(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("loading conversations: %w", err)
	}

	c.mu.Lock()
	c.convs = convs
	c.mu.Unlock()
	return nil
}

// Conversations returns a snapshot of the conversation list.
func (c *Controller) Conversations() []model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Conversation, len(c.convs))
	copy(out, c.convs)
	return out
}

// Messages returns a snapshot of the active conversation's message list.
func (c *Controller) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ActiveConversationID returns the active conversation identifier, if any.
func (c *Controller) ActiveConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Mode returns the current behavior profile.
func (c *Controller) Mode() model.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode selects the behavior profile for subsequent sends.
func (c *Controller) SetMode(m model.Mode) {
	c.mu.Lock()
	c.mode = m.Normalize()
	c.mu.Unlock()
}

// SelectConversation makes id the active conversation and reloads its
// messages from durable storage. A reload against a conversation this
// session just created inline is skipped once: the optimistic in-memory
// state is already ahead of the store.
func (c *Controller) SelectConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.status == statusCreating && id == c.activeID {
		c.status = statusReady
		c.mu.Unlock()
		return nil
	}
	c.activeID = id
	c.status = statusReady
	c.mu.Unlock()

	msgs, err := c.messageStore.List(ctx, id)
	if err != nil {
		c.logger.Error("failed to load messages", "conversation_id", id, "error", err)
		return fmt.Errorf("loading messages: %w", err)
	}

	c.mu.Lock()
	if c.activeID == id {
		c.messages = msgs
	}
	c.mu.Unlock()
	return nil
}

// StartNewConversation clears the active conversation; the next send
// creates a fresh one lazily.
func (c *Controller) StartNewConversation() {
	c.mu.Lock()
	c.activeID = ""
	c.status = statusNone
	c.messages = nil
	c.mu.Unlock()
}

// Send runs one full exchange: optimistic user message, cache lookup,
// gateway dispatch, stream consumption into the live assistant message,
// and durable persistence of both sides.
func (c *Controller) Send(ctx context.Context, req SendRequest) error {
	if c.userID == "" {
		return ErrNoUser
	}
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Attachments) == 0 {
		return ErrEmptyMessage
	}
	if len(req.Attachments) > c.maxAttachments {
		return ErrTooManyAttachments
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	convID, err := c.ensureConversation(ctx)
	if err != nil {
		c.notifier.Notify(ctx, c.userID, notify.LevelError, "Failed to create conversation")
		return err
	}

	images := c.convertAttachments(ctx, req.Attachments)

	if content == "" {
		content = defaultImageQuestion
	}

	userMsg := model.Message{
		ID:             c.newID(),
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        content,
		CreatedAt:      c.now(),
		Images:         images,
	}

	c.mu.Lock()
	first := len(c.messages) == 0
	prior := trailingWindow(c.messages, c.historyWindow)
	c.messages = append(c.messages, userMsg)
	c.mu.Unlock()
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	if first {
		go c.updateTitle(context.WithoutCancel(ctx), convID, model.DeriveTitle(content))
	}

	// Attachment-free queries may be answered from the cache without ever
	// touching the gateway.
	if len(images) == 0 {
		if entry, ok := c.cache.Get(content); ok {
			assistant := model.Message{
				ID:              c.newID(),
				ConversationID:  convID,
				Role:            model.RoleAssistant,
				Content:         entry.Response,
				CreatedAt:       c.now(),
				GeneratedImages: entry.GeneratedImages,
			}
			c.mu.Lock()
			c.messages = append(c.messages, assistant)
			c.mu.Unlock()
			metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()

			c.persistUserMessage(ctx, userMsg)
			c.persistExchange(ctx, convID, assistant)
			return nil
		}
	}

	placeholder := model.Message{
		ID:             c.newID(),
		ConversationID: convID,
		Role:           model.RoleAssistant,
		CreatedAt:      c.now(),
	}
	c.mu.Lock()
	c.messages = append(c.messages, placeholder)
	mode := c.mode
	c.mu.Unlock()

	c.persistUserMessage(ctx, userMsg)

	resp, err := c.gw.Send(ctx, &gateway.Request{
		Messages: buildPayload(prior, userMsg),
		Mode:     mode,
	})
	if err != nil {
		c.failTurn(ctx, placeholder.ID, err)
		return err
	}

	finalContent, generatedImages, err := c.consumeResponse(resp, placeholder.ID, convID, req.OnDelta)
	if err != nil {
		c.failTurn(ctx, placeholder.ID, err)
		return err
	}

	if finalContent != "" {
		assistant := model.Message{
			ID:              placeholder.ID,
			ConversationID:  convID,
			Role:            model.RoleAssistant,
			Content:         finalContent,
			CreatedAt:       placeholder.CreatedAt,
			GeneratedImages: generatedImages,
		}
		metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
		c.persistExchange(ctx, convID, assistant)

		if len(images) == 0 && len(generatedImages) == 0 {
			c.cache.Set(content, finalContent, nil)
		}
	}
	return nil
}

// EditImage re-submits a generated image with a free-text instruction. The
// request is always non-streaming and must produce an image-generation
// document.
func (c *Controller) EditImage(ctx context.Context, imageURL, instruction string) error {
	if c.userID == "" {
		return ErrNoUser
	}

	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	convID, err := c.ensureConversation(ctx)
	if err != nil {
		c.notifier.Notify(ctx, c.userID, notify.LevelError, "Failed to create conversation")
		return err
	}

	userMsg := model.Message{
		ID:             c.newID(),
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        "Edit image: " + instruction,
		CreatedAt:      c.now(),
		Images:         []string{imageURL},
	}

	c.mu.Lock()
	c.messages = append(c.messages, userMsg)
	c.mu.Unlock()
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	placeholder := model.Message{
		ID:             c.newID(),
		ConversationID: convID,
		Role:           model.RoleAssistant,
		CreatedAt:      c.now(),
	}
	c.mu.Lock()
	c.messages = append(c.messages, placeholder)
	c.mu.Unlock()

	c.persistUserMessage(ctx, userMsg)

	resp, err := c.gw.Send(ctx, &gateway.Request{
		Messages: []openai.ChatCompletionMessage{{
			Role: string(model.RoleUser),
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: "Edit this image: " + instruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			},
		}},
		Mode: model.ModeImageEdit,
	})
	if err != nil {
		c.failTurn(ctx, placeholder.ID, err)
		return err
	}

	img, ok := resp.(*gateway.ImageResponse)
	if !ok {
		if stream, isStream := resp.(*gateway.StreamResponse); isStream {
			stream.Close()
		}
		err := errors.New("unexpected response to image edit")
		c.failTurn(ctx, placeholder.ID, errors.New("Failed to edit image"))
		return err
	}

	content := img.Content
	if content == "" {
		content = defaultEditedLabel
	}
	c.updateMessage(placeholder.ID, convID, func(m *model.Message) {
		m.Content = content
		m.GeneratedImages = img.Images
	})

	assistant := model.Message{
		ID:              placeholder.ID,
		ConversationID:  convID,
		Role:            model.RoleAssistant,
		Content:         content,
		CreatedAt:       placeholder.CreatedAt,
		GeneratedImages: img.Images,
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleAssistant)).Inc()
	c.persistExchange(ctx, convID, assistant)
	return nil
}

// RegenerateImage re-issues a full send with a synthesized generation
// instruction.
func (c *Controller) RegenerateImage(ctx context.Context, prompt string, onDelta func(string)) error {
	return c.Send(ctx, SendRequest{
		Content: regeneratePromptPrefix + prompt,
		OnDelta: onDelta,
	})
}

// RenameConversation updates the title in durable storage, then locally.
// Local state is untouched if the write fails.
func (c *Controller) RenameConversation(ctx context.Context, id, title string) error {
	if err := c.conversations.UpdateTitle(ctx, id, title); err != nil {
		c.notifier.Notify(ctx, c.userID, notify.LevelError, "Failed to rename conversation")
		return fmt.Errorf("renaming conversation: %w", err)
	}

	c.mu.Lock()
	for i := range c.convs {
		if c.convs[i].ID == id {
			c.convs[i].Title = title
		}
	}
	c.mu.Unlock()

	c.notifier.Notify(ctx, c.userID, notify.LevelSuccess, "Conversation renamed")
	return nil
}

// DeleteConversation removes the conversation from durable storage and the
// local list; deleting the active conversation clears the message view.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	if err := c.conversations.Delete(ctx, id); err != nil {
		c.notifier.Notify(ctx, c.userID, notify.LevelError, "Failed to delete conversation")
		return fmt.Errorf("deleting conversation: %w", err)
	}

	c.mu.Lock()
	for i := range c.convs {
		if c.convs[i].ID == id {
			c.convs = append(c.convs[:i], c.convs[i+1:]...)
			break
		}
	}
	if c.activeID == id {
		c.activeID = ""
		c.status = statusNone
		c.messages = nil
	}
	c.mu.Unlock()
	return nil
}

// acquire takes the single in-flight slot; concurrent sends are rejected,
// not queued.
func (c *Controller) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrSendInFlight
	}
	c.inFlight = true
	metrics.SendsInFlight.Inc()
	return nil
}

func (c *Controller) release() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
	metrics.SendsInFlight.Dec()
}

// ensureConversation returns the active conversation, creating one lazily
// on the first send of a session.
func (c *Controller) ensureConversation(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.activeID != "" {
		id := c.activeID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	conv, err := c.conversations.Create(ctx, c.userID)
	if err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("conversation").Inc()
		return "", fmt.Errorf("creating conversation: %w", err)
	}
	metrics.ConversationsTotal.Inc()

	c.mu.Lock()
	c.convs = append([]model.Conversation{*conv}, c.convs...)
	c.activeID = conv.ID
	c.status = statusCreating
	c.messages = nil
	c.mu.Unlock()
	return conv.ID, nil
}

// convertAttachments turns image attachments into inline data URLs. A
// conversion failure is reported but does not block the send.
func (c *Controller) convertAttachments(ctx context.Context, attachments []model.Attachment) []string {
	var images []string
	failed := false
	for _, att := range attachments {
		if att.Type != model.AttachmentImage {
			continue
		}
		data, err := InlineData(att)
		if err != nil {
			c.logger.Error("failed to convert attachment", "name", att.Name, "error", err)
			failed = true
			continue
		}
		images = append(images, data)
	}
	if failed {
		c.notifier.Notify(ctx, c.userID, notify.LevelError, "Failed to process images")
	}
	return images
}

// consumeResponse drains a gateway result into the placeholder message,
// reflecting growth in the live view as each delta arrives.
func (c *Controller) consumeResponse(resp gateway.Response, placeholderID, convID string, onDelta func(string)) (string, []string, error) {
	switch r := resp.(type) {
	case *gateway.ImageResponse:
		content := r.Content
		if content == "" {
			content = defaultGeneratedLabel
		}
		c.updateMessage(placeholderID, convID, func(m *model.Message) {
			m.Content = content
			m.GeneratedImages = r.Images
		})
		return content, r.Images, nil

	case *gateway.StreamResponse:
		defer r.Close()
		var content strings.Builder
		decoder := r.Decoder()
		for {
			delta, err := decoder.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", nil, fmt.Errorf("reading stream: %w", err)
			}
			content.WriteString(delta)
			grown := content.String()
			c.updateMessage(placeholderID, convID, func(m *model.Message) {
				m.Content = grown
			})
			if onDelta != nil {
				onDelta(delta)
			}
		}
		return content.String(), nil, nil

	default:
		return "", nil, fmt.Errorf("unexpected gateway response type %T", resp)
	}
}

// updateMessage applies fn to the identified message. Results landing after
// the user navigated to another conversation are discarded: the view no
// longer belongs to the dispatching exchange.
func (c *Controller) updateMessage(id, dispatchConvID string, fn func(*model.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != dispatchConvID {
		return
	}
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return
		}
	}
}

// failTurn rolls back the assistant placeholder and surfaces the error.
// The user's own message stays.
func (c *Controller) failTurn(ctx context.Context, placeholderID string, cause error) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == placeholderID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.logger.Error("send failed", "error", cause)
	c.notifier.Notify(ctx, c.userID, notify.LevelError, cause.Error())
}

// persistUserMessage stores the user's message without blocking the send.
func (c *Controller) persistUserMessage(ctx context.Context, msg model.Message) {
	persistCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.messageStore.Insert(persistCtx, &msg); err != nil {
			metrics.PersistenceFailuresTotal.WithLabelValues("message").Inc()
			c.logger.Error("failed to save user message", "message_id", msg.ID, "error", err)
		}
	}()
}

// persistExchange stores the finalized assistant message and refreshes the
// conversation's updated timestamp. Persistence failures are logged; the
// already-rendered content is not rolled back.
func (c *Controller) persistExchange(ctx context.Context, convID string, assistant model.Message) {
	if err := c.messageStore.Insert(ctx, &assistant); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("message").Inc()
		c.logger.Error("failed to save assistant message", "message_id", assistant.ID, "error", err)
	}

	now := c.now()
	if err := c.conversations.Touch(ctx, convID, now); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("conversation").Inc()
		c.logger.Error("failed to touch conversation", "conversation_id", convID, "error", err)
	}

	c.mu.Lock()
	for i := range c.convs {
		if c.convs[i].ID == convID {
			c.convs[i].UpdatedAt = now
		}
	}
	c.mu.Unlock()
}

// updateTitle persists a derived title and mirrors it locally on success.
func (c *Controller) updateTitle(ctx context.Context, convID, title string) {
	if err := c.conversations.UpdateTitle(ctx, convID, title); err != nil {
		metrics.PersistenceFailuresTotal.WithLabelValues("conversation").Inc()
		c.logger.Error("failed to update title", "conversation_id", convID, "error", err)
		return
	}

	c.mu.Lock()
	for i := range c.convs {
		if c.convs[i].ID == convID {
			c.convs[i].Title = title
		}
	}
	c.mu.Unlock()
}

// trailingWindow returns the most recent n messages.
func trailingWindow(messages []model.Message, n int) []model.Message {
	if len(messages) <= n {
		out := make([]model.Message, len(messages))
		copy(out, messages)
		return out
	}
	out := make([]model.Message, n)
	copy(out, messages[len(messages)-n:])
	return out
}

// buildPayload converts the trailing window plus the new user message into
// the gateway wire shape. Messages carrying images become multimodal turns
// with text and image parts.
func buildPayload(prior []model.Message, userMsg model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(prior)+1)
	for _, m := range prior {
		out = append(out, toWireMessage(m))
	}
	return append(out, toWireMessage(userMsg))
}

func toWireMessage(m model.Message) openai.ChatCompletionMessage {
	if len(m.Images) == 0 {
		return openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Images)+1)
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: m.Content,
	})
	for _, img := range m.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: img},
		})
	}
	return openai.ChatCompletionMessage{
		Role:         string(m.Role),
		MultiContent: parts,
	}
}
