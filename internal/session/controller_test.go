package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/cache"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/gateway"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/notify"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
)

type fakeConvStore struct {
	mu           sync.Mutex
	nextID       int
	created      []string
	titles       map[string]string
	touched      []string
	deleted      []string
	createErr    error
	updateErr    error
	deleteErr    error
	listResponse []model.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{titles: make(map[string]string)}
}

func (s *fakeConvStore) Create(_ context.Context, userID string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("conv-%d", s.nextID)
	s.created = append(s.created, id)
	now := time.Now()
	return &model.Conversation{ID: id, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *fakeConvStore) List(_ context.Context, _ string) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listResponse, nil
}

func (s *fakeConvStore) UpdateTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.titles[id] = title
	return nil
}

func (s *fakeConvStore) Touch(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeConvStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeConvStore) titleOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titles[id]
}

type fakeMsgStore struct {
	mu       sync.Mutex
	inserted []model.Message
	listFor  map[string][]model.Message
	listErr  error
}

func newFakeMsgStore() *fakeMsgStore {
	return &fakeMsgStore{listFor: make(map[string][]model.Message)}
}

func (s *fakeMsgStore) Insert(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, *msg)
	return nil
}

func (s *fakeMsgStore) List(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.listFor[conversationID], nil
}

func (s *fakeMsgStore) insertedByRole(role model.Role) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.inserted {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []*gateway.Request
	respond  func(req *gateway.Request) (gateway.Response, error)
}

func (g *fakeGateway) Send(_ context.Context, req *gateway.Request) (gateway.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	return g.respond(req)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *fakeGateway) lastRequest() *gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return nil
	}
	return g.requests[len(g.requests)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ string, level notify.Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, string(level)+": "+message)
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

func sseBody(deltas ...string) io.ReadCloser {
	var b strings.Builder
	for _, d := range deltas {
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

func streamGateway(deltas ...string) *fakeGateway {
	return &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		return gateway.NewStreamResponse(sseBody(deltas...)), nil
	}}
}

type harness struct {
	ctrl     *Controller
	convs    *fakeConvStore
	msgs     *fakeMsgStore
	gw       *fakeGateway
	notifier *fakeNotifier
	cache    *cache.ResponseCache
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	convs := newFakeConvStore()
	msgs := newFakeMsgStore()
	notifier := &fakeNotifier{}
	respCache := cache.NewResponseCache(50, 30*time.Minute)

	ctrl := NewController(Config{
		UserID:        "user-1",
		Conversations: convs,
		Messages:      msgs,
		Gateway:       gw,
		Cache:         respCache,
		Notifier:      notifier,
		Logger:        logger.NewNop(),
	})
	return &harness{ctrl: ctrl, convs: convs, msgs: msgs, gw: gw, notifier: notifier, cache: respCache}
}

func TestSendStreamsIntoAssistantMessage(t *testing.T) {
	h := newHarness(t, streamGateway("Hel", "lo ", "there"))

	var deltas []string
	err := h.ctrl.Send(context.Background(), SendRequest{
		Content: "What is Go?",
		OnDelta: func(d string) { deltas = append(deltas, d) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo ", "there"}, deltas)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is Go?", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)

	assistants := h.msgs.insertedByRole(model.RoleAssistant)
	require.Len(t, assistants, 1)
	assert.Equal(t, "Hello there", assistants[0].Content)

	require.Eventually(t, func() bool {
		return len(h.msgs.insertedByRole(model.RoleUser)) == 1
	}, time.Second, 10*time.Millisecond, "user message is persisted in the background")
}

func TestSendCreatesConversationLazily(t *testing.T) {
	h := newHarness(t, streamGateway("hi"))

	assert.Empty(t, h.ctrl.ActiveConversationID())

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "first"}))
	assert.Equal(t, "conv-1", h.ctrl.ActiveConversationID())

	convs := h.ctrl.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, "conv-1", convs[0].ID)

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "second"}))
	assert.Equal(t, "conv-1", h.ctrl.ActiveConversationID(), "subsequent sends reuse the conversation")
	h.convs.mu.Lock()
	created := len(h.convs.created)
	h.convs.mu.Unlock()
	assert.Equal(t, 1, created)
}

func TestSendDerivesTitleFromFirstMessage(t *testing.T) {
	h := newHarness(t, streamGateway("ok"))

	long := strings.Repeat("a", 60)
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: long}))

	require.Eventually(t, func() bool {
		return h.convs.titleOf("conv-1") != ""
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, strings.Repeat("a", 50)+"...", h.convs.titleOf("conv-1"))
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, streamGateway())

	err := h.ctrl.Send(context.Background(), SendRequest{Content: "   \n\t "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Zero(t, h.gw.callCount())
	assert.Empty(t, h.ctrl.Messages())
}

func TestSendRejectsTooManyAttachments(t *testing.T) {
	h := newHarness(t, streamGateway())

	atts := make([]model.Attachment, 5)
	for i := range atts {
		atts[i] = model.Attachment{Name: "a.png", Type: model.AttachmentImage, Data: []byte{0x89, 'P', 'N', 'G'}}
	}
	err := h.ctrl.Send(context.Background(), SendRequest{Content: "look", Attachments: atts})
	assert.ErrorIs(t, err, ErrTooManyAttachments)
	assert.Zero(t, h.gw.callCount())
}

func TestSendAttachmentOnlyGetsDefaultQuestion(t *testing.T) {
	h := newHarness(t, streamGateway("A cat."))

	err := h.ctrl.Send(context.Background(), SendRequest{
		Attachments: []model.Attachment{{Name: "cat.png", Type: model.AttachmentImage, Data: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}}},
	})
	require.NoError(t, err)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "What's in this image?", msgs[0].Content)
	require.Len(t, msgs[0].Images, 1)
	assert.True(t, strings.HasPrefix(msgs[0].Images[0], "data:"))
}

func TestSendRejectsConcurrentSends(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	gw := &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return gateway.NewStreamResponse(sseBody("done")), nil
	}}
	h := newHarness(t, gw)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ctrl.Send(context.Background(), SendRequest{Content: "slow one"})
	}()
	<-entered

	err := h.ctrl.Send(context.Background(), SendRequest{Content: "eager one"})
	assert.ErrorIs(t, err, ErrSendInFlight)

	close(release)
	require.NoError(t, <-errCh)

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "after"}))
}

func TestSendRollsBackPlaceholderOnGatewayError(t *testing.T) {
	gw := &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		return nil, errors.New("Insufficient credits")
	}}
	h := newHarness(t, gw)

	err := h.ctrl.Send(context.Background(), SendRequest{Content: "hello"})
	require.Error(t, err)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1, "only the user message survives")
	assert.Equal(t, model.RoleUser, msgs[0].Role)

	assert.Contains(t, h.notifier.all(), "error: Insufficient credits")
	assert.Empty(t, h.msgs.insertedByRole(model.RoleAssistant))
}

func TestSendServesRepeatQueryFromCache(t *testing.T) {
	h := newHarness(t, streamGateway("The answer."))

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "What is Go?"}))
	require.Equal(t, 1, h.gw.callCount())

	// Same query modulo case and whitespace.
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "  what   IS go? "}))
	assert.Equal(t, 1, h.gw.callCount(), "second send is answered from cache")

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "The answer.", msgs[3].Content)

	assistants := h.msgs.insertedByRole(model.RoleAssistant)
	assert.Len(t, assistants, 2, "cached replies are still persisted")
}

func TestSendWithAttachmentsBypassesCache(t *testing.T) {
	h := newHarness(t, streamGateway("reply"))
	h.cache.Set("describe this", "stale cached", nil)

	err := h.ctrl.Send(context.Background(), SendRequest{
		Content:     "describe this",
		Attachments: []model.Attachment{{Name: "x.png", Type: model.AttachmentImage, Data: []byte{0x89, 'P', 'N', 'G'}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gw.callCount(), "attachment sends always reach the gateway")
}

func TestSendDoesNotCacheImageResults(t *testing.T) {
	gw := &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		return &gateway.ImageResponse{Images: []string{"https://img.example/1.png"}}, nil
	}}
	h := newHarness(t, gw)

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "draw a fox"}))

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Here's your generated image:", msgs[1].Content)
	assert.Equal(t, []string{"https://img.example/1.png"}, msgs[1].GeneratedImages)

	_, ok := h.cache.Get("draw a fox")
	assert.False(t, ok, "image results are not cached")
}

func TestSendIncludesTrailingHistoryWindow(t *testing.T) {
	h := newHarness(t, streamGateway("ok"))
	h.ctrl.historyWindow = 4

	for i := 0; i < 5; i++ {
		require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: fmt.Sprintf("turn %d", i)}))
	}

	req := h.gw.lastRequest()
	require.NotNil(t, req)
	// Four prior messages plus the new one.
	require.Len(t, req.Messages, 5)
	assert.Equal(t, "turn 4", req.Messages[4].Content)
}

func TestSelectConversationReloadsFromStore(t *testing.T) {
	h := newHarness(t, streamGateway())
	h.msgs.listFor["conv-9"] = []model.Message{
		{ID: "m1", ConversationID: "conv-9", Role: model.RoleUser, Content: "old question"},
		{ID: "m2", ConversationID: "conv-9", Role: model.RoleAssistant, Content: "old answer"},
	}

	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "conv-9"))

	assert.Equal(t, "conv-9", h.ctrl.ActiveConversationID())
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "old answer", msgs[1].Content)
}

func TestSelectConversationSkipsReloadAfterInlineCreation(t *testing.T) {
	h := newHarness(t, streamGateway("fresh answer"))

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "brand new"}))
	id := h.ctrl.ActiveConversationID()

	// The durable store may not have the exchange yet; the reload right after
	// inline creation must keep the optimistic view.
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), id))
	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fresh answer", msgs[1].Content)

	// A second selection reloads for real.
	h.msgs.mu.Lock()
	h.msgs.listFor[id] = []model.Message{{ID: "m1", ConversationID: id, Role: model.RoleUser, Content: "stored"}}
	h.msgs.mu.Unlock()
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), id))
	msgs = h.ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "stored", msgs[0].Content)
}

func TestNavigatingAwayDropsLateDeltas(t *testing.T) {
	firstDelta := make(chan struct{})
	navigated := make(chan struct{})
	gw := &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		return gateway.NewStreamResponse(sseBody("part one ", "part two")), nil
	}}
	h := newHarness(t, gw)

	errCh := make(chan error, 1)
	go func() {
		errCh <- h.ctrl.Send(context.Background(), SendRequest{
			Content: "slow stream",
			OnDelta: func(d string) {
				if d == "part one " {
					close(firstDelta)
					<-navigated
				}
			},
		})
	}()

	<-firstDelta
	require.NoError(t, h.ctrl.SelectConversation(context.Background(), "conv-other"))
	close(navigated)
	require.NoError(t, <-errCh)

	assert.Equal(t, "conv-other", h.ctrl.ActiveConversationID())
	assert.Empty(t, h.ctrl.Messages(), "late deltas never reach the new view")

	// The finished exchange is still persisted to its own conversation.
	assistants := h.msgs.insertedByRole(model.RoleAssistant)
	require.Len(t, assistants, 1)
	assert.Equal(t, "part one part two", assistants[0].Content)
	assert.Equal(t, "conv-1", assistants[0].ConversationID)
}

func TestStartNewConversationClearsView(t *testing.T) {
	h := newHarness(t, streamGateway("answer"))
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "q"}))

	h.ctrl.StartNewConversation()

	assert.Empty(t, h.ctrl.ActiveConversationID())
	assert.Empty(t, h.ctrl.Messages())

	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "another"}))
	assert.Equal(t, "conv-2", h.ctrl.ActiveConversationID())
}

func TestRenameConversation(t *testing.T) {
	h := newHarness(t, streamGateway("x"))
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "q"}))

	require.NoError(t, h.ctrl.RenameConversation(context.Background(), "conv-1", "My notes"))

	assert.Equal(t, "My notes", h.convs.titleOf("conv-1"))
	assert.Equal(t, "My notes", h.ctrl.Conversations()[0].Title)
	assert.Contains(t, h.notifier.all(), "success: Conversation renamed")
}

func TestRenameConversationFailureLeavesLocalStateAlone(t *testing.T) {
	h := newHarness(t, streamGateway("x"))
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "q"}))
	h.convs.updateErr = errors.New("db down")

	err := h.ctrl.RenameConversation(context.Background(), "conv-1", "New name")
	require.Error(t, err)

	assert.NotEqual(t, "New name", h.ctrl.Conversations()[0].Title)
	assert.Contains(t, h.notifier.all(), "error: Failed to rename conversation")
}

func TestDeleteActiveConversationClearsView(t *testing.T) {
	h := newHarness(t, streamGateway("x"))
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "q"}))

	require.NoError(t, h.ctrl.DeleteConversation(context.Background(), "conv-1"))

	assert.Empty(t, h.ctrl.ActiveConversationID())
	assert.Empty(t, h.ctrl.Messages())
	assert.Empty(t, h.ctrl.Conversations())
	assert.Equal(t, []string{"conv-1"}, h.convs.deleted)
}

func TestDeleteInactiveConversationKeepsView(t *testing.T) {
	h := newHarness(t, streamGateway("x"))
	require.NoError(t, h.ctrl.Send(context.Background(), SendRequest{Content: "q"}))

	h.ctrl.mu.Lock()
	h.ctrl.convs = append(h.ctrl.convs, model.Conversation{ID: "conv-old"})
	h.ctrl.mu.Unlock()

	require.NoError(t, h.ctrl.DeleteConversation(context.Background(), "conv-old"))

	assert.Equal(t, "conv-1", h.ctrl.ActiveConversationID())
	assert.Len(t, h.ctrl.Messages(), 2)
	assert.Len(t, h.ctrl.Conversations(), 1)
}

func TestEditImageProducesImageTurn(t *testing.T) {
	gw := &fakeGateway{respond: func(req *gateway.Request) (gateway.Response, error) {
		return &gateway.ImageResponse{Images: []string{"https://img.example/edited.png"}}, nil
	}}
	h := newHarness(t, gw)

	err := h.ctrl.EditImage(context.Background(), "https://img.example/orig.png", "make it blue")
	require.NoError(t, err)

	req := h.gw.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, model.ModeImageEdit, req.Mode)
	require.Len(t, req.Messages, 1)
	require.Len(t, req.Messages[0].MultiContent, 2)
	assert.Equal(t, "https://img.example/orig.png", req.Messages[0].MultiContent[1].ImageURL.URL)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Edit image: make it blue", msgs[0].Content)
	assert.Equal(t, []string{"https://img.example/orig.png"}, msgs[0].Images)
	assert.Equal(t, "Here's your edited image:", msgs[1].Content)
	assert.Equal(t, []string{"https://img.example/edited.png"}, msgs[1].GeneratedImages)
}

func TestEditImageRejectsStreamedResponse(t *testing.T) {
	h := newHarness(t, streamGateway("not an image"))

	err := h.ctrl.EditImage(context.Background(), "https://img.example/orig.png", "make it blue")
	require.Error(t, err)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 1, "placeholder is rolled back")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
}

func TestRegenerateImageSynthesizesPrompt(t *testing.T) {
	gw := &fakeGateway{respond: func(_ *gateway.Request) (gateway.Response, error) {
		return &gateway.ImageResponse{Images: []string{"https://img.example/2.png"}}, nil
	}}
	h := newHarness(t, gw)

	require.NoError(t, h.ctrl.RegenerateImage(context.Background(), "a red fox", nil))

	req := h.gw.lastRequest()
	require.NotNil(t, req)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "Generate an image of a red fox", req.Messages[0].Content)
}

func TestSendWithoutUserFails(t *testing.T) {
	h := newHarness(t, streamGateway())
	h.ctrl.userID = ""

	err := h.ctrl.Send(context.Background(), SendRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestConversationCreationFailureNotifies(t *testing.T) {
	h := newHarness(t, streamGateway())
	h.convs.createErr = errors.New("db down")

	err := h.ctrl.Send(context.Background(), SendRequest{Content: "hi"})
	require.Error(t, err)
	assert.Contains(t, h.notifier.all(), "error: Failed to create conversation")
	assert.Empty(t, h.ctrl.Messages())
}

func TestManagerReusesControllerPerUser(t *testing.T) {
	m := NewManager(ManagerConfig{
		Conversations:   newFakeConvStore(),
		Messages:        newFakeMsgStore(),
		Gateway:         streamGateway("x"),
		Notifier:        &fakeNotifier{},
		Logger:          logger.NewNop(),
		CacheMaxEntries: 50,
		CacheTTL:        30 * time.Minute,
	})

	a := m.GetOrCreate("alice")
	b := m.GetOrCreate("bob")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.GetOrCreate("alice"))
}
