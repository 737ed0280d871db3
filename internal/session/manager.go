package session

import (
	"sync"
	"time"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/cache"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/gateway"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/notify"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
)

// Manager hands out one Controller per user. Controllers live for the
// process lifetime; all requests from a user share the same session state.
type Manager struct {
	conversations ConversationStore
	messages      MessageStore
	gw            gateway.Sender
	notifier      notify.Notifier
	logger        *logger.Logger

	cacheMaxEntries int
	cacheTTL        time.Duration
	historyWindow   int
	maxAttachments  int

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// ManagerConfig assembles a Manager.
type ManagerConfig struct {
	Conversations ConversationStore
	Messages      MessageStore
	Gateway       gateway.Sender
	Notifier      notify.Notifier
	Logger        *logger.Logger

	CacheMaxEntries int
	CacheTTL        time.Duration
	HistoryWindow   int
	MaxAttachments  int
}

// NewManager creates a session manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		conversations:   cfg.Conversations,
		messages:        cfg.Messages,
		gw:              cfg.Gateway,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		cacheMaxEntries: cfg.CacheMaxEntries,
		cacheTTL:        cfg.CacheTTL,
		historyWindow:   cfg.HistoryWindow,
		maxAttachments:  cfg.MaxAttachments,
		controllers:     make(map[string]*Controller),
	}
}

// GetOrCreate returns the user's controller, creating it on first use.
// Each controller carries its own response cache so one user's queries
// never serve another user's answers.
func (m *Manager) GetOrCreate(userID string) *Controller {
	m.mu.RLock()
	ctrl, ok := m.controllers[userID]
	m.mu.RUnlock()
	if ok {
		return ctrl
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ctrl, ok := m.controllers[userID]; ok {
		return ctrl
	}

	ctrl = NewController(Config{
		UserID:         userID,
		Conversations:  m.conversations,
		Messages:       m.messages,
		Gateway:        m.gw,
		Cache:          cache.NewResponseCache(m.cacheMaxEntries, m.cacheTTL),
		Notifier:       m.notifier,
		Logger:         m.logger,
		HistoryWindow:  m.historyWindow,
		MaxAttachments: m.maxAttachments,
	})
	m.controllers[userID] = ctrl
	return ctrl
}
