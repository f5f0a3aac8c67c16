package widget

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/common"
	"github.com/suPer8Hu/support-widget/internal/conversation"
	"github.com/suPer8Hu/support-widget/internal/reconcile"
)

// StoreFactory returns the persistence provider of one conversation.
type StoreFactory func(conversationID string) reconcile.Persistence

// ConversationRecorder registers a new conversation before its first
// transition is logged.
type ConversationRecorder interface {
	CreateConversation(ctx context.Context, c *chat.Conversation) error
}

// Manager owns every open Session of the process.
type Manager struct {
	cfg      Config
	stores   StoreFactory
	recorder ConversationRecorder

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(cfg Config, stores StoreFactory, recorder ConversationRecorder) *Manager {
	return &Manager{
		cfg:      cfg,
		stores:   stores,
		recorder: recorder,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Open(ctx context.Context) (*Session, error) {
	id := common.NextULID()

	if m.recorder != nil {
		provider, model := defaultProvider, defaultModel
		if m.cfg.Service != nil {
			provider, model = m.cfg.Service.Provider(), m.cfg.Service.Model()
		}
		if err := m.recorder.CreateConversation(ctx, &chat.Conversation{
			ConversationID: id,
			Status:         string(conversation.StatusActive),
			Provider:       provider,
			Model:          model,
		}); err != nil {
			return nil, err
		}
	}

	s := NewSession(id, m.stores(id), m.cfg)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	log.Info().Str("conversation_id", id).Msg("conversation opened")
	return s, nil
}

func (m *Manager) Get(conversationID string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[conversationID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	s, ok := m.sessions[conversationID]
	delete(m.sessions, conversationID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close(ctx)
	return nil
}

func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(ctx)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
