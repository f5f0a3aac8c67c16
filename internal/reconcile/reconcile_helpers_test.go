package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, secs int, content string) chat.Message {
	return chat.Message{
		ID:        id,
		Type:      chat.MessageUser,
		Content:   content,
		Timestamp: t0.Add(time.Duration(secs) * time.Second),
	}
}

type memLive struct {
	mu      sync.Mutex
	msgs    []chat.Message
	version uint64
}

func (l *memLive) Messages() []chat.Message {
	msgs, _ := l.Snapshot()
	return msgs
}

func (l *memLive) Snapshot() ([]chat.Message, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chat.Message(nil), l.msgs...), l.version
}

func (l *memLive) Replace(msgs []chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = msgs
	l.version++
}

func (l *memLive) ReplaceIf(version uint64, msgs []chat.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version != version {
		return false
	}
	l.msgs = msgs
	l.version++
	return true
}

func (l *memLive) Append(m chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	l.version++
}

// appendDuringPass appends extra right after the first Snapshot, the way a
// user message lands while a pass is merging.
type appendDuringPass struct {
	*memLive
	extra []chat.Message
}

func (l *appendDuringPass) Snapshot() ([]chat.Message, uint64) {
	msgs, v := l.memLive.Snapshot()
	if len(l.extra) > 0 {
		next := l.extra[0]
		l.extra = l.extra[1:]
		l.memLive.Append(next)
	}
	return msgs, v
}

type memStore struct {
	mu        sync.Mutex
	msgs      []chat.Message
	loading   bool
	loadErr   error
	updateErr error
	loads     int
	writes    []string
	clears    int
}

func (s *memStore) LoadConversationState(ctx context.Context) (chat.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return chat.Snapshot{}, s.loadErr
	}
	return chat.Snapshot{Messages: append([]chat.Message(nil), s.msgs...), IsLoading: s.loading}, nil
}

func (s *memStore) UpdateMessages(ctx context.Context, msgs []chat.Message, reason string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.msgs = append([]chat.Message(nil), msgs...)
	s.writes = append(s.writes, reason)
	return nil
}

func (s *memStore) ClearConversation(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.clears++
	return nil
}

func (s *memStore) snapshot() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.msgs...)
}

func (s *memStore) writeReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}
