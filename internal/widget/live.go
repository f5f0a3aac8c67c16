package widget

import (
	"sync"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

// LiveList is the in-memory transcript a Session renders from. version
// counts mutations.
type LiveList struct {
	mu      sync.Mutex
	msgs    []chat.Message
	version uint64
}

func (l *LiveList) Messages() []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chat.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Snapshot returns a copy of the transcript and the version it was read at.
func (l *LiveList) Snapshot() ([]chat.Message, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chat.Message, len(l.msgs))
	copy(out, l.msgs)
	return out, l.version
}

func (l *LiveList) Replace(msgs []chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = msgs
	l.version++
}

// ReplaceIf installs msgs only if the list is still at version.
func (l *LiveList) ReplaceIf(version uint64, msgs []chat.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.version != version {
		return false
	}
	l.msgs = msgs
	l.version++
	return true
}

func (l *LiveList) Append(m chat.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
	l.version++
}

func (l *LiveList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

// markFeedback flags every copy of messageID. It reports whether the id was
// found and whether any copy changed.
func (l *LiveList) markFeedback(messageID string) (found, changed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.msgs {
		if l.msgs[i].ID != messageID {
			continue
		}
		found = true
		if !l.msgs[i].FeedbackSubmitted {
			l.msgs[i].FeedbackSubmitted = true
			changed = true
		}
	}
	if changed {
		l.version++
	}
	return found, changed
}
