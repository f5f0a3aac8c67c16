package conversation

import (
	"sync"
	"time"

	"github.com/suPer8Hu/support-widget/internal/clock"
)

type TimerKey string

const (
	TimerIdle        TimerKey = "idle"
	TimerIdleWarning TimerKey = "idle_warning"
	TimerMaxSession  TimerKey = "max_session"
)

// TimerBank owns the countdown timers of a single conversation. Scheduling a
// key replaces any pending timer for it; a replaced or cancelled callback
// never runs, even if its underlying timer already fired.
type TimerBank struct {
	clock clock.Clock

	mu      sync.Mutex
	gen     uint64
	pending map[TimerKey]bankEntry
	closed  bool
}

type bankEntry struct {
	gen   uint64
	timer clock.Timer
}

func NewTimerBank(c clock.Clock) *TimerBank {
	if c == nil {
		c = clock.Real{}
	}
	return &TimerBank{clock: c, pending: make(map[TimerKey]bankEntry)}
}

func (b *TimerBank) Schedule(key TimerKey, delay time.Duration, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.cancelLocked(key)

	b.gen++
	gen := b.gen
	t := b.clock.AfterFunc(delay, func() {
		b.mu.Lock()
		cur, ok := b.pending[key]
		if !ok || cur.gen != gen {
			b.mu.Unlock()
			return
		}
		delete(b.pending, key)
		b.mu.Unlock()
		fn()
	})
	b.pending[key] = bankEntry{gen: gen, timer: t}
}

func (b *TimerBank) Cancel(key TimerKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelLocked(key)
}

func (b *TimerBank) cancelLocked(key TimerKey) {
	if e, ok := b.pending[key]; ok {
		e.timer.Stop()
		delete(b.pending, key)
	}
}

func (b *TimerBank) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.pending {
		b.cancelLocked(k)
	}
}

// Close cancels everything and refuses further scheduling.
func (b *TimerBank) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.pending {
		b.cancelLocked(k)
	}
	b.closed = true
}

func (b *TimerBank) Pending() []TimerKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]TimerKey, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	return keys
}

func (b *TimerBank) IsPending(key TimerKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[key]
	return ok
}
