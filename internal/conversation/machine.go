// Package conversation implements the widget conversation lifecycle: status
// transitions, idle and session timers, message quotas and the transition log.
package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/clock"
	"github.com/suPer8Hu/support-widget/internal/common"
)

// TransitionLogger receives every applied transition. Errors are logged and
// dropped; they never undo or block the transition.
type TransitionLogger interface {
	LogTransition(ctx context.Context, ev TransitionEvent) error
}

type Option func(*Machine)

func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithLogger(l TransitionLogger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithObserver registers a callback invoked, in order, for each transition
// after the machine lock is released.
func WithObserver(fn func(TransitionEvent)) Option {
	return func(m *Machine) { m.observer = fn }
}

func WithEventIDs(fn func() string) Option {
	return func(m *Machine) { m.newEventID = fn }
}

type Machine struct {
	id         string
	clock      clock.Clock
	timers     *TimerBank
	logger     TransitionLogger
	observer   func(TransitionEvent)
	newEventID func() string

	mu          sync.Mutex
	settings    *Settings
	state       State
	transitions []Transition
	initialized bool

	// emitMu keeps logger/observer delivery in the order transitions were applied.
	emitMu sync.Mutex
}

func NewMachine(conversationID string, opts ...Option) *Machine {
	m := &Machine{id: conversationID}
	for _, o := range opts {
		o(m)
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	if m.newEventID == nil {
		m.newEventID = common.MustULID
	}
	m.timers = NewTimerBank(m.clock)
	m.state = State{ConversationID: conversationID, Status: StatusActive}
	return m
}

// Initialize resets the conversation to a fresh active state and arms the
// enabled timers. A nil settings value means configuration has not loaded
// yet: the machine runs without idle, session or quota limits.
func (m *Machine) Initialize(settings *Settings) error {
	m.mu.Lock()
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		return ErrConversationEnded
	}

	m.timers.CancelAll()
	if settings != nil {
		s := settings.withDefaults()
		m.settings = &s
	} else {
		m.settings = nil
	}

	now := m.clock.Now()
	m.state = State{
		ConversationID:   m.id,
		Status:           StatusActive,
		SessionStartTime: now,
		LastActivityTime: now,
	}
	m.initialized = true

	evs := m.recordLocked(StatusActive, "initialized", TriggeredBySystem, nil)
	m.armIdleLocked()
	m.armMaxSessionLocked()
	m.unlockAndEmit(evs...)
	return nil
}

// RecordActivity marks user activity: clears the idle warning and restarts
// the idle countdown.
func (m *Machine) RecordActivity() error {
	m.mu.Lock()
	if err := m.checkMutableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.touchLocked()
	m.mu.Unlock()
	return nil
}

// IncrementMessageCount counts one sent message. Reaching the configured
// quota moves a live conversation to quota_exceeded before returning. Once
// the conversation stops accepting messages every further call fails with
// ErrNotAcceptingMessages and leaves the count alone.
func (m *Machine) IncrementMessageCount() (int, error) {
	m.mu.Lock()
	if err := m.checkMutableLocked(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if !m.state.Status.AcceptsMessages() {
		count := m.state.MessageCount
		m.mu.Unlock()
		return count, ErrNotAcceptingMessages
	}

	m.state.MessageCount++
	count := m.state.MessageCount

	var evs []TransitionEvent
	if s := m.settings; s != nil && s.EnableMessageQuota && m.state.Status.Live() && count >= s.MaxMessagesPerSession {
		evs = m.recordLocked(StatusQuotaExceeded,
			fmt.Sprintf("message quota of %d reached", s.MaxMessagesPerSession),
			TriggeredBySystem,
			map[string]any{"message_count": count, "max_messages": s.MaxMessagesPerSession})
	}
	m.touchLocked()
	m.unlockAndEmit(evs...)
	return count, nil
}

// MarkAIReply records that an automated reply was produced.
func (m *Machine) MarkAIReply() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.state.AISessionStarted = true
	return nil
}

// RequestHumanAgent hands the conversation over to a human. Idle and session
// timers keep running.
func (m *Machine) RequestHumanAgent(reason string) error {
	m.mu.Lock()
	if err := m.checkMutableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.state.Status == StatusWaitingHuman {
		m.mu.Unlock()
		return nil
	}
	if reason == "" {
		reason = "user requested human agent"
	}
	evs := m.recordLocked(StatusWaitingHuman, reason, TriggeredByUser, nil)
	if !m.timers.IsPending(TimerIdle) {
		m.state.LastActivityTime = m.clock.Now()
		m.armIdleLocked()
	}
	m.unlockAndEmit(evs...)
	return nil
}

// RequestEnd opens the end-of-conversation confirmation.
func (m *Machine) RequestEnd() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkMutableLocked(); err != nil {
		return err
	}
	m.state.EndPending = true
	return nil
}

// CancelEnd dismisses a pending confirmation. Status is never touched.
func (m *Machine) CancelEnd() {
	m.mu.Lock()
	m.state.EndPending = false
	m.mu.Unlock()
}

// ConfirmEnd ends the conversation if, and only if, RequestEnd is pending.
func (m *Machine) ConfirmEnd() error {
	m.mu.Lock()
	if m.state.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	if !m.state.EndPending {
		m.mu.Unlock()
		return ErrEndNotRequested
	}
	evs := m.endLocked("user confirmed end", TriggeredByUser)
	m.unlockAndEmit(evs...)
	return nil
}

// End moves the conversation to ended from whatever status it is in. Calling
// it again is a no-op.
func (m *Machine) End(reason string) {
	m.EndBy(reason, TriggeredByUser)
}

func (m *Machine) EndBy(reason string, by TriggeredBy) {
	m.mu.Lock()
	evs := m.endLocked(reason, by)
	m.unlockAndEmit(evs...)
}

// Close releases every timer. The machine must not be used afterwards.
func (m *Machine) Close() {
	m.timers.Close()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// PendingTimers lists the armed timer keys.
func (m *Machine) PendingTimers() []TimerKey {
	return m.timers.Pending()
}

func (m *Machine) checkMutableLocked() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.state.Status.Terminal() {
		return ErrConversationEnded
	}
	return nil
}

func (m *Machine) touchLocked() {
	m.state.LastActivityTime = m.clock.Now()
	m.state.ShowIdleWarning = false
	m.armIdleLocked()
}

func (m *Machine) endLocked(reason string, by TriggeredBy) []TransitionEvent {
	if m.state.Status.Terminal() {
		return nil
	}
	m.timers.CancelAll()
	m.state.EndPending = false
	m.state.ShowIdleWarning = false
	if reason == "" {
		reason = "conversation ended"
	}
	return m.recordLocked(StatusEnded, reason, by, map[string]any{"message_count": m.state.MessageCount})
}

// armIdleLocked cancels, then reschedules, the idle warning and idle timeout.
func (m *Machine) armIdleLocked() {
	m.timers.Cancel(TimerIdleWarning)
	m.timers.Cancel(TimerIdle)

	s := m.settings
	if s == nil || !s.EnableIdleTimeout || !m.state.Status.Live() {
		return
	}
	m.timers.Schedule(TimerIdleWarning, s.idleWarningAfter(), m.onIdleWarning)
	m.timers.Schedule(TimerIdle, s.idleTimeout(), m.onIdleTimeout)
}

func (m *Machine) armMaxSessionLocked() {
	m.timers.Cancel(TimerMaxSession)

	s := m.settings
	if s == nil || !s.EnableMaxSessionLength {
		return
	}
	m.timers.Schedule(TimerMaxSession, s.maxSession(), m.onMaxSession)
}

func (m *Machine) onIdleWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	if s == nil || !m.state.Status.Live() {
		return
	}
	if m.clock.Now().Sub(m.state.LastActivityTime) < s.idleWarningAfter() {
		return
	}
	m.state.ShowIdleWarning = true
}

func (m *Machine) onIdleTimeout() {
	m.mu.Lock()
	s := m.settings
	if s == nil || !m.state.Status.Live() || m.clock.Now().Sub(m.state.LastActivityTime) < s.idleTimeout() {
		m.mu.Unlock()
		return
	}
	m.state.ShowIdleWarning = false
	evs := m.recordLocked(StatusIdleTimeout,
		fmt.Sprintf("no activity for %d minutes", s.IdleTimeoutMinutes),
		TriggeredBySystem,
		map[string]any{"idle_timeout_minutes": s.IdleTimeoutMinutes})
	m.unlockAndEmit(evs...)
}

func (m *Machine) onMaxSession() {
	m.mu.Lock()
	s := m.settings
	if s == nil || !m.state.Status.Live() || m.clock.Now().Sub(m.state.SessionStartTime) < s.maxSession() {
		m.mu.Unlock()
		return
	}
	m.state.ShowIdleWarning = false
	evs := m.recordLocked(StatusMaxSession,
		fmt.Sprintf("session reached %d minutes", s.MaxSessionMinutes),
		TriggeredBySystem,
		map[string]any{"max_session_minutes": s.MaxSessionMinutes})
	m.unlockAndEmit(evs...)
}

func allowed(from, to Status) bool {
	switch to {
	case StatusActive:
		return from == StatusActive
	case StatusEnded:
		return !from.Terminal()
	case StatusWaitingHuman:
		return !from.Terminal() && from != StatusWaitingHuman
	case StatusIdleTimeout, StatusMaxSession, StatusQuotaExceeded:
		return from.Live()
	}
	return false
}

// recordLocked applies one transition and appends it to the log. Leaving the
// live statuses disarms every timer.
func (m *Machine) recordLocked(to Status, reason string, by TriggeredBy, meta map[string]any) []TransitionEvent {
	from := m.state.Status
	if !allowed(from, to) {
		log.Warn().
			Str("conversation_id", m.id).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("rejected lifecycle transition")
		return nil
	}

	now := m.clock.Now()
	m.state.Status = to
	m.transitions = append(m.transitions, Transition{
		From:        from,
		To:          to,
		Reason:      reason,
		TriggeredBy: by,
		Timestamp:   now,
	})
	if !to.Live() {
		m.timers.CancelAll()
	}

	return []TransitionEvent{{
		EventID:        m.newEventID(),
		ConversationID: m.id,
		From:           from,
		To:             to,
		Reason:         reason,
		TriggeredBy:    by,
		Timestamp:      now,
		Metadata:       meta,
	}}
}

func (m *Machine) unlockAndEmit(evs ...TransitionEvent) {
	if len(evs) == 0 {
		m.mu.Unlock()
		return
	}
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()

	for _, ev := range evs {
		if m.observer != nil {
			m.observer(ev)
		}
		if m.logger == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.logger.LogTransition(ctx, ev); err != nil {
			log.Error().
				Err(err).
				Str("conversation_id", ev.ConversationID).
				Str("from", string(ev.From)).
				Str("to", string(ev.To)).
				Msg("transition logger failed")
		}
		cancel()
	}
}
