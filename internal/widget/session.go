// Package widget hosts open support conversations: one Session per widget,
// composed of a lifecycle machine, the live transcript and the reconciliation
// engine that keeps the transcript and its persisted copy aligned.
package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/clock"
	"github.com/suPer8Hu/support-widget/internal/common"
	"github.com/suPer8Hu/support-widget/internal/conversation"
	"github.com/suPer8Hu/support-widget/internal/reconcile"
)

var (
	ErrQuotaExceeded      = errors.New("widget: message quota exceeded")
	ErrConversationClosed = errors.New("widget: conversation is not accepting messages")
	ErrSessionClosed      = errors.New("widget: session closed")
	ErrSessionNotFound    = errors.New("widget: session not found")
	ErrEmptyMessage       = errors.New("widget: message is empty")
	ErrMessageNotFound    = errors.New("widget: message not found")
)

const humanHandoffNotice = "You have been placed in the queue for a human agent. Someone will be with you shortly."

type Config struct {
	// Service answers user messages while the conversation is active. Nil
	// disables automated replies.
	Service *Service
	Logger  conversation.TransitionLogger
	// Settings nil runs conversations without idle, session or quota limits.
	Settings  *conversation.Settings
	Reconcile reconcile.Options
	Clock     clock.Clock
	Observer  func(conversation.TransitionEvent)
}

type SendResult struct {
	User  chat.Message       `json:"user"`
	Reply *chat.Message      `json:"reply,omitempty"`
	State conversation.State `json:"state"`
}

type Health struct {
	State         conversation.State         `json:"state"`
	PendingTimers []conversation.TimerKey    `json:"pending_timers"`
	MessageCount  int                        `json:"live_messages"`
	Reconcile     reconcile.Stats            `json:"reconcile"`
	Corruption    reconcile.CorruptionReport `json:"corruption"`
}

// parts is one generation of a session's components. StartNewChat replaces
// all of them at once.
type parts struct {
	gen     int
	machine *conversation.Machine
	live    *LiveList
	engine  *reconcile.Engine
}

type Session struct {
	id    string
	cfg   Config
	store reconcile.Persistence

	mu       sync.Mutex
	cur      parts
	stopLoop context.CancelFunc
	loopDone chan struct{}
	closed   bool
}

func NewSession(conversationID string, store reconcile.Persistence, cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Reconcile.Clock == nil {
		cfg.Reconcile.Clock = cfg.Clock
	}
	return &Session{id: conversationID, cfg: cfg, store: store}
}

func (s *Session) ID() string { return s.id }

// Open initializes the conversation and starts its reconciliation loop. A
// persisted copy left by an earlier run is recovered into the live list
// before Open returns.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.cur.machine != nil {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	live := &LiveList{}
	opts := []conversation.Option{
		conversation.WithClock(s.cfg.Clock),
		conversation.WithEventIDs(common.NextULID),
	}
	if s.cfg.Logger != nil {
		opts = append(opts, conversation.WithLogger(s.cfg.Logger))
	}
	if s.cfg.Observer != nil {
		opts = append(opts, conversation.WithObserver(s.cfg.Observer))
	}
	machine := conversation.NewMachine(s.id, opts...)
	if err := machine.Initialize(s.cfg.Settings); err != nil {
		machine.Close()
		return err
	}

	engine := reconcile.NewEngine(s.id, live, s.store, s.cfg.Reconcile)
	if _, err := engine.ValidateAndRecover(ctx, reconcile.TriggerDependency); err != nil {
		log.Warn().Err(err).Str("conversation_id", s.id).Msg("initial reconciliation failed")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(loopCtx)
	}()

	s.cur = parts{gen: s.cur.gen + 1, machine: machine, live: live, engine: engine}
	s.stopLoop = cancel
	s.loopDone = done
	return nil
}

func (s *Session) stopLocked() {
	if s.cur.machine == nil {
		return
	}
	s.cur.machine.Close()
	s.cur.engine.Close()
	s.stopLoop()
	<-s.loopDone
}

func (s *Session) current() (parts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return parts{}, ErrSessionClosed
	}
	if s.cur.machine == nil {
		return parts{}, conversation.ErrNotInitialized
	}
	return s.cur, nil
}

func (s *Session) isCurrent(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.cur.gen == gen
}

func (s *Session) newMessage(t chat.MessageType, content string) chat.Message {
	return chat.Message{
		ID:        common.NextULID(),
		Type:      t,
		Content:   content,
		Timestamp: s.cfg.Clock.Now().UTC().Truncate(time.Millisecond),
	}
}

func rejectSend(st conversation.Status) error {
	if st == conversation.StatusQuotaExceeded {
		return ErrQuotaExceeded
	}
	return ErrConversationClosed
}

// SendMessage appends a user message and, when the conversation was active,
// the automated reply. A provider failure keeps the user message and
// returns the error alongside the result.
func (s *Session) SendMessage(ctx context.Context, text string) (SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{}, ErrEmptyMessage
	}
	p, err := s.current()
	if err != nil {
		return SendResult{}, err
	}

	// The machine decides under its own lock whether the send is counted;
	// before only picks whether an automated reply follows.
	before := p.machine.State()
	if _, err := p.machine.IncrementMessageCount(); err != nil {
		if errors.Is(err, conversation.ErrNotAcceptingMessages) || errors.Is(err, conversation.ErrConversationEnded) {
			st := p.machine.State()
			return SendResult{State: st}, rejectSend(st.Status)
		}
		return SendResult{}, err
	}

	res := SendResult{User: s.newMessage(chat.MessageUser, text)}
	p.live.Append(res.User)
	defer p.engine.Notify()

	if before.Status != conversation.StatusActive || s.cfg.Service == nil {
		res.State = p.machine.State()
		return res, nil
	}

	reply, err := s.cfg.Service.Reply(ctx, p.live.Messages())
	if err != nil {
		log.Error().Err(err).Str("conversation_id", s.id).Msg("automated reply failed")
		res.State = p.machine.State()
		return res, fmt.Errorf("widget: automated reply: %w", err)
	}
	if s.isCurrent(p.gen) {
		msg := s.newMessage(chat.MessageAI, reply)
		msg.IsCompleted = true
		p.live.Append(msg)
		res.Reply = &msg
		if err := p.machine.MarkAIReply(); err != nil && !errors.Is(err, conversation.ErrConversationEnded) {
			return res, err
		}
	}
	res.State = p.machine.State()
	return res, nil
}

// RecordActivity resets the idle countdown without sending anything.
func (s *Session) RecordActivity() (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	if err := p.machine.RecordActivity(); err != nil {
		return p.machine.State(), err
	}
	return p.machine.State(), nil
}

// InjectIdentification appends the visitor's identification reference.
func (s *Session) InjectIdentification(ref string) (chat.Message, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return chat.Message{}, ErrEmptyMessage
	}
	p, err := s.current()
	if err != nil {
		return chat.Message{}, err
	}
	if p.machine.State().Status.Terminal() {
		return chat.Message{}, ErrConversationClosed
	}
	msg := s.newMessage(chat.MessageIdentification, ref)
	p.live.Append(msg)
	p.engine.Notify()
	return msg, nil
}

func (s *Session) SubmitFeedback(ctx context.Context, messageID string) error {
	p, err := s.current()
	if err != nil {
		return err
	}
	found, changed := p.live.markFeedback(messageID)
	if !found {
		return ErrMessageNotFound
	}
	if !changed {
		return nil
	}
	return p.engine.Persist(ctx, "feedback")
}

// RequestHumanAgent hands the conversation to a human and posts a notice the
// first time it happens.
func (s *Session) RequestHumanAgent(reason string) (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	before := p.machine.State().Status
	if err := p.machine.RequestHumanAgent(reason); err != nil {
		return p.machine.State(), err
	}
	if before != conversation.StatusWaitingHuman {
		p.live.Append(s.newMessage(chat.MessageSystem, humanHandoffNotice))
		p.engine.Notify()
	}
	return p.machine.State(), nil
}

func (s *Session) RequestEnd() (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	err = p.machine.RequestEnd()
	return p.machine.State(), err
}

func (s *Session) CancelEnd() (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	p.machine.CancelEnd()
	return p.machine.State(), nil
}

func (s *Session) ConfirmEnd() (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	err = p.machine.ConfirmEnd()
	return p.machine.State(), err
}

// End closes the conversation immediately, without confirmation.
func (s *Session) End(reason string) (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	p.machine.End(reason)
	return p.machine.State(), nil
}

// StartNewChat wipes both stores and starts a fresh conversation under the
// same id.
func (s *Session) StartNewChat(ctx context.Context) (conversation.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return conversation.State{}, ErrSessionClosed
	}
	if s.cur.machine != nil {
		if err := s.cur.engine.EmergencyReset(ctx); err != nil {
			return s.cur.machine.State(), err
		}
		s.stopLocked()
	}
	if err := s.startLocked(ctx); err != nil {
		return conversation.State{}, err
	}
	log.Info().Str("conversation_id", s.id).Msg("new chat started")
	return s.cur.machine.State(), nil
}

func (s *Session) Sync(ctx context.Context) (reconcile.Pass, error) {
	p, err := s.current()
	if err != nil {
		return reconcile.Pass{}, err
	}
	return p.engine.SyncConversation(ctx)
}

// Reset clears the transcript in both stores. The lifecycle is untouched.
func (s *Session) Reset(ctx context.Context) error {
	p, err := s.current()
	if err != nil {
		return err
	}
	return p.engine.EmergencyReset(ctx)
}

func (s *Session) Health(ctx context.Context) (Health, error) {
	p, err := s.current()
	if err != nil {
		return Health{}, err
	}
	report, err := p.engine.DetectCorruption(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{
		State:         p.machine.State(),
		PendingTimers: p.machine.PendingTimers(),
		MessageCount:  p.live.Len(),
		Reconcile:     p.engine.Stats(),
		Corruption:    report,
	}, nil
}

func (s *Session) State() (conversation.State, error) {
	p, err := s.current()
	if err != nil {
		return conversation.State{}, err
	}
	return p.machine.State(), nil
}

func (s *Session) Messages() ([]chat.Message, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	return p.live.Messages(), nil
}

func (s *Session) Transitions() ([]conversation.Transition, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	return p.machine.Transitions(), nil
}

// Close flushes the live list, cancels every timer and stops the
// reconciliation loop. Calling it again is a no-op.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cur.machine == nil {
		return
	}
	if err := s.cur.engine.Persist(ctx, "session_close"); err != nil {
		log.Warn().Err(err).Str("conversation_id", s.id).Msg("final flush failed")
	}
	s.stopLocked()
}
