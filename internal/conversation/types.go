package conversation

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive        Status = "active"
	StatusEnded         Status = "ended"
	StatusWaitingHuman  Status = "waiting_human"
	StatusIdleTimeout   Status = "idle_timeout"
	StatusMaxSession    Status = "max_session"
	StatusQuotaExceeded Status = "quota_exceeded"
)

// Terminal reports whether no further transitions may leave s.
func (s Status) Terminal() bool { return s == StatusEnded }

// Live reports whether the session clock is still running for s: idle,
// max-session and quota limits only apply to live conversations.
func (s Status) Live() bool { return s == StatusActive || s == StatusWaitingHuman }

// AcceptsMessages reports whether new user input may be sent.
func (s Status) AcceptsMessages() bool { return s.Live() }

type TriggeredBy string

const (
	TriggeredByUser   TriggeredBy = "user"
	TriggeredBySystem TriggeredBy = "system"
	TriggeredByAI     TriggeredBy = "ai"
)

var (
	ErrConversationEnded    = errors.New("conversation: ended")
	ErrEndNotRequested      = errors.New("conversation: end was not requested")
	ErrNotInitialized       = errors.New("conversation: not initialized")
	ErrNotAcceptingMessages = errors.New("conversation: not accepting messages")
)

// State is the snapshot of a conversation exposed to the UI layer.
type State struct {
	ConversationID   string    `json:"conversation_id"`
	Status           Status    `json:"status"`
	MessageCount     int       `json:"message_count"`
	SessionStartTime time.Time `json:"session_start_time"`
	LastActivityTime time.Time `json:"last_activity_time"`
	AISessionStarted bool      `json:"ai_session_started"`
	ShowIdleWarning  bool      `json:"show_idle_warning"`
	EndPending       bool      `json:"end_pending"`
}

// Transition is one entry of the append-only status log.
type Transition struct {
	From        Status      `json:"from"`
	To          Status      `json:"to"`
	Reason      string      `json:"reason"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	Timestamp   time.Time   `json:"timestamp"`
}

// TransitionEvent is the payload handed to a TransitionLogger.
type TransitionEvent struct {
	EventID        string         `json:"event_id"`
	ConversationID string         `json:"conversation_id"`
	From           Status         `json:"from"`
	To             Status         `json:"to"`
	Reason         string         `json:"reason"`
	TriggeredBy    TriggeredBy    `json:"triggered_by"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
