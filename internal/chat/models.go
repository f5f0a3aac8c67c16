package chat

import "time"

type MessageType string

const (
	MessageUser           MessageType = "user"
	MessageAI             MessageType = "ai"
	MessageIdentification MessageType = "identification"
	MessageSystem         MessageType = "system"
)

// Message is one entry of a conversation transcript, as held by the live
// list and the persisted copy alike.
type Message struct {
	ID                string      `json:"id"`
	Type              MessageType `json:"type"`
	Content           string      `json:"content,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	FeedbackSubmitted bool        `json:"feedback_submitted,omitempty"`
	IsPending         bool        `json:"is_pending,omitempty"`
	IsCompleted       bool        `json:"is_completed,omitempty"`
}

// Snapshot is what a persistence provider reports for one conversation.
// IsLoading is true while the durable copy is still being hydrated.
type Snapshot struct {
	Messages  []Message
	IsLoading bool
}

// Conversation is the durable header row of a widget conversation.
type Conversation struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"conversation_id"`
	Status         string    `gorm:"type:varchar(32);index;not null" json:"status"`
	Provider       string    `gorm:"type:varchar(32);not null" json:"provider"`
	Model          string    `gorm:"type:varchar(64);not null" json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "support_conversations" }

// MessageRecord is one row of the persisted message copy. Position keeps the
// arrival order of the snapshot it was written from.
type MessageRecord struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement"`
	ConversationID    string    `gorm:"type:varchar(26);not null;index:idx_support_msg_conv_pos,priority:1;index:idx_support_msg_id,priority:1"`
	MessageID         string    `gorm:"type:varchar(64);not null;index:idx_support_msg_id,priority:2"`
	Position          int       `gorm:"not null;index:idx_support_msg_conv_pos,priority:2"`
	Type              string    `gorm:"type:varchar(16);not null"`
	Content           string    `gorm:"type:text"`
	SentAt            time.Time `gorm:"not null"`
	FeedbackSubmitted bool      `gorm:"not null;default:false"`
	IsPending         bool      `gorm:"not null;default:false"`
	IsCompleted       bool      `gorm:"not null;default:false"`
	Reason            string    `gorm:"type:varchar(64)"`
	CreatedAt         time.Time
}

func (MessageRecord) TableName() string { return "support_messages" }

// TransitionRecord is the append-only lifecycle log. EventID makes replays
// from the broker idempotent.
type TransitionRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	EventID        string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"event_id"`
	ConversationID string    `gorm:"type:varchar(26);index;not null" json:"conversation_id"`
	FromStatus     string    `gorm:"type:varchar(32);not null" json:"from"`
	ToStatus       string    `gorm:"type:varchar(32);not null" json:"to"`
	Reason         string    `gorm:"type:text" json:"reason"`
	TriggeredBy    string    `gorm:"type:varchar(16);not null" json:"triggered_by"`
	Metadata       string    `gorm:"type:text" json:"metadata,omitempty"`
	OccurredAt     time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt      time.Time `json:"-"`
}

func (TransitionRecord) TableName() string { return "support_transitions" }

func toRecord(conversationID string, pos int, m Message, reason string) MessageRecord {
	return MessageRecord{
		ConversationID:    conversationID,
		MessageID:         m.ID,
		Position:          pos,
		Type:              string(m.Type),
		Content:           m.Content,
		SentAt:            m.Timestamp.UTC(),
		FeedbackSubmitted: m.FeedbackSubmitted,
		IsPending:         m.IsPending,
		IsCompleted:       m.IsCompleted,
		Reason:            reason,
	}
}

func (r MessageRecord) toMessage() Message {
	return Message{
		ID:                r.MessageID,
		Type:              MessageType(r.Type),
		Content:           r.Content,
		Timestamp:         r.SentAt.UTC(),
		FeedbackSubmitted: r.FeedbackSubmitted,
		IsPending:         r.IsPending,
		IsCompleted:       r.IsCompleted,
	}
}
