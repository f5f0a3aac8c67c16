package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Models lists every table owned by this package, for AutoMigrate.
func Models() []any {
	return []any{&Conversation{}, &MessageRecord{}, &TransitionRecord{}}
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) UpdateConversationStatus(ctx context.Context, conversationID, status string) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ?", conversationID).
		Update("status", status).Error
}

// LoadMessages returns the persisted copy in stored (arrival) order.
func (r *Repo) LoadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var rows []MessageRecord
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

// ReplaceMessages overwrites the persisted copy with msgs in one transaction.
func (r *Repo) ReplaceMessages(ctx context.Context, conversationID string, msgs []Message, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).
			Delete(&MessageRecord{}).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		rows := make([]MessageRecord, 0, len(msgs))
		for i, m := range msgs {
			rows = append(rows, toRecord(conversationID, i, m, reason))
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

func (r *Repo) ClearMessages(ctx context.Context, conversationID string) error {
	return r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&MessageRecord{}).Error
}

// InsertTransition stores t unless a row with the same event id exists. It
// reports whether a new row was written.
func (r *Repo) InsertTransition(ctx context.Context, t *TransitionRecord) (bool, error) {
	if t.EventID == "" {
		return false, errors.New("chat: transition event id is required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListTransitions returns the log for one conversation, oldest first.
func (r *Repo) ListTransitions(ctx context.Context, conversationID string, limit int) ([]TransitionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []TransitionRecord
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("occurred_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
