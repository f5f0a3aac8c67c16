package chat

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/conversation"
)

// TransitionSink writes lifecycle transitions straight into the database and
// mirrors the latest status onto the conversation row.
type TransitionSink struct {
	repo *Repo
}

func NewTransitionSink(repo *Repo) *TransitionSink {
	return &TransitionSink{repo: repo}
}

func (s *TransitionSink) LogTransition(ctx context.Context, ev conversation.TransitionEvent) error {
	rec := &TransitionRecord{
		EventID:        ev.EventID,
		ConversationID: ev.ConversationID,
		FromStatus:     string(ev.From),
		ToStatus:       string(ev.To),
		Reason:         ev.Reason,
		TriggeredBy:    string(ev.TriggeredBy),
		OccurredAt:     ev.Timestamp.UTC(),
	}
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return err
		}
		rec.Metadata = string(b)
	}

	created, err := s.repo.InsertTransition(ctx, rec)
	if err != nil {
		return err
	}
	if !created {
		log.Debug().Str("event_id", ev.EventID).Msg("duplicate transition event ignored")
		return nil
	}
	return s.repo.UpdateConversationStatus(ctx, ev.ConversationID, string(ev.To))
}
