package chat

import "context"

// Store is the database-backed persistence provider of one conversation.
type Store struct {
	repo           *Repo
	conversationID string
}

func (r *Repo) ForConversation(conversationID string) *Store {
	return &Store{repo: r, conversationID: conversationID}
}

func (s *Store) LoadConversationState(ctx context.Context) (Snapshot, error) {
	msgs, err := s.repo.LoadMessages(ctx, s.conversationID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Messages: msgs}, nil
}

func (s *Store) UpdateMessages(ctx context.Context, msgs []Message, reason string) error {
	return s.repo.ReplaceMessages(ctx, s.conversationID, msgs, reason)
}

func (s *Store) ClearConversation(ctx context.Context) error {
	return s.repo.ClearMessages(ctx, s.conversationID)
}
