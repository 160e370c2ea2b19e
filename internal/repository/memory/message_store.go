package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

// MessageStore keeps each conversation's messages in insertion order
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message
	ids      map[string]struct{}
	nextSeq  int64
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[string][]*models.Message),
		ids:      make(map[string]struct{}),
	}
}

func (s *MessageStore) Append(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[msg.ID]; dup {
		return repository.ErrConflict
	}

	s.nextSeq++
	msg.Seq = s.nextSeq

	stored := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	s.ids[msg.ID] = struct{}{}
	return nil
}

func (s *MessageStore) ListByConversation(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	stored := s.messages[conversationID]
	out := make([]models.Message, len(stored))
	for i, m := range stored {
		out[i] = *m
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *MessageStore) MarkReadForReader(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID != readerID && !m.Read {
			m.Read = true
			marked++
		}
	}
	return marked, nil
}

func (s *MessageStore) CountUnread(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID != readerID && !m.Read {
			count++
		}
	}
	return count, nil
}

// Seed appends fixture messages in the given order and stops at the first duplicate id
func (s *MessageStore) Seed(messages ...models.Message) error {
	for i := range messages {
		if err := s.Append(context.Background(), &messages[i]); err != nil {
			return fmt.Errorf("seed message %s: %w", messages[i].ID, err)
		}
	}
	return nil
}
