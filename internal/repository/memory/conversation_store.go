// Package memory holds process-local stores used in development, demos and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

type pairKey struct {
	low, high, property string
}

func keyFor(c *models.Conversation) pairKey {
	low, high := repository.OrderedPair(c.Participants[0].UserID, c.Participants[1].UserID)
	return pairKey{low: low, high: high, property: c.PropertyKey()}
}

// ConversationStore keeps conversations in maps guarded by a RWMutex
type ConversationStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	byPair        map[pairKey]string
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		conversations: make(map[string]*models.Conversation),
		byPair:        make(map[pairKey]string),
	}
}

func (s *ConversationStore) Create(_ context.Context, conversation *models.Conversation) error {
	if len(conversation.Participants) != 2 {
		return fmt.Errorf("conversation needs exactly 2 participants, got %d", len(conversation.Participants))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conversation.ID]; exists {
		return repository.ErrConflict
	}
	key := keyFor(conversation)
	if _, exists := s.byPair[key]; exists {
		return repository.ErrConflict
	}

	s.conversations[conversation.ID] = conversation.Clone()
	s.byPair[key] = conversation.ID
	return nil
}

func (s *ConversationStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return conv.Clone(), nil
}

func (s *ConversationStore) FindByParticipants(_ context.Context, userA, userB, propertyID string) (*models.Conversation, error) {
	low, high := repository.OrderedPair(userA, userB)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPair[pairKey{low: low, high: high, property: propertyID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.conversations[id].Clone(), nil
}

func (s *ConversationStore) ListByUserID(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	out := []models.Conversation{}
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, *conv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *ConversationStore) UpdateLastMessage(_ context.Context, conversationID string, msg *models.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return repository.ErrNotFound
	}

	if conv.LastMessage != nil && conv.LastMessage.Timestamp.After(msg.Timestamp) {
		return nil
	}

	lm := *msg
	conv.LastMessage = &lm
	if msg.Timestamp.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.Timestamp
	}
	return nil
}

// Seed inserts fixture conversations, replacing any with the same id
func (s *ConversationStore) Seed(conversations ...models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range conversations {
		c := conversations[i].Clone()
		s.conversations[c.ID] = c
		s.byPair[keyFor(c)] = c.ID
	}
}
