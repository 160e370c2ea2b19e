package memory

import (
	"context"
	"sync"

	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

// ParticipantRegistry is a static user directory
type ParticipantRegistry struct {
	mu    sync.RWMutex
	users map[string]models.Participant
}

func NewParticipantRegistry(participants ...models.Participant) *ParticipantRegistry {
	r := &ParticipantRegistry{users: make(map[string]models.Participant)}
	for _, p := range participants {
		r.users[p.UserID] = p
	}
	return r
}

func (r *ParticipantRegistry) Resolve(_ context.Context, userID string) (*models.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

// Put adds or replaces a participant
func (r *ParticipantRegistry) Put(p models.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[p.UserID] = p
}
