package service

import (
	"context"

	"github.com/onlyif/messaging/internal/models"
)

// Fallback supplies conversations when a user has none. Production uses NoFallback.
type Fallback interface {
	Conversations(ctx context.Context, userID, roleHint string) ([]models.Conversation, error)
}

// NoFallback returns an empty list.
type NoFallback struct{}

func (NoFallback) Conversations(context.Context, string, string) ([]models.Conversation, error) {
	return []models.Conversation{}, nil
}

// SellerDemoFallback keeps demo environments populated: a seller with no
// conversations sees the template conversations with the seller slot relabelled
// as themselves. Never enable it outside development.
type SellerDemoFallback struct {
	templates []models.Conversation
}

func NewSellerDemoFallback(templates []models.Conversation) *SellerDemoFallback {
	return &SellerDemoFallback{templates: templates}
}

func (f *SellerDemoFallback) Conversations(_ context.Context, userID, roleHint string) ([]models.Conversation, error) {
	out := []models.Conversation{}
	if roleHint != string(models.RoleSeller) {
		return out, nil
	}

	for i := range f.templates {
		conv := f.templates[i].Clone()
		relabelled := false
		for j := range conv.Participants {
			if conv.Participants[j].Role == models.RoleSeller {
				conv.Participants[j].UserID = userID
				relabelled = true
			}
		}
		if relabelled {
			out = append(out, *conv)
		}
	}
	return out, nil
}
