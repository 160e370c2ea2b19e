package repository

import (
	"context"
	"errors"

	"github.com/onlyif/messaging/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a conversation already exists for the same participants and property.
var ErrConflict = errors.New("record already exists")

// ConversationStore persists conversations and their denormalized last message.
type ConversationStore interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	// FindByParticipants returns the conversation between two users for a property ("" for none).
	FindByParticipants(ctx context.Context, userA, userB, propertyID string) (*models.Conversation, error)
	// ListByUserID returns conversations containing userID, most recently updated first.
	ListByUserID(ctx context.Context, userID string) ([]models.Conversation, error)
	// UpdateLastMessage caches msg as the last message unless a newer one is already cached.
	UpdateLastMessage(ctx context.Context, conversationID string, msg *models.LastMessage) error
}

// MessageStore persists the ordered messages of each conversation.
type MessageStore interface {
	// Append stores msg and assigns its Seq.
	Append(ctx context.Context, msg *models.Message) error
	// ListByConversation returns messages oldest first, ties broken by Seq.
	ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error)
	// MarkReadForReader flags every message not sent by readerID as read and returns how many changed.
	MarkReadForReader(ctx context.Context, conversationID, readerID string) (int, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}

// ParticipantRegistry resolves user identity and role.
type ParticipantRegistry interface {
	Resolve(ctx context.Context, userID string) (*models.Participant, error)
}

// Property is the listing summary cached on a conversation.
type Property struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// PropertyDirectory looks up listing titles.
type PropertyDirectory interface {
	GetProperty(ctx context.Context, propertyID string) (*Property, error)
}

// OrderedPair returns the two user ids in lexical order; conversations are unique per pair and property.
func OrderedPair(userA, userB string) (string, string) {
	if userA > userB {
		return userB, userA
	}
	return userA, userB
}
