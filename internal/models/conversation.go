package models

import (
	"time"
)

// ConversationType tags the role pair of a conversation
type ConversationType string

const (
	ConversationBuyerAgent  ConversationType = "buyer_agent"
	ConversationAgentSeller ConversationType = "agent_seller"
	ConversationAgentAgent  ConversationType = "agent_agent"
)

type Conversation struct {
	ID            string           `json:"id" db:"id"`
	Type          ConversationType `json:"type" db:"type"`
	PropertyID    *string          `json:"propertyId,omitempty" db:"property_id"`
	PropertyTitle string           `json:"propertyTitle,omitempty" db:"property_title"`
	Participants  []Participant    `json:"participants"`
	LastMessage   *LastMessage     `json:"lastMessage"`
	UnreadCount   int              `json:"unreadCount"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// LastMessage is the denormalized copy of the newest message in a conversation
type LastMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	MessageText string    `json:"messageText"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasParticipant reports whether userID is one of the conversation's participants
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Participant returns the participant entry for userID
func (c *Conversation) Participant(userID string) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// PropertyKey returns the property id or "" for conversations without one
func (c *Conversation) PropertyKey() string {
	if c.PropertyID == nil {
		return ""
	}
	return *c.PropertyID
}

// Clone returns a deep copy so callers cannot mutate store state
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.PropertyID != nil {
		id := *c.PropertyID
		out.PropertyID = &id
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

type ListConversationsQuery struct {
	UserID   string `form:"userId"`
	UserRole string `form:"userRole"`
}
