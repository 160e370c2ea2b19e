package models

import (
	"time"
)

type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversationId" db:"conversation_id"`
	SenderID       string    `json:"senderId" db:"sender_id"`
	MessageText    string    `json:"messageText" db:"message_text"`
	Timestamp      time.Time `json:"timestamp" db:"created_at"`
	Read           bool      `json:"read" db:"read"`
	// Seq is the insertion position within the conversation, assigned by the store
	Seq int64 `json:"-" db:"seq"`
}

// Summary returns the denormalized form cached on the conversation
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		MessageText: m.MessageText,
		Timestamp:   m.Timestamp,
	}
}

// MaxMessageLength bounds messageText in characters on every send path
const MaxMessageLength = 10000

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderRole     string `json:"senderRole"`
	RecipientID    string `json:"recipientId"`
	RecipientRole  string `json:"recipientRole"`
	MessageText    string `json:"messageText" binding:"max=10000"`
	PropertyID     string `json:"propertyId"`
	PropertyTitle  string `json:"propertyTitle"`
}

// MarkReadRequest is the body of PUT /conversations/:id/messages
type MarkReadRequest struct {
	UserID string `json:"userId"`
}

type MarkReadResult struct {
	Message     string `json:"message"`
	Marked      int    `json:"marked"`
	UnreadCount int    `json:"unreadCount"`
}
