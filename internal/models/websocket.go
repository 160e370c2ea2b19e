package models

// WebSocket event types
const (
	EventMessageNew  = "message.new"
	EventMessageSend = "message.send"
	EventMessageRead = "message.read"
	EventError       = "error"
)

type WSMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// WSMessageNewPayload fans a stored message out to both participants
type WSMessageNewPayload struct {
	Message      Message  `json:"message"`
	Participants []string `json:"participants"`
}

// WSMessageReadPayload tells the other participant their messages were read
type WSMessageReadPayload struct {
	ConversationID string   `json:"conversationId"`
	ReaderID       string   `json:"readerId"`
	Participants   []string `json:"participants"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WSMarkReadPayload is sent by a client that has opened a conversation
type WSMarkReadPayload struct {
	ConversationID string `json:"conversationId"`
}
