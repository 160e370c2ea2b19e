package postgres

import (
	"context"
	"fmt"

	"github.com/onlyif/messaging/internal/database"
	"github.com/onlyif/messaging/internal/models"
)

type MessageRepository struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append creates a new message and assigns its sequence number
func (r *MessageRepository) Append(ctx context.Context, message *models.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, message_text, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq, created_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		message.ID,
		message.ConversationID,
		message.SenderID,
		message.MessageText,
		message.Read,
		truncate(message.Timestamp),
	).Scan(&message.Seq, &message.Timestamp)

	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	message.Timestamp = message.Timestamp.UTC()

	return nil
}

// ListByConversation retrieves messages for a conversation, oldest first
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `
		SELECT id, seq, conversation_id, sender_id, message_text, read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.Seq,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.MessageText,
			&msg.Read,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// MarkReadForReader marks every message sent to readerID as read
func (r *MessageRepository) MarkReadForReader(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `
		UPDATE messages
		SET read = true
		WHERE conversation_id = $1
		AND sender_id <> $2
		AND read = false
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages as read: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// CountUnread gets the number of unread messages for a reader in a conversation
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, readerID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		AND sender_id <> $2
		AND read = false
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, conversationID, readerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}

	return count, nil
}
