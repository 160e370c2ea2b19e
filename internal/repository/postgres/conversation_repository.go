package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/onlyif/messaging/internal/database"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

type ConversationRepository struct {
	db *database.DB
}

func NewConversationRepository(db *database.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id, c.type, c.property_id, c.property_title,
	c.last_message_id, c.last_message_sender_id, c.last_message_text, c.last_message_at,
	c.created_at, c.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv       models.Conversation
		propertyID sql.NullString
		lastID     sql.NullString
		lastSender sql.NullString
		lastText   sql.NullString
		lastAt     sql.NullTime
	)

	err := row.Scan(
		&conv.ID,
		&conv.Type,
		&propertyID,
		&conv.PropertyTitle,
		&lastID,
		&lastSender,
		&lastText,
		&lastAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if propertyID.Valid {
		conv.PropertyID = &propertyID.String
	}
	if lastID.Valid && lastAt.Valid {
		conv.LastMessage = &models.LastMessage{
			ID:          lastID.String,
			SenderID:    lastSender.String,
			MessageText: lastText.String,
			Timestamp:   lastAt.Time.UTC(),
		}
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()

	return &conv, nil
}

// Create inserts a conversation with its two participants in one transaction
func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	if len(conversation.Participants) != 2 {
		return fmt.Errorf("conversation needs exactly 2 participants, got %d", len(conversation.Participants))
	}

	low, high := repository.OrderedPair(conversation.Participants[0].UserID, conversation.Participants[1].UserID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO conversations (id, type, property_id, property_title, property_key, user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_low, user_high, property_key) DO NOTHING
		RETURNING id
	`

	var id string
	err = tx.QueryRowContext(
		ctx,
		query,
		conversation.ID,
		conversation.Type,
		conversation.PropertyID,
		conversation.PropertyTitle,
		conversation.PropertyKey(),
		low,
		high,
		truncate(conversation.CreatedAt),
		truncate(conversation.UpdatedAt),
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for i, p := range conversation.Participants {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position, name, role, email) VALUES ($1, $2, $3, $4, $5, $6)`,
			conversation.ID, p.UserID, i, p.Name, p.Role, p.Email,
		)
		if err != nil {
			return fmt.Errorf("failed to add participant %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	if err := r.attachParticipants(ctx, []*models.Conversation{conv}); err != nil {
		return nil, err
	}

	return conv, nil
}

// FindByParticipants retrieves the conversation between two users for a property
func (r *ConversationRepository) FindByParticipants(ctx context.Context, userA, userB, propertyID string) (*models.Conversation, error) {
	low, high := repository.OrderedPair(userA, userB)
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.user_low = $1 AND c.user_high = $2 AND c.property_key = $3
	`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, low, high, propertyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	if err := r.attachParticipants(ctx, []*models.Conversation{conv}); err != nil {
		return nil, err
	}

	return conv, nil
}

// ListByUserID retrieves all conversations for a user, most recently updated first
func (r *ConversationRepository) ListByUserID(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		INNER JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	convs := []*models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}

	if err := r.attachParticipants(ctx, convs); err != nil {
		return nil, err
	}

	out := make([]models.Conversation, len(convs))
	for i, c := range convs {
		out[i] = *c
	}
	return out, nil
}

// UpdateLastMessage caches msg unless the stored last message is newer
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, conversationID string, msg *models.LastMessage) error {
	query := `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message_sender_id = $3,
		    last_message_text = $4,
		    last_message_at = $5,
		    updated_at = GREATEST(updated_at, $5)
		WHERE id = $1
		AND (last_message_at IS NULL OR last_message_at <= $5)
	`

	result, err := r.db.ExecContext(ctx, query, conversationID, msg.ID, msg.SenderID, msg.MessageText, truncate(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Either the conversation is missing or a newer message is already cached
	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}

	return nil
}

func (r *ConversationRepository) attachParticipants(ctx context.Context, convs []*models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	ids := make([]string, len(convs))
	byID := make(map[string]*models.Conversation, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
		byID[c.ID] = c
		c.Participants = make([]models.Participant, 0, 2)
	}

	query := `
		SELECT conversation_id, user_id, name, role, email
		FROM conversation_participants
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, position
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID string
		var p models.Participant
		if err := rows.Scan(&convID, &p.UserID, &p.Name, &p.Role, &p.Email); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if c, ok := byID[convID]; ok {
			c.Participants = append(c.Participants, p)
		}
	}

	return rows.Err()
}

// truncate matches the microsecond precision of TIMESTAMPTZ
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
