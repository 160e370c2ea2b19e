package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onlyif/messaging/internal/database"
	"github.com/onlyif/messaging/internal/models"
	"github.com/onlyif/messaging/internal/repository"
)

// ParticipantRepository is a ParticipantRegistry backed by the participants table
type ParticipantRepository struct {
	db *database.DB
}

func NewParticipantRepository(db *database.DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Resolve retrieves a participant by user ID
func (r *ParticipantRepository) Resolve(ctx context.Context, userID string) (*models.Participant, error) {
	query := `
		SELECT user_id, name, role, email
		FROM participants
		WHERE user_id = $1
	`

	p := &models.Participant{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID,
		&p.Name,
		&p.Role,
		&p.Email,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

// Upsert creates or refreshes a participant
func (r *ParticipantRepository) Upsert(ctx context.Context, p *models.Participant) error {
	if err := p.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO participants (user_id, name, role, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name, role = EXCLUDED.role, email = EXCLUDED.email, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, p.UserID, p.Name, p.Role, p.Email); err != nil {
		return fmt.Errorf("failed to upsert participant: %w", err)
	}

	return nil
}
