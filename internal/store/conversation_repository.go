package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type conversationRow struct {
	bun.BaseModel `bun:"table:conversations"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id"`
	Title     string    `bun:"title"`
	CreatedAt time.Time `bun:"created_at"`
	UpdatedAt time.Time `bun:"updated_at"`
}

func (r *conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ConversationRepository persists conversations in Postgres.
type ConversationRepository struct {
	db *bun.DB
}

// NewConversationRepository creates a conversation repository.
func NewConversationRepository(db *bun.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a new untitled conversation for the owner.
func (r *ConversationRepository) Create(ctx context.Context, userID string) (*model.Conversation, error) {
	now := time.Now()
	row := &conversationRow{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	conv := row.toModel()
	return &conv, nil
}

// List returns the owner's conversations ordered by update time descending.
func (r *ConversationRepository) List(ctx context.Context, userID string) ([]model.Conversation, error) {
	var rows []conversationRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching conversations: %w", err)
	}

	conversations := make([]model.Conversation, len(rows))
	for i := range rows {
		conversations[i] = rows[i].toModel()
	}
	return conversations, nil
}

// UpdateTitle sets a conversation's title.
func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := r.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Set("title = ?", title).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("updating title: %w", err)
	}
	return checkAffected(res)
}

// Touch refreshes a conversation's updated timestamp.
func (r *ConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*conversationRow)(nil)).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	return checkAffected(res)
}

// Delete removes a conversation; its messages cascade.
func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*conversationRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
