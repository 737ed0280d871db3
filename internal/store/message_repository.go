package store

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
)

type messageRow struct {
	bun.BaseModel `bun:"table:messages"`

	ID             string    `bun:"id,pk"`
	ConversationID string    `bun:"conversation_id"`
	Role           string    `bun:"role"`
	Content        string    `bun:"content"`
	CreatedAt      time.Time `bun:"created_at"`
}

func (r *messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           model.Role(r.Role),
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
	}
}

// MessageRepository persists messages in Postgres. Only the textual content
// is durable; inline image data stays in session state for its lifetime.
type MessageRepository struct {
	db *bun.DB
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *bun.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Insert stores a finalized message.
func (r *MessageRepository) Insert(ctx context.Context, msg *model.Message) error {
	row := &messageRow{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}

	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// List returns a conversation's messages ordered by creation time ascending.
func (r *MessageRepository) List(ctx context.Context, conversationID string) ([]model.Message, error) {
	var rows []messageRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}

	messages := make([]model.Message, len(rows))
	for i := range rows {
		messages[i] = rows[i].toModel()
	}
	return messages, nil
}
