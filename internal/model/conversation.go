package model

import (
	"time"
)

// Conversation represents a conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RenameConversationRequest is the request to rename a conversation.
type RenameConversationRequest struct {
	Title string `json:"title"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	ActiveID      string         `json:"active_id,omitempty"`
}

// titleMaxLen bounds derived conversation titles.
const titleMaxLen = 50

// DeriveTitle builds a conversation title from the first user message,
// truncated to 50 runes with an ellipsis marker if longer.
func DeriveTitle(firstMessage string) string {
	runes := []rune(firstMessage)
	if len(runes) <= titleMaxLen {
		return firstMessage
	}
	return string(runes[:titleMaxLen]) + "..."
}
