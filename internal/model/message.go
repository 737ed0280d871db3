// Package model defines data structures for the conversation pipeline.
package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a conversation message. Content is mutable while an
// assistant message is still streaming and final afterwards.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at,omitempty"`

	// Images holds base64 data URLs the user attached to this message.
	Images []string `json:"images,omitempty"`
	// GeneratedImages holds base64 data URLs produced by the gateway.
	GeneratedImages []string `json:"generated_images,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EditImageRequest is the request to edit a previously generated image.
type EditImageRequest struct {
	ImageURL    string `json:"image_url"`
	Instruction string `json:"instruction"`
}

// RegenerateImageRequest is the request to regenerate an image from a prompt.
type RegenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversation_id,omitempty"`
}
