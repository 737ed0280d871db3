package model

// AttachmentType is a coarse classification of an attached file.
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
)

// Attachment is a transient file attached to a message before sending.
// Data holds the raw file bytes; it is converted to an inline data URL
// at send time.
type Attachment struct {
	Name string         `json:"name"`
	Type AttachmentType `json:"type"`
	Data []byte         `json:"data"`
}
