package session

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
)

// ErrEmptyAttachment is returned when an attachment carries no data.
var ErrEmptyAttachment = errors.New("attachment has no data")

// InlineData converts an attachment's raw bytes into a self-contained
// base64 data URL embeddable in a JSON payload. The media type is sniffed
// from the content.
func InlineData(att model.Attachment) (string, error) {
	if len(att.Data) == 0 {
		return "", ErrEmptyAttachment
	}

	mediaType := http.DetectContentType(att.Data)
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(att.Data), nil
}
