package session

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
)

func TestInlineDataProducesDataURL(t *testing.T) {
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	data := append(pngHeader, make([]byte, 64)...)

	url, err := InlineData(model.Attachment{Name: "pic.png", Type: model.AttachmentImage, Data: data})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
	encoded := strings.TrimPrefix(url, "data:image/png;base64,")
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestInlineDataRejectsEmptyAttachment(t *testing.T) {
	_, err := InlineData(model.Attachment{Name: "empty.png", Type: model.AttachmentImage})
	assert.ErrorIs(t, err, ErrEmptyAttachment)
}

func TestInlineDataFallsBackToSniffedType(t *testing.T) {
	url, err := InlineData(model.Attachment{Name: "blob", Type: model.AttachmentImage, Data: []byte{0x00, 0x01, 0x02}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:application/octet-stream;base64,"))
}
