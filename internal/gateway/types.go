// Package gateway provides the client for the inference gateway: a retrying
// request dispatcher and an incremental decoder for event-stream responses.
package gateway

import (
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/internal/model"
)

// Request is the outbound payload: the ordered message window plus a mode
// tag selecting a server-side behavior profile.
type Request struct {
	Messages []openai.ChatCompletionMessage `json:"messages"`
	Mode     model.Mode                     `json:"mode"`
}

// Response is the tagged result of a gateway call. Exactly one of
// *StreamResponse or *ImageResponse is returned on success; error documents
// surface as errors from Send.
type Response interface {
	isResponse()
}

// StreamResponse wraps an event-stream body. The caller owns the stream and
// must call Close when done.
type StreamResponse struct {
	body    io.ReadCloser
	decoder *Decoder
}

// NewStreamResponse wraps body in a fresh decoder. Exposed so fakes can
// construct stream results in tests.
func NewStreamResponse(body io.ReadCloser) *StreamResponse {
	return &StreamResponse{
		body:    body,
		decoder: NewDecoder(body),
	}
}

func (*StreamResponse) isResponse() {}

// Decoder returns the incremental delta decoder for this stream.
func (s *StreamResponse) Decoder() *Decoder {
	return s.decoder
}

// Close releases the underlying body.
func (s *StreamResponse) Close() error {
	return s.body.Close()
}

// ImageResponse is a complete image-generation document.
type ImageResponse struct {
	Content string
	Images  []string
}

func (*ImageResponse) isResponse() {}

// document is the wire shape of a JSON gateway response.
type document struct {
	Type    string     `json:"type"`
	Content string     `json:"content"`
	Images  []imageRef `json:"images"`
	Error   string     `json:"error"`
}

type imageRef struct {
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}
