package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/logger"
	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

// Sender is the interface the session controller consumes.
type Sender interface {
	Send(ctx context.Context, req *Request) (Response, error)
}

// Client issues requests to the inference gateway and classifies the
// response shape.
type Client struct {
	url        string
	apiKey     string
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *logger.Logger
}

// Config holds gateway client configuration.
type Config struct {
	URL        string
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a gateway client. A zero MaxRetries disables retrying;
// the platform default is one retry after one second.
func NewClient(cfg Config, log *logger.Logger) *Client {
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		// Streaming responses stay open well past any sane request timeout,
		// so the client itself carries none; callers bound the call with ctx.
		httpClient: &http.Client{},
		logger:     log,
	}
}

// statusError carries the gateway's reported message for a failure status.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("request failed with status %d", e.status)
}

// retryable reports whether a failure status may be retried. Rate-limit and
// quota responses are surfaced verbatim, never retried.
func (e *statusError) retryable() bool {
	return e.status != http.StatusTooManyRequests && e.status != http.StatusPaymentRequired
}

// Send issues the request, retrying once on transient failure, and returns
// a tagged result: *StreamResponse for event-stream bodies, *ImageResponse
// for image-generation documents. Inline error documents and exhausted
// retries surface as errors.
func (c *Client) Send(ctx context.Context, req *Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	mode := string(req.Mode.Normalize())

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("gateway request failed, retrying",
				"attempt", attempt,
				"error", lastErr,
			)
			metrics.GatewayRetriesTotal.Inc()
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.attempt(ctx, body)
		if err == nil {
			metrics.RecordGatewayRequest(mode, "success", time.Since(start).Seconds())
			return resp, nil
		}

		lastErr = err
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	metrics.RecordGatewayRequest(mode, "error", time.Since(start).Seconds())
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, &statusError{
			status:  resp.StatusCode,
			message: readErrorMessage(resp.Body),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		defer resp.Body.Close()
		return decodeDocument(resp.Body)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, errors.New("no response body")
	}

	return NewStreamResponse(resp.Body), nil
}

// decodeDocument parses a complete JSON body: either an image-generation
// result or an inline error object, the latter a failure despite the
// success status.
func decodeDocument(r io.Reader) (Response, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding response document: %w", err)
	}

	if doc.Error != "" {
		return nil, errors.New(doc.Error)
	}

	if doc.Type == "image_generation" || len(doc.Images) > 0 {
		images := lo.FilterMap(doc.Images, func(img imageRef, _ int) (string, bool) {
			return img.ImageURL.URL, img.ImageURL.URL != ""
		})
		return &ImageResponse{Content: doc.Content, Images: images}, nil
	}

	return nil, errors.New("unexpected gateway response")
}

// readErrorMessage extracts the server-reported error, if any, from a
// failure body.
func readErrorMessage(r io.Reader) string {
	var doc struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return ""
	}
	return doc.Error
}
