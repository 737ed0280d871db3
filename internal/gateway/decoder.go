package gateway

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/sashabaranov/go-openai"

	"github.com/mdalihasanriyad/roc-ai-your-creative-partner/pkg/metrics"
)

var (
	dataPrefix   = []byte("data: ")
	doneSentinel = []byte("[DONE]")
)

// Decoder incrementally extracts text deltas from an event-stream body.
// Chunks may arrive split at arbitrary boundaries, including inside a JSON
// record; the decoder buffers partial records until they complete. Each
// request gets a fresh Decoder.
type Decoder struct {
	r       io.Reader
	buf     []byte
	scratch []byte
	eof     bool // underlying reader exhausted
	done    bool // [DONE] seen or stream fully drained
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:       r,
		scratch: make([]byte, 4096),
	}
}

// Next returns the next text delta, or io.EOF when the stream terminates
// (either the [DONE] sentinel or the underlying reader ending). Records
// without a delta field are skipped; malformed records never abort the
// stream.
func (d *Decoder) Next() (string, error) {
	if d.done {
		return "", io.EOF
	}

	for {
		if delta, ok := d.scan(); ok {
			return delta, nil
		}
		if d.done || d.eof {
			d.done = true
			return "", io.EOF
		}

		n, err := d.r.Read(d.scratch)
		if n > 0 {
			d.buf = append(d.buf, d.scratch[:n]...)
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			return "", err
		}
	}
}

// scan extracts complete lines from the buffer and returns the first delta
// found. Returns false when more input is needed or the stream terminated.
func (d *Decoder) scan() (string, bool) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return "", false
		}

		line := bytes.TrimSuffix(d.buf[:i], []byte("\r"))
		rest := d.buf[i+1:]

		// Blank lines and comment lines are skipped.
		if len(bytes.TrimSpace(line)) == 0 || line[0] == ':' {
			d.buf = rest
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			d.buf = rest
			continue
		}

		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.Equal(payload, doneSentinel) {
			d.done = true
			return "", false
		}

		var record openai.ChatCompletionStreamResponse
		if err := json.Unmarshal(payload, &record); err != nil {
			if len(rest) > 0 || d.eof {
				// More data already arrived behind this line (or none ever
				// will): the record is genuinely malformed. Skip it.
				d.buf = rest
				continue
			}
			// The record may be split exactly at a chunk boundary. Leave the
			// buffer untouched and stop extracting until more bytes arrive;
			// if the line still fails once data shows up behind it, the skip
			// branch above retires it.
			return "", false
		}

		d.buf = rest

		if len(record.Choices) == 0 {
			continue
		}
		delta := record.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		metrics.StreamDeltasTotal.Inc()
		return delta, true
	}
}
