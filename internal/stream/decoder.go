// Package stream decodes the incrementally delivered output of a language
// model into a structured profile.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/profile"
)

// DeltaEvent is a text fragment surfaced for live display.
type DeltaEvent struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

type Option func(*Decoder)

// WithLogger sets the decoder logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDeltaHandler registers a callback invoked for every non-empty delta in
// arrival order. It runs on the decoding goroutine.
func WithDeltaHandler(fn func(DeltaEvent)) Option {
	return func(d *Decoder) {
		d.onDelta = fn
	}
}

// Decoder consumes one framed stream. It is not reusable: create a new
// decoder per stream.
type Decoder struct {
	framing Framing
	logger  *zap.Logger
	onDelta func(DeltaEvent)

	// undecoded bytes, always shorter than one line
	buf []byte

	// type of the SSE event being read, reset by a blank line
	eventType string

	err      error
	finished bool

	mu     sync.RWMutex
	acc    strings.Builder
	seq    int
	reason FinishReason
}

// NewDecoder returns a decoder for the given framing.
func NewDecoder(framing Framing, opts ...Option) (*Decoder, error) {
	if framing != FramingSSE && framing != FramingTagged {
		return nil, fmt.Errorf("unsupported stream framing %q", framing)
	}

	d := &Decoder{
		framing: framing,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Partial returns the text accumulated so far.
func (d *Decoder) Partial() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.acc.String()
}

// FinishReason returns the reason of the terminal event, if one was seen.
func (d *Decoder) FinishReason() (FinishReason, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.reason, d.reason != ""
}

// Decode reads src until a finish event or exhaustion and parses the result.
// Sources implementing io.Closer are closed on return.
func (d *Decoder) Decode(ctx context.Context, src Source) (*profile.Profile, error) {
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}

	for !d.finished {
		if err := ctx.Err(); err != nil {
			return nil, d.fail(fmt.Errorf("%w: %w", ErrStreamAborted, err))
		}

		chunk, err := src.Next(ctx)
		if err != nil {
			if isEOF(err) {
				break
			}
			return nil, d.fail(fmt.Errorf("%w: read stream: %w", ErrStreamAborted, err))
		}

		if err := d.Feed(chunk.Data); err != nil {
			return nil, err
		}

		if chunk.Control != nil && !d.finished {
			// The control applies after all of the chunk's bytes, including
			// an unterminated last line.
			if err := d.flush(); err != nil {
				return nil, err
			}
			if d.finished {
				break
			}
			if err := d.applyControl(*chunk.Control); err != nil {
				return nil, err
			}
		}
	}

	return d.Close()
}

// Feed appends raw bytes and decodes every complete line.
func (d *Decoder) Feed(data []byte) error {
	if d.err != nil {
		return d.err
	}

	if d.finished {
		if len(data) > 0 {
			d.logger.Debug("ignoring bytes after finish event", zap.Int("bytes", len(data)))
		}
		return nil
	}

	d.buf = append(d.buf, data...)
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return nil
		}

		line := trimCR(d.buf[:idx])
		d.buf = d.buf[idx+1:]

		if err := d.handleLine(line); err != nil {
			return d.fail(err)
		}

		if d.finished {
			if len(d.buf) > 0 {
				d.logger.Debug("ignoring bytes after finish event", zap.Int("bytes", len(d.buf)))
			}
			d.buf = nil
			return nil
		}
	}
}

// Close terminates the stream and parses the accumulated text. A pending
// unterminated line is processed first.
func (d *Decoder) Close() (*profile.Profile, error) {
	if err := d.flush(); err != nil {
		return nil, err
	}

	reason, _ := d.FinishReason()
	d.logger.Debug("stream finished",
		zap.String("framing", string(d.framing)),
		zap.String("finish_reason", string(reason)),
		zap.Int("deltas", d.seq),
	)

	raw := extractJSON(d.Partial())
	if raw == "" {
		return nil, d.fail(fmt.Errorf("%w: empty response", ErrMalformedResponse))
	}

	p, err := profile.Parse([]byte(raw))
	if err != nil {
		return nil, d.fail(fmt.Errorf("%w: %w", ErrMalformedResponse, err))
	}

	return p, nil
}

// flush decodes a pending unterminated line.
func (d *Decoder) flush() error {
	if d.err != nil {
		return d.err
	}
	if d.finished || len(d.buf) == 0 {
		return nil
	}

	line := trimCR(d.buf)
	d.buf = nil
	if err := d.handleLine(line); err != nil {
		return d.fail(err)
	}
	return nil
}

func (d *Decoder) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return d.err
}

func (d *Decoder) handleLine(line []byte) error {
	if d.framing == FramingTagged {
		return d.handleTagged(line)
	}
	return d.handleSSE(line)
}

// handleSSE treats every data line as one delta. Deltas are concatenated
// without a separator, so a blank line between them is optional.
func (d *Decoder) handleSSE(line []byte) error {
	if len(line) == 0 {
		d.eventType = ""
		return nil
	}

	// comment
	if line[0] == ':' {
		return nil
	}

	field, value := string(line), ""
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field = string(line[:i])
		value = strings.TrimPrefix(string(line[i+1:]), " ")
	}

	switch field {
	case "data":
		switch {
		case d.eventType == "error":
			return fmt.Errorf("%w: provider error: %s", ErrStreamAborted, value)
		case value == doneMarker:
			return d.setFinish(FinishStop)
		}
		d.emit(value)
	case "event":
		d.eventType = value
	default:
		d.logger.Debug("ignoring sse field", zap.String("field", field))
	}

	return nil
}

func (d *Decoder) handleTagged(line []byte) error {
	if len(line) == 0 {
		return nil
	}

	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		d.logger.Debug("ignoring untagged line", zap.Int("bytes", len(line)))
		return nil
	}

	tag, payload := string(line[:i]), line[i+1:]
	switch tag {
	case "0":
		var text string
		if err := json.Unmarshal(payload, &text); err != nil {
			return fmt.Errorf("%w: text part is not a JSON string: %w", ErrMalformedResponse, err)
		}
		d.emit(text)
	case "e", "d":
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fmt.Errorf("%w: control part is not a JSON object: %w", ErrMalformedResponse, err)
		}
		var ctl Control
		if err := mapstructure.Decode(raw, &ctl); err != nil {
			return fmt.Errorf("%w: decode control part: %w", ErrMalformedResponse, err)
		}
		return d.applyControl(ctl)
	case "3":
		var message string
		if err := json.Unmarshal(payload, &message); err != nil {
			message = string(payload)
		}
		return fmt.Errorf("%w: provider error: %s", ErrStreamAborted, message)
	default:
		d.logger.Debug("ignoring stream part", zap.String("tag", tag))
	}

	return nil
}

func (d *Decoder) applyControl(ctl Control) error {
	if ctl.FinishReason == "" {
		return nil
	}
	if err := d.setFinish(ctl.FinishReason); err != nil {
		return d.fail(err)
	}
	return nil
}

func (d *Decoder) setFinish(reason FinishReason) error {
	d.finished = true

	d.mu.Lock()
	d.reason = reason
	d.mu.Unlock()

	if reason == FinishError {
		return fmt.Errorf("%w: provider finished with reason %q", ErrStreamAborted, reason)
	}
	return nil
}

func (d *Decoder) emit(text string) {
	if text == "" {
		return
	}

	d.mu.Lock()
	d.acc.WriteString(text)
	d.seq++
	event := DeltaEvent{Seq: d.seq, Text: text}
	d.mu.Unlock()

	if d.onDelta != nil {
		d.onDelta(event)
	}
}

func trimCR(line []byte) []byte {
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// extractJSON drops a Markdown code fence the model may wrap the object in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
