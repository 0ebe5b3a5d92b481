package stream

import (
	"context"
	"errors"
	"io"
)

// FinishReason is the completion status reported by the model provider.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// Control is an out-of-band control payload carried by the stream.
type Control struct {
	FinishReason FinishReason   `mapstructure:"finishReason"`
	Usage        map[string]any `mapstructure:"usage"`
}

// Chunk is one read from a stream source: raw bytes and an optional
// transport-level control payload applied after the bytes.
type Chunk struct {
	Data    []byte
	Control *Control
}

// Source delivers chunks of a single ordered stream. Next returns io.EOF once
// the stream is exhausted.
type Source interface {
	Next(ctx context.Context) (Chunk, error)
}

// ReaderSource reads chunks from an io.Reader such as an HTTP response body.
type ReaderSource struct {
	r    io.Reader
	size int
}

// NewReaderSource wraps r, reading at most size bytes per chunk.
func NewReaderSource(r io.Reader, size int) *ReaderSource {
	if size <= 0 {
		size = 4096
	}
	return &ReaderSource{r: r, size: size}
}

func (s *ReaderSource) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	buf := make([]byte, s.size)
	n, err := s.r.Read(buf)
	if n > 0 {
		// Surface the bytes first, the error comes back on the next call.
		return Chunk{Data: buf[:n]}, nil
	}
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{}, nil
}

// Close closes the underlying reader when it supports it.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// SliceSource replays a fixed list of chunks.
type SliceSource struct {
	chunks []Chunk
	pos    int
	err    error
}

// NewSliceSource returns a source yielding the given byte slices in order.
func NewSliceSource(parts ...[]byte) *SliceSource {
	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, Chunk{Data: p})
	}
	return &SliceSource{chunks: chunks}
}

// NewChunkSource returns a source yielding the given chunks in order.
func NewChunkSource(chunks ...Chunk) *SliceSource {
	return &SliceSource{chunks: chunks}
}

// FailWith makes the source return err instead of io.EOF after the last chunk.
func (s *SliceSource) FailWith(err error) *SliceSource {
	s.err = err
	return s
}

func (s *SliceSource) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return Chunk{}, s.err
		}
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
