package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/resume-matcher/internal/profile"
)

const sampleProfile = `{"description":"Senior engineer from Zürich, 日本語 speaker","soft_skills":"mentoring, écoute","technical_skills":"Go, PostgreSQL","experience_level":"expert","education":[{"degree":"MSc","institution":"ETH","dates":"2012-2014"}],"work_experience":[{"company":"Acme","position":"SRE","dates":"2015-2020","achievements":["on-call rota ✓"]}],"certifications":[{"name":"CKA","issuer":"CNCF","date":"2021"}]}`

// tokens splits s into fixed size rune groups, the way a model emits deltas.
func tokens(s string, size int) []string {
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

func encodeStream(f Framing, deltas []string, finish bool) []byte {
	var b []byte
	for _, d := range deltas {
		b = append(b, EncodeDelta(f, d)...)
	}
	if finish {
		b = append(b, EncodeFinish(f, FinishStop)...)
	}
	return b
}

func decodeChunks(t *testing.T, f Framing, chunks ...[]byte) (*profile.Profile, error) {
	t.Helper()
	d, err := NewDecoder(f)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d.Decode(context.Background(), NewSliceSource(chunks...))
}

func mustParse(t *testing.T, raw string) *profile.Profile {
	t.Helper()
	p, err := profile.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse reference profile: %v", err)
	}
	return p
}

func TestDecodeIsIndependentOfChunking(t *testing.T) {
	want := mustParse(t, sampleProfile)

	for _, f := range []Framing{FramingSSE, FramingTagged} {
		for _, finish := range []bool{true, false} {
			logical := encodeStream(f, tokens(sampleProfile, 5), finish)

			t.Run(string(f), func(t *testing.T) {
				got, err := decodeChunks(t, f, logical)
				if err != nil {
					t.Fatalf("single chunk: %v", err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("single chunk: unexpected profile %+v", got)
				}

				for i := 1; i < len(logical); i++ {
					got, err := decodeChunks(t, f, logical[:i], logical[i:])
					if err != nil {
						t.Fatalf("split at %d: %v", i, err)
					}
					if !reflect.DeepEqual(got, want) {
						t.Fatalf("split at %d: unexpected profile %+v", i, got)
					}
				}

				for i := 1; i < len(logical); i += 13 {
					for j := i + 1; j < len(logical); j += 17 {
						got, err := decodeChunks(t, f, logical[:i], logical[i:j], logical[j:])
						if err != nil {
							t.Fatalf("split at %d/%d: %v", i, j, err)
						}
						if !reflect.DeepEqual(got, want) {
							t.Fatalf("split at %d/%d: unexpected profile", i, j)
						}
					}
				}

				bytewise := make([][]byte, 0, len(logical))
				for i := range logical {
					bytewise = append(bytewise, logical[i:i+1])
				}
				got, err = decodeChunks(t, f, bytewise...)
				if err != nil {
					t.Fatalf("byte at a time: %v", err)
				}
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("byte at a time: unexpected profile %+v", got)
				}
			})
		}
	}
}

func TestDecodeSplitDescriptionScenario(t *testing.T) {
	rest := `,"soft_skills":"","technical_skills":"Go","experience_level":"expert","education":[],"work_experience":[],"certifications":[]}`
	deltas := []string{`{"desc`, `ription":"Senior eng`, `ineer"` + rest}

	streams := map[string]struct {
		framing Framing
		logical []byte
	}{
		"tagged": {FramingTagged, encodeStream(FramingTagged, deltas, true)},
		"sse":    {FramingSSE, encodeStream(FramingSSE, deltas, true)},
		"sse without blank lines": {FramingSSE, []byte(
			"data: " + deltas[0] + "\ndata: " + deltas[1] + "\ndata: " + deltas[2] + "\n",
		)},
	}

	for name, tt := range streams {
		t.Run(name, func(t *testing.T) {
			for i := 1; i < len(tt.logical); i++ {
				got, err := decodeChunks(t, tt.framing, tt.logical[:i], tt.logical[i:])
				if err != nil {
					t.Fatalf("split at %d: %v", i, err)
				}
				if got.Description != "Senior engineer" {
					t.Fatalf("split at %d: unexpected description %q", i, got.Description)
				}
			}
		})
	}
}

func TestEncodeDeltaSSEIsOneLine(t *testing.T) {
	if got := string(EncodeDelta(FramingSSE, "{\n  \"description\": \"x\"\r\n")); got != "data: {  \"description\": \"x\"\n\n" {
		t.Fatalf("unexpected encoding %q", got)
	}
	if got := EncodeDelta(FramingSSE, "\n"); got != nil {
		t.Fatalf("expected a bare line break to encode to nothing, got %q", got)
	}

	pretty := "{\n  \"description\": \"x\",\n  \"soft_skills\": \"\",\n  \"technical_skills\": \"\",\n  \"experience_level\": \"beginner\",\n  \"education\": [],\n  \"work_experience\": [],\n  \"certifications\": []\n}"
	got, err := decodeChunks(t, FramingSSE, encodeStream(FramingSSE, tokens(pretty, 7), true))
	if err != nil {
		t.Fatalf("decode pretty printed json: %v", err)
	}
	if got.Description != "x" {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestDecodeEmitsDeltasInArrivalOrder(t *testing.T) {
	var events []DeltaEvent
	d, err := NewDecoder(FramingTagged, WithDeltaHandler(func(e DeltaEvent) {
		events = append(events, e)
	}))
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	stream := []byte(`0:"{\"description\":"` + "\n" +
		`0:""` + "\n" +
		`0:"\"a\""` + "\n" +
		`0:"\"a\""` + "\n")

	if err := d.Feed(stream); err != nil {
		t.Fatalf("feed: %v", err)
	}

	want := []DeltaEvent{
		{Seq: 1, Text: `{"description":`},
		{Seq: 2, Text: `"a"`},
		{Seq: 3, Text: `"a"`},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("unexpected events: %+v", events)
	}

	if got := d.Partial(); got != `{"description":"a""a"` {
		t.Fatalf("unexpected partial text %q", got)
	}
}

func TestDecodePartialGrowsMonotonically(t *testing.T) {
	d, err := NewDecoder(FramingSSE)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	previous := ""
	for _, part := range tokens(sampleProfile, 9) {
		if err := d.Feed(EncodeDelta(FramingSSE, part)); err != nil {
			t.Fatalf("feed: %v", err)
		}
		current := d.Partial()
		if !strings.HasPrefix(current, previous) || len(current) <= len(previous) {
			t.Fatalf("partial text shrank or stalled: %q -> %q", previous, current)
		}
		previous = current
	}

	if previous != sampleProfile {
		t.Fatalf("unexpected accumulated text %q", previous)
	}
}

func TestDecodeSSE(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		wantErr error
	}{
		{
			name:   "no space after colon",
			stream: "data:" + sampleProfile + "\n\n",
		},
		{
			name:   "crlf line endings and comments",
			stream: ": keep-alive\r\ndata: " + sampleProfile + "\r\n\r\n",
		},
		{
			name:   "pending event flushed at exhaustion",
			stream: "data: " + sampleProfile,
		},
		{
			name:   "consecutive data lines concatenate",
			stream: "data: {\"description\":\"x\",\ndata: \"soft_skills\":\"\",\"technical_skills\":\"\",\"experience_level\":\"beginner\",\"education\":[],\"work_experience\":[],\"certifications\":[]}\n\n",
		},
		{
			name:   "fenced json",
			stream: "data: ```json\ndata: " + sampleProfile + "\ndata: ```\n\n",
		},
		{
			name:   "bytes after done are ignored",
			stream: "data: " + sampleProfile + "\n\ndata: [DONE]\n\ndata: trailing garbage\n\n",
		},
		{
			name:    "error event",
			stream:  "data: {\"desc\n\nevent: error\ndata: quota exceeded\n\n",
			wantErr: ErrStreamAborted,
		},
		{
			name:   "blank line ends the error event",
			stream: "event: error\n\ndata: " + sampleProfile + "\n",
		},
		{
			name:    "truncated object",
			stream:  "data: {\"description\":\"Senior\n\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "empty stream",
			stream:  "",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "tagged lines are not interpreted",
			stream:  "0:\"{}\"\n",
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeChunks(t, FramingSSE, []byte(tt.stream))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if got != nil {
					t.Fatalf("expected no profile on failure, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil || got.ExperienceLevel == "" {
				t.Fatalf("expected decoded profile, got %+v", got)
			}
		})
	}
}

func TestDecodeTagged(t *testing.T) {
	body := string(encodeStream(FramingTagged, tokens(sampleProfile, 11), false))

	tests := []struct {
		name    string
		stream  string
		wantErr error
	}{
		{
			name:   "finish event",
			stream: body + `e:{"finishReason":"stop","usage":{"promptTokens":10}}` + "\n",
		},
		{
			name:   "finish message part",
			stream: body + `d:{"finishReason":"stop"}` + "\n",
		},
		{
			name:   "unknown parts ignored",
			stream: `f:{"messageId":"m1"}` + "\n" + body + `8:[{"k":"v"}]` + "\n",
		},
		{
			name:   "control without reason does not finish",
			stream: `e:{"usage":{}}` + "\n" + body,
		},
		{
			name:   "bytes after finish are ignored",
			stream: body + `e:{"finishReason":"stop"}` + "\n" + `0:"garbage"` + "\n",
		},
		{
			name:    "error finish reason",
			stream:  body + `e:{"finishReason":"error"}` + "\n",
			wantErr: ErrStreamAborted,
		},
		{
			name:    "error part",
			stream:  `0:"{"` + "\n" + `3:"rate limited"` + "\n",
			wantErr: ErrStreamAborted,
		},
		{
			name:    "text part is not a string",
			stream:  `0:{"text":"x"}` + "\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "length finish with truncated text",
			stream:  `0:"{\"description\":\"Sen"` + "\n" + `e:{"finishReason":"length"}` + "\n",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "sse lines are not interpreted",
			stream:  "data: " + sampleProfile + "\n\n",
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeChunks(t, FramingTagged, []byte(tt.stream))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if got != nil {
					t.Fatalf("expected no profile on failure, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil || got.Description == "" {
				t.Fatalf("expected decoded profile, got %+v", got)
			}
		})
	}
}

func TestDecodeOutOfBandControl(t *testing.T) {
	src := NewChunkSource(
		Chunk{Data: encodeStream(FramingTagged, tokens(sampleProfile, 40), false)},
		Chunk{Control: &Control{FinishReason: FinishStop}},
		Chunk{Data: []byte(`0:"ignored"` + "\n")},
	)

	d, err := NewDecoder(FramingTagged)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	if _, err := d.Decode(context.Background(), src); err != nil {
		t.Fatalf("decode: %v", err)
	}

	reason, ok := d.FinishReason()
	if !ok || reason != FinishStop {
		t.Fatalf("unexpected finish reason %q", reason)
	}
	if strings.Contains(d.Partial(), "ignored") {
		t.Fatalf("bytes after finish leaked into the accumulator")
	}

	src = NewChunkSource(
		Chunk{Data: []byte(`0:"{"` + "\n")},
		Chunk{Control: &Control{FinishReason: FinishError}},
	)
	d, _ = NewDecoder(FramingTagged)
	if _, err := d.Decode(context.Background(), src); !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected stream aborted, got %v", err)
	}
}

func TestDecodeOutOfBandFinishKeepsUnterminatedLine(t *testing.T) {
	for _, f := range []Framing{FramingTagged, FramingSSE} {
		t.Run(string(f), func(t *testing.T) {
			data := bytes.TrimRight(EncodeDelta(f, sampleProfile), "\n")

			d, err := NewDecoder(f)
			if err != nil {
				t.Fatalf("new decoder: %v", err)
			}
			withControl, err := d.Decode(context.Background(), NewChunkSource(
				Chunk{Data: data, Control: &Control{FinishReason: FinishStop}},
			))
			if err != nil {
				t.Fatalf("decode with out-of-band finish: %v", err)
			}

			exhausted, err := decodeChunks(t, f, data)
			if err != nil {
				t.Fatalf("decode to exhaustion: %v", err)
			}

			if !reflect.DeepEqual(withControl, exhausted) {
				t.Fatalf("termination changed the result: %+v vs %+v", withControl, exhausted)
			}
			if reason, _ := d.FinishReason(); reason != FinishStop {
				t.Fatalf("unexpected finish reason %q", reason)
			}
		})
	}
}

func TestDecodeSourceFailureAborts(t *testing.T) {
	transport := errors.New("connection reset")
	src := NewSliceSource([]byte(`0:"{\"description\":"`+"\n")).FailWith(transport)

	d, err := NewDecoder(FramingTagged)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	p, err := d.Decode(context.Background(), src)
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected stream aborted, got %v", err)
	}
	if !errors.Is(err, transport) {
		t.Fatalf("expected transport error to be wrapped, got %v", err)
	}
	if p != nil {
		t.Fatalf("expected no profile, got %+v", p)
	}

	if _, err := d.Close(); !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected close to report the same failure, got %v", err)
	}
}

func TestDecodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := NewDecoder(FramingSSE)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	_, err = d.Decode(ctx, NewSliceSource([]byte("data: "+sampleProfile+"\n\n")))
	if !errors.Is(err, ErrStreamAborted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to abort the stream, got %v", err)
	}
}

type closingReader struct {
	io.Reader
	closed bool
}

func (c *closingReader) Close() error {
	c.closed = true
	return nil
}

func TestDecodeReaderSource(t *testing.T) {
	body := &closingReader{Reader: strings.NewReader("data: " + sampleProfile + "\n\ndata: [DONE]\n\n")}

	d, err := NewDecoder(FramingSSE)
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	p, err := d.Decode(context.Background(), NewReaderSource(body, 7))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Certifications[0].Issuer != "CNCF" {
		t.Fatalf("unexpected profile %+v", p)
	}
	if !body.closed {
		t.Fatalf("expected reader source to be closed")
	}
}

func TestDecoderLogsIgnoredBytes(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	d, err := NewDecoder(FramingTagged, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}

	stream := string(encodeStream(FramingTagged, []string{sampleProfile}, true)) + `0:"late"` + "\n"
	if err := d.Feed([]byte(stream)); err != nil {
		t.Fatalf("feed: %v", err)
	}

	if observed.FilterMessage("ignoring bytes after finish event").Len() != 1 {
		t.Fatalf("expected ignored bytes to be logged, got %+v", observed.All())
	}
}

func TestParseFraming(t *testing.T) {
	if f, err := ParseFraming(" SSE "); err != nil || f != FramingSSE {
		t.Fatalf("unexpected result %q, %v", f, err)
	}
	if f, err := ParseFraming("tagged"); err != nil || f != FramingTagged {
		t.Fatalf("unexpected result %q, %v", f, err)
	}
	if _, err := ParseFraming("auto"); err == nil {
		t.Fatalf("expected error for unknown framing")
	}
	if _, err := NewDecoder(Framing("auto")); err == nil {
		t.Fatalf("expected decoder to reject unknown framing")
	}
}
