package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Framing selects the line protocol a stream is encoded with.
type Framing string

const (
	// FramingSSE carries deltas in `data:` lines of Server-Sent Events.
	FramingSSE Framing = "sse"
	// FramingTagged carries `0:` quoted text deltas and `e:` control objects.
	FramingTagged Framing = "tagged"
)

const doneMarker = "[DONE]"

var sseLineBreaks = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

// ParseFraming converts a configuration value into a Framing.
func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(s))) {
	case FramingSSE:
		return FramingSSE, nil
	case FramingTagged:
		return FramingTagged, nil
	default:
		return "", fmt.Errorf("unknown stream framing %q (expected %q or %q)", s, FramingSSE, FramingTagged)
	}
}

// EncodeDelta renders a text delta in the given framing. An SSE delta is a
// single data line, so raw line breaks are dropped; JSON never needs them
// outside of escaped strings.
func EncodeDelta(f Framing, text string) []byte {
	if f == FramingTagged {
		quoted, _ := json.Marshal(text)
		return append(append([]byte("0:"), quoted...), '\n')
	}

	text = sseLineBreaks.Replace(text)
	if text == "" {
		return nil
	}
	return []byte("data: " + text + "\n\n")
}

// EncodeFinish renders the terminal event in the given framing.
func EncodeFinish(f Framing, reason FinishReason) []byte {
	if f == FramingTagged {
		payload, _ := json.Marshal(map[string]string{"finishReason": string(reason)})
		return append(append([]byte("e:"), payload...), '\n')
	}
	return []byte("data: " + doneMarker + "\n\n")
}

// EncodeError renders a provider failure: a `3:` part in the tagged framing,
// an `error` event in SSE.
func EncodeError(f Framing, message string) []byte {
	if f == FramingTagged {
		quoted, _ := json.Marshal(message)
		return append(append([]byte("3:"), quoted...), '\n')
	}
	return []byte("event: error\ndata: " + strings.ReplaceAll(message, "\n", " ") + "\n\n")
}
