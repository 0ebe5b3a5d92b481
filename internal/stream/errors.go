package stream

import "errors"

var (
	// ErrStreamAborted is returned when the stream fails before a usable
	// finish, including cancellation and provider-reported errors.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrMalformedResponse is returned when the accumulated text is not a
	// valid profile object.
	ErrMalformedResponse = errors.New("malformed response")
)
