package core

import "errors"

var (
	// ErrMalformedEvent is returned when a client event is missing required fields
	// or cannot be decoded. The relay drops such events.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for event types the relay does not handle.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrHubClosed is returned when the hub no longer accepts work.
	ErrHubClosed = errors.New("hub closed")
)
