package eventlog

import "errors"

var (
	// ErrUnknownType is returned by List when the type filter names no known event type.
	ErrUnknownType = errors.New("eventlog: unknown event type")

	// ErrMissingID is returned by Create for an entry without an ID.
	ErrMissingID = errors.New("eventlog: entry id is required")
)
