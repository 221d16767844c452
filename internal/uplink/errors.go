package uplink

import "errors"

var (
	// ErrNotConnected is returned by Send while the uplink is down.
	ErrNotConnected = errors.New("uplink: not connected")

	// ErrInvalidURL is returned by New for a URL that is not ws:// or wss://.
	ErrInvalidURL = errors.New("uplink: url must be ws:// or wss://")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("uplink: client closed")
)
