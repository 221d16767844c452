package bridge

import "errors"

var (
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("bridge: missing dependency")

	// ErrUnknownCommand is returned for a command name the bridge does not handle.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrQueueFull is reported when an outbound message is dropped.
	ErrQueueFull = errors.New("bridge: publish queue full")
)
