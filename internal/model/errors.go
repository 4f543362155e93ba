package model

import "errors"

var (
	// ErrNotFound is returned when a terminal id is unknown to the registry.
	ErrNotFound = errors.New("terminal not found")

	// ErrUnauthorized is returned when a connection that does not own a
	// terminal tries to send it input or resize it.
	ErrUnauthorized = errors.New("connection does not own terminal")

	// ErrLaunchFailure is returned when the underlying process or
	// multiplexer session could not be started.
	ErrLaunchFailure = errors.New("failed to launch terminal process")

	// ErrProcessClosed is returned for I/O against a terminal whose
	// underlying process has already ended.
	ErrProcessClosed = errors.New("terminal process is closed")

	// ErrKindRequired is returned when a spawn request does not carry a
	// valid terminal kind.
	ErrKindRequired = errors.New("terminal kind must be ephemeral or persistent")

	// ErrNotPersistent is returned when a detach-only operation is applied
	// to an ephemeral terminal.
	ErrNotPersistent = errors.New("terminal is not persistent")
)
