package model

import (
	"time"
)

// TerminalKind distinguishes how a terminal's underlying process is managed.
type TerminalKind string

const (
	// KindEphemeral is a terminal backed directly by a PTY process.
	// It dies when that process dies or is killed.
	KindEphemeral TerminalKind = "ephemeral"

	// KindPersistent is a terminal backed by a named multiplexer session.
	// It outlives client disconnects until explicitly destroyed.
	KindPersistent TerminalKind = "persistent"
)

// TerminalStatus represents the lifecycle state of a terminal.
type TerminalStatus string

const (
	StatusSpawning TerminalStatus = "spawning"
	StatusActive   TerminalStatus = "active"
	StatusDetached TerminalStatus = "detached"
	StatusClosed   TerminalStatus = "closed"
	StatusError    TerminalStatus = "error"
)

// Terminal represents a terminal session in the registry.
type Terminal struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind TerminalKind `json:"kind"`

	// Type is the declared terminal type (e.g. "bash", "claude-code").
	// Default display names are derived from it.
	Type string `json:"type"`

	// MuxSession is the external multiplexer session name used to
	// re-attach. Set only for persistent terminals.
	MuxSession string `json:"muxSession,omitempty"`

	Workdir string `json:"workdir,omitempty"`
	Command string `json:"command,omitempty"`

	Status         TerminalStatus `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
}

// Closed reports whether the terminal has reached a terminal state.
func (t *Terminal) Closed() bool {
	return t.Status == StatusClosed
}

// SpawnConfig carries the creation-time parameters for a new terminal.
type SpawnConfig struct {
	Name    string       `json:"name,omitempty"`
	Kind    TerminalKind `json:"kind"`
	Type    string       `json:"type,omitempty"`
	Workdir string       `json:"workdir,omitempty"`
	Command string       `json:"command,omitempty"`
	Cols    uint16       `json:"cols,omitempty"`
	Rows    uint16       `json:"rows,omitempty"`
}

// Validate checks the config for values the registry cannot work with.
func (c *SpawnConfig) Validate() error {
	switch c.Kind {
	case KindEphemeral, KindPersistent:
	case "":
		return ErrKindRequired
	default:
		return ErrKindRequired
	}
	return nil
}
