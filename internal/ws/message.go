// Package ws is the transport gateway: the WebSocket endpoint and message
// (de)serializer. It translates wire messages into registry/router calls
// and performs no business logic of its own.
package ws

import (
	"github.com/shared-terminal/backend/internal/model"
)

// MessageType tags a wire message. The set is finite and dispatch over it
// is exhaustive.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeSpawn   MessageType = "spawn"
	MessageTypeAttach  MessageType = "attach"
	MessageTypeRelease MessageType = "release" // graceful: keep the terminal alive
	MessageTypeClose   MessageType = "close"   // destructive
	MessageTypeInput   MessageType = "input"
	MessageTypeResize  MessageType = "resize"
	MessageTypeList    MessageType = "list"

	// Server -> Client message types
	MessageTypeSpawned MessageType = "spawned"
	MessageTypeClosed  MessageType = "closed"
	MessageTypeOutput  MessageType = "output"
	MessageTypeError   MessageType = "error"
)

// Message is the wire envelope. Fields are populated per type; unused
// fields stay empty and are omitted on the wire.
type Message struct {
	Type MessageType `json:"type"`

	// RequestID correlates a spawn with its spawned (or error) reply.
	RequestID string `json:"requestId,omitempty"`

	TerminalID string             `json:"terminalId,omitempty"`
	Config     *model.SpawnConfig `json:"config,omitempty"`

	// Data carries input bytes (client->server) or output bytes
	// (server->client).
	Data string `json:"data,omitempty"`

	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	// SinceOffset is the client's resume watermark on attach: replay only
	// output after this cumulative byte offset.
	SinceOffset uint64 `json:"sinceOffset,omitempty"`

	// Offset is the cumulative byte offset after the Data in an output
	// message; clients echo it back as SinceOffset when reconnecting.
	Offset uint64 `json:"offset,omitempty"`

	Terminal  *model.Terminal   `json:"terminal,omitempty"`
	Terminals []*model.Terminal `json:"terminals,omitempty"`

	Reason string `json:"reason,omitempty"`
}
