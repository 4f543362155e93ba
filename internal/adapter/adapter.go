// Package adapter wraps the execution unit behind a terminal: either a raw
// PTY-backed process, or an attach handle into a persistent tmux session.
// Adapters own no knowledge of clients; fan-out happens in the router.
package adapter

import (
	"os"
)

const (
	// DefaultCols and DefaultRows are used when a spawn request does not
	// declare a viewport size.
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24

	// readBufferSize is the chunk size for reading PTY output.
	readBufferSize = 4096

	// outputChanDepth buffers output chunks between the PTY read loop and
	// the router pump so a slow fan-out does not stall the read.
	outputChanDepth = 64
)

// Adapter is the interface both terminal kinds implement.
//
// Output returns a stream of raw byte chunks, closed exactly once when the
// underlying process or attach view ends. It is consumed by a single router
// pump per terminal.
type Adapter interface {
	// Write sends input bytes to the process.
	Write(p []byte) error

	// Resize changes the viewport geometry, best-effort.
	Resize(cols, rows uint16) error

	// Output returns the output stream. Every call returns the same channel.
	Output() <-chan []byte

	// Kill destroys the underlying execution unit. For persistent
	// terminals this destroys the multiplexer session itself.
	Kill() error

	// Detach stops driving the execution unit without destroying it.
	// Only persistent adapters support this; ephemeral adapters return
	// model.ErrNotPersistent.
	Detach() error
}

// readPump copies PTY output into out until read error, then closes out.
// Chunks are copied out of the read buffer because the channel consumer
// outlives each iteration.
func readPump(f *os.File, out chan<- []byte) {
	defer close(out)

	buf := make([]byte, readBufferSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			// EOF or EIO on a closed PTY master both mean the
			// stream is over.
			return
		}
	}
}
