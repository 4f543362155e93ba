package adapter

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"github.com/kballard/go-shellquote"

	"github.com/shared-terminal/backend/internal/model"
)

// Ephemeral runs a command directly inside a PTY. The terminal it backs
// lives exactly as long as the process does.
type Ephemeral struct {
	cmd  *exec.Cmd
	ptmx *os.File
	out  chan []byte

	mu     sync.Mutex
	closed bool
}

// EphemeralOptions configures a direct PTY spawn.
type EphemeralOptions struct {
	// Command is the shell command line to run. Empty means $SHELL,
	// falling back to /bin/bash.
	Command string
	Workdir string
	Env     []string
	Cols    uint16
	Rows    uint16
}

// StartEphemeral launches the command inside a new PTY.
func StartEphemeral(opts EphemeralOptions) (*Ephemeral, error) {
	command := opts.Command
	if command == "" {
		command = os.Getenv("SHELL")
		if command == "" {
			command = "/bin/bash"
		}
	}

	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("%w: bad command %q: %v", model.ErrLaunchFailure, command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", model.ErrLaunchFailure)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Workdir
	cmd.Env = opts.Env
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrLaunchFailure, err)
	}

	e := &Ephemeral{
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan []byte, outputChanDepth),
	}

	go readPump(ptmx, e.out)
	go e.reap()

	return e, nil
}

// reap waits for the child so it does not linger as a zombie after exit.
func (e *Ephemeral) reap() {
	_ = e.cmd.Wait()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Write sends input to the process. Line endings are normalized host-side:
// a terminal driver expects carriage returns, not the \n (or \r\n) that
// browser clients tend to send.
func (e *Ephemeral) Write(p []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return model.ErrProcessClosed
	}

	_, err := e.ptmx.Write(normalizeEOL(p))
	if err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Resize changes the PTY window size.
func (e *Ephemeral) Resize(cols, rows uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return model.ErrProcessClosed
	}
	return creackpty.Setsize(e.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows})
}

// Output returns the process output stream.
func (e *Ephemeral) Output() <-chan []byte {
	return e.out
}

// Kill terminates the process and closes the PTY. Safe to call repeatedly.
func (e *Ephemeral) Kill() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	if e.cmd.Process != nil {
		_ = e.cmd.Process.Signal(syscall.SIGTERM)
	}
	return e.ptmx.Close()
}

// Detach is not meaningful for a directly-owned process.
func (e *Ephemeral) Detach() error {
	return model.ErrNotPersistent
}

// PID returns the child process id.
func (e *Ephemeral) PID() int {
	if e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// normalizeEOL rewrites \r\n and bare \n to \r. Persistent terminals must
// not go through this: the multiplexer renders one canonical stream and
// per-viewer rewriting would make owners diverge.
func normalizeEOL(p []byte) []byte {
	if !bytes.ContainsRune(p, '\n') {
		return p
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\r' && i+1 < len(p) && p[i+1] == '\n' {
			out = append(out, '\r')
			i++
			continue
		}
		if p[i] == '\n' {
			out = append(out, '\r')
			continue
		}
		out = append(out, p[i])
	}
	return out
}
