package adapter

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"

	"github.com/shared-terminal/backend/internal/model"
)

// Persistent is an attach view into a named tmux session. Killing it
// destroys the session; detaching closes only the view and leaves the
// session running for a later re-attach.
type Persistent struct {
	mux     *Mux
	session string

	cmd  *exec.Cmd
	ptmx *os.File
	out  chan []byte

	mu       sync.Mutex
	closed   bool
	detached bool
}

// PersistentOptions configures an attach-or-create against the multiplexer.
type PersistentOptions struct {
	// Session is the multiplexer session name.
	Session string

	// Command runs inside the session if it has to be created. Ignored
	// when the session already exists.
	Command string
	Workdir string
	Cols    uint16
	Rows    uint16
}

// AttachPersistent attaches to the named tmux session, creating it first if
// it does not exist.
func AttachPersistent(mux *Mux, opts PersistentOptions) (*Persistent, error) {
	if !mux.Available() {
		return nil, fmt.Errorf("%w: multiplexer binary not found", model.ErrLaunchFailure)
	}

	if !mux.HasSession(opts.Session) {
		if err := mux.NewSession(opts.Session, opts.Workdir, opts.Command); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrLaunchFailure, err)
		}
	}

	bin, args := mux.AttachArgs(opts.Session)
	cmd := exec.Command(bin, args...)

	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("%w: attach: %v", model.ErrLaunchFailure, err)
	}

	p := &Persistent{
		mux:     mux,
		session: opts.Session,
		cmd:     cmd,
		ptmx:    ptmx,
		out:     make(chan []byte, outputChanDepth),
	}

	go readPump(ptmx, p.out)
	go p.reap()

	return p, nil
}

func (p *Persistent) reap() {
	_ = p.cmd.Wait()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Write sends input bytes verbatim. No EOL rewriting happens here: tmux
// already renders a single canonical stream that every viewer must see
// byte-identically.
func (p *Persistent) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return model.ErrProcessClosed
	}

	_, err := p.ptmx.Write(data)
	if err != nil {
		return fmt.Errorf("write to attach view: %w", err)
	}
	return nil
}

// Resize changes the attach view's geometry. tmux reconciles disagreeing
// viewers itself; the last resize wins.
func (p *Persistent) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return model.ErrProcessClosed
	}
	return creackpty.Setsize(p.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows})
}

// Output returns the attach view's output stream.
func (p *Persistent) Output() <-chan []byte {
	return p.out
}

// Kill destroys the multiplexer session itself, then tears down the view.
func (p *Persistent) Kill() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.mux.KillSession(p.session)

	// The attach client dies with its session, but do not rely on it.
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	_ = p.ptmx.Close()

	return err
}

// Detach closes only the attach view. The tmux session keeps running and a
// later AttachPersistent with the same name resumes it.
func (p *Persistent) Detach() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.detached = true
	p.mu.Unlock()

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
	return p.ptmx.Close()
}

// Detached reports whether the view ended via Detach rather than the
// session dying. The registry uses this to tell a deliberate detach apart
// from unexpected session death when the output stream closes.
func (p *Persistent) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detached
}

// Session returns the multiplexer session name backing this view.
func (p *Persistent) Session() string {
	return p.session
}
