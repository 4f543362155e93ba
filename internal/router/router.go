// Package router tracks, per terminal, the set of attached client
// connections and is the single place terminal output fans out from. Output
// goes to current owners only, never to every connection.
package router

import (
	"sync"
	"time"

	"github.com/shared-terminal/backend/internal/adapter"
	"github.com/shared-terminal/backend/internal/buffer"
	"github.com/shared-terminal/backend/internal/model"
	"github.com/shared-terminal/backend/internal/registry"
)

const (
	// resumeBufferSize bounds how much recent output is retained per
	// terminal for replay to reconnecting clients (256 KiB; enough for a
	// full redraw of a large scrollback).
	resumeBufferSize = 256 * 1024

	// resizeDebounce coalesces resize bursts from owners with different
	// viewports so the shared process is not redraw-stormed. Last write
	// wins.
	resizeDebounce = 40 * time.Millisecond
)

// Conn is a client connection as the router sees it. Sends must not block;
// the transport buffers and drops slow consumers.
type Conn interface {
	SendOutput(terminalID string, data []byte, offset uint64)
	SendClosed(terminalID string)
}

// termState holds the per-terminal owner set, resume buffer, and resize
// debounce. Everything here serializes on its own mutex, so unrelated
// terminals never block each other.
type termState struct {
	mu     sync.Mutex
	owners map[Conn]struct{}
	buf    *buffer.ResumeBuffer

	resizeTimer *time.Timer
	pendCols    uint16
	pendRows    uint16

	// pumping is the adapter whose pump goroutine is currently running,
	// nil when none is.
	pumping adapter.Adapter
}

// Router is the ownership router.
type Router struct {
	reg *registry.Registry

	mu     sync.RWMutex
	states map[string]*termState
}

// New creates a router over the given registry.
func New(reg *registry.Registry) *Router {
	return &Router{
		reg:    reg,
		states: make(map[string]*termState),
	}
}

func (r *Router) state(id string) *termState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[id]
	if !ok {
		st = &termState{
			owners: make(map[Conn]struct{}),
			buf:    buffer.NewResumeBuffer(resumeBufferSize),
		}
		r.states[id] = st
	}
	return st
}

func (r *Router) lookup(id string) (*termState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[id]
	return st, ok
}

func (r *Router) drop(id string) {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
}

// StartPump begins consuming a terminal's output stream. Exactly one pump
// runs per live adapter; it is the only reader of the adapter's output
// channel, which keeps fan-out in emission order. Starting a pump for an
// adapter that already has one is a no-op, so deduplicated spawns reaching
// this through more than one surface cannot double-pump.
func (r *Router) StartPump(terminalID string, ad adapter.Adapter) {
	st := r.state(terminalID)

	st.mu.Lock()
	if st.pumping == ad {
		st.mu.Unlock()
		return
	}
	st.pumping = ad
	st.mu.Unlock()

	go r.pump(terminalID, st, ad)
}

func (r *Router) pump(terminalID string, st *termState, ad adapter.Adapter) {
	for chunk := range ad.Output() {
		st.mu.Lock()
		st.buf.Write(chunk)
		offset := st.buf.Offset()
		for conn := range st.owners {
			conn.SendOutput(terminalID, chunk, offset)
		}
		st.mu.Unlock()
	}

	st.mu.Lock()
	if st.pumping == ad {
		st.pumping = nil
	}
	st.mu.Unlock()

	// Stream over: deliberate detach keeps the terminal (and its resume
	// buffer); unexpected death closes it and tells every owner.
	if r.reg.HandleStreamEnd(terminalID) {
		r.notifyClosed(terminalID)
	}
}

func (r *Router) notifyClosed(terminalID string) {
	st, ok := r.lookup(terminalID)
	if !ok {
		return
	}

	st.mu.Lock()
	owners := make([]Conn, 0, len(st.owners))
	for conn := range st.owners {
		owners = append(owners, conn)
	}
	st.owners = make(map[Conn]struct{})
	st.mu.Unlock()

	for _, conn := range owners {
		conn.SendClosed(terminalID)
	}
	r.drop(terminalID)
}

// Attach adds a connection to a terminal's owner set. Attaching a
// connection that already owns the terminal is a no-op, so a client retrying
// after losing its own dedup state cannot double-register and be delivered
// output twice. Retained output after sinceOffset is replayed; a zero
// offset replays the whole resume window.
//
// The first owner of a detached persistent terminal reactivates it,
// re-creating the multiplexer attach view if a restart or shutdown tore it
// down.
func (r *Router) Attach(terminalID string, conn Conn, sinceOffset uint64) error {
	t, err := r.reg.Get(terminalID)
	if err != nil {
		return err
	}

	if t.Kind == model.KindPersistent && t.Status == model.StatusDetached {
		fresh, err := r.reg.Reattach(terminalID)
		if err != nil {
			return err
		}
		if fresh != nil {
			r.StartPump(terminalID, fresh)
		}
	}

	st := r.state(terminalID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, already := st.owners[conn]; already {
		return nil
	}
	st.owners[conn] = struct{}{}

	if replay := st.buf.Since(sinceOffset); len(replay) > 0 {
		conn.SendOutput(terminalID, replay, st.buf.Offset())
	}
	return nil
}

// Release removes a connection from the owner set without touching the
// underlying process. When the owner set empties, a persistent terminal
// detaches and an ephemeral one closes: nothing keeps an ephemeral process
// alive with no viewers.
func (r *Router) Release(terminalID string, conn Conn) error {
	st, ok := r.lookup(terminalID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	_, owned := st.owners[conn]
	delete(st.owners, conn)
	empty := len(st.owners) == 0
	st.mu.Unlock()

	if !owned || !empty {
		return nil
	}

	t, err := r.reg.Get(terminalID)
	if err != nil {
		return nil
	}

	if t.Kind == model.KindPersistent {
		return r.reg.MarkDetached(terminalID)
	}
	return r.ForceClose(terminalID)
}

// ReleaseAll releases the connection from every terminal it owns. Called
// when a client connection drops.
func (r *Router) ReleaseAll(conn Conn) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		_ = r.Release(id, conn)
	}
}

// Input routes input bytes from an owning connection to the terminal's
// process. Non-owners are rejected, not silently dropped.
func (r *Router) Input(terminalID string, conn Conn, data []byte) error {
	if err := r.authorize(terminalID, conn); err != nil {
		return err
	}

	ad, err := r.reg.Adapter(terminalID)
	if err != nil {
		return err
	}
	if err := ad.Write(data); err != nil {
		return err
	}
	r.reg.Touch(terminalID)
	return nil
}

// Resize applies an owner's viewport change, coalescing bursts inside the
// debounce window with last-write-wins.
func (r *Router) Resize(terminalID string, conn Conn, cols, rows uint16) error {
	if err := r.authorize(terminalID, conn); err != nil {
		return err
	}
	if cols == 0 || rows == 0 {
		return nil
	}

	st, ok := r.lookup(terminalID)
	if !ok {
		return model.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.pendCols, st.pendRows = cols, rows
	if st.resizeTimer == nil {
		st.resizeTimer = time.AfterFunc(resizeDebounce, func() {
			r.flushResize(terminalID, st)
		})
	}
	return nil
}

func (r *Router) flushResize(terminalID string, st *termState) {
	st.mu.Lock()
	cols, rows := st.pendCols, st.pendRows
	st.resizeTimer = nil
	st.mu.Unlock()

	ad, err := r.reg.Adapter(terminalID)
	if err != nil {
		return
	}
	_ = ad.Resize(cols, rows)
}

// ForceClose destroys the terminal and notifies every current owner. It is
// the destructive counterpart of Release and, like registry close, succeeds
// on unknown or already-closed ids.
func (r *Router) ForceClose(terminalID string) error {
	if err := r.reg.Close(terminalID); err != nil {
		return err
	}
	r.notifyClosed(terminalID)
	return nil
}

// OwnerCount returns the number of connections attached to a terminal.
func (r *Router) OwnerCount(terminalID string) int {
	st, ok := r.lookup(terminalID)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.owners)
}

func (r *Router) authorize(terminalID string, conn Conn) error {
	st, ok := r.lookup(terminalID)
	if !ok {
		if _, err := r.reg.Get(terminalID); err != nil {
			return err
		}
		return model.ErrUnauthorized
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, owned := st.owners[conn]; !owned {
		return model.ErrUnauthorized
	}
	return nil
}
