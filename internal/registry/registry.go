// Package registry owns the authoritative table of terminal entities:
// naming, status transitions, and creation-time metadata. Process control is
// delegated to one adapter per terminal.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shared-terminal/backend/internal/adapter"
	"github.com/shared-terminal/backend/internal/model"
)

const (
	// spawnTimeout bounds how long a spawn may take to confirm readiness
	// before the terminal transitions to error.
	spawnTimeout = 10 * time.Second

	// defaultBaseName is used when a spawn declares neither a name nor a
	// type to derive one from.
	defaultBaseName = "terminal"
)

// Launcher creates adapters. The indirection exists so tests can spawn fake
// processes.
type Launcher interface {
	LaunchEphemeral(opts adapter.EphemeralOptions) (adapter.Adapter, error)
	LaunchPersistent(opts adapter.PersistentOptions) (adapter.Adapter, error)
}

// Store persists terminal metadata so persistent-kind terminals can be
// reconciled after a backend restart. Implementations may be nil-safe
// no-ops; the registry tolerates a nil Store.
type Store interface {
	Save(ctx context.Context, t *model.Terminal) error
	UpdateStatus(ctx context.Context, id string, status model.TerminalStatus) error
	Delete(ctx context.Context, id string) error
	ListPersistent(ctx context.Context) ([]*model.Terminal, error)
}

// entry pairs a terminal with its adapter and a per-terminal lock. All
// operations against one terminal serialize on entry.mu; unrelated
// terminals never contend.
type entry struct {
	mu       sync.Mutex
	terminal *model.Terminal
	adapter  adapter.Adapter
	seq      int
}

// spawnResult tracks an in-flight or completed spawn keyed by request id,
// giving at-most-once semantics for retried spawn messages.
type spawnResult struct {
	done     chan struct{}
	terminal *model.Terminal
	err      error
}

// Registry is the terminal session registry.
type Registry struct {
	launcher Launcher
	mux      *adapter.Mux
	store    Store

	mu       sync.RWMutex
	entries  map[string]*entry
	requests map[string]*spawnResult
	nextSeq  int
}

// New creates a registry. store may be nil when metadata persistence is not
// wanted (tests).
func New(launcher Launcher, mux *adapter.Mux, store Store) *Registry {
	return &Registry{
		launcher: launcher,
		mux:      mux,
		store:    store,
		entries:  make(map[string]*entry),
		requests: make(map[string]*spawnResult),
	}
}

// Spawn creates a terminal for the given config. requestID deduplicates
// retried spawns: at most one terminal is created per request id, and every
// caller carrying the same id observes the same outcome.
func (r *Registry) Spawn(ctx context.Context, cfg model.SpawnConfig, requestID string) (*model.Terminal, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var res *spawnResult
	if requestID != "" {
		r.mu.Lock()
		if existing, ok := r.requests[requestID]; ok {
			r.mu.Unlock()
			<-existing.done
			return existing.terminal, existing.err
		}
		res = &spawnResult{done: make(chan struct{})}
		r.requests[requestID] = res
		r.mu.Unlock()
	}

	t, err := r.spawn(ctx, cfg)

	if res != nil {
		res.terminal, res.err = t, err
		close(res.done)
	}
	return t, err
}

func (r *Registry) spawn(ctx context.Context, cfg model.SpawnConfig) (*model.Terminal, error) {
	now := time.Now()
	t := &model.Terminal{
		ID:             uuid.New().String(),
		Kind:           cfg.Kind,
		Type:           cfg.Type,
		Workdir:        cfg.Workdir,
		Command:        cfg.Command,
		Status:         model.StatusSpawning,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if cfg.Kind == model.KindPersistent {
		t.MuxSession = "term-" + t.ID[:8]
	}

	// Register before launching so concurrent spawns of the same type see
	// each other when computing names.
	r.mu.Lock()
	t.Name = r.dedupNameLocked(cfg)
	e := &entry{terminal: t, seq: r.nextSeq}
	r.nextSeq++
	r.entries[t.ID] = e
	r.mu.Unlock()

	ad, err := r.launch(ctx, t, cfg)

	e.mu.Lock()
	defer e.mu.Unlock()

	if t.Status == model.StatusClosed {
		// Closed while spawning. Whatever process did get created must
		// not be orphaned.
		if ad != nil {
			_ = ad.Kill()
		}
		return nil, model.ErrProcessClosed
	}

	if err != nil {
		t.Status = model.StatusError
		log.Printf("spawn of %s (%s) failed: %v", t.Name, t.ID, err)
		return nil, err
	}

	e.adapter = ad
	t.Status = model.StatusActive
	t.LastActivityAt = time.Now()
	snapshot := *t

	// Only persistent terminals are persisted: they are the ones worth
	// reconciling after a restart.
	if r.store != nil && t.Kind == model.KindPersistent {
		if serr := r.store.Save(context.Background(), t); serr != nil {
			log.Printf("failed to persist terminal %s: %v", t.ID, serr)
		}
	}

	return &snapshot, nil
}

// launch starts the adapter under the spawn timeout. If the context ends
// first, the adapter that did get created is killed rather than leaked.
func (r *Registry) launch(ctx context.Context, t *model.Terminal, cfg model.SpawnConfig) (adapter.Adapter, error) {
	ctx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	type launched struct {
		ad  adapter.Adapter
		err error
	}
	ch := make(chan launched, 1)

	go func() {
		var ad adapter.Adapter
		var err error
		switch t.Kind {
		case model.KindPersistent:
			ad, err = r.launcher.LaunchPersistent(adapter.PersistentOptions{
				Session: t.MuxSession,
				Command: cfg.Command,
				Workdir: cfg.Workdir,
				Cols:    cfg.Cols,
				Rows:    cfg.Rows,
			})
		default:
			ad, err = r.launcher.LaunchEphemeral(adapter.EphemeralOptions{
				Command: cfg.Command,
				Workdir: cfg.Workdir,
				Cols:    cfg.Cols,
				Rows:    cfg.Rows,
			})
		}
		ch <- launched{ad, err}
	}()

	select {
	case l := <-ch:
		return l.ad, l.err
	case <-ctx.Done():
		go func() {
			if l := <-ch; l.ad != nil {
				_ = l.ad.Kill()
			}
		}()
		return nil, fmt.Errorf("%w: %v", model.ErrLaunchFailure, ctx.Err())
	}
}

// dedupNameLocked computes the display name for a new terminal. An explicit
// name is used verbatim. Otherwise the declared type is the base name and
// repeat spawns get -2, -3, ... suffixes; each type keeps its own counter.
// Caller holds r.mu.
func (r *Registry) dedupNameLocked(cfg model.SpawnConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}

	base := cfg.Type
	if base == "" {
		base = defaultBaseName
	}

	n := 0
	for _, e := range r.entries {
		name := e.terminal.Name
		if name == base || isSuffixed(name, base) {
			n++
		}
	}

	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n+1)
}

// isSuffixed reports whether name is base plus a numeric "-N" suffix.
func isSuffixed(name, base string) bool {
	if len(name) <= len(base)+1 || name[:len(base)] != base || name[len(base)] != '-' {
		return false
	}
	for _, c := range name[len(base)+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Get returns a snapshot of the terminal with the given id.
func (r *Registry) Get(id string) (*model.Terminal, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, model.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.terminal
	return &snapshot, nil
}

// Adapter returns the live adapter for a terminal, or an error when the
// terminal is unknown or has no running process.
func (r *Registry) Adapter(id string) (adapter.Adapter, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, model.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.adapter == nil {
		return nil, model.ErrProcessClosed
	}
	return e.adapter, nil
}

// List returns all registered terminals in insertion order.
func (r *Registry) List() []*model.Terminal {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	// Insertion order, not map order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].seq > out[j].seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}

	terminals := make([]*model.Terminal, len(out))
	for i, e := range out {
		e.mu.Lock()
		snapshot := *e.terminal
		e.mu.Unlock()
		terminals[i] = &snapshot
	}
	return terminals
}

// ActiveCount returns the number of terminals not yet closed. Errored
// terminals stay listed until closed and count.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		status := e.terminal.Status
		e.mu.Unlock()
		if status != model.StatusClosed {
			n++
		}
	}
	return n
}

// Close destroys a terminal: kills the underlying process (for persistent
// terminals, the multiplexer session itself) and removes the entry. Closing
// an unknown or already-closed terminal succeeds; close is idempotent.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal.Status == model.StatusClosed {
		return nil
	}
	e.terminal.Status = model.StatusClosed
	e.terminal.LastActivityAt = time.Now()

	if e.adapter != nil {
		if err := e.adapter.Kill(); err != nil {
			log.Printf("error killing terminal %s: %v", id, err)
		}
		e.adapter = nil
	}

	if r.store != nil {
		if err := r.store.Delete(context.Background(), id); err != nil {
			log.Printf("failed to delete terminal %s from store: %v", id, err)
		}
	}

	return nil
}

// MarkDetached records that the last owner of a persistent terminal has
// released it. The underlying multiplexer session keeps running.
func (r *Registry) MarkDetached(id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return model.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal.Kind != model.KindPersistent {
		return model.ErrNotPersistent
	}
	if e.terminal.Status != model.StatusActive {
		return nil
	}
	e.terminal.Status = model.StatusDetached
	e.terminal.LastActivityAt = time.Now()
	r.persistStatus(id, model.StatusDetached)
	return nil
}

// Reattach transitions a detached persistent terminal back to active. When
// its attach view is gone (backend restart, shutdown detach) a fresh view
// is created; the returned adapter is non-nil exactly in that case, and the
// caller must start a new output pump for it.
func (r *Registry) Reattach(id string) (adapter.Adapter, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal.Kind != model.KindPersistent {
		return nil, model.ErrNotPersistent
	}
	if e.terminal.Status != model.StatusDetached {
		return nil, nil
	}

	var fresh adapter.Adapter
	if e.adapter == nil {
		ad, err := r.launcher.LaunchPersistent(adapter.PersistentOptions{
			Session: e.terminal.MuxSession,
			Workdir: e.terminal.Workdir,
		})
		if err != nil {
			return nil, err
		}
		e.adapter = ad
		fresh = ad
	}

	e.terminal.Status = model.StatusActive
	e.terminal.LastActivityAt = time.Now()
	r.persistStatus(id, model.StatusActive)
	return fresh, nil
}

// HandleStreamEnd is invoked by the router pump when a terminal's output
// stream closes. A deliberate detach or close needs no action; anything
// else is unexpected process death, which closes the terminal.
func (r *Registry) HandleStreamEnd(id string) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	if p, isPersistent := e.adapter.(interface{ Detached() bool }); isPersistent && p != nil && p.Detached() {
		e.adapter = nil
		e.mu.Unlock()
		return false
	}
	status := e.terminal.Status
	e.mu.Unlock()

	if status == model.StatusClosed {
		return false
	}

	log.Printf("terminal %s process exited, closing", id)
	_ = r.Close(id)
	return true
}

// Touch updates a terminal's last-activity timestamp.
func (r *Registry) Touch(id string) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.terminal.LastActivityAt = time.Now()
	e.mu.Unlock()
}

// Reconcile re-registers persistent terminals recorded by a previous run.
// Rows whose multiplexer session is still alive come back in detached
// state; rows whose session is gone are purged.
func (r *Registry) Reconcile(ctx context.Context) error {
	if r.store == nil || r.mux == nil {
		return nil
	}

	stored, err := r.store.ListPersistent(ctx)
	if err != nil {
		return fmt.Errorf("list persisted terminals: %w", err)
	}

	live, err := r.mux.ListSessions()
	if err != nil {
		return fmt.Errorf("list multiplexer sessions: %w", err)
	}
	alive := make(map[string]bool, len(live))
	for _, name := range live {
		alive[name] = true
	}

	for _, t := range stored {
		if !alive[t.MuxSession] {
			if err := r.store.Delete(ctx, t.ID); err != nil {
				log.Printf("failed to purge stale terminal %s: %v", t.ID, err)
			}
			continue
		}

		t.Status = model.StatusDetached
		r.mu.Lock()
		r.entries[t.ID] = &entry{terminal: t, seq: r.nextSeq}
		r.nextSeq++
		r.mu.Unlock()
		log.Printf("reconciled persistent terminal %s (%s)", t.Name, t.MuxSession)
	}

	return nil
}

// Shutdown sweeps the registry on process exit: ephemeral terminals are
// killed, persistent ones are detached and left for the multiplexer.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.adapter != nil {
			if e.terminal.Kind == model.KindPersistent {
				_ = e.adapter.Detach()
				r.persistStatus(e.terminal.ID, model.StatusDetached)
			} else {
				_ = e.adapter.Kill()
			}
			e.adapter = nil
		}
		e.mu.Unlock()
	}
}

func (r *Registry) persistStatus(id string, status model.TerminalStatus) {
	if r.store == nil {
		return
	}
	if err := r.store.UpdateStatus(context.Background(), id, status); err != nil {
		log.Printf("failed to persist status of %s: %v", id, err)
	}
}
