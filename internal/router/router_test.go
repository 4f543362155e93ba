package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shared-terminal/backend/internal/adapter"
	"github.com/shared-terminal/backend/internal/model"
	"github.com/shared-terminal/backend/internal/registry"
)

const waitFor = 2 * time.Second

// fakeAdapter simulates a terminal process in memory.
type fakeAdapter struct {
	mu       sync.Mutex
	out      chan []byte
	killed   bool
	detached bool
	writes   [][]byte
	cols     uint16
	rows     uint16
	resizes  int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{out: make(chan []byte, 64)}
}

func (f *fakeAdapter) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killed {
		return model.ErrProcessClosed
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeAdapter) Resize(cols, rows uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cols, f.rows = cols, rows
	f.resizes++
	return nil
}

func (f *fakeAdapter) Output() <-chan []byte { return f.out }

func (f *fakeAdapter) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.killed {
		f.killed = true
		close(f.out)
	}
	return nil
}

func (f *fakeAdapter) Detach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = true
	if !f.killed {
		f.killed = true
		close(f.out)
	}
	return nil
}

func (f *fakeAdapter) Detached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detached
}

func (f *fakeAdapter) Killed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

func (f *fakeAdapter) emit(data string) {
	f.out <- []byte(data)
}

func (f *fakeAdapter) lastGeometry() (uint16, uint16, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cols, f.rows, f.resizes
}

type fakeLauncher struct {
	mu   sync.Mutex
	last *fakeAdapter
}

func (l *fakeLauncher) launch() (adapter.Adapter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last = newFakeAdapter()
	return l.last, nil
}

func (l *fakeLauncher) LaunchEphemeral(adapter.EphemeralOptions) (adapter.Adapter, error) {
	return l.launch()
}

func (l *fakeLauncher) LaunchPersistent(adapter.PersistentOptions) (adapter.Adapter, error) {
	return l.launch()
}

// fakeConn records what the router delivers to one client connection.
type fakeConn struct {
	mu      sync.Mutex
	outputs []string
	offsets []uint64
	closed  []string
}

func (c *fakeConn) SendOutput(terminalID string, data []byte, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, string(data))
	c.offsets = append(c.offsets, offset)
}

func (c *fakeConn) SendClosed(terminalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, terminalID)
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.outputs))
	copy(out, c.outputs)
	return out
}

func (c *fakeConn) closedTerminals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.closed))
	copy(out, c.closed)
	return out
}

func (c *fakeConn) lastOffset() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.offsets) == 0 {
		return 0
	}
	return c.offsets[len(c.offsets)-1]
}

// harness wires a router over a registry with fake processes and spawns one
// terminal, returning its id and adapter with the pump already running.
type harness struct {
	reg *registry.Registry
	rtr *Router
	l   *fakeLauncher
}

func newHarness() *harness {
	l := &fakeLauncher{}
	reg := registry.New(l, nil, nil)
	return &harness{reg: reg, rtr: New(reg), l: l}
}

func (h *harness) spawn(t *testing.T, kind model.TerminalKind) (string, *fakeAdapter) {
	t.Helper()
	term, err := h.reg.Spawn(context.Background(), model.SpawnConfig{Kind: kind, Type: "bash"}, "")
	require.NoError(t, err)
	ad := h.l.last
	h.rtr.StartPump(term.ID, ad)
	return term.ID, ad
}

func TestOwnershipIsolation(t *testing.T) {
	h := newHarness()
	idA, adA := h.spawn(t, model.KindEphemeral)
	idB, _ := h.spawn(t, model.KindEphemeral)

	connA := &fakeConn{}
	connB := &fakeConn{}
	require.NoError(t, h.rtr.Attach(idA, connA, 0))
	require.NoError(t, h.rtr.Attach(idB, connB, 0))

	adA.emit("only-for-A")

	require.Eventually(t, func() bool {
		return len(connA.received()) == 1
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []string{"only-for-A"}, connA.received())
	assert.Empty(t, connB.received(), "output from A must never reach B's owners")
}

func TestAttachIsIdempotent(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindEphemeral)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))
	require.NoError(t, h.rtr.Attach(id, conn, 0), "re-attach after lost client state must be a no-op")
	assert.Equal(t, 1, h.rtr.OwnerCount(id))

	ad.emit("once")
	require.Eventually(t, func() bool {
		return len(conn.received()) >= 1
	}, waitFor, 5*time.Millisecond)

	// Give a duplicate registration time to double-deliver, then check it
	// did not.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"once"}, conn.received())
}

func TestResumeReplayOnAttach(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindEphemeral)

	early := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, early, 0))

	ad.emit("missed ")
	ad.emit("output")
	require.Eventually(t, func() bool {
		return len(early.received()) == 2
	}, waitFor, 5*time.Millisecond)

	// A brand new owner replays the full resume window on attach.
	late := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, late, 0))
	assert.Equal(t, []string{"missed output"}, late.received())

	// A reconnecting owner with a watermark replays only the suffix.
	resumed := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, resumed, uint64(len("missed "))))
	assert.Equal(t, []string{"output"}, resumed.received())
	assert.Equal(t, early.lastOffset(), resumed.lastOffset())
}

func TestReleaseKeepsPersistentAlive(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindPersistent)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))
	require.NoError(t, h.rtr.Release(id, conn))

	term, err := h.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDetached, term.Status)
	assert.False(t, ad.Killed(), "releasing the last owner must not destroy the session")

	// Re-attach succeeds and resumes output delivery.
	again := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, again, 0))
	term, err = h.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, term.Status)

	ad.emit("still here")
	require.Eventually(t, func() bool {
		return len(again.received()) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestReleaseClosesEphemeralWithNoViewers(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindEphemeral)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))
	require.NoError(t, h.rtr.Release(id, conn))

	assert.True(t, ad.Killed(), "nothing keeps an ephemeral process alive with no viewers")
	_, err := h.reg.Get(id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestForceCloseDestroysPersistent(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindPersistent)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))
	require.NoError(t, h.rtr.ForceClose(id))

	assert.True(t, ad.Killed())
	assert.Equal(t, []string{id}, conn.closedTerminals())

	// The terminal is gone: a subsequent attach fails NotFound.
	err := h.rtr.Attach(id, &fakeConn{}, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// And force-closing again still succeeds.
	assert.NoError(t, h.rtr.ForceClose(id))
}

func TestInputRequiresOwnership(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindEphemeral)

	owner := &fakeConn{}
	stranger := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, owner, 0))

	assert.ErrorIs(t, h.rtr.Input(id, stranger, []byte("ls\n")), model.ErrUnauthorized)
	assert.ErrorIs(t, h.rtr.Resize(id, stranger, 100, 40), model.ErrUnauthorized)

	require.NoError(t, h.rtr.Input(id, owner, []byte("ls\n")))
	ad.mu.Lock()
	got := len(ad.writes)
	ad.mu.Unlock()
	assert.Equal(t, 1, got)
}

func TestInputToUnknownTerminal(t *testing.T) {
	h := newHarness()
	err := h.rtr.Input("nonexistent", &fakeConn{}, []byte("x"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResizeCoalescesBursts(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindPersistent)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))

	// A burst of disagreeing viewports inside one debounce window applies
	// once, last write wins.
	require.NoError(t, h.rtr.Resize(id, conn, 80, 24))
	require.NoError(t, h.rtr.Resize(id, conn, 100, 30))
	require.NoError(t, h.rtr.Resize(id, conn, 120, 40))

	require.Eventually(t, func() bool {
		_, _, n := ad.lastGeometry()
		return n == 1
	}, waitFor, 5*time.Millisecond)

	cols, rows, _ := ad.lastGeometry()
	assert.Equal(t, uint16(120), cols)
	assert.Equal(t, uint16(40), rows)
}

func TestUnexpectedDeathNotifiesOwners(t *testing.T) {
	h := newHarness()
	id, ad := h.spawn(t, model.KindEphemeral)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(id, conn, 0))

	// Process dies on its own: the stream ends without a close request.
	ad.mu.Lock()
	ad.killed = true
	close(ad.out)
	ad.mu.Unlock()

	require.Eventually(t, func() bool {
		return len(conn.closedTerminals()) == 1
	}, waitFor, 5*time.Millisecond)

	_, err := h.reg.Get(id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReleaseAllDropsEveryOwnership(t *testing.T) {
	h := newHarness()
	idA, _ := h.spawn(t, model.KindPersistent)
	idB, adB := h.spawn(t, model.KindEphemeral)

	conn := &fakeConn{}
	require.NoError(t, h.rtr.Attach(idA, conn, 0))
	require.NoError(t, h.rtr.Attach(idB, conn, 0))

	h.rtr.ReleaseAll(conn)

	term, err := h.reg.Get(idA)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDetached, term.Status)

	assert.True(t, adB.Killed())
	_, err = h.reg.Get(idB)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
