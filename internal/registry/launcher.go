package registry

import (
	"github.com/shared-terminal/backend/internal/adapter"
)

// ProcessLauncher is the production Launcher: direct PTYs for ephemeral
// terminals, tmux attach views for persistent ones.
type ProcessLauncher struct {
	Mux *adapter.Mux
}

func (l *ProcessLauncher) LaunchEphemeral(opts adapter.EphemeralOptions) (adapter.Adapter, error) {
	return adapter.StartEphemeral(opts)
}

func (l *ProcessLauncher) LaunchPersistent(opts adapter.PersistentOptions) (adapter.Adapter, error) {
	return adapter.AttachPersistent(l.Mux, opts)
}
