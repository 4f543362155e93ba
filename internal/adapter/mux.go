package adapter

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Mux drives the external session multiplexer (tmux) binary. It implements
// the persistent-session collaborator capability: attach-or-create by name,
// destroy, and listing live session names for startup reconciliation.
type Mux struct {
	bin string
}

// NewMux creates a Mux driving the given tmux binary. An empty path means
// "tmux" resolved from PATH.
func NewMux(bin string) *Mux {
	if bin == "" {
		bin = "tmux"
	}
	return &Mux{bin: bin}
}

// Available reports whether the multiplexer binary can be resolved.
func (m *Mux) Available() bool {
	_, err := exec.LookPath(m.bin)
	return err == nil
}

// run executes a tmux subcommand and returns its combined output.
func (m *Mux) run(args ...string) (string, error) {
	out, err := exec.Command(m.bin, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// HasSession reports whether a session with the exact name exists.
// The "=" prefix disables tmux's prefix matching.
func (m *Mux) HasSession(name string) bool {
	_, err := m.run("has-session", "-t", "="+name)
	return err == nil
}

// NewSession creates a detached session running the given command. An empty
// command leaves tmux to start its default shell.
func (m *Mux) NewSession(name, workdir, command string) error {
	args := []string{"new-session", "-d", "-s", name}
	if workdir != "" {
		args = append(args, "-c", workdir)
	}
	if command != "" {
		argv, err := shellquote.Split(command)
		if err != nil {
			return fmt.Errorf("bad session command %q: %w", command, err)
		}
		args = append(args, argv...)
	}
	_, err := m.run(args...)
	return err
}

// KillSession destroys the session and everything running inside it.
func (m *Mux) KillSession(name string) error {
	_, err := m.run("kill-session", "-t", "="+name)
	return err
}

// ListSessions returns the names of all live sessions. A missing or idle
// tmux server is reported as zero sessions, not an error.
func (m *Mux) ListSessions() ([]string, error) {
	out, err := m.run("list-sessions", "-F", "#{session_name}")
	if err != nil {
		// tmux exits non-zero when no server is running.
		return nil, nil
	}

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// AttachArgs returns the argv for attaching a client to the named session.
func (m *Mux) AttachArgs(name string) (string, []string) {
	return m.bin, []string{"attach-session", "-t", "=" + name}
}
