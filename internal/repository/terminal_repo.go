// Package repository provides data access for terminal metadata. Persistent
// terminals are written here so a restarted backend can find its way back to
// their multiplexer sessions.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shared-terminal/backend/internal/model"
)

// TerminalRepository persists terminal rows in SQLite.
type TerminalRepository struct {
	db *sql.DB
}

// NewTerminalRepository creates a new TerminalRepository.
func NewTerminalRepository(db *sql.DB) *TerminalRepository {
	return &TerminalRepository{db: db}
}

// Save inserts or replaces a terminal row.
func (r *TerminalRepository) Save(ctx context.Context, t *model.Terminal) error {
	query := `
		INSERT OR REPLACE INTO terminals
			(id, name, kind, type, mux_session, workdir, command, status, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Name,
		string(t.Kind),
		t.Type,
		t.MuxSession,
		t.Workdir,
		t.Command,
		string(t.Status),
		t.CreatedAt,
		t.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save terminal: %w", err)
	}
	return nil
}

// UpdateStatus updates a terminal's status.
func (r *TerminalRepository) UpdateStatus(ctx context.Context, id string, status model.TerminalStatus) error {
	query := `UPDATE terminals SET status = ?, last_activity_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update terminal status: %w", err)
	}
	return nil
}

// Delete removes a terminal row. Deleting a missing row is not an error.
func (r *TerminalRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete terminal: %w", err)
	}
	return nil
}

// ListPersistent returns all persistent-kind terminal rows in creation
// order.
func (r *TerminalRepository) ListPersistent(ctx context.Context) ([]*model.Terminal, error) {
	query := `
		SELECT id, name, kind, type, mux_session, workdir, command, status, created_at, last_activity_at
		FROM terminals
		WHERE kind = ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(model.KindPersistent))
	if err != nil {
		return nil, fmt.Errorf("failed to list terminals: %w", err)
	}
	defer rows.Close()

	var terminals []*model.Terminal
	for rows.Next() {
		t := &model.Terminal{}
		var kind, status string
		var typ, muxSession, workdir, command sql.NullString

		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&kind,
			&typ,
			&muxSession,
			&workdir,
			&command,
			&status,
			&t.CreatedAt,
			&t.LastActivityAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan terminal: %w", err)
		}

		t.Kind = model.TerminalKind(kind)
		t.Status = model.TerminalStatus(status)
		t.Type = typ.String
		t.MuxSession = muxSession.String
		t.Workdir = workdir.String
		t.Command = command.String
		terminals = append(terminals, t)
	}

	return terminals, rows.Err()
}
