package store

import (
	"context"
	"fmt"

	"SnippetVault/internal/session"
)

// ListMessages returns a snippet's mentor history, oldest first
func (s *Store) ListMessages(ctx context.Context, snippetID string) ([]session.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM mentor_messages WHERE snippet_id = ? ORDER BY created_at, rowid",
		snippetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	turns := []session.Turn{}
	for rows.Next() {
		var turn session.Turn
		if err := rows.Scan(&turn.ID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Status = session.StatusSaved
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return turns, nil
}

// InsertMessage stores a turn under its client-generated id
func (s *Store) InsertMessage(ctx context.Context, snippetID string, turn session.Turn) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO mentor_messages (id, snippet_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		turn.ID, snippetID, string(turn.Role), turn.Content, turn.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// DeleteMessages removes a snippet's whole mentor history
func (s *Store) DeleteMessages(ctx context.Context, snippetID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM mentor_messages WHERE snippet_id = ?", snippetID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}
