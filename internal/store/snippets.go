package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"SnippetVault/internal/vault"

	"github.com/google/uuid"
)

// SnippetUpdate lists the snippet fields to change; nil fields are kept.
// A pointer to "" clears FolderID or Description.
type SnippetUpdate struct {
	FolderID    *string
	Name        *string
	Code        *string
	Language    *string
	Description *string
	Tags        *[]vault.Tag
}

const snippetColumns = "id, folder_id, name, code, language, description, tags, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnippet(row rowScanner) (vault.Snippet, error) {
	var (
		sn          vault.Snippet
		folderID    sql.NullString
		description sql.NullString
		tags        string
	)
	if err := row.Scan(&sn.ID, &folderID, &sn.Name, &sn.Code, &sn.Language, &description, &tags, &sn.CreatedAt, &sn.UpdatedAt); err != nil {
		return vault.Snippet{}, err
	}
	sn.FolderID = folderID.String
	sn.Description = description.String
	// Tags written by older clients may be malformed; treat them as empty.
	if err := json.Unmarshal([]byte(tags), &sn.Tags); err != nil || sn.Tags == nil {
		sn.Tags = []vault.Tag{}
	}
	return sn, nil
}

// ListSnippets returns all snippets, most recently updated first
func (s *Store) ListSnippets(ctx context.Context) ([]vault.Snippet, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+snippetColumns+" FROM snippets ORDER BY updated_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to load snippets: %w", err)
	}
	defer rows.Close()

	snippets := []vault.Snippet{}
	for rows.Next() {
		sn, err := scanSnippet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snippet: %w", err)
		}
		snippets = append(snippets, sn)
	}
	return snippets, rows.Err()
}

// GetSnippet loads a snippet by id
func (s *Store) GetSnippet(ctx context.Context, id string) (vault.Snippet, error) {
	sn, err := scanSnippet(s.db.QueryRowContext(ctx, "SELECT "+snippetColumns+" FROM snippets WHERE id = ?", id))
	if err != nil {
		return vault.Snippet{}, notFound(err, "snippet", id)
	}
	return sn, nil
}

// FindSnippet resolves an id or unique id prefix, as typed in the console
func (s *Store) FindSnippet(ctx context.Context, prefix string) (vault.Snippet, error) {
	snippets, err := s.ListSnippets(ctx)
	if err != nil {
		return vault.Snippet{}, err
	}

	var matches []vault.Snippet
	for _, sn := range snippets {
		if sn.ID == prefix {
			return sn, nil
		}
		if prefix != "" && strings.HasPrefix(sn.ID, prefix) {
			matches = append(matches, sn)
		}
	}
	switch len(matches) {
	case 0:
		return vault.Snippet{}, fmt.Errorf("snippet %s: %w", prefix, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return vault.Snippet{}, fmt.Errorf("snippet prefix %s is ambiguous (%d matches)", prefix, len(matches))
	}
}

// CreateSnippet stores a new snippet and returns it with id and timestamps set
func (s *Store) CreateSnippet(ctx context.Context, sn vault.Snippet) (vault.Snippet, error) {
	if err := sn.Validate(); err != nil {
		return vault.Snippet{}, err
	}
	now := s.now()
	sn.ID = uuid.NewString()
	sn.CreatedAt, sn.UpdatedAt = now, now
	if sn.Tags == nil {
		sn.Tags = []vault.Tag{}
	}

	tags, err := json.Marshal(sn.Tags)
	if err != nil {
		return vault.Snippet{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO snippets ("+snippetColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		sn.ID, nullable(sn.FolderID), sn.Name, sn.Code, sn.Language, nullable(sn.Description), string(tags), sn.CreatedAt, sn.UpdatedAt,
	)
	if err != nil {
		return vault.Snippet{}, fmt.Errorf("failed to create snippet: %w", err)
	}
	return sn, nil
}

// UpdateSnippet applies upd and bumps updated_at
func (s *Store) UpdateSnippet(ctx context.Context, id string, upd SnippetUpdate) (vault.Snippet, error) {
	sn, err := s.GetSnippet(ctx, id)
	if err != nil {
		return vault.Snippet{}, err
	}
	if upd.FolderID != nil {
		sn.FolderID = *upd.FolderID
	}
	if upd.Name != nil {
		sn.Name = *upd.Name
	}
	if upd.Code != nil {
		sn.Code = *upd.Code
	}
	if upd.Language != nil {
		sn.Language = *upd.Language
	}
	if upd.Description != nil {
		sn.Description = *upd.Description
	}
	if upd.Tags != nil {
		sn.Tags = *upd.Tags
	}
	if err := sn.Validate(); err != nil {
		return vault.Snippet{}, err
	}
	sn.UpdatedAt = s.now()

	tags, err := json.Marshal(sn.Tags)
	if err != nil {
		return vault.Snippet{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE snippets SET folder_id = ?, name = ?, code = ?, language = ?, description = ?, tags = ?, updated_at = ? WHERE id = ?",
		nullable(sn.FolderID), sn.Name, sn.Code, sn.Language, nullable(sn.Description), string(tags), sn.UpdatedAt, sn.ID,
	)
	if err != nil {
		return vault.Snippet{}, fmt.Errorf("failed to update snippet: %w", err)
	}
	return sn, nil
}

// DeleteSnippet removes a snippet together with its mentor history
func (s *Store) DeleteSnippet(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM snippets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete snippet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("snippet %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM mentor_messages WHERE snippet_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", kind, err)
}
