package store

import (
	"context"
	"fmt"

	"SnippetVault/internal/vault"

	"github.com/google/uuid"
)

// FolderUpdate lists the folder fields to change; nil fields are kept
type FolderUpdate struct {
	Name  *string
	Color *string
}

// ListFolders returns all folders ordered by name
func (s *Store) ListFolders(ctx context.Context) ([]vault.Folder, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, color, created_at, updated_at FROM folders ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to load folders: %w", err)
	}
	defer rows.Close()

	folders := []vault.Folder{}
	for rows.Next() {
		var f vault.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Color, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// GetFolder loads a folder by id
func (s *Store) GetFolder(ctx context.Context, id string) (vault.Folder, error) {
	var f vault.Folder
	err := s.db.QueryRowContext(ctx, "SELECT id, name, color, created_at, updated_at FROM folders WHERE id = ?", id).
		Scan(&f.ID, &f.Name, &f.Color, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return vault.Folder{}, notFound(err, "folder", id)
	}
	return f, nil
}

// CreateFolder stores a new folder
func (s *Store) CreateFolder(ctx context.Context, name, color string) (vault.Folder, error) {
	now := s.now()
	f := vault.Folder{ID: uuid.NewString(), Name: name, Color: color, CreatedAt: now, UpdatedAt: now}
	if f.Color == "" {
		f.Color = vault.FolderColors[0]
	}
	if err := f.Validate(); err != nil {
		return vault.Folder{}, err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO folders (id, name, color, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		f.ID, f.Name, f.Color, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return vault.Folder{}, fmt.Errorf("failed to create folder: %w", err)
	}
	return f, nil
}

// UpdateFolder renames or recolours a folder
func (s *Store) UpdateFolder(ctx context.Context, id string, upd FolderUpdate) (vault.Folder, error) {
	f, err := s.GetFolder(ctx, id)
	if err != nil {
		return vault.Folder{}, err
	}
	if upd.Name != nil {
		f.Name = *upd.Name
	}
	if upd.Color != nil {
		f.Color = *upd.Color
	}
	if err := f.Validate(); err != nil {
		return vault.Folder{}, err
	}
	f.UpdatedAt = s.now()

	_, err = s.db.ExecContext(ctx,
		"UPDATE folders SET name = ?, color = ?, updated_at = ? WHERE id = ?",
		f.Name, f.Color, f.UpdatedAt, f.ID,
	)
	if err != nil {
		return vault.Folder{}, fmt.Errorf("failed to update folder: %w", err)
	}
	return f, nil
}

// DeleteFolder removes a folder; its snippets become unfiled
func (s *Store) DeleteFolder(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE snippets SET folder_id = NULL WHERE folder_id = ?", id); err != nil {
		return fmt.Errorf("failed to unfile snippets: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
