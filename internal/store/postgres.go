package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetVault returns the vault row used for access resolution. ShareToken is
// empty for vaults that have never been shared.
func (s *PostgresStore) GetVault(ctx context.Context, vaultID string) (Vault, error) {
	const query = `
		SELECT id, owner_id, name, share_mode, COALESCE(share_token, ''), COALESCE(file_tree::text, '[]')
		FROM vaults
		WHERE id = $1
	`
	var v Vault
	err := s.db.QueryRowContext(ctx, query, vaultID).Scan(&v.ID, &v.OwnerID, &v.Name, &v.ShareMode, &v.ShareToken, &v.FileTree)
	if errors.Is(err, sql.ErrNoRows) {
		return Vault{}, ErrNotFound
	}
	if err != nil {
		return Vault{}, fmt.Errorf("lookup vault: %w", err)
	}
	return v, nil
}

// LookupFile returns file metadata without content. Persist hooks use it to
// recover the owning vault and display name for a document id.
func (s *PostgresStore) LookupFile(ctx context.Context, fileID string) (File, error) {
	const query = `SELECT id, vault_id, name FROM files WHERE id = $1`
	var f File
	err := s.db.QueryRowContext(ctx, query, fileID).Scan(&f.ID, &f.VaultID, &f.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("lookup file: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) LoadDocumentText(ctx context.Context, fileID string) (string, error) {
	var content sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT content FROM files WHERE id = $1`, fileID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", fileID, err)
	}
	return content.String, nil
}

func (s *PostgresStore) SaveDocumentText(ctx context.Context, fileID, text string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE files SET content = $2 WHERE id = $1`, fileID, text)
	if err != nil {
		return fmt.Errorf("save document %s: %w", fileID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("save document %s: %w", fileID, ErrNotFound)
	}
	return nil
}
