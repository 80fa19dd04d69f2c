package blob

import (
	"context"
	"errors"
	"log"

	"inkvault/api/internal/store"
)

type objectStore interface {
	Load(ctx context.Context, vaultID, fileID string) (string, error)
	Save(ctx context.Context, vaultID, fileID, text string) error
}

type database interface {
	LookupFile(ctx context.Context, fileID string) (store.File, error)
	LoadDocumentText(ctx context.Context, fileID string) (string, error)
	SaveDocumentText(ctx context.Context, fileID, text string) error
}

// DocumentStore keeps Postgres as the source of truth for document text and
// mirrors every save into object storage when a blob client is configured.
// Reads prefer the blob copy and fall back to Postgres on any blob failure.
type DocumentStore struct {
	db   database
	objs objectStore
}

// NewDocumentStore wires the facade. Pass a nil client to run without object
// storage; every operation then goes straight to Postgres.
func NewDocumentStore(db database, client *Client) *DocumentStore {
	ds := &DocumentStore{db: db}
	if client != nil {
		ds.objs = client
	}
	return ds
}

func (d *DocumentStore) LoadDocumentText(ctx context.Context, fileID string) (string, error) {
	if d.objs == nil {
		return d.db.LoadDocumentText(ctx, fileID)
	}

	f, err := d.db.LookupFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	text, err := d.objs.Load(ctx, f.VaultID, fileID)
	if err == nil {
		return text, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("blob: load %s failed, falling back to database: %v", fileID, err)
	}
	return d.db.LoadDocumentText(ctx, fileID)
}

func (d *DocumentStore) SaveDocumentText(ctx context.Context, fileID, text string) error {
	if err := d.db.SaveDocumentText(ctx, fileID, text); err != nil {
		return err
	}
	if d.objs == nil {
		return nil
	}

	f, err := d.db.LookupFile(ctx, fileID)
	if err != nil {
		log.Printf("blob: lookup %s for mirror failed: %v", fileID, err)
		return nil
	}
	if err := d.objs.Save(ctx, f.VaultID, fileID, text); err != nil {
		log.Printf("blob: mirror %s failed: %v", fileID, err)
	}
	return nil
}
