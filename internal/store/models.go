package store

type ShareMode string

const (
	SharePrivate ShareMode = "private"
	ShareView    ShareMode = "view"
	ShareEdit    ShareMode = "edit"
)

// Vault is the access-control root for a document tree. FileTree is the raw
// JSONB hierarchy maintained by the vault API; the collab service never
// mutates it.
type Vault struct {
	ID         string
	OwnerID    string
	Name       string
	ShareMode  ShareMode
	ShareToken string
	FileTree   string
}

type File struct {
	ID      string
	VaultID string
	Name    string
	Content string
}
