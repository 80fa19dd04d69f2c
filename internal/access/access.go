// Package access decides what a caller may do with a vault. The decision is
// a pure function over the vault row so it can be tested without a database.
package access

import "inkvault/api/internal/store"

type Decision struct {
	Allowed bool
	IsOwner bool
	CanEdit bool
}

// Resolve applies the sharing rules: the owner always has full access; a
// non-owner needs a share token matching the vault's and a share mode other
// than private. Edit additionally requires share mode "edit". Callers must
// treat the zero Decision (from a failed vault lookup) as a denial.
func Resolve(v store.Vault, userID, shareToken string) Decision {
	if userID == "" {
		return Decision{}
	}
	if v.OwnerID == userID {
		return Decision{Allowed: true, IsOwner: true, CanEdit: true}
	}
	if shareToken == "" || v.ShareToken == "" || shareToken != v.ShareToken {
		return Decision{}
	}
	switch v.ShareMode {
	case store.ShareEdit:
		return Decision{Allowed: true, CanEdit: true}
	case store.ShareView:
		return Decision{Allowed: true}
	default:
		return Decision{}
	}
}
