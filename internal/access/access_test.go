package access

import (
	"testing"

	"inkvault/api/internal/store"
)

func sharedVault(mode store.ShareMode) store.Vault {
	return store.Vault{
		ID:         "vault-1",
		OwnerID:    "owner-1",
		Name:       "notes",
		ShareMode:  mode,
		ShareToken: "tok-abc",
	}
}

func TestResolveOwner(t *testing.T) {
	d := Resolve(sharedVault(store.SharePrivate), "owner-1", "")
	if !d.Allowed || !d.IsOwner || !d.CanEdit {
		t.Fatalf("owner should have full access, got %+v", d)
	}
}

func TestResolveShareToken(t *testing.T) {
	cases := []struct {
		name       string
		mode       store.ShareMode
		shareToken string
		want       Decision
	}{
		{"edit mode grants edit", store.ShareEdit, "tok-abc", Decision{Allowed: true, CanEdit: true}},
		{"view mode grants read only", store.ShareView, "tok-abc", Decision{Allowed: true}},
		{"private mode denies even with token", store.SharePrivate, "tok-abc", Decision{}},
		{"wrong token denies", store.ShareEdit, "tok-wrong", Decision{}},
		{"missing token denies", store.ShareEdit, "", Decision{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Resolve(sharedVault(tc.mode), "visitor-1", tc.shareToken)
			if got != tc.want {
				t.Fatalf("Resolve() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestResolveFailsClosed(t *testing.T) {
	if d := Resolve(store.Vault{}, "", ""); d.Allowed {
		t.Fatalf("empty user must be denied, got %+v", d)
	}
	// Vault with no share token must never match an empty client token.
	v := sharedVault(store.ShareEdit)
	v.ShareToken = ""
	if d := Resolve(v, "visitor-1", ""); d.Allowed {
		t.Fatalf("unshared vault must deny non-owner, got %+v", d)
	}
}
