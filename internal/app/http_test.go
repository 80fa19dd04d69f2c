package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inkvault/api/internal/gitrepo"
	"inkvault/api/internal/identity"
	"inkvault/api/internal/store"
)

type fakeStore struct {
	pingErr error
	vaults  map[string]store.Vault
	files   map[string]store.File
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vaults: make(map[string]store.Vault),
		files:  make(map[string]store.File),
	}
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetVault(_ context.Context, vaultID string) (store.Vault, error) {
	v, ok := f.vaults[vaultID]
	if !ok {
		return store.Vault{}, store.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) LookupFile(_ context.Context, fileID string) (store.File, error) {
	file, ok := f.files[fileID]
	if !ok {
		return store.File{}, store.ErrNotFound
	}
	return file, nil
}

type fakeCache struct {
	pingErr error
}

func (f *fakeCache) Ping(context.Context) error { return f.pingErr }

type fakeIdent struct {
	identities map[string]identity.Identity
}

func (f *fakeIdent) Resolve(_ context.Context, token string) (identity.Identity, error) {
	ident, ok := f.identities[token]
	if !ok {
		return identity.Identity{}, errors.New("invalid token")
	}
	return ident, nil
}

type fakeHistory struct {
	commits []gitrepo.CommitInfo
	content map[string]string
}

func (f *fakeHistory) History(vaultID, fileID string, limit int) ([]gitrepo.CommitInfo, error) {
	if limit > 0 && len(f.commits) > limit {
		return f.commits[:limit], nil
	}
	return f.commits, nil
}

func (f *fakeHistory) ContentAt(vaultID, fileID, hash string) (string, error) {
	text, ok := f.content[hash]
	if !ok {
		return "", errors.New("unknown hash")
	}
	return text, nil
}

func newTestServer(db *fakeStore, cache Pinger, history History) *HTTPServer {
	ident := &fakeIdent{identities: map[string]identity.Identity{
		"tok-alice": {UserID: "alice", DisplayName: "Alice"},
	}}
	gateway := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	return NewHTTPServer(db, cache, ident, history, gateway, "*")
}

func get(t *testing.T, server *HTTPServer, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newFakeStore(), nil, nil)

	rr := get(t, server, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decode(t, rr); body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body["ok"])
	}
}

func TestReadyReportsDatabaseFailure(t *testing.T) {
	db := newFakeStore()
	db.pingErr = errors.New("connection refused")
	server := newTestServer(db, nil, nil)

	rr := get(t, server, "/api/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decode(t, rr)
	if body["ok"] != false {
		t.Fatalf("expected ok=false, got %v", body["ok"])
	}
}

func TestReadyChecksCacheWhenConfigured(t *testing.T) {
	server := newTestServer(newFakeStore(), &fakeCache{pingErr: errors.New("redis down")}, nil)

	rr := get(t, server, "/api/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	checks := decode(t, rr)["checks"].(map[string]any)
	cache := checks["cache"].(map[string]any)
	if cache["status"] != "error" {
		t.Fatalf("expected cache error, got %v", cache)
	}
}

func TestWebsocketPathBypassesJSONMiddleware(t *testing.T) {
	server := newTestServer(newFakeStore(), nil, nil)

	rr := get(t, server, "/ws", "")
	if rr.Code != http.StatusSwitchingProtocols {
		t.Fatalf("expected gateway to handle /ws, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") == "application/json" {
		t.Fatal("middleware must not touch websocket responses")
	}
}

func TestHistoryRequiresAuth(t *testing.T) {
	db := newFakeStore()
	db.vaults["v1"] = store.Vault{ID: "v1", OwnerID: "alice", ShareMode: store.SharePrivate}
	db.files["f1"] = store.File{ID: "f1", VaultID: "v1", Name: "notes.md"}
	server := newTestServer(db, nil, &fakeHistory{})

	if rr := get(t, server, "/api/files/f1/history", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := get(t, server, "/api/files/f1/history", "tok-bogus"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rr.Code)
	}
}

func TestHistoryDeniedForOutsiders(t *testing.T) {
	db := newFakeStore()
	db.vaults["v1"] = store.Vault{ID: "v1", OwnerID: "someone-else", ShareMode: store.SharePrivate}
	db.files["f1"] = store.File{ID: "f1", VaultID: "v1", Name: "notes.md"}
	server := newTestServer(db, nil, &fakeHistory{})

	rr := get(t, server, "/api/files/f1/history", "tok-alice")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestHistoryReturnsCommitsForOwner(t *testing.T) {
	db := newFakeStore()
	db.vaults["v1"] = store.Vault{ID: "v1", OwnerID: "alice", ShareMode: store.SharePrivate}
	db.files["f1"] = store.File{ID: "f1", VaultID: "v1", Name: "notes.md"}
	history := &fakeHistory{
		commits: []gitrepo.CommitInfo{{Hash: "abc123", Author: "Alice", Message: "Update f1.md"}},
		content: map[string]string{"abc123": "# Notes"},
	}
	server := newTestServer(db, nil, history)

	rr := get(t, server, "/api/files/f1/history", "tok-alice")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decode(t, rr)
	entries := body["history"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}

	rr = get(t, server, "/api/files/f1/history/abc123", "tok-alice")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decode(t, rr); body["text"] != "# Notes" {
		t.Fatalf("unexpected text %v", body["text"])
	}
}

func TestHistoryUnavailableWhenNotConfigured(t *testing.T) {
	db := newFakeStore()
	db.vaults["v1"] = store.Vault{ID: "v1", OwnerID: "alice", ShareMode: store.SharePrivate}
	db.files["f1"] = store.File{ID: "f1", VaultID: "v1", Name: "notes.md"}
	server := newTestServer(db, nil, nil)

	rr := get(t, server, "/api/files/f1/history", "tok-alice")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(newFakeStore(), nil, nil)

	rr := get(t, server, "/api/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
