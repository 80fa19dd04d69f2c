// Package app exposes the HTTP surface: health probes, the websocket
// entrypoint and the document history API. Everything stateful lives behind
// the collab gateway; the handlers here stay thin.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"inkvault/api/internal/access"
	"inkvault/api/internal/collab"
	"inkvault/api/internal/gitrepo"
	"inkvault/api/internal/store"
)

// Store is the database access the HTTP layer needs.
type Store interface {
	Ping(ctx context.Context) error
	GetVault(ctx context.Context, vaultID string) (store.Vault, error)
	LookupFile(ctx context.Context, fileID string) (store.File, error)
}

// Pinger reports liveness of an auxiliary backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// History serves document snapshot history. Nil when git snapshots are not
// configured.
type History interface {
	History(vaultID, fileID string, limit int) ([]gitrepo.CommitInfo, error)
	ContentAt(vaultID, fileID, hash string) (string, error)
}

type HTTPServer struct {
	db         Store
	cache      Pinger
	ident      collab.IdentityResolver
	history    History
	gateway    http.Handler
	corsOrigin string
}

func NewHTTPServer(db Store, cache Pinger, ident collab.IdentityResolver, history History, gateway http.Handler, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		db:         db,
		cache:      cache,
		ident:      ident,
		history:    history,
		gateway:    gateway,
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade negotiates its own headers; keep the JSON
		// middleware away from it.
		if r.URL.Path == "/ws" {
			s.gateway.ServeHTTP(w, r)
			return
		}
		s.withMiddleware(http.HandlerFunc(s.handle)).ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/files/") {
		rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 2 && parts[1] == "history":
			s.handleHistory(w, r, parts[0])
			return
		case len(parts) == 3 && parts[1] == "history":
			s.handleHistoryContent(w, r, parts[0], parts[2])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.db.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}

	if s.cache != nil {
		checks["cache"] = map[string]any{"status": "ok"}
		if err := s.cache.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["cache"] = map[string]any{"status": "error", "error": err.Error()}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// resolveFileAccess authenticates the request and checks that the caller may
// view the given file's vault. Returns the file row on success.
func (s *HTTPServer) resolveFileAccess(w http.ResponseWriter, r *http.Request, fileID string) (store.File, bool) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return store.File{}, false
	}

	ident, err := s.ident.Resolve(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return store.File{}, false
	}

	f, err := s.db.LookupFile(r.Context(), fileID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found", nil)
		return store.File{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "File lookup failed", nil)
		return store.File{}, false
	}

	vault, err := s.db.GetVault(r.Context(), f.VaultID)
	if err != nil {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return store.File{}, false
	}

	decision := access.Resolve(vault, ident.UserID, r.URL.Query().Get("shareToken"))
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return store.File{}, false
	}
	return f, true
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, fileID string) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Snapshot history is not configured", nil)
		return
	}
	f, ok := s.resolveFileAccess(w, r, fileID)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}

	history, err := s.history.History(f.VaultID, f.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load history", nil)
		return
	}
	if history == nil {
		history = []gitrepo.CommitInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"fileId": f.ID, "history": history})
}

func (s *HTTPServer) handleHistoryContent(w http.ResponseWriter, r *http.Request, fileID, hash string) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Snapshot history is not configured", nil)
		return
	}
	f, ok := s.resolveFileAccess(w, r, fileID)
	if !ok {
		return
	}

	text, err := s.history.ContentAt(f.VaultID, f.ID, hash)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Snapshot not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fileId": f.ID, "hash": hash, "text": text})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
