package collab

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"inkvault/api/internal/access"
	"inkvault/api/internal/identity"
	"inkvault/api/internal/store"
)

// VaultStore is the vault-lookup collaborator behind access resolution.
type VaultStore interface {
	GetVault(ctx context.Context, vaultID string) (store.Vault, error)
}

// IdentityResolver verifies a token and returns who it belongs to.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity.Identity, error)
}

// Gateway authenticates inbound websocket connections, resolves their vault
// access and runs the per-connection message loop.
type Gateway struct {
	upgrader websocket.Upgrader
	ident    IdentityResolver
	vaults   VaultStore
	presence *Presence
	sessions *SessionManager
	rooms    *RoomSet
}

// NewGateway wires the websocket entrypoint. rooms must be the same registry
// the presence tracker broadcasts through, so delayed leave events reach
// connections that joined a recreated room.
func NewGateway(ident IdentityResolver, vaults VaultStore, presence *Presence, sessions *SessionManager, rooms *RoomSet, corsOrigin string) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == corsOrigin
			},
		},
		ident:    ident,
		vaults:   vaults,
		presence: presence,
		sessions: sessions,
		rooms:    rooms,
	}
}

// PresenceRoomName is the room shared by every connection to one vault.
func PresenceRoomName(vaultID string) string { return "vault:" + vaultID }

// ServeHTTP handles GET /ws. Credentials ride in the query string (and the
// token optionally as a bearer header) because browser websocket clients
// cannot set arbitrary headers.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	vaultID := r.URL.Query().Get("vaultId")
	shareToken := r.URL.Query().Get("shareToken")

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		return
	}

	capability, rejectCode, rejectMsg := g.admit(r.Context(), token, vaultID, shareToken)
	if rejectCode != "" {
		g.reject(conn, rejectCode, rejectMsg)
		return
	}

	client := NewClient(conn, vaultID, capability)
	room := g.rooms.GetOrCreate(PresenceRoomName(vaultID))
	room.Add(client)
	g.presence.Join(room, client)

	go client.writePump()
	go client.readPump(
		func(frame Frame) { g.handleFrame(client, frame) },
		func() { g.disconnect(client, room) },
	)
}

// admit runs the handshake pipeline: verify identity, look up the vault,
// resolve access. An empty reject code means the connection is admitted.
func (g *Gateway) admit(ctx context.Context, token, vaultID, shareToken string) (Capability, string, string) {
	if token == "" || vaultID == "" {
		return Capability{}, RejectMissingCredentials, "token and vaultId are required"
	}

	ident, err := g.ident.Resolve(ctx, token)
	if err != nil {
		return Capability{}, RejectInvalidToken, "token verification failed"
	}

	vault, err := g.vaults.GetVault(ctx, vaultID)
	if err != nil {
		if err != store.ErrNotFound {
			log.Printf("collab: vault lookup %s: %v", vaultID, err)
		}
		// Fail closed: a lookup error is indistinguishable from no access.
		return Capability{}, RejectAccessDenied, "access denied to vault"
	}

	decision := access.Resolve(vault, ident.UserID, shareToken)
	if !decision.Allowed {
		return Capability{}, RejectAccessDenied, "access denied to vault"
	}

	return Capability{
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
		AvatarURL:   ident.AvatarURL,
		IsOwner:     decision.IsOwner,
		CanEdit:     decision.CanEdit,
	}, "", ""
}

func (g *Gateway) reject(conn *websocket.Conn, code, message string) {
	msg := mustFrame(EventRejected, RejectedPayload{Code: code, Message: message})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, msg)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, code))
	conn.Close()
}

func (g *Gateway) handleFrame(c *Client, frame Frame) {
	switch frame.Event {
	case EventDocSubscribe:
		var payload DocSubscribePayload
		if !decodeData(c, frame, &payload) {
			return
		}
		if c.addSub(DocRoomName(payload.FileID)) {
			g.sessions.Attach(payload.FileID, c)
		}

	case EventDocUnsubscribe:
		var payload DocSubscribePayload
		if !decodeData(c, frame, &payload) {
			return
		}
		if c.removeSub(DocRoomName(payload.FileID)) {
			if s, ok := g.sessions.Session(payload.FileID); ok {
				s.Detach(c)
			}
		}

	case EventDocUpdate:
		var payload DocUpdatePayload
		if !decodeData(c, frame, &payload) {
			return
		}
		s, ok := g.sessions.Session(payload.FileID)
		if !ok || !c.hasSub(DocRoomName(payload.FileID)) {
			c.Send(mustFrame(EventDocError, DocErrorPayload{
				FileID:  payload.FileID,
				Code:    DocErrBadOp,
				Message: "not subscribed to this document",
			}))
			return
		}
		s.ApplyEdit(c, payload.Ops)

	default:
		log.Printf("collab: client %s sent unknown event %q", c.ID, frame.Event)
	}
}

// disconnect tears a connection down: detach from every subscribed
// document, schedule the presence decrement, drop from the room registry.
func (g *Gateway) disconnect(c *Client, room *Room) {
	for _, docID := range c.subscriptions() {
		fileID := strings.TrimPrefix(docID, "file-")
		if c.removeSub(docID) {
			if s, ok := g.sessions.Session(fileID); ok {
				s.Detach(c)
			}
		}
	}

	g.presence.Leave(room, c)
	g.rooms.RemoveClient(room.Name(), c)
	c.close()
}

func decodeData(c *Client, frame Frame, into any) bool {
	if err := json.Unmarshal(frame.Data, into); err != nil {
		c.Send(mustFrame(EventDocError, DocErrorPayload{
			Code:    DocErrBadOp,
			Message: "malformed " + frame.Event + " payload",
		}))
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
