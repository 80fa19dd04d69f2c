package collab

import (
	"encoding/json"
	"fmt"

	"inkvault/api/internal/crdt"
)

// Wire protocol: every websocket message is a JSON frame {event, data}.
const (
	EventUserJoined = "user:joined"
	EventUserLeft   = "user:left"
	EventUserList   = "user:list"

	EventDocSubscribe   = "doc:subscribe"
	EventDocUnsubscribe = "doc:unsubscribe"
	EventDocUpdate      = "doc:update"
	EventDocLoad        = "doc:load"
	EventDocError       = "doc:error"

	EventRejected = "connection:rejected"
)

// Rejection reason codes, distinguishable by clients.
const (
	RejectMissingCredentials = "missing-credentials"
	RejectInvalidToken       = "invalid-token"
	RejectAccessDenied       = "access-denied"
)

// Document error codes.
const (
	DocErrReadOnly = "read-only"
	DocErrBadOp    = "bad-op"
)

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type UserPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	IsOwner     bool   `json:"isOwner"`
}

type PresencePayload struct {
	User UserPayload `json:"user"`
}

type UserListPayload struct {
	Users []UserPayload `json:"users"`
}

type DocSubscribePayload struct {
	FileID string `json:"fileId"`
}

type DocUpdatePayload struct {
	FileID string    `json:"fileId"`
	Ops    []crdt.Op `json:"ops"`
}

type DocLoadPayload struct {
	FileID   string      `json:"fileId"`
	Text     string      `json:"text"`
	Chars    []crdt.Char `json:"chars"`
	Degraded bool        `json:"degraded,omitempty"`
}

type DocErrorPayload struct {
	FileID  string `json:"fileId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RejectedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = encoded
	}
	msg, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}
	return msg, nil
}

// mustFrame is for payloads built from our own structs, where marshalling
// cannot fail.
func mustFrame(event string, data any) []byte {
	msg, err := encodeFrame(event, data)
	if err != nil {
		panic(err)
	}
	return msg
}
