// Package protocol defines the JSON text frames exchanged between a chat
// client and the hub server, and the typed events they decode into.
//
// The codec is deliberately forgiving on the inbound path: payloads that do
// not parse, carry an unknown type discriminant, or miss a required field
// are dropped rather than reported. Unknown frame types must not break old
// clients when the protocol grows.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// Frame type discriminants carried in the "type" field.
const (
	TypeListUsers  = "list_users"
	TypeMessage    = "message"
	TypeUserList   = "user_list"
	TypeUserStatus = "user_status"
	TypeError      = "error"
)

var validate = validator.New()

// UserStatus is one entry of a presence snapshot.
type UserStatus struct {
	Email  string `json:"email" validate:"required"`
	Online bool   `json:"online"`
}

// Event is a validated frame received from the server.
type Event interface {
	event()
}

// MessageEvent is a chat message delivered by the server.
// SentAt is the zero time when the server sent no (or an unparseable)
// timestamp.
type MessageEvent struct {
	From    string
	Content string
	SentAt  time.Time
}

// UserListEvent is a full presence snapshot.
type UserListEvent struct {
	Users []UserStatus
}

// UserStatusEvent is a single presence delta.
type UserStatusEvent struct {
	Email  string
	Online bool
}

func (MessageEvent) event()    {}
func (UserListEvent) event()   {}
func (UserStatusEvent) event() {}

// ClientFrame is a validated frame received from a client.
type ClientFrame interface {
	clientFrame()
}

// ListUsersFrame requests a full presence snapshot.
type ListUsersFrame struct{}

// MessageFrame asks the server to deliver content to another user.
type MessageFrame struct {
	To      string
	Content string
}

func (ListUsersFrame) clientFrame() {}
func (MessageFrame) clientFrame()   {}

type envelope struct {
	Type string `json:"type"`
}

type messageWire struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty" validate:"required"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type outboundMessageWire struct {
	Type    string `json:"type"`
	To      string `json:"to" validate:"required"`
	Content string `json:"content"`
}

type userListWire struct {
	Type  string       `json:"type"`
	Users []UserStatus `json:"users"`
}

type userStatusWire struct {
	Type   string `json:"type"`
	Email  string `json:"email" validate:"required"`
	Online bool   `json:"online"`
}

type errorWire struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeListUsers builds the client frame requesting a presence snapshot.
func EncodeListUsers() ([]byte, error) {
	return json.Marshal(envelope{Type: TypeListUsers})
}

// EncodeMessage builds the client frame sending content to another user.
// The recipient is required; content is carried verbatim.
func EncodeMessage(to, content string) ([]byte, error) {
	frame := outboundMessageWire{Type: TypeMessage, To: to, Content: content}
	if err := validate.Struct(frame); err != nil {
		return nil, err
	}
	return json.Marshal(frame)
}

// EncodeServerMessage builds the server frame delivering a chat message.
// The timestamp is stamped by the server in RFC 3339.
func EncodeServerMessage(from, to, content string, at time.Time) ([]byte, error) {
	return json.Marshal(messageWire{
		Type:      TypeMessage,
		From:      from,
		To:        to,
		Content:   content,
		Timestamp: at.UTC().Format(time.RFC3339),
	})
}

// EncodeUserList builds the server frame carrying a full presence snapshot.
func EncodeUserList(users []UserStatus) ([]byte, error) {
	if users == nil {
		users = []UserStatus{}
	}
	return json.Marshal(userListWire{Type: TypeUserList, Users: users})
}

// EncodeUserStatus builds the server frame carrying a single presence delta.
func EncodeUserStatus(email string, online bool) ([]byte, error) {
	return json.Marshal(userStatusWire{Type: TypeUserStatus, Email: email, Online: online})
}

// EncodeError builds the server frame reporting a rejected client frame.
// Clients ignore it; it exists for debugging against the wire.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Message: message})
}

// DecodeServerFrame parses a frame received from the server. The second
// return value is false when the payload is malformed, lacks a recognized
// type, or misses a required field. No error is surfaced: garbage on the
// wire must not disturb the session.
func DecodeServerFrame(raw []byte) (Event, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}

	switch env.Type {
	case TypeMessage:
		var f messageWire
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false
		}
		if err := validate.Struct(f); err != nil {
			return nil, false
		}
		return MessageEvent{From: f.From, Content: f.Content, SentAt: parseTimestamp(f.Timestamp)}, true
	case TypeUserList:
		var f userListWire
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false
		}
		users := lo.Filter(f.Users, func(u UserStatus, _ int) bool {
			return u.Email != ""
		})
		return UserListEvent{Users: users}, true
	case TypeUserStatus:
		var f userStatusWire
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false
		}
		if err := validate.Struct(f); err != nil {
			return nil, false
		}
		return UserStatusEvent{Email: f.Email, Online: f.Online}, true
	}

	return nil, false
}

// DecodeClientFrame parses a frame received from a client, with the same
// drop-on-malformed policy as DecodeServerFrame.
func DecodeClientFrame(raw []byte) (ClientFrame, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}

	switch env.Type {
	case TypeListUsers:
		return ListUsersFrame{}, true
	case TypeMessage:
		var f outboundMessageWire
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, false
		}
		if err := validate.Struct(f); err != nil {
			return nil, false
		}
		return MessageFrame{To: f.To, Content: f.Content}, true
	}

	return nil, false
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return at
}
