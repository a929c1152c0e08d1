package wire

import (
	"encoding/json"
	"fmt"

	"github.com/ianremillard/tterm/internal/ids"
)

// ControlType discriminates Control's variants, the same flattened-struct
// tagged-union pattern houx15-agenterm's hub/protocol.go uses for
// ClientMessage/OutputMessage: one struct, one Type field, every
// variant-specific field tagged omitempty.
type ControlType string

// Client-originated variants.
const (
	RegisterClient   ControlType = "RegisterClient"
	CreateSession    ControlType = "CreateSession"
	AttachToSession  ControlType = "AttachToSession"
	DetachFromSession ControlType = "DetachFromSession"
	SendInput        ControlType = "SendInput"
	ResizeSession    ControlType = "ResizeSession"
	ListSessions     ControlType = "ListSessions"
	TerminateSession ControlType = "TerminateSession"
	Disconnect       ControlType = "Disconnect"
)

// Daemon-originated variants.
const (
	ClientRegistered ControlType = "ClientRegistered"
	SessionCreated   ControlType = "SessionCreated"
	SessionList      ControlType = "SessionList"
	SessionTerminated ControlType = "SessionTerminated"
	Error            ControlType = "Error"
	SessionOutput    ControlType = "SessionOutput"
)

// SessionInfo is the read-only snapshot of a session returned by
// SessionList and SessionCreated.
type SessionInfo struct {
	SessionID    ids.SessionID `json:"session_id"`
	Shell        string        `json:"shell"`
	Cwd          string        `json:"cwd,omitempty"`
	CreatedAt    int64         `json:"created_at"`
	LastActivity int64         `json:"last_activity"`
	Attached     int           `json:"attached"`
	State        string        `json:"state"`
}

// Control is the single JSON struct carried by every FrameControl frame.
// Which fields are meaningful depends on Type; the rest are left zero and
// omitted from the wire form.
type Control struct {
	Type ControlType `json:"type"`

	ClientID  *ids.ClientID  `json:"client_id,omitempty"`
	SessionID *ids.SessionID `json:"session_id,omitempty"`

	Shell string `json:"shell,omitempty"`
	Cwd   string `json:"cwd,omitempty"`

	Data []byte `json:"data,omitempty"`

	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	Session  *SessionInfo  `json:"session,omitempty"`
	Sessions []SessionInfo `json:"sessions,omitempty"`

	Message string `json:"message,omitempty"`
}

// EncodeControl marshals c to JSON for a FrameControl payload.
func EncodeControl(c Control) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("wire: encode control: %w", err)
	}
	return b, nil
}

// DecodeControl unmarshals a FrameControl payload into a Control. Malformed
// JSON or a missing Type is a decode error, on which the dispatcher closes
// the connection. An unrecognized but non-empty Type decodes without error;
// the dispatcher answers it with an Error reply rather than a disconnect.
func DecodeControl(payload []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(payload, &c); err != nil {
		return Control{}, fmt.Errorf("wire: decode control: %w", err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("wire: control message missing type")
	}
	return c, nil
}

// ErrorControl builds an Error reply carrying msg.
func ErrorControl(msg string) Control {
	return Control{Type: Error, Message: msg}
}
