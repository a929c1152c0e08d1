// Package ids defines the identifier types shared by every other package:
// SessionID names a PTY session, ClientID names a connected dispatcher.
// Both wrap uuid.UUID so they are stable, comparable (usable as map keys),
// and serialize to the same textual form over the wire and on the CLI.
package ids

import (
	"encoding/json"

	"github.com/google/uuid"
)

// SessionID identifies one PTY session for the lifetime of the daemon.
type SessionID uuid.UUID

// ClientID identifies one connected dispatcher for the lifetime of its connection.
type ClientID uuid.UUID

// NewSessionID returns a fresh random session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewClientID returns a fresh random client identifier.
func NewClientID() ClientID { return ClientID(uuid.New()) }

// ParseSessionID parses a canonical UUID string into a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(u), nil
}

// ParseClientID parses a canonical UUID string into a ClientID.
func ParseClientID(s string) (ClientID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ClientID{}, err
	}
	return ClientID(u), nil
}

func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id ClientID) String() string  { return uuid.UUID(id).String() }

func (id SessionID) IsZero() bool { return id == SessionID{} }
func (id ClientID) IsZero() bool  { return id == ClientID{} }

func (id SessionID) MarshalJSON() ([]byte, error) { return json.Marshal(uuid.UUID(id).String()) }
func (id ClientID) MarshalJSON() ([]byte, error)  { return json.Marshal(uuid.UUID(id).String()) }

func (id *SessionID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = SessionID(u)
	return nil
}

func (id *ClientID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ClientID(u)
	return nil
}
