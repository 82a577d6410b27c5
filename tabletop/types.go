// Package tabletop holds the shared data model and wire protocol for the
// dragonrock relay and its client sync engine.
//
// Every message crossing the websocket is an Envelope: a named event, the
// table key it is scoped to, a typed payload, and the origin client id used
// for echo suppression. The relay treats coarse state patches and
// element-addressed character events differently: patches are merged into
// the server-side table blob, char:* events are forwarded verbatim and never
// merged (clients joining mid-session see characters as of the last full
// state:update).
package tabletop

import (
	"encoding/json"
	"errors"
)

// Event names carried in Envelope.Event.
const (
	EventAuthLogin    = "auth:login"
	EventAuthLogout   = "auth:logout"
	EventAuthResult   = "auth:result"
	EventJoin         = "join"
	EventStateUpdate  = "state:update"
	EventStatePatch   = "state:patch"
	EventCharUpdate   = "char:update"
	EventCharDelete   = "char:delete"
	EventCharAdd      = "char:add"
	EventDiceRoll     = "dice:roll"
	EventMusicControl = "music:control"
	EventUserJoined   = "user:joined"
	EventUserLeft     = "user:left"
)

// Envelope is the framing for every websocket message.
type Envelope struct {
	Event          string          `json:"event"`
	TableID        string          `json:"tableId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OriginClientID string          `json:"originClientId,omitempty"`
}

// LoginRequest asks the relay to lock a username for this connection.
type LoginRequest struct {
	Username string `json:"username"`
}

// AuthResult is the relay's reply to auth:login.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CharUpdate replaces the character at Index.
type CharUpdate struct {
	Index int       `json:"index"`
	Value Character `json:"value"`
}

// CharDelete removes the character at Index.
type CharDelete struct {
	Index int `json:"index"`
}

// CharAdd appends a character to the list.
type CharAdd struct {
	Value Character `json:"value"`
}

// Presence announces a connection joining or leaving a table.
type Presence struct {
	UserID  string `json:"userId"`
	TableID string `json:"tableId"`
}

// Track is an audio track shared by the GM, payload embedded as a data URL.
type Track struct {
	Name    string `json:"name"`
	DataURL string `json:"dataUrl"`
}

// Music control actions.
const (
	MusicPlay  = "play"
	MusicPause = "pause"
)

// MusicControl starts or stops playback on every other client in the table.
type MusicControl struct {
	Action string `json:"action"`
	Track  *Track `json:"track,omitempty"`
}

// Validate rejects control messages with an unknown action.
func (m MusicControl) Validate() error {
	if m.Action != MusicPlay && m.Action != MusicPause {
		return errors.New("unknown music action: " + m.Action)
	}
	return nil
}

// NewEnvelope marshals payload into a ready-to-send envelope.
func NewEnvelope(event, tableID string, payload any, origin string) (Envelope, error) {
	env := Envelope{Event: event, TableID: tableID, OriginClientID: origin}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
