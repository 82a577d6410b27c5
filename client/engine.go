// Package client implements the sheet's sync engine: a local-first mirror of
// one table's state, optimistic edits broadcast through the relay, and
// origin-echo suppression so a client never re-applies its own patches.
//
// The engine stays fully usable offline; the relay connection only mirrors
// edits to other participants. On connect the engine joins its table and
// immediately pushes its own mirror as a full state:update, so the first
// client to connect after a relay restart becomes the source of truth.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dragonrock/tabletop"
)

// Status is the single user-visible signal of sync health.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Reconnect policy: a fixed number of attempts with fixed backoff, then the
// sheet degrades to offline editing.
const (
	dialTimeout  = 10 * time.Second
	dialAttempts = 5
	dialBackoff  = time.Second
)

// DefaultTableID is the table joined when none was persisted.
const DefaultTableID = "table-1"

// DefaultServerURL points at a locally running relay.
const DefaultServerURL = "http://localhost:3001"

// Callbacks let a renderer react to remote activity. All are optional and
// invoked from the engine's read loop.
type Callbacks struct {
	Render     func()                  // remote change applied to the mirror
	Status     func(Status)            // connection state transitions
	AuthResult func(tabletop.AuthResult)
	DiceToast  func(tabletop.DiceRoll) // a roll entered the toast feed
	Presence   func(event string, p tabletop.Presence)
	Music      func(PlayerState)
}

// Engine owns the canonical local copy of the shared table state.
type Engine struct {
	mu    sync.Mutex
	store *Store
	cb    Callbacks

	originID  string
	serverURL string
	tableID   string
	user      *User

	state tabletop.TableState

	conn    *websocket.Conn
	writeMu sync.Mutex
	status  Status

	rollLog *tabletop.RollLog
	toasts  *tabletop.RollLog

	player PlayerState
}

// NewEngine loads the persisted sheet from store and prepares an engine. The
// origin identifier is created once per install and persisted alongside the
// sheet.
func NewEngine(store *Store, cb Callbacks) (*Engine, error) {
	e := &Engine{
		store:     store,
		cb:        cb,
		serverURL: DefaultServerURL,
		tableID:   DefaultTableID,
		state:     *tabletop.NewTableState(),
		status:    StatusDisconnected,
		rollLog:   tabletop.NewRollLog(tabletop.RollLogSize),
		toasts:    tabletop.NewRollLog(tabletop.RollToastSize),
	}

	origin, ok, err := store.Get(keyClientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		origin = uuid.NewString()
		if err := store.Put(keyClientID, origin); err != nil {
			return nil, err
		}
	}
	e.originID = origin

	if title, ok, err := store.Get(keyTitle); err != nil {
		return nil, err
	} else if ok {
		e.state.Title = title
	}
	if raw, ok, err := store.Get(keyEditMode); err != nil {
		return nil, err
	} else if ok {
		e.state.EditMode = raw == "true"
	}
	if _, err := store.GetJSON(keyChars, &e.state.Chars); err != nil {
		return nil, err
	}
	if table, ok, err := store.Get(keyTable); err != nil {
		return nil, err
	} else if ok {
		e.tableID = table
	}
	if server, ok, err := store.Get(keyServer); err != nil {
		return nil, err
	} else if ok {
		e.serverURL = server
	}
	var user User
	if ok, err := store.GetJSON(keyUser, &user); err != nil {
		return nil, err
	} else if ok {
		e.user = &user
	}

	return e, nil
}

// OriginID returns the engine's persistent origin identifier.
func (e *Engine) OriginID() string { return e.originID }

// Status returns the current connection state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// State returns a copy of the local mirror.
func (e *Engine) State() tabletop.TableState {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.state
	out.Chars = append([]tabletop.Character(nil), e.state.Chars...)
	return out
}

// TableID returns the table this engine syncs with.
func (e *Engine) TableID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tableID
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	changed := e.status != s
	e.status = s
	e.mu.Unlock()
	if changed && e.cb.Status != nil {
		e.cb.Status(s)
	}
}

// wsURL converts the persisted http(s) server address to its /ws endpoint.
func wsURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Connect dials the relay with the bounded retry policy and starts the read
// loop. Failure leaves the sheet fully editable offline.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	server := e.serverURL
	e.mu.Unlock()

	target, err := wsURL(server)
	if err != nil {
		return err
	}

	e.setStatus(StatusConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	var conn *websocket.Conn
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, _, err = dialer.DialContext(ctx, target, nil)
		if err == nil {
			break
		}
		if attempt == dialAttempts || ctx.Err() != nil {
			e.setStatus(StatusDisconnected)
			return fmt.Errorf("connect to relay: %w", err)
		}
		time.Sleep(dialBackoff)
	}

	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	e.setStatus(StatusConnected)

	if err := e.handshake(); err != nil {
		_ = conn.Close()
		e.setStatus(StatusDisconnected)
		return err
	}

	go e.readLoop(ctx, conn)
	return nil
}

// handshake claims the identity, joins the table, and pushes the local
// mirror as the authoritative snapshot.
func (e *Engine) handshake() error {
	e.mu.Lock()
	user := e.user
	tableID := e.tableID
	snapshot := e.state.Snapshot()
	e.mu.Unlock()

	if user != nil {
		if err := e.emit(tabletop.EventAuthLogin, "", tabletop.LoginRequest{Username: user.Username}); err != nil {
			return err
		}
	}
	if err := e.emit(tabletop.EventJoin, tableID, nil); err != nil {
		return err
	}
	return e.emit(tabletop.EventStateUpdate, tableID, snapshot)
}

// Close shuts the connection down without clearing any local state.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	e.setStatus(StatusDisconnected)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (e *Engine) emit(event, tableID string, payload any) error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return nil // offline: local edit already applied, nothing to mirror
	}

	env, err := tabletop.NewEnvelope(event, tableID, payload, e.originID)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (e *Engine) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env tabletop.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		e.handle(env)
	}

	e.mu.Lock()
	dropped := e.conn == conn
	if dropped {
		e.conn = nil
	}
	e.mu.Unlock()

	if dropped && ctx.Err() == nil {
		e.setStatus(StatusDisconnected)
		// Bounded reconnect; give up into offline mode after that.
		_ = e.Connect(ctx)
	}
}

// handle applies one remote envelope to the local mirror. Self-originated
// echoes of state and char events are discarded; dice rolls are not
// origin-filtered so the roller sees their own roll in the shared feed.
func (e *Engine) handle(env tabletop.Envelope) {
	switch env.Event {
	case tabletop.EventStatePatch:
		if env.OriginClientID == e.originID {
			return
		}
		var patch tabletop.Patch
		if env.Payload == nil || json.Unmarshal(env.Payload, &patch) != nil {
			return
		}
		e.applyRemotePatch(patch)

	case tabletop.EventCharUpdate:
		if env.OriginClientID == e.originID {
			return
		}
		var p tabletop.CharUpdate
		if env.Payload == nil || json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		e.applyRemoteCharUpdate(p)

	case tabletop.EventCharDelete:
		if env.OriginClientID == e.originID {
			return
		}
		var p tabletop.CharDelete
		if env.Payload == nil || json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		e.applyRemoteCharDelete(p)

	case tabletop.EventCharAdd:
		if env.OriginClientID == e.originID {
			return
		}
		var p tabletop.CharAdd
		if env.Payload == nil || json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		e.applyRemoteCharAdd(p)

	case tabletop.EventDiceRoll:
		var roll tabletop.DiceRoll
		if env.Payload == nil || json.Unmarshal(env.Payload, &roll) != nil {
			return
		}
		e.recordRoll(roll)

	case tabletop.EventMusicControl:
		var mc tabletop.MusicControl
		if env.Payload == nil || json.Unmarshal(env.Payload, &mc) != nil || mc.Validate() != nil {
			return
		}
		e.applyMusicControl(mc)

	case tabletop.EventAuthResult:
		var res tabletop.AuthResult
		if env.Payload == nil || json.Unmarshal(env.Payload, &res) != nil {
			return
		}
		if !res.OK {
			// Roll back the optimistic login.
			e.mu.Lock()
			e.user = nil
			e.mu.Unlock()
			_ = e.store.Delete(keyUser)
		}
		if e.cb.AuthResult != nil {
			e.cb.AuthResult(res)
		}

	case tabletop.EventUserJoined, tabletop.EventUserLeft:
		var p tabletop.Presence
		if env.Payload == nil || json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if e.cb.Presence != nil {
			e.cb.Presence(env.Event, p)
		}
	}
}

func (e *Engine) applyRemotePatch(patch tabletop.Patch) {
	e.mu.Lock()
	if patch.Chars != nil {
		for i := range *patch.Chars {
			(*patch.Chars)[i].Clamp()
		}
	}
	e.state.Apply(patch)
	e.persistStateLocked()
	e.mu.Unlock()
	e.render()
}

// Remote character events are applied positionally, without the
// ownership-clearing pass: the sender is trusted to have run it already.
func (e *Engine) applyRemoteCharUpdate(p tabletop.CharUpdate) {
	e.mu.Lock()
	if p.Index < 0 || p.Index >= len(e.state.Chars) {
		e.mu.Unlock()
		return
	}
	p.Value.Clamp()
	e.state.Chars[p.Index] = p.Value
	e.persistStateLocked()
	e.mu.Unlock()
	e.render()
}

func (e *Engine) applyRemoteCharDelete(p tabletop.CharDelete) {
	e.mu.Lock()
	if p.Index < 0 || p.Index >= len(e.state.Chars) {
		e.mu.Unlock()
		return
	}
	e.state.Chars = append(e.state.Chars[:p.Index], e.state.Chars[p.Index+1:]...)
	e.persistStateLocked()
	e.mu.Unlock()
	e.render()
}

func (e *Engine) applyRemoteCharAdd(p tabletop.CharAdd) {
	e.mu.Lock()
	p.Value.Clamp()
	e.state.Chars = append(e.state.Chars, p.Value)
	e.persistStateLocked()
	e.mu.Unlock()
	e.render()
}

func (e *Engine) render() {
	if e.cb.Render != nil {
		e.cb.Render()
	}
}

// persistStateLocked writes the coarse fields and the character list to the
// local store. Persistence errors do not interrupt sync.
func (e *Engine) persistStateLocked() {
	_ = e.store.Put(keyTitle, e.state.Title)
	_ = e.store.Put(keyEditMode, strconv.FormatBool(e.state.EditMode))
	_ = e.store.PutJSON(keyChars, e.state.Chars)
}

// SetTitle applies the edit locally first, then mirrors it.
func (e *Engine) SetTitle(title string) error {
	e.mu.Lock()
	e.state.Title = title
	e.state.LastUpdate = time.Now().UnixMilli()
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventStatePatch, tableID, tabletop.Patch{Title: &title})
}

// SetEditMode toggles the sheet between edit and play mode.
func (e *Engine) SetEditMode(editMode bool) error {
	e.mu.Lock()
	e.state.EditMode = editMode
	e.state.LastUpdate = time.Now().UnixMilli()
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventStatePatch, tableID, tabletop.Patch{EditMode: &editMode})
}

// UpdateChar replaces the character at idx. When the edit changes the owner
// to a new identity, any other card held by that identity is released first,
// locally and synchronously, so the emitted update already reflects the
// cleared state. The clears themselves are not broadcast.
func (e *Engine) UpdateChar(idx int, ch tabletop.Character) error {
	ch.Clamp()

	e.mu.Lock()
	if idx < 0 || idx >= len(e.state.Chars) {
		e.mu.Unlock()
		return fmt.Errorf("character index %d out of range", idx)
	}
	prev := tabletop.NormalizeOwner(e.state.Chars[idx].Owner)
	if ch.Owner != prev && ch.Owner != "" {
		tabletop.ClaimOwner(e.state.Chars, idx, ch.Owner)
	}
	e.state.Chars[idx] = ch
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventCharUpdate, tableID, tabletop.CharUpdate{Index: idx, Value: ch})
}

// AddChar appends a character and mirrors the addition.
func (e *Engine) AddChar(ch tabletop.Character) error {
	ch.Clamp()

	e.mu.Lock()
	e.state.Chars = append(e.state.Chars, ch)
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventCharAdd, tableID, tabletop.CharAdd{Value: ch})
}

// DeleteChar removes the character at idx and mirrors the deletion. Index
// addressing is fragile under concurrent edits: two clients deleting
// different indices at once can remove unrelated cards on each side.
func (e *Engine) DeleteChar(idx int) error {
	e.mu.Lock()
	if idx < 0 || idx >= len(e.state.Chars) {
		e.mu.Unlock()
		return fmt.Errorf("character index %d out of range", idx)
	}
	e.state.Chars = append(e.state.Chars[:idx], e.state.Chars[idx+1:]...)
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventCharDelete, tableID, tabletop.CharDelete{Index: idx})
}

// ClaimCharacter claims the card at idx for the logged-in identity.
func (e *Engine) ClaimCharacter(idx int) error {
	e.mu.Lock()
	if e.user == nil {
		e.mu.Unlock()
		return errors.New("not logged in")
	}
	username := e.user.Username
	e.mu.Unlock()

	ch := e.charAt(idx)
	if ch == nil {
		return fmt.Errorf("character index %d out of range", idx)
	}
	claimed := *ch
	claimed.Owner = username
	return e.UpdateChar(idx, claimed)
}

// ReleaseCharacter drops the ownership claim on the card at idx.
func (e *Engine) ReleaseCharacter(idx int) error {
	ch := e.charAt(idx)
	if ch == nil {
		return fmt.Errorf("character index %d out of range", idx)
	}
	released := *ch
	released.Owner = ""
	return e.UpdateChar(idx, released)
}

func (e *Engine) charAt(idx int) *tabletop.Character {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx < 0 || idx >= len(e.state.Chars) {
		return nil
	}
	ch := e.state.Chars[idx]
	return &ch
}

// SetTable switches tables; when connected the engine re-joins and pushes
// its mirror to the new table.
func (e *Engine) SetTable(tableID string) error {
	if tableID == "" {
		return errors.New("table id is empty")
	}

	e.mu.Lock()
	e.tableID = tableID
	connected := e.conn != nil
	e.mu.Unlock()
	_ = e.store.Put(keyTable, tableID)

	if !connected {
		return nil
	}
	return e.handshake()
}

// SetServer persists the relay address used by the next Connect.
func (e *Engine) SetServer(serverURL string) error {
	if _, err := wsURL(serverURL); err != nil {
		return err
	}
	e.mu.Lock()
	e.serverURL = serverURL
	e.mu.Unlock()
	return e.store.Put(keyServer, serverURL)
}

// Reset clears every persisted key. The in-memory mirror is untouched; the
// caller is expected to restart the engine.
func (e *Engine) Reset() error {
	return e.store.Reset()
}
