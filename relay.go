// Dragonrock Relay
//
// A thin merge-and-forward relay for the shared tabletop sheet. Browser and
// native clients keep their own authoritative local copy of a table's state;
// the relay's only jobs are:
//
// - One websocket endpoint (/ws); table scoping rides inside every payload.
// - Global username locks: one live connection per identity, anywhere.
// - One shared state blob per table key, created on first join and deleted
//   when the last occupant disconnects. Never persisted past process memory.
// - state:update / state:patch are shallow-merged server-side (last patch
//   received wins, no per-field versioning) and rebroadcast to the rest of
//   the table as state:patch.
// - char:update / char:delete / char:add are forwarded verbatim and NOT
//   merged into the relay's own blob; a client joining mid-session sees
//   characters as of the last full state:update. Deliberate: state:update
//   is the only authoritative snapshot path.
// - dice:roll and music:control are ephemeral, forward-to-others-only.
// - Events missing a table key or payload are silently dropped.
//
// All table and identity mutation is serialized through a single run loop;
// read pumps only parse and forward.

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"dragonrock/tabletop"
)

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan tabletop.Envelope

	// Owned by the relay run loop.
	username string
	table    string
}

type inbound struct {
	client *wsClient
	env    tabletop.Envelope
}

// Relay owns every table blob and identity lock for one process. It is
// constructed on server start and discarded on shutdown; nothing survives
// the process.
type Relay struct {
	cfg     *Config
	started time.Time

	register   chan *wsClient
	unregister chan *wsClient
	events     chan inbound

	mu         sync.RWMutex
	tables     map[string]*tabletop.TableState
	members    map[*wsClient]string
	identities map[string]*wsClient
}

func newRelay(cfg *Config) *Relay {
	return &Relay{
		cfg:        cfg,
		started:    time.Now(),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan inbound, 64),
		tables:     make(map[string]*tabletop.TableState),
		members:    make(map[*wsClient]string),
		identities: make(map[string]*wsClient),
	}
}

func (rl *Relay) run(ctx context.Context) {
	for {
		select {
		case c := <-rl.register:
			rl.mu.Lock()
			rl.members[c] = ""
			rl.mu.Unlock()
			logf(rl.cfg, "RELAY: Connected %s", c.id)

		case c := <-rl.unregister:
			rl.handleDisconnect(c)

		case in := <-rl.events:
			rl.dispatch(in.client, in.env)

		case <-ctx.Done():
			rl.mu.Lock()
			for c := range rl.members {
				close(c.send)
				_ = c.conn.Close()
				delete(rl.members, c)
			}
			rl.tables = make(map[string]*tabletop.TableState)
			rl.identities = make(map[string]*wsClient)
			rl.mu.Unlock()
			return
		}
	}
}

// dispatch routes one inbound envelope. Unknown events and events missing
// required fields fall through without a reply.
func (rl *Relay) dispatch(c *wsClient, env tabletop.Envelope) {
	switch env.Event {
	case tabletop.EventAuthLogin:
		rl.handleLogin(c, env)
	case tabletop.EventAuthLogout:
		rl.handleLogout(c)
	case tabletop.EventJoin:
		rl.handleJoin(c, env)
	case tabletop.EventStateUpdate, tabletop.EventStatePatch:
		rl.handlePatch(c, env)
	case tabletop.EventCharUpdate, tabletop.EventCharDelete, tabletop.EventCharAdd,
		tabletop.EventDiceRoll, tabletop.EventMusicControl:
		rl.handlePassthrough(c, env)
	}
}

func (rl *Relay) handleLogin(c *wsClient, env tabletop.Envelope) {
	var req tabletop.LoginRequest
	if env.Payload == nil || json.Unmarshal(env.Payload, &req) != nil || req.Username == "" {
		rl.reply(c, tabletop.AuthResult{OK: false, Reason: "invalid username"})
		return
	}

	identity := tabletop.NormalizeOwner(req.Username)

	rl.mu.Lock()
	holder, taken := rl.identities[identity]
	if taken && holder != c {
		rl.mu.Unlock()
		rl.reply(c, tabletop.AuthResult{OK: false, Reason: "username already logged in"})
		return
	}
	if c.username != "" && c.username != identity {
		delete(rl.identities, c.username)
	}
	rl.identities[identity] = c
	c.username = identity
	rl.mu.Unlock()

	logf(rl.cfg, "RELAY: Identity %q locked by %s", identity, c.id)
	rl.reply(c, tabletop.AuthResult{OK: true})
}

func (rl *Relay) handleLogout(c *wsClient) {
	rl.mu.Lock()
	if c.username != "" {
		if holder, ok := rl.identities[c.username]; ok && holder == c {
			delete(rl.identities, c.username)
		}
		c.username = ""
	}
	rl.mu.Unlock()
}

func (rl *Relay) handleJoin(c *wsClient, env tabletop.Envelope) {
	tableID := env.TableID
	if tableID == "" {
		return
	}

	rl.mu.Lock()
	c.table = tableID
	rl.members[c] = tableID

	state, ok := rl.tables[tableID]
	if !ok {
		state = tabletop.NewTableState()
		rl.tables[tableID] = state
		logf(rl.cfg, "RELAY: Table %q created", tableID)
	}
	snapshot := state.Snapshot()
	rl.mu.Unlock()

	rl.sendPatch(c, tableID, snapshot)
	rl.broadcast(tableID, c, mustEnvelope(tabletop.EventUserJoined, tableID,
		tabletop.Presence{UserID: c.id, TableID: tableID}, ""))

	logf(rl.cfg, "RELAY: %s joined table %q", c.id, tableID)
}

func (rl *Relay) handlePatch(c *wsClient, env tabletop.Envelope) {
	if env.TableID == "" || env.Payload == nil {
		return
	}
	var patch tabletop.Patch
	if json.Unmarshal(env.Payload, &patch) != nil {
		return
	}

	rl.mu.Lock()
	state, ok := rl.tables[env.TableID]
	if !ok {
		state = tabletop.NewTableState()
		rl.tables[env.TableID] = state
	}
	state.Apply(patch)
	rl.mu.Unlock()

	out := env
	out.Event = tabletop.EventStatePatch
	rl.broadcast(env.TableID, c, out)
	logf(rl.cfg, "RELAY: Table %q patched by %s", env.TableID, c.id)
}

// handlePassthrough forwards element-addressed and ephemeral events to the
// rest of the table without touching the relay's own blob. The payload is
// shape-checked first so peers never see garbage.
func (rl *Relay) handlePassthrough(c *wsClient, env tabletop.Envelope) {
	if env.TableID == "" || env.Payload == nil {
		return
	}
	if !validPassthrough(env) {
		return
	}
	rl.broadcast(env.TableID, c, env)
}

func validPassthrough(env tabletop.Envelope) bool {
	switch env.Event {
	case tabletop.EventCharUpdate:
		var p tabletop.CharUpdate
		return json.Unmarshal(env.Payload, &p) == nil && p.Index >= 0
	case tabletop.EventCharDelete:
		var p tabletop.CharDelete
		return json.Unmarshal(env.Payload, &p) == nil && p.Index >= 0
	case tabletop.EventCharAdd:
		var p tabletop.CharAdd
		return json.Unmarshal(env.Payload, &p) == nil
	case tabletop.EventDiceRoll:
		var p tabletop.DiceRoll
		if json.Unmarshal(env.Payload, &p) != nil {
			return false
		}
		return tabletop.ValidDie(p.Die) && p.Result >= 1 && p.Result <= p.Die
	case tabletop.EventMusicControl:
		var p tabletop.MusicControl
		return json.Unmarshal(env.Payload, &p) == nil && p.Validate() == nil
	}
	return false
}

func (rl *Relay) handleDisconnect(c *wsClient) {
	rl.mu.Lock()
	if c.username != "" {
		if holder, ok := rl.identities[c.username]; ok && holder == c {
			delete(rl.identities, c.username)
		}
	}

	tableID := c.table
	if _, ok := rl.members[c]; ok {
		delete(rl.members, c)
		close(c.send)
	}

	emptied := false
	if tableID != "" {
		occupied := false
		for _, t := range rl.members {
			if t == tableID {
				occupied = true
				break
			}
		}
		if !occupied {
			delete(rl.tables, tableID)
			emptied = true
		}
	}
	rl.mu.Unlock()

	if tableID != "" {
		rl.broadcast(tableID, c, mustEnvelope(tabletop.EventUserLeft, tableID,
			tabletop.Presence{UserID: c.id, TableID: tableID}, ""))
	}
	if emptied {
		logf(rl.cfg, "RELAY: Table %q emptied and deleted", tableID)
	}
	logf(rl.cfg, "RELAY: Disconnected %s", c.id)
}

// broadcast queues env on every member of tableID except sender. Clients
// that cannot keep up are dropped, the same way an unreachable websocket
// peer would be.
func (rl *Relay) broadcast(tableID string, sender *wsClient, env tabletop.Envelope) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for c, table := range rl.members {
		if c == sender || table != tableID {
			continue
		}
		select {
		case c.send <- env:
		default:
			delete(rl.members, c)
			close(c.send)
			_ = c.conn.Close()
		}
	}
}

func (rl *Relay) reply(c *wsClient, result tabletop.AuthResult) {
	env, err := tabletop.NewEnvelope(tabletop.EventAuthResult, "", result, "")
	if err != nil {
		return
	}
	rl.sendTo(c, env)
}

// sendPatch delivers a full-state snapshot to a single connection.
func (rl *Relay) sendPatch(c *wsClient, tableID string, patch tabletop.Patch) {
	env, err := tabletop.NewEnvelope(tabletop.EventStatePatch, tableID, patch, "")
	if err != nil {
		return
	}
	rl.sendTo(c, env)
}

// sendTo queues env for a single client, skipping connections broadcast has
// already dropped (their send channel is closed).
func (rl *Relay) sendTo(c *wsClient, env tabletop.Envelope) {
	rl.mu.RLock()
	_, alive := rl.members[c]
	rl.mu.RUnlock()
	if !alive {
		return
	}
	select {
	case c.send <- env:
	default:
	}
}

func mustEnvelope(event, tableID string, payload any, origin string) tabletop.Envelope {
	env, err := tabletop.NewEnvelope(event, tableID, payload, origin)
	if err != nil {
		panic(err)
	}
	return env
}

// tableCount and userCount feed the /api and /status endpoints.
func (rl *Relay) tableCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.tables)
}

func (rl *Relay) userCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.identities)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWS upgrades the connection and runs the pumps until disconnect.
func serveWS(cfg *Config, rl *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "RELAY: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		client := &wsClient{
			id:   uuid.NewString(),
			conn: conn,
			send: make(chan tabletop.Envelope, 64),
		}

		rl.register <- client

		go client.writePump()
		client.readPump(rl)
	}
}

func (c *wsClient) readPump(rl *Relay) {
	defer func() {
		rl.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		var env tabletop.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Event == "" {
			continue
		}
		rl.events <- inbound{client: c, env: env}
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			return
		}
	}
}
