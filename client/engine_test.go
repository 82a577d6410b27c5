package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dragonrock/tabletop"
)

func newTestEngine(t *testing.T, cb Callbacks) *Engine {
	t.Helper()

	e, err := NewEngine(newTestStore(t), cb)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func mustEnvelope(t *testing.T, event, tableID string, payload any, origin string) tabletop.Envelope {
	t.Helper()

	env, err := tabletop.NewEnvelope(event, tableID, payload, origin)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func TestNewEngineCreatesStableOriginID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(store, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	origin := e.OriginID()
	if origin == "" {
		t.Fatal("empty origin id")
	}
	store.Close()

	// Same install, same origin.
	store, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	e, err = NewEngine(store, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	if e.OriginID() != origin {
		t.Fatalf("origin changed across restart: %q -> %q", origin, e.OriginID())
	}
}

func TestOfflineEditsPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheet.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(store, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}

	// Fully offline: no Connect was ever called.
	if err := e.SetTitle("Friday Session"); err != nil {
		t.Fatal(err)
	}
	if err := e.SetEditMode(false); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChar(tabletop.NewCharacter("Ayla")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	store, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	e, err = NewEngine(store, Callbacks{})
	if err != nil {
		t.Fatal(err)
	}

	state := e.State()
	if state.Title != "Friday Session" {
		t.Fatalf("title = %q", state.Title)
	}
	if state.EditMode {
		t.Fatal("editMode not persisted")
	}
	if len(state.Chars) != 1 || state.Chars[0].Name != "Ayla" {
		t.Fatalf("chars = %+v", state.Chars)
	}
}

func TestEchoSuppression(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.SetTitle("mine"); err != nil {
		t.Fatal(err)
	}

	// A relayed copy of the engine's own patch must be discarded.
	echoed := "echoed over my edit"
	e.handle(mustEnvelope(t, tabletop.EventStatePatch, e.TableID(),
		tabletop.Patch{Title: &echoed}, e.OriginID()))
	if got := e.State().Title; got != "mine" {
		t.Fatalf("title = %q, own echo was applied", got)
	}

	// The same patch from a different origin applies.
	remote := "their edit"
	e.handle(mustEnvelope(t, tabletop.EventStatePatch, e.TableID(),
		tabletop.Patch{Title: &remote}, "someone-else"))
	if got := e.State().Title; got != remote {
		t.Fatalf("title = %q, want %q", got, remote)
	}
}

func TestRemoteCharEventsApplyPositionally(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	e.handle(mustEnvelope(t, tabletop.EventCharAdd, e.TableID(),
		tabletop.CharAdd{Value: tabletop.NewCharacter("Ayla")}, "peer"))
	e.handle(mustEnvelope(t, tabletop.EventCharAdd, e.TableID(),
		tabletop.CharAdd{Value: tabletop.NewCharacter("Bren")}, "peer"))

	updated := tabletop.NewCharacter("Bren the Bold")
	e.handle(mustEnvelope(t, tabletop.EventCharUpdate, e.TableID(),
		tabletop.CharUpdate{Index: 1, Value: updated}, "peer"))

	state := e.State()
	if len(state.Chars) != 2 || state.Chars[1].Name != "Bren the Bold" {
		t.Fatalf("chars = %+v", state.Chars)
	}

	// Out-of-range updates and deletes are ignored, not an error.
	e.handle(mustEnvelope(t, tabletop.EventCharUpdate, e.TableID(),
		tabletop.CharUpdate{Index: 9, Value: updated}, "peer"))
	e.handle(mustEnvelope(t, tabletop.EventCharDelete, e.TableID(),
		tabletop.CharDelete{Index: 9}, "peer"))
	if got := len(e.State().Chars); got != 2 {
		t.Fatalf("len = %d after out-of-range events", got)
	}

	e.handle(mustEnvelope(t, tabletop.EventCharDelete, e.TableID(),
		tabletop.CharDelete{Index: 0}, "peer"))
	state = e.State()
	if len(state.Chars) != 1 || state.Chars[0].Name != "Bren the Bold" {
		t.Fatalf("chars = %+v after delete", state.Chars)
	}
}

func TestRemoteCharsAreClamped(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	hostile := tabletop.NewCharacter("Crash")
	hostile.Stats.Strength = 9000
	hostile.Health.Current = -5

	e.handle(mustEnvelope(t, tabletop.EventCharAdd, e.TableID(),
		tabletop.CharAdd{Value: hostile}, "peer"))

	got := e.State().Chars[0]
	if got.Stats.Strength != tabletop.CoreStatMax {
		t.Fatalf("strength = %d, not clamped", got.Stats.Strength)
	}
	if got.Health.Current != 0 {
		t.Fatalf("health = %d, not clamped", got.Health.Current)
	}
}

func TestUpdateCharClearsPreviousClaim(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.Login("player1", "player1"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChar(tabletop.NewCharacter("Ayla")); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChar(tabletop.NewCharacter("Bren")); err != nil {
		t.Fatal(err)
	}

	if err := e.ClaimCharacter(0); err != nil {
		t.Fatal(err)
	}
	if err := e.ClaimCharacter(1); err != nil {
		t.Fatal(err)
	}

	chars := e.State().Chars
	if chars[0].Owner != "" {
		t.Fatalf("first claim survived: %q", chars[0].Owner)
	}
	if chars[1].Owner != "player1" {
		t.Fatalf("owner = %q", chars[1].Owner)
	}
}

func TestClaimRequiresLogin(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.AddChar(tabletop.NewCharacter("Ayla")); err != nil {
		t.Fatal(err)
	}
	if err := e.ClaimCharacter(0); err == nil {
		t.Fatal("claim without login accepted")
	}
}

func TestReleaseCharacter(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.Login("gm", "gm123"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChar(tabletop.NewCharacter("Ayla")); err != nil {
		t.Fatal(err)
	}
	if err := e.ClaimCharacter(0); err != nil {
		t.Fatal(err)
	}
	if err := e.ReleaseCharacter(0); err != nil {
		t.Fatal(err)
	}
	if got := e.State().Chars[0].Owner; got != "" {
		t.Fatalf("owner = %q after release", got)
	}
}

func TestAuthRejectionRollsBackLogin(t *testing.T) {
	results := make(chan tabletop.AuthResult, 1)
	e := newTestEngine(t, Callbacks{
		AuthResult: func(res tabletop.AuthResult) { results <- res },
	})

	if err := e.Login("gm", "gm123"); err != nil {
		t.Fatal(err)
	}
	if e.CurrentUser() == nil {
		t.Fatal("optimistic login not recorded")
	}

	e.handle(mustEnvelope(t, tabletop.EventAuthResult, "",
		tabletop.AuthResult{OK: false, Reason: "username already logged in"}, ""))

	select {
	case res := <-results:
		if res.OK {
			t.Fatal("callback got an OK result")
		}
	case <-time.After(time.Second):
		t.Fatal("AuthResult callback never fired")
	}
	if e.CurrentUser() != nil {
		t.Fatal("rejected login not rolled back")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.Login("gm", "wrong"); err != ErrBadCredentials {
		t.Fatalf("err = %v", err)
	}
	if err := e.Login("player11", "player11"); err != ErrBadCredentials {
		t.Fatalf("err = %v", err)
	}
	if e.CurrentUser() != nil {
		t.Fatal("failed login left a user behind")
	}
}

// Two clients deleting different indices concurrently end up with different
// lists. Index addressing has no concurrency control; this pins the known
// divergence rather than hiding it.
func TestConcurrentIndexDeletesDiverge(t *testing.T) {
	seed := []tabletop.Character{
		tabletop.NewCharacter("a"),
		tabletop.NewCharacter("b"),
		tabletop.NewCharacter("c"),
	}

	a := newTestEngine(t, Callbacks{})
	b := newTestEngine(t, Callbacks{})
	for _, ch := range seed {
		if err := a.AddChar(ch); err != nil {
			t.Fatal(err)
		}
		if err := b.AddChar(ch); err != nil {
			t.Fatal(err)
		}
	}

	// A deletes index 0 while B deletes index 1, then each receives the
	// other's event.
	if err := a.DeleteChar(0); err != nil {
		t.Fatal(err)
	}
	if err := b.DeleteChar(1); err != nil {
		t.Fatal(err)
	}
	a.handle(mustEnvelope(t, tabletop.EventCharDelete, a.TableID(), tabletop.CharDelete{Index: 1}, b.OriginID()))
	b.handle(mustEnvelope(t, tabletop.EventCharDelete, b.TableID(), tabletop.CharDelete{Index: 0}, a.OriginID()))

	aNames := charNames(a.State().Chars)
	bNames := charNames(b.State().Chars)
	if len(aNames) != 1 || len(bNames) != 1 {
		t.Fatalf("a=%v b=%v", aNames, bNames)
	}
	if aNames[0] == bNames[0] {
		t.Fatalf("mirrors converged to %v, expected the documented divergence", aNames)
	}
}

func charNames(chars []tabletop.Character) []string {
	names := make([]string, len(chars))
	for i, ch := range chars {
		names[i] = ch.Name
	}
	return names
}

func TestSetServerValidation(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.SetServer("ftp://example.com"); err == nil {
		t.Fatal("bad scheme accepted")
	}
	if err := e.SetServer("https://relay.example.com"); err != nil {
		t.Fatal(err)
	}
}

func TestConnectHandshakePushesLocalMirror(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	if err := e.SetTitle("local truth"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddChar(tabletop.NewCharacter("Ayla")); err != nil {
		t.Fatal(err)
	}

	received := make(chan tabletop.Envelope, 8)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var env tabletop.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			received <- env
		}
	}))
	t.Cleanup(srv.Close)

	if err := e.SetServer(srv.URL); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = e.Close() })

	if got := e.Status(); got != StatusConnected {
		t.Fatalf("status = %q", got)
	}

	// No login was performed, so the handshake is join then a full push.
	env := waitEnvelope(t, received)
	if env.Event != tabletop.EventJoin || env.TableID != e.TableID() {
		t.Fatalf("first envelope = %+v, want join", env)
	}
	if env.OriginClientID != e.OriginID() {
		t.Fatalf("join origin = %q", env.OriginClientID)
	}

	env = waitEnvelope(t, received)
	if env.Event != tabletop.EventStateUpdate {
		t.Fatalf("second envelope = %+v, want state:update", env)
	}
	var patch tabletop.Patch
	if err := json.Unmarshal(env.Payload, &patch); err != nil {
		t.Fatal(err)
	}
	if patch.Title == nil || *patch.Title != "local truth" {
		t.Fatalf("pushed title = %v", patch.Title)
	}
	if patch.Chars == nil || len(*patch.Chars) != 1 {
		t.Fatalf("pushed chars = %v", patch.Chars)
	}
}

func waitEnvelope(t *testing.T, ch <-chan tabletop.Envelope) tabletop.Envelope {
	t.Helper()

	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("no envelope before deadline")
		return tabletop.Envelope{}
	}
}

func TestConnectFailureLeavesOfflineEditing(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	// Nothing listens here; Connect must fail out, not wedge the sheet.
	if err := e.SetServer("http://127.0.0.1:1"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := e.Connect(ctx); err == nil {
		t.Fatal("connect to a dead address succeeded")
	}
	if got := e.Status(); got != StatusDisconnected {
		t.Fatalf("status = %q", got)
	}
	if err := e.SetTitle("still editable"); err != nil {
		t.Fatal(err)
	}
	if got := e.State().Title; got != "still editable" {
		t.Fatalf("title = %q", got)
	}
}
