package client

import (
	"testing"

	"dragonrock/tabletop"
)

func TestMusicControlRequiresGM(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	track := tabletop.Track{Name: "battle", DataURL: "data:audio/mp3;base64,AAAA"}
	if err := e.PlayTrack(track); err != ErrNotGM {
		t.Fatalf("err = %v, want ErrNotGM when logged out", err)
	}

	if err := e.Login("player1", "player1"); err != nil {
		t.Fatal(err)
	}
	if err := e.PlayTrack(track); err != ErrNotGM {
		t.Fatalf("err = %v, want ErrNotGM for a player", err)
	}
	if err := e.PauseMusic(); err != ErrNotGM {
		t.Fatalf("err = %v", err)
	}

	if err := e.Login("gm", "gm123"); err != nil {
		t.Fatal(err)
	}
	if err := e.PlayTrack(track); err != nil {
		t.Fatal(err)
	}
	if p := e.Player(); !p.Playing || p.Track == nil || p.Track.Name != "battle" {
		t.Fatalf("player = %+v", p)
	}
	if err := e.PauseMusic(); err != nil {
		t.Fatal(err)
	}
	if p := e.Player(); p.Playing {
		t.Fatal("still playing after pause")
	}
}

func TestRemotePlayHeldUntilInteraction(t *testing.T) {
	var updates []PlayerState
	e := newTestEngine(t, Callbacks{
		Music: func(p PlayerState) { updates = append(updates, p) },
	})

	track := tabletop.Track{Name: "tavern", DataURL: "data:audio/mp3;base64,AAAA"}
	e.handle(mustEnvelope(t, tabletop.EventMusicControl, e.TableID(),
		tabletop.MusicControl{Action: tabletop.MusicPlay, Track: &track}, "gm-origin"))

	p := e.Player()
	if p.Playing {
		t.Fatal("autoplay before first gesture")
	}
	if !p.PendingPlay {
		t.Fatal("play intent not queued")
	}
	if p.Track == nil || p.Track.Name != "tavern" {
		t.Fatalf("track = %+v", p.Track)
	}

	// The first gesture satisfies the queued intent.
	e.MarkInteracted()
	p = e.Player()
	if !p.Playing || p.PendingPlay {
		t.Fatalf("player = %+v after gesture", p)
	}
	if len(updates) == 0 {
		t.Fatal("music callback never fired")
	}

	// Subsequent plays start immediately.
	e.handle(mustEnvelope(t, tabletop.EventMusicControl, e.TableID(),
		tabletop.MusicControl{Action: tabletop.MusicPause}, "gm-origin"))
	e.handle(mustEnvelope(t, tabletop.EventMusicControl, e.TableID(),
		tabletop.MusicControl{Action: tabletop.MusicPlay}, "gm-origin"))
	if p = e.Player(); !p.Playing || p.PendingPlay {
		t.Fatalf("player = %+v after interacted play", p)
	}
}

func TestRemotePauseClearsPendingPlay(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	e.handle(mustEnvelope(t, tabletop.EventMusicControl, e.TableID(),
		tabletop.MusicControl{Action: tabletop.MusicPlay}, "gm-origin"))
	e.handle(mustEnvelope(t, tabletop.EventMusicControl, e.TableID(),
		tabletop.MusicControl{Action: tabletop.MusicPause}, "gm-origin"))

	e.MarkInteracted()
	if p := e.Player(); p.Playing || p.PendingPlay {
		t.Fatalf("player = %+v, pause should have cleared the intent", p)
	}
}

func TestPlaylistPersistence(t *testing.T) {
	e := newTestEngine(t, Callbacks{})

	tracks, err := e.Tracks()
	if err != nil || len(tracks) != 0 {
		t.Fatalf("fresh playlist: %v %v", tracks, err)
	}

	if err := e.AddTrack(tabletop.Track{Name: "one", DataURL: "data:audio/mp3;base64,AA"}); err != nil {
		t.Fatal(err)
	}
	if err := e.AddTrack(tabletop.Track{Name: "two", DataURL: "data:audio/mp3;base64,BB"}); err != nil {
		t.Fatal(err)
	}

	tracks, err = e.Tracks()
	if err != nil || len(tracks) != 2 {
		t.Fatalf("tracks = %v err = %v", tracks, err)
	}

	if err := e.RemoveTrack(0); err != nil {
		t.Fatal(err)
	}
	tracks, _ = e.Tracks()
	if len(tracks) != 1 || tracks[0].Name != "two" {
		t.Fatalf("tracks = %v", tracks)
	}

	if err := e.RemoveTrack(7); err == nil {
		t.Fatal("out-of-range removal accepted")
	}
}
