package tabletop

import (
	"encoding/json"
	"testing"
)

func TestMusicControlValidate(t *testing.T) {
	if err := (MusicControl{Action: MusicPlay, Track: &Track{Name: "battle"}}).Validate(); err != nil {
		t.Fatalf("play rejected: %v", err)
	}
	if err := (MusicControl{Action: MusicPause}).Validate(); err != nil {
		t.Fatalf("pause rejected: %v", err)
	}
	if err := (MusicControl{Action: "stop"}).Validate(); err == nil {
		t.Fatal("unknown action accepted")
	}
}

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EventStatePatch, "table-1", Patch{Title: strPtr("x")}, "origin-1")
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != EventStatePatch || env.TableID != "table-1" || env.OriginClientID != "origin-1" {
		t.Fatalf("envelope framing wrong: %+v", env)
	}

	var p Patch
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Title == nil || *p.Title != "x" {
		t.Fatalf("payload did not round-trip: %+v", p)
	}

	env, err = NewEnvelope(EventJoin, "table-1", nil, "origin-1")
	if err != nil {
		t.Fatal(err)
	}
	if env.Payload != nil {
		t.Fatalf("nil payload marshalled to %s", env.Payload)
	}
}
