package client

import (
	"errors"

	"dragonrock/tabletop"
)

// PlayerState mirrors the hidden audio player every non-GM client runs.
// Browsers refuse playback before the first user gesture, so a play command
// that arrives too early is queued as a pending intent until MarkInteracted.
type PlayerState struct {
	Track       *tabletop.Track
	Playing     bool
	PendingPlay bool
	Interacted  bool
}

// ErrNotGM is returned when a player tries to drive the shared music.
var ErrNotGM = errors.New("only the gm controls music")

// PlayTrack broadcasts a play command carrying the track. GM only.
func (e *Engine) PlayTrack(track tabletop.Track) error {
	if err := e.requireGM(); err != nil {
		return err
	}

	e.mu.Lock()
	e.player.Track = &track
	e.player.Playing = true
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventMusicControl, tableID,
		tabletop.MusicControl{Action: tabletop.MusicPlay, Track: &track})
}

// PauseMusic broadcasts a pause command. GM only.
func (e *Engine) PauseMusic() error {
	if err := e.requireGM(); err != nil {
		return err
	}

	e.mu.Lock()
	e.player.Playing = false
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventMusicControl, tableID,
		tabletop.MusicControl{Action: tabletop.MusicPause})
}

func (e *Engine) requireGM() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.user == nil || e.user.Role != RoleGM {
		return ErrNotGM
	}
	return nil
}

// applyMusicControl applies a remote play/pause to the hidden player.
func (e *Engine) applyMusicControl(mc tabletop.MusicControl) {
	e.mu.Lock()
	if mc.Track != nil {
		track := *mc.Track
		e.player.Track = &track
	}
	switch mc.Action {
	case tabletop.MusicPlay:
		if e.player.Interacted {
			e.player.Playing = true
			e.player.PendingPlay = false
		} else {
			// Autoplay would be rejected; hold the intent until a gesture.
			e.player.Playing = false
			e.player.PendingPlay = true
		}
	case tabletop.MusicPause:
		e.player.Playing = false
		e.player.PendingPlay = false
	}
	state := e.player
	e.mu.Unlock()

	if e.cb.Music != nil {
		e.cb.Music(state)
	}
}

// MarkInteracted records the first user gesture and satisfies any queued
// play intent.
func (e *Engine) MarkInteracted() {
	e.mu.Lock()
	e.player.Interacted = true
	pending := e.player.PendingPlay
	if pending {
		e.player.Playing = true
		e.player.PendingPlay = false
	}
	state := e.player
	e.mu.Unlock()

	if pending && e.cb.Music != nil {
		e.cb.Music(state)
	}
}

// Player returns the current hidden-player state.
func (e *Engine) Player() PlayerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player
}

// Tracks returns the locally persisted playlist.
func (e *Engine) Tracks() ([]tabletop.Track, error) {
	var tracks []tabletop.Track
	if _, err := e.store.GetJSON(keyTracks, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// AddTrack appends a track to the persisted playlist.
func (e *Engine) AddTrack(track tabletop.Track) error {
	tracks, err := e.Tracks()
	if err != nil {
		return err
	}
	return e.store.PutJSON(keyTracks, append(tracks, track))
}

// RemoveTrack deletes the playlist entry at idx.
func (e *Engine) RemoveTrack(idx int) error {
	tracks, err := e.Tracks()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(tracks) {
		return errors.New("track index out of range")
	}
	return e.store.PutJSON(keyTracks, append(tracks[:idx], tracks[idx+1:]...))
}
