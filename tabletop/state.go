package tabletop

import "time"

// DefaultTitle is the title a freshly created table starts with.
const DefaultTitle = "default"

// TableState is the shared blob for one table key. The relay keeps exactly
// one per occupied table; clients keep a local mirror of the same shape.
type TableState struct {
	Title      string      `json:"title"`
	EditMode   bool        `json:"editMode"`
	Chars      []Character `json:"chars"`
	LastUpdate int64       `json:"lastUpdate"`
}

// NewTableState returns the default state created on first join.
func NewTableState() *TableState {
	return &TableState{
		Title:      DefaultTitle,
		EditMode:   true,
		Chars:      []Character{},
		LastUpdate: time.Now().UnixMilli(),
	}
}

// Patch is a partial update to the coarse table fields. Absent fields leave
// the current value untouched; present fields overwrite it unconditionally,
// so the last patch received wins.
type Patch struct {
	Title    *string      `json:"title,omitempty"`
	EditMode *bool        `json:"editMode,omitempty"`
	Chars    *[]Character `json:"chars,omitempty"`
}

// Apply shallow-merges p into the state and bumps LastUpdate. There is no
// per-field versioning: concurrent edits to the same field flap to whichever
// arrived last.
func (s *TableState) Apply(p Patch) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.EditMode != nil {
		s.EditMode = *p.EditMode
	}
	if p.Chars != nil {
		s.Chars = append([]Character(nil), (*p.Chars)...)
	}
	s.LastUpdate = time.Now().UnixMilli()
}

// Snapshot converts the full state into a patch carrying every field, used
// when a joining connection needs the whole blob.
func (s *TableState) Snapshot() Patch {
	title := s.Title
	editMode := s.EditMode
	chars := append([]Character(nil), s.Chars...)
	return Patch{Title: &title, EditMode: &editMode, Chars: &chars}
}
