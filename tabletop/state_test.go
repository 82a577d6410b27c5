package tabletop

import (
	"testing"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestApplyDisjointFieldsIsOrderIndependent(t *testing.T) {
	title := "Session 3"
	editMode := false
	chars := []Character{NewCharacter("Ayla")}

	patches := []Patch{
		{Title: &title},
		{EditMode: &editMode},
		{Chars: &chars},
	}

	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
	}

	for _, order := range orders {
		s := NewTableState()
		for _, i := range order {
			s.Apply(patches[i])
		}
		if s.Title != title {
			t.Fatalf("order %v: title = %q, want %q", order, s.Title, title)
		}
		if s.EditMode != editMode {
			t.Fatalf("order %v: editMode = %v, want %v", order, s.EditMode, editMode)
		}
		if len(s.Chars) != 1 || s.Chars[0].Name != "Ayla" {
			t.Fatalf("order %v: chars = %+v", order, s.Chars)
		}
	}
}

func TestApplyOverlappingFieldsLastReceivedWins(t *testing.T) {
	s := NewTableState()
	s.Apply(Patch{Title: strPtr("first")})
	s.Apply(Patch{Title: strPtr("second")})

	if s.Title != "second" {
		t.Fatalf("title = %q, want the last received value", s.Title)
	}
}

func TestApplyAbsentFieldsUntouched(t *testing.T) {
	s := NewTableState()
	s.Apply(Patch{Title: strPtr("kept")})
	s.Apply(Patch{EditMode: boolPtr(false)})

	if s.Title != "kept" {
		t.Fatalf("title = %q, absent field must not be reset", s.Title)
	}
	if s.EditMode {
		t.Fatal("editMode should be false")
	}
}

func TestApplyBumpsLastUpdate(t *testing.T) {
	s := NewTableState()
	before := s.LastUpdate
	s.Apply(Patch{Title: strPtr("bump")})
	if s.LastUpdate < before {
		t.Fatalf("lastUpdate went backwards: %d -> %d", before, s.LastUpdate)
	}
}

func TestSnapshotCarriesEveryField(t *testing.T) {
	s := NewTableState()
	s.Title = "Dragonrock"
	s.EditMode = false
	s.Chars = []Character{NewCharacter("Bren")}

	snap := s.Snapshot()
	if snap.Title == nil || *snap.Title != "Dragonrock" {
		t.Fatal("snapshot missing title")
	}
	if snap.EditMode == nil || *snap.EditMode {
		t.Fatal("snapshot missing editMode")
	}
	if snap.Chars == nil || len(*snap.Chars) != 1 {
		t.Fatal("snapshot missing chars")
	}

	// Mutating the snapshot must not reach the state.
	(*snap.Chars)[0].Name = "changed"
	if s.Chars[0].Name != "Bren" {
		t.Fatal("snapshot aliases the state's character slice")
	}
}

func TestNewTableStateDefaults(t *testing.T) {
	s := NewTableState()
	if s.Title != DefaultTitle {
		t.Fatalf("title = %q, want %q", s.Title, DefaultTitle)
	}
	if !s.EditMode {
		t.Fatal("new tables start in edit mode")
	}
	if s.Chars == nil || len(s.Chars) != 0 {
		t.Fatalf("chars = %v, want empty non-nil", s.Chars)
	}
}
