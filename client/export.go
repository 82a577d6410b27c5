package client

import (
	"encoding/json"
	"fmt"
	"time"

	"dragonrock/tabletop"
)

// exportDoc is the sheet's interchange format. There is no schema version
// field; import does shallow field-presence checks only.
type exportDoc struct {
	Title    string               `json:"title"`
	EditMode bool                 `json:"editMode"`
	Chars    []tabletop.Character `json:"chars"`
}

// Export serializes the local mirror as a standalone JSON document.
func (e *Engine) Export() ([]byte, error) {
	state := e.State()
	doc := exportDoc{
		Title:    state.Title,
		EditMode: state.EditMode,
		Chars:    state.Chars,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Import replaces the local state from an exported document. Malformed JSON
// aborts before anything is touched; there is never a partial apply. Fields
// absent from the document keep their current value. The applied fields are
// mirrored to the table as one patch.
func (e *Engine) Import(data []byte) error {
	var doc struct {
		Title    *string               `json:"title"`
		EditMode *bool                 `json:"editMode"`
		Chars    *[]tabletop.Character `json:"chars"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse import document: %w", err)
	}

	patch := tabletop.Patch{Title: doc.Title, EditMode: doc.EditMode, Chars: doc.Chars}

	e.mu.Lock()
	if patch.Chars != nil {
		for i := range *patch.Chars {
			(*patch.Chars)[i].Clamp()
		}
	}
	e.state.Apply(patch)
	e.state.LastUpdate = time.Now().UnixMilli()
	e.persistStateLocked()
	tableID := e.tableID
	e.mu.Unlock()

	return e.emit(tabletop.EventStatePatch, tableID, patch)
}
