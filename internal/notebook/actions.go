package notebook

import (
	"strings"

	"pkt.systems/webbox/schema"
)

// Action is a notebook transition.
type Action interface {
	actionName() string
}

// AddCell inserts a new empty cell at Index and puts it into edit mode. A
// negative or out of range Index appends.
type AddCell struct {
	Index int
	Type  schema.CellType
	// ID overrides the generated cell id.
	ID schema.CellID
}

// DeleteCell removes the cell at Index.
type DeleteCell struct{ Index int }

// MoveCellUp swaps the cell at Index with its predecessor.
type MoveCellUp struct{ Index int }

// MoveCellDown swaps the cell at Index with its successor.
type MoveCellDown struct{ Index int }

// UpdateCell replaces the source of a cell.
type UpdateCell struct {
	CellID schema.CellID
	Source string
}

// UpdateCellMeta sets or, for a nil Value, deletes a cell metadata key.
// KeyPath wins over the dotted Path. A leading "metadata" element is
// optional.
type UpdateCellMeta struct {
	CellID  schema.CellID
	Path    string
	KeyPath []string
	Value   any
}

// UpdateCellSlideType sets metadata.slideshow.slide_type.
type UpdateCellSlideType struct {
	CellID    schema.CellID
	SlideType string
}

// UpdateNotebookMeta edits a notebook level attribute: slug, course,
// embedType, title, author or language ("name-version").
type UpdateNotebookMeta struct {
	Name  string
	Value any
}

// AddCellsFromJS appends raw cells, for example from an uploaded notebook.
type AddCellsFromJS struct {
	Cells       []map[string]any
	Language    string
	WithHistory bool
	// Callback receives the resulting state.
	Callback func(State)
}

// Undo restores the previous snapshot.
type Undo struct{}

// Redo re-applies the last undone snapshot.
type Redo struct{}

// EditCell moves the edit cursor. Index -1 leaves edit mode.
type EditCell struct{ Index int }

// ToggleViewMode switches between editing and presentation.
type ToggleViewMode struct{}

// ToggleNotebookMetaEdit opens or closes the metadata editor.
type ToggleNotebookMetaEdit struct{}

// PrepareCells assigns ids to cells that lack one.
type PrepareCells struct{}

func (AddCell) actionName() string                { return "ADD_CELL" }
func (DeleteCell) actionName() string             { return "DELETE_CELL" }
func (MoveCellUp) actionName() string             { return "MOVE_CELL_UP" }
func (MoveCellDown) actionName() string           { return "MOVE_CELL_DOWN" }
func (UpdateCell) actionName() string             { return "UPDATE_CELL" }
func (UpdateCellMeta) actionName() string         { return "UPDATE_CELL_META" }
func (UpdateCellSlideType) actionName() string    { return "UPDATE_CELL_SLIDETYPE" }
func (UpdateNotebookMeta) actionName() string     { return "UPDATE_NOTEBOOK_META" }
func (AddCellsFromJS) actionName() string         { return "ADD_CELLS_FROM_JS" }
func (Undo) actionName() string                   { return "UNDO" }
func (Redo) actionName() string                   { return "REDO" }
func (EditCell) actionName() string               { return "EDIT_CELL" }
func (ToggleViewMode) actionName() string         { return "TOGGLE_VIEW_MODE" }
func (ToggleNotebookMetaEdit) actionName() string { return "TOGGLE_NOTEBOOK_EDIT" }
func (PrepareCells) actionName() string           { return "PREPARE_CELLS" }

// Name returns the wire name of an action.
func Name(a Action) string {
	if a == nil {
		return ""
	}
	return a.actionName()
}

func (a UpdateCellMeta) path() []string {
	path := a.KeyPath
	if path == nil {
		if a.Path == "" {
			return nil
		}
		path = strings.Split(a.Path, ".")
	}
	if len(path) > 0 && path[0] == "metadata" {
		path = path[1:]
	}
	if len(path) == 0 || path[0] == "" {
		return nil
	}
	return path
}
