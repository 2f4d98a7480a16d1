package notebook

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"pkt.systems/webbox/schema"
)

var (
	// ErrMalformedLanguage is a caller bug: the language value is not "name-version".
	ErrMalformedLanguage = errors.New("notebook language must be name-version")
	// ErrCellNotFound reports a stale cell id or index. The state is returned unchanged.
	ErrCellNotFound = errors.New("notebook cell not found")
	// ErrUnknownAction reports an action this reducer does not handle.
	ErrUnknownAction = errors.New("unknown notebook action")
)

// newCellID is replaced in tests that need stable ids.
var newCellID = func() schema.CellID { return schema.CellID(uuid.NewString()) }

// Reduce applies action to state and returns the next snapshot. The input
// is never modified. A returned ErrCellNotFound comes with the unchanged
// state; ErrMalformedLanguage marks a contract violation by the caller.
func Reduce(state State, action Action) (State, error) {
	switch a := action.(type) {
	case AddCell:
		cell := newCell(a.Type, a.ID)
		next, index := addCell(state, a.Index, cell)
		next = withHistory(state, next)
		// entering edit mode is not part of the undo step
		next.ActiveBlock = index
		return next, nil
	case DeleteCell:
		if a.Index < 0 || a.Index >= state.Len() {
			return state, fmt.Errorf("%w: index %d", ErrCellNotFound, a.Index)
		}
		return withHistory(state, deleteCell(state, a.Index)), nil
	case MoveCellUp:
		if a.Index < 0 || a.Index >= state.Len() {
			return state, fmt.Errorf("%w: index %d", ErrCellNotFound, a.Index)
		}
		if a.Index == 0 {
			return state, nil
		}
		return withHistory(state, swapCells(state, a.Index, a.Index-1)), nil
	case MoveCellDown:
		if a.Index < 0 || a.Index >= state.Len() {
			return state, fmt.Errorf("%w: index %d", ErrCellNotFound, a.Index)
		}
		if a.Index == state.Len()-1 {
			return state, nil
		}
		return withHistory(state, swapCells(state, a.Index, a.Index+1)), nil
	case UpdateCell:
		cell, ok := state.Cells[a.CellID]
		if !ok {
			return state, fmt.Errorf("%w: %s", ErrCellNotFound, a.CellID)
		}
		next := state.copyDoc()
		cell.Source = a.Source
		next.Cells[a.CellID] = cell
		return withHistory(state, next), nil
	case UpdateCellMeta:
		return updateCellMeta(state, a.CellID, a.path(), a.Value)
	case UpdateCellSlideType:
		return updateCellMeta(state, a.CellID, []string{"slideshow", "slide_type"}, a.SlideType)
	case UpdateNotebookMeta:
		next, err := updateNotebookMeta(state, a.Name, a.Value)
		if err != nil {
			return state, err
		}
		return withHistory(state, next), nil
	case AddCellsFromJS:
		next := state.copyDoc()
		for _, raw := range a.Cells {
			cell := normalizeCell(raw, a.Language)
			if _, taken := next.Cells[cell.ID]; taken {
				cell.ID = newCellID()
			}
			next.Cells[cell.ID] = cell
			next.CellOrder = append(next.CellOrder, cell.ID)
		}
		if a.WithHistory {
			next = withHistory(state, next)
		}
		if a.Callback != nil {
			a.Callback(next)
		}
		return next, nil
	case Undo:
		return undo(state), nil
	case Redo:
		return redo(state), nil
	case EditCell:
		if a.Index < -1 || a.Index >= state.Len() {
			return state, fmt.Errorf("%w: index %d", ErrCellNotFound, a.Index)
		}
		state.ActiveBlock = a.Index
		return state, nil
	case ToggleViewMode:
		state.ViewMode = !state.ViewMode
		if state.ViewMode {
			state.ActiveBlock = -1
		}
		return state, nil
	case ToggleNotebookMetaEdit:
		state.NotebookMetadataEditable = !state.NotebookMetadataEditable
		return state, nil
	case PrepareCells:
		return prepareCells(state), nil
	default:
		return state, fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}

// MustReduce is Reduce for callers that treat contract violations as
// fatal. Stale cell references still return the unchanged state.
func MustReduce(state State, action Action) State {
	next, err := Reduce(state, action)
	if err != nil && !errors.Is(err, ErrCellNotFound) {
		panic(err)
	}
	return next
}

// withHistory pushes the pre-transition snapshot when the document changed.
// The redo stack carries over untouched.
func withHistory(current, next State) State {
	if current.Equal(next) {
		return next
	}
	undo := make([]State, len(current.UndoStack), len(current.UndoStack)+1)
	copy(undo, current.UndoStack)
	next.UndoStack = append(undo, current.withoutHistory())
	next.RedoStack = current.RedoStack
	return next
}

func undo(state State) State {
	if len(state.UndoStack) == 0 {
		return state
	}
	last := len(state.UndoStack) - 1
	next := state.UndoStack[last]
	next.UndoStack = state.UndoStack[:last:last]
	redo := make([]State, len(state.RedoStack), len(state.RedoStack)+1)
	copy(redo, state.RedoStack)
	next.RedoStack = append(redo, state.withoutHistory())
	return next
}

func redo(state State) State {
	if len(state.RedoStack) == 0 {
		return state
	}
	last := len(state.RedoStack) - 1
	next := state.RedoStack[last]
	undo := make([]State, len(state.UndoStack), len(state.UndoStack)+1)
	copy(undo, state.UndoStack)
	next.UndoStack = append(undo, state.withoutHistory())
	next.RedoStack = state.RedoStack[:last:last]
	return next
}

func newCell(cellType schema.CellType, id schema.CellID) Cell {
	if id == "" {
		id = newCellID()
	}
	cell := Cell{
		ID:       id,
		Type:     schema.ParseCellType(string(cellType)),
		Metadata: map[string]any{"slideshow": map[string]any{}},
	}
	if cell.Type == schema.CellRaw {
		cell.Metadata["format"] = "text/plain"
	}
	return cell
}

func addCell(state State, index int, cell Cell) (State, int) {
	next := state.copyDoc()
	if index < 0 || index > len(next.CellOrder) {
		index = len(next.CellOrder)
	}
	next.Cells[cell.ID] = cell
	next.CellOrder = slices.Insert(next.CellOrder, index, cell.ID)
	if next.ActiveBlock >= index {
		next.ActiveBlock++
	}
	return next, index
}

func deleteCell(state State, index int) State {
	next := state.copyDoc()
	delete(next.Cells, next.CellOrder[index])
	next.CellOrder = slices.Delete(next.CellOrder, index, index+1)
	switch {
	case next.ActiveBlock == index:
		next.ActiveBlock = -1
	case next.ActiveBlock > index:
		next.ActiveBlock--
	}
	return next
}

func swapCells(state State, i, j int) State {
	next := state.copyDoc()
	next.CellOrder[i], next.CellOrder[j] = next.CellOrder[j], next.CellOrder[i]
	switch next.ActiveBlock {
	case i:
		next.ActiveBlock = j
	case j:
		next.ActiveBlock = i
	}
	return next
}

func updateCellMeta(state State, id schema.CellID, path []string, value any) (State, error) {
	cell, ok := state.Cells[id]
	if !ok {
		return state, fmt.Errorf("%w: %s", ErrCellNotFound, id)
	}
	if len(path) == 0 {
		return state, nil
	}
	next := state.copyDoc()
	cell = cell.clone()
	if value == nil {
		deleteIn(cell.Metadata, path)
	} else {
		setIn(cell.Metadata, path, value)
	}
	next.Cells[id] = cell
	return withHistory(state, next), nil
}

func updateNotebookMeta(state State, name string, value any) (State, error) {
	text, _ := value.(string)
	next := state.copyDoc()
	switch name {
	case "slug":
		next.Slug = schema.Slug(text)
	case "course":
		next.Course = text
	case "embedType":
		embedType := schema.EmbedType(text)
		if !schema.IsValidEmbedType(embedType) {
			return state, nil
		}
		next.EmbedType = embedType
	case "title", "author":
		next.Metadata[name] = value
	case "language":
		lang, version, ok := strings.Cut(text, "-")
		if !ok || lang == "" {
			return state, fmt.Errorf("%w: %q", ErrMalformedLanguage, text)
		}
		display := displayName(lang, version)
		setIn(next.Metadata, []string{"kernelspec", "language"}, lang)
		setIn(next.Metadata, []string{"kernelspec", "display_name"}, display)
		setIn(next.Metadata, []string{"language_info", "name"}, lang)
		setIn(next.Metadata, []string{"language_info", "version"}, version)
	default:
		return state, nil
	}
	return next, nil
}

func displayName(lang, version string) string {
	r, size := utf8.DecodeRuneInString(lang)
	name := string(unicode.ToUpper(r)) + lang[size:]
	if version == "" {
		return name
	}
	return name + " " + version
}

func prepareCells(state State) State {
	next := state.copyDoc()
	for i, id := range next.CellOrder {
		cell, ok := next.Cells[id]
		if id != "" && ok && cell.ID == id {
			continue
		}
		delete(next.Cells, id)
		cell.ID = newCellID()
		next.Cells[cell.ID] = cell
		next.CellOrder[i] = cell.ID
	}
	return next
}

// normalizeCell turns a raw ipynb cell into a Cell.
func normalizeCell(raw map[string]any, language string) Cell {
	cell := Cell{
		Type:     schema.ParseCellType(stringValue(raw["cell_type"])),
		Metadata: map[string]any{},
	}
	if id := stringValue(raw["id"]); id != "" {
		cell.ID = schema.CellID(id)
	} else {
		cell.ID = newCellID()
	}
	if meta, ok := raw["metadata"].(map[string]any); ok {
		cell.Metadata = cloneMap(meta)
	}
	source, ok := raw["source"]
	if !ok {
		source = raw["input"]
	}
	cell.Source = joinSource(source)
	if _, ok := cell.Metadata["slideshow"]; !ok {
		cell.Metadata["slideshow"] = map[string]any{"slide_type": "slide"}
	}
	if cell.Type == schema.CellCode {
		if _, ok := cell.Metadata["mode"]; !ok {
			mode := stringValue(raw["language"])
			if mode == "" {
				mode = language
			}
			if mode != "" {
				cell.Metadata["mode"] = mode
			}
		}
	}
	return cell
}

// joinSource accepts a string or the multi-line array form of ipynb.
func joinSource(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var b strings.Builder
		for _, part := range val {
			b.WriteString(stringValue(part))
		}
		return b.String()
	case []string:
		return strings.Join(val, "")
	default:
		return ""
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
