package notebook

import (
	"maps"
	"reflect"
	"slices"

	"pkt.systems/webbox/schema"
)

// Cell is one notebook block.
type Cell struct {
	ID       schema.CellID
	Type     schema.CellType
	Source   string
	Metadata map[string]any
}

func (c Cell) clone() Cell {
	c.Metadata = cloneMap(c.Metadata)
	return c
}

func (c Cell) equal(o Cell) bool {
	return c.ID == o.ID && c.Type == o.Type && c.Source == o.Source && metaEqual(c.Metadata, o.Metadata)
}

// State is an immutable notebook snapshot. Reduce never modifies a State it
// receives; callers must not modify the maps and slices of a State either.
type State struct {
	ID            schema.DocumentID
	Slug          schema.Slug
	Course        string
	EmbedType     schema.EmbedType
	NBFormat      int
	NBFormatMinor int
	Authors       []string

	Cells     map[schema.CellID]Cell
	CellOrder []schema.CellID
	Metadata  map[string]any

	// ActiveBlock is the index of the cell in edit mode, or -1.
	ActiveBlock              int
	IsAuthor                 bool
	ViewMode                 bool
	NotebookMetadataEditable bool

	UndoStack []State
	RedoStack []State
}

// New returns an empty notebook.
func New() State {
	return State{
		NBFormat:      4,
		NBFormatMinor: 0,
		Cells:         map[schema.CellID]Cell{},
		Metadata: map[string]any{
			"kernel_info":   map[string]any{"name": "webbox"},
			"language_info": map[string]any{"name": "", "version": ""},
		},
		ActiveBlock: -1,
	}
}

// Len returns the number of cells.
func (s State) Len() int { return len(s.CellOrder) }

// CellAt returns the cell at index.
func (s State) CellAt(index int) (Cell, bool) {
	if index < 0 || index >= len(s.CellOrder) {
		return Cell{}, false
	}
	cell, ok := s.Cells[s.CellOrder[index]]
	return cell, ok
}

// OrderedCells returns the cells in display order.
func (s State) OrderedCells() []Cell {
	out := make([]Cell, 0, len(s.CellOrder))
	for _, id := range s.CellOrder {
		out = append(out, s.Cells[id])
	}
	return out
}

// IndexOf returns the position of id in the cell order, or -1.
func (s State) IndexOf(id schema.CellID) int {
	return slices.Index(s.CellOrder, id)
}

// CanUndo reports whether an undo step is available.
func (s State) CanUndo() bool { return len(s.UndoStack) > 0 }

// CanRedo reports whether a redo step is available.
func (s State) CanRedo() bool { return len(s.RedoStack) > 0 }

// Equal compares document content. The history stacks are ignored.
func (s State) Equal(o State) bool {
	if s.ID != o.ID || s.Slug != o.Slug || s.Course != o.Course || s.EmbedType != o.EmbedType {
		return false
	}
	if s.NBFormat != o.NBFormat || s.NBFormatMinor != o.NBFormatMinor || !slices.Equal(s.Authors, o.Authors) {
		return false
	}
	if s.ActiveBlock != o.ActiveBlock || s.IsAuthor != o.IsAuthor || s.ViewMode != o.ViewMode ||
		s.NotebookMetadataEditable != o.NotebookMetadataEditable {
		return false
	}
	if !slices.Equal(s.CellOrder, o.CellOrder) || len(s.Cells) != len(o.Cells) {
		return false
	}
	for id, cell := range s.Cells {
		other, ok := o.Cells[id]
		if !ok || !cell.equal(other) {
			return false
		}
	}
	return metaEqual(s.Metadata, o.Metadata)
}

// withoutHistory returns s with both stacks dropped.
func (s State) withoutHistory() State {
	s.UndoStack = nil
	s.RedoStack = nil
	return s
}

// copyDoc returns a shallow copy whose cell map, order and metadata can be
// modified without touching s.
func (s State) copyDoc() State {
	s.Cells = maps.Clone(s.Cells)
	if s.Cells == nil {
		s.Cells = map[schema.CellID]Cell{}
	}
	s.CellOrder = slices.Clone(s.CellOrder)
	s.Metadata = cloneMap(s.Metadata)
	s.Authors = slices.Clone(s.Authors)
	return s
}

// checkOrder reports whether CellOrder holds exactly the keys of Cells.
func (s State) checkOrder() bool {
	if len(s.CellOrder) != len(s.Cells) {
		return false
	}
	seen := make(map[schema.CellID]struct{}, len(s.CellOrder))
	for _, id := range s.CellOrder {
		if _, dup := seen[id]; dup {
			return false
		}
		if _, ok := s.Cells[id]; !ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

func metaEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// setIn stores value at path, creating intermediate maps as needed.
func setIn(m map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// deleteIn removes the key at path. Missing parents are a no-op.
func deleteIn(m map[string]any, path []string) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, path[len(path)-1])
}

// getIn reads the value at path.
func getIn(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, key := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
