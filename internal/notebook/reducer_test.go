package notebook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pkt.systems/webbox/schema"
)

func stableIDs(t *testing.T) {
	t.Helper()
	orig := newCellID
	n := 0
	newCellID = func() schema.CellID {
		n++
		return schema.CellID(fmt.Sprintf("cell-%d", n))
	}
	t.Cleanup(func() { newCellID = orig })
}

func reduceAll(t *testing.T, state State, actions ...Action) State {
	t.Helper()
	for _, action := range actions {
		var err error
		state, err = Reduce(state, action)
		if err != nil {
			t.Fatalf("%s: %v", Name(action), err)
		}
		if !state.checkOrder() {
			t.Fatalf("%s broke the cell order: %v", Name(action), state.CellOrder)
		}
	}
	return state
}

func sources(s State) []string {
	var out []string
	for _, cell := range s.OrderedCells() {
		out = append(out, cell.Source)
	}
	return out
}

func TestAddCellEntersEditModeOutsideHistory(t *testing.T) {
	stableIDs(t)
	s0 := New()
	s1 := reduceAll(t, s0, AddCell{Index: -1, Type: schema.CellCode})
	if s1.Len() != 1 || s1.ActiveBlock != 0 {
		t.Fatalf("expected one active cell, got len=%d active=%d", s1.Len(), s1.ActiveBlock)
	}
	cell, _ := s1.CellAt(0)
	if cell.ID != "cell-1" || cell.Type != schema.CellCode {
		t.Fatalf("unexpected cell %+v", cell)
	}
	if len(s1.UndoStack) != 1 || s1.UndoStack[0].ActiveBlock != -1 {
		t.Fatalf("undo snapshot must be the pre-add state")
	}
	s2 := reduceAll(t, s1, AddCell{Index: 0, Type: "unknown"})
	raw, _ := s2.CellAt(0)
	if raw.Type != schema.CellRaw || raw.Metadata["format"] != "text/plain" || s2.ActiveBlock != 0 {
		t.Fatalf("expected raw cell at front in edit mode, got %+v active=%d", raw, s2.ActiveBlock)
	}
	if s0.Len() != 0 || s1.Len() != 1 {
		t.Fatalf("reducer mutated its input")
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	stableIDs(t)
	s0 := reduceAll(t, New(), AddCellsFromJS{Cells: []map[string]any{
		{"cell_type": "markdown", "source": "# Title"},
		{"cell_type": "code", "source": []any{"print(1)\n", "print(2)"}},
	}})
	actions := []Action{
		AddCell{Index: 1, Type: schema.CellMarkdown},
		UpdateCell{CellID: "cell-3", Source: "text"},
		MoveCellDown{Index: 0},
		UpdateCellMeta{CellID: "cell-2", Path: "slideshow.slide_type", Value: "fragment"},
		UpdateNotebookMeta{Name: "title", Value: "Demo"},
		DeleteCell{Index: 2},
	}
	applied := reduceAll(t, s0, actions...)
	undone := applied
	for range actions {
		undone = reduceAll(t, undone, Undo{})
	}
	if !undone.Equal(s0) {
		t.Fatalf("undo did not restore the initial state: %s", cmp.Diff(sources(s0), sources(undone)))
	}
	if undone.CanUndo() || !undone.CanRedo() {
		t.Fatalf("expected an exhausted undo stack")
	}
	redone := undone
	for range actions {
		redone = reduceAll(t, redone, Redo{})
	}
	if !redone.Equal(applied) {
		t.Fatalf("redo did not reach the final state: %s", cmp.Diff(sources(applied), sources(redone)))
	}
}

func TestRedoSurvivesNewEdits(t *testing.T) {
	stableIDs(t)
	s := reduceAll(t, New(), AddCell{Index: -1, Type: schema.CellCode}, UpdateCell{CellID: "cell-1", Source: "a"})
	s = reduceAll(t, s, Undo{}, UpdateCell{CellID: "cell-1", Source: "b"})
	if !s.CanRedo() {
		t.Fatalf("new edits keep the redo stack")
	}
	s = reduceAll(t, s, Redo{})
	if got := sources(s); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("redo restores the old branch, got %v", got)
	}
}

func TestMoveBoundariesAreNoOps(t *testing.T) {
	stableIDs(t)
	s := reduceAll(t, New(), AddCell{Index: -1}, AddCell{Index: -1})
	up := reduceAll(t, s, MoveCellUp{Index: 0})
	down := reduceAll(t, s, MoveCellDown{Index: 1})
	if !up.Equal(s) || len(up.UndoStack) != len(s.UndoStack) {
		t.Fatalf("move up at index 0 changed the state")
	}
	if !down.Equal(s) || len(down.UndoStack) != len(s.UndoStack) {
		t.Fatalf("move down at the last index changed the state")
	}
	moved := reduceAll(t, s, MoveCellUp{Index: 1})
	if diff := cmp.Diff([]schema.CellID{"cell-2", "cell-1"}, moved.CellOrder); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if moved.ActiveBlock != 0 {
		t.Fatalf("active cell follows the move, got %d", moved.ActiveBlock)
	}
}

func TestDeleteCellResetsActiveBlock(t *testing.T) {
	stableIDs(t)
	s := reduceAll(t, New(), AddCell{Index: -1}, AddCell{Index: -1}, AddCell{Index: -1})
	if s.ActiveBlock != 2 {
		t.Fatalf("expected last cell active")
	}
	s = reduceAll(t, s, DeleteCell{Index: 0})
	if s.ActiveBlock != 1 {
		t.Fatalf("active index shifts with the deletion, got %d", s.ActiveBlock)
	}
	s = reduceAll(t, s, DeleteCell{Index: 1})
	if s.ActiveBlock != -1 || s.Len() != 1 {
		t.Fatalf("deleting the active cell leaves edit mode, got %d", s.ActiveBlock)
	}
	if _, err := Reduce(s, DeleteCell{Index: 5}); !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("expected ErrCellNotFound, got %v", err)
	}
}

func TestUnknownCellIsIgnored(t *testing.T) {
	s := New()
	next, err := Reduce(s, UpdateCell{CellID: "missing", Source: "x"})
	if !errors.Is(err, ErrCellNotFound) || !next.Equal(s) {
		t.Fatalf("expected unchanged state and ErrCellNotFound, got %v", err)
	}
	if got := MustReduce(s, UpdateCellMeta{CellID: "missing", Path: "a"}); !got.Equal(s) {
		t.Fatalf("MustReduce must tolerate stale ids")
	}
}

func TestUpdateCellMetaSetsAndDeletes(t *testing.T) {
	stableIDs(t)
	s := reduceAll(t, New(), AddCell{Index: -1, Type: schema.CellCode})
	s = reduceAll(t, s,
		UpdateCellMeta{CellID: "cell-1", Path: "metadata.editor.height", Value: 300},
		UpdateCellSlideType{CellID: "cell-1", SlideType: "notes"},
		UpdateCellMeta{CellID: "cell-1", KeyPath: []string{"mode"}, Value: "python"},
	)
	cell, _ := s.CellAt(0)
	want := map[string]any{
		"slideshow": map[string]any{"slide_type": "notes"},
		"editor":    map[string]any{"height": 300},
		"mode":      "python",
	}
	if diff := cmp.Diff(want, cell.Metadata); diff != "" {
		t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
	}
	before := s
	s = reduceAll(t, s, UpdateCellMeta{CellID: "cell-1", Path: "editor.height", Value: nil})
	cell, _ = s.CellAt(0)
	if diff := cmp.Diff(map[string]any{}, cell.Metadata["editor"]); diff != "" {
		t.Fatalf("expected deleted key (-want +got):\n%s", diff)
	}
	old, _ := before.CellAt(0)
	if old.Metadata["editor"].(map[string]any)["height"] != 300 {
		t.Fatalf("nested metadata of the previous snapshot was modified")
	}
	same := reduceAll(t, s, UpdateCellMeta{CellID: "cell-1", Path: ""})
	if len(same.UndoStack) != len(s.UndoStack) {
		t.Fatalf("empty key path must not record history")
	}
}

func TestLanguageMetadataFanOut(t *testing.T) {
	s := reduceAll(t, New(), UpdateNotebookMeta{Name: "language", Value: "python-3"})
	for path, want := range map[[2]string]string{
		{"kernelspec", "language"}:     "python",
		{"kernelspec", "display_name"}: "Python 3",
		{"language_info", "name"}:      "python",
		{"language_info", "version"}:   "3",
	} {
		got, _ := getIn(s.Metadata, path[0], path[1])
		if got != want {
			t.Fatalf("%s.%s = %v, want %q", path[0], path[1], got, want)
		}
	}
	if _, err := Reduce(s, UpdateNotebookMeta{Name: "language", Value: "python3"}); !errors.Is(err, ErrMalformedLanguage) {
		t.Fatalf("expected ErrMalformedLanguage, got %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("MustReduce must panic on a malformed language")
		}
	}()
	MustReduce(s, UpdateNotebookMeta{Name: "language", Value: "java"})
}

func TestNotebookMetaFields(t *testing.T) {
	s := reduceAll(t, New(),
		UpdateNotebookMeta{Name: "slug", Value: "intro"},
		UpdateNotebookMeta{Name: "course", Value: "prog1"},
		UpdateNotebookMeta{Name: "embedType", Value: "skulpt"},
		UpdateNotebookMeta{Name: "author", Value: "Ada"},
	)
	if s.Slug != "intro" || s.Course != "prog1" || s.EmbedType != schema.EmbedSkulpt || s.Metadata["author"] != "Ada" {
		t.Fatalf("unexpected notebook fields %+v", s)
	}
	undo := len(s.UndoStack)
	s = reduceAll(t, s, UpdateNotebookMeta{Name: "embedType", Value: "flash"})
	if s.EmbedType != schema.EmbedSkulpt || len(s.UndoStack) != undo {
		t.Fatalf("invalid embed types are rejected silently")
	}
}

func TestUIActionsBypassHistory(t *testing.T) {
	stableIDs(t)
	s := reduceAll(t, New(), AddCell{Index: -1}, AddCell{Index: -1})
	undo := len(s.UndoStack)
	s = reduceAll(t, s, EditCell{Index: 0}, ToggleNotebookMetaEdit{}, ToggleViewMode{})
	if len(s.UndoStack) != undo {
		t.Fatalf("UI toggles recorded history")
	}
	if !s.ViewMode || !s.NotebookMetadataEditable || s.ActiveBlock != -1 {
		t.Fatalf("unexpected UI flags %+v", s)
	}
}

func TestAddCellsFromJSNormalizes(t *testing.T) {
	stableIDs(t)
	var seen State
	s := reduceAll(t, New(), AddCellsFromJS{
		Language: "python",
		Cells: []map[string]any{
			{"cell_type": "code", "input": "x = 1", "language": "java"},
			{"cell_type": "code", "source": "y", "id": "keep"},
			{"cell_type": "heading", "source": "h"},
		},
		Callback: func(st State) { seen = st },
	})
	if seen.Len() != 3 || len(s.UndoStack) != 0 {
		t.Fatalf("expected callback with 3 cells and no history")
	}
	cells := s.OrderedCells()
	if cells[0].Source != "x = 1" || cells[0].Metadata["mode"] != "java" {
		t.Fatalf("legacy input not mapped: %+v", cells[0])
	}
	if cells[1].ID != "keep" || cells[1].Metadata["mode"] != "python" {
		t.Fatalf("unexpected second cell %+v", cells[1])
	}
	if cells[2].Type != schema.CellRaw {
		t.Fatalf("unknown cell types become raw")
	}
	if diff := cmp.Diff(map[string]any{"slide_type": "slide"}, cells[0].Metadata["slideshow"]); diff != "" {
		t.Fatalf("default slideshow metadata (-want +got):\n%s", diff)
	}
	withHistory := reduceAll(t, s, AddCellsFromJS{Cells: []map[string]any{{"cell_type": "markdown", "id": "keep"}}, WithHistory: true})
	if len(withHistory.UndoStack) != 1 || withHistory.Len() != 4 || withHistory.CellOrder[3] == "keep" {
		t.Fatalf("expected history and a fresh id for the colliding cell")
	}
}

func TestPrepareCellsAssignsMissingIDs(t *testing.T) {
	stableIDs(t)
	s := New()
	s.Cells = map[schema.CellID]Cell{"": {Source: "a"}, "b": {ID: "b", Source: "b"}}
	s.CellOrder = []schema.CellID{"", "b"}
	s = reduceAll(t, s, PrepareCells{})
	if diff := cmp.Diff([]schema.CellID{"cell-1", "b"}, s.CellOrder); diff != "" {
		t.Fatalf("unexpected ids (-want +got):\n%s", diff)
	}
	if s.Cells["cell-1"].ID != "cell-1" {
		t.Fatalf("cell id must match its key")
	}
}

func TestStoreDispatch(t *testing.T) {
	stableIDs(t)
	store := NewStore(New(), nil)
	var changes int
	cancel := store.Subscribe(func(State) { changes++ })
	ctx := context.Background()
	if err := store.Dispatch(ctx, AddCell{Index: -1}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := store.Dispatch(ctx, UpdateCell{CellID: "stale"}); err != nil {
		t.Fatalf("stale ids are ignored, got %v", err)
	}
	if err := store.Dispatch(ctx, UpdateNotebookMeta{Name: "language", Value: "bad"}); !errors.Is(err, ErrMalformedLanguage) {
		t.Fatalf("expected ErrMalformedLanguage, got %v", err)
	}
	cancel()
	_ = store.Dispatch(ctx, Undo{})
	if changes != 1 || store.State().Len() != 0 {
		t.Fatalf("expected one notification and an undone add, got %d changes", changes)
	}
}
