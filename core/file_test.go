package core

import "testing"

func TestFileStartsDirtyAndTracksEdits(t *testing.T) {
	file := NewFile(nil, "main.c", "int main;", "")
	if !file.HasChanges() {
		t.Fatalf("new files start with changes")
	}
	updates := 0
	file.Subscribe(func(ev FileEvent) {
		if ev.Type == FileHasChangesUpdate {
			updates++
		}
	})
	file.ClearChanges()
	if file.HasChanges() {
		t.Fatalf("expected clean file")
	}
	file.SetValue("int main(void);")
	file.SetValue("int main(void) {}")
	if !file.HasChanges() {
		t.Fatalf("expected dirty file after edit")
	}
	// one for the clear, one for the first edit
	if updates != 2 {
		t.Fatalf("expected 2 change updates, got %d", updates)
	}
}

func TestFileSetNameEscapesFirstReservedChar(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"main.py", "main.py"},
		{"ma$in.py", "main.py"},
		{"a(b).py", "ab).py"},
		{"*x*.c", "x*.c"},
	}
	for _, tc := range cases {
		file := NewFile(nil, "x", "", "")
		file.SetName(tc.in)
		if got := file.Name(); got != tc.want {
			t.Fatalf("SetName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileChangedNameFiresWhenEditingEnds(t *testing.T) {
	file := NewFile(nil, "old.py", "", "")
	var changed []FileEvent
	file.Subscribe(func(ev FileEvent) {
		if ev.Type == FileChangedName {
			changed = append(changed, ev)
		}
	})
	file.SetNameEditable(true)
	file.SetName("new.py")
	if len(changed) != 0 {
		t.Fatalf("changedName must wait for the end of editing")
	}
	file.SetNameEditable(false)
	if len(changed) != 1 || changed[0].OldName != "old.py" || changed[0].NewName != "new.py" {
		t.Fatalf("unexpected changedName events: %+v", changed)
	}

	// same name again is not a change
	file.SetNameEditable(true)
	file.SetName("new.py")
	file.SetNameEditable(false)
	if len(changed) != 1 {
		t.Fatalf("unexpected changedName for unchanged name")
	}
}

func TestFileAnnotationsAndMode(t *testing.T) {
	file := NewFile(nil, "main.py", "", "")
	file.SetAnnotations([]Annotation{{Row: 1, Column: 0, Text: "boom", Type: "error"}})
	if got := file.Annotations(); len(got) != 1 || got[0].Text != "boom" {
		t.Fatalf("unexpected annotations %+v", got)
	}
	file.ClearAnnotations()
	if len(file.Annotations()) != 0 {
		t.Fatalf("expected annotations cleared")
	}
	file.SetName("main.java")
	file.AutoDetectMode()
	if file.Mode() != "java" {
		t.Fatalf("expected java mode, got %q", file.Mode())
	}
}
