package core

import (
	"sync"

	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// FileEventType names a file notification.
type FileEventType string

const (
	// FileChangeName fires on every rename.
	FileChangeName FileEventType = "changeName"
	// FileChangedName fires when rename editing ends with a different name.
	FileChangedName FileEventType = "changedName"
	// FileChangeNameEditable fires when rename editing is toggled.
	FileChangeNameEditable FileEventType = "changeNameEditable"
	// FileHasChangesUpdate fires when the dirty flag flips.
	FileHasChangesUpdate FileEventType = "hasChangesUpdate"
	// FileAnnotations fires when diagnostics are replaced.
	FileAnnotations FileEventType = "annotations"
)

// FileEvent is emitted by a File.
type FileEvent struct {
	Type    FileEventType
	NewName string
	OldName string
	File    *File
}

// File is a named source file backed by a text buffer.
type File struct {
	mu           sync.Mutex
	name         string
	oldName      string
	hasOldName   bool
	nameEditable bool
	hasChanges   bool
	annotations  []Annotation
	buffer       TextBuffer
	stopChanges  func()
	events       listeners[FileEvent]
}

// NewFile creates a file. New files count as changed.
func NewFile(factory TextBufferFactory, name, value, language string) *File {
	if factory == nil {
		factory = MemoryBufferFactory{}
	}
	f := &File{
		name:       name,
		hasChanges: true,
		buffer:     factory.CreateModel(name, value, language),
	}
	f.stopChanges = f.buffer.OnChange(f.onDocumentChange)
	return f
}

// Subscribe registers a listener for file events.
func (f *File) Subscribe(fn func(FileEvent)) func() {
	return f.events.subscribe(fn)
}

// Value returns the file content.
func (f *File) Value() string {
	return f.buffer.Value()
}

// SetValue replaces the file content.
func (f *File) SetValue(value string) {
	f.buffer.SetValue(value)
}

func (f *File) onDocumentChange() {
	f.mu.Lock()
	if f.hasChanges {
		f.mu.Unlock()
		return
	}
	f.hasChanges = true
	f.mu.Unlock()
	f.events.emit(FileEvent{Type: FileHasChangesUpdate, File: f})
}

// HasChanges reports whether the file is dirty.
func (f *File) HasChanges() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasChanges
}

// ClearChanges resets the dirty flag.
func (f *File) ClearChanges() {
	f.mu.Lock()
	f.hasChanges = false
	f.mu.Unlock()
	f.events.emit(FileEvent{Type: FileHasChangesUpdate, File: f})
}

// Name returns the current file name.
func (f *File) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// SetName renames the file after removing a reserved character.
func (f *File) SetName(name string) {
	escaped := schema.EscapeFileName(name)
	f.mu.Lock()
	f.oldName = f.name
	f.hasOldName = true
	f.name = escaped
	oldName := f.oldName
	f.mu.Unlock()
	f.events.emit(FileEvent{Type: FileChangeName, NewName: escaped, OldName: oldName, File: f})
}

// IsNameEditable reports whether rename editing is active.
func (f *File) IsNameEditable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nameEditable
}

// SetNameEditable toggles rename editing. Leaving edit mode with a new name
// emits FileChangedName.
func (f *File) SetNameEditable(editable bool) {
	f.mu.Lock()
	f.nameEditable = editable
	var changed *FileEvent
	if !editable && f.hasOldName && f.name != f.oldName {
		changed = &FileEvent{Type: FileChangedName, NewName: f.name, OldName: f.oldName, File: f}
	}
	f.oldName = ""
	f.hasOldName = false
	f.mu.Unlock()
	f.events.emit(FileEvent{Type: FileChangeNameEditable, File: f})
	if changed != nil {
		f.events.emit(*changed)
	}
}

// Annotations returns the raw diagnostics of the file.
func (f *File) Annotations() []Annotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Annotation(nil), f.annotations...)
}

// SetAnnotations replaces the diagnostics of the file.
func (f *File) SetAnnotations(annotations []Annotation) {
	f.mu.Lock()
	f.annotations = append([]Annotation(nil), annotations...)
	name := f.name
	f.mu.Unlock()
	f.buffer.SetMarkers(name, annotations)
	f.events.emit(FileEvent{Type: FileAnnotations, File: f})
}

// ClearAnnotations removes all diagnostics.
func (f *File) ClearAnnotations() {
	f.SetAnnotations(nil)
}

// Mode returns the editor language mode.
func (f *File) Mode() string {
	return f.buffer.Language()
}

// AutoDetectMode sets the editor language from the file extension.
func (f *File) AutoDetectMode() {
	f.buffer.SetLanguage(languages.ModeForFile(f.Name()))
}

// Dispose drops all listeners.
func (f *File) Dispose() {
	f.events.clear()
	if f.stopChanges != nil {
		f.stopChanges()
	}
	f.buffer.Dispose()
}
