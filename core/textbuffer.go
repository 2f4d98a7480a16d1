package core

import (
	"sync"

	"pkt.systems/webbox/internal/languages"
)

// Annotation is a diagnostic marker on a file. Row and Column are 0-based.
type Annotation struct {
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Text   string `json:"text"`
	Type   string `json:"type"`
}

// TextBuffer is the editor model backing a file.
type TextBuffer interface {
	Value() string
	SetValue(value string)
	Language() string
	SetLanguage(language string)
	SetMarkers(owner string, markers []Annotation)
	OnChange(fn func()) (cancel func())
	Dispose()
}

// TextBufferFactory creates editor models for new files.
type TextBufferFactory interface {
	CreateModel(name, value, language string) TextBuffer
}

// MemoryBufferFactory creates in-memory text buffers.
type MemoryBufferFactory struct{}

// CreateModel implements TextBufferFactory.
func (MemoryBufferFactory) CreateModel(name, value, language string) TextBuffer {
	if language == "" {
		language = languages.ModeForFile(name)
	}
	return &memoryBuffer{value: value, language: language}
}

type memoryBuffer struct {
	mu       sync.Mutex
	value    string
	language string
	markers  map[string][]Annotation
	changes  listeners[struct{}]
}

func (b *memoryBuffer) Value() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *memoryBuffer) SetValue(value string) {
	b.mu.Lock()
	b.value = value
	b.mu.Unlock()
	b.changes.emit(struct{}{})
}

func (b *memoryBuffer) Language() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.language
}

func (b *memoryBuffer) SetLanguage(language string) {
	b.mu.Lock()
	b.language = language
	b.mu.Unlock()
}

func (b *memoryBuffer) SetMarkers(owner string, markers []Annotation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.markers == nil {
		b.markers = make(map[string][]Annotation)
	}
	b.markers[owner] = append([]Annotation(nil), markers...)
}

func (b *memoryBuffer) OnChange(fn func()) func() {
	return b.changes.subscribe(func(struct{}) { fn() })
}

func (b *memoryBuffer) Dispose() {
	b.changes.clear()
}
