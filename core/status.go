package core

import (
	"sync"
	"time"

	"pkt.systems/webbox/schema"
)

// StatusData is the displayed status bar state.
type StatusData struct {
	Message             string
	Title               string
	Severity            schema.Severity
	EmbedType           string
	LanguageDisplayName string
	Username            string
	ChangesLabel        string
}

// Status holds the project status bar.
type Status struct {
	mu         sync.Mutex
	data       StatusData
	generation int
	changes    listeners[StatusData]
}

// NewStatus returns an empty status.
func NewStatus() *Status {
	return &Status{data: StatusData{Severity: schema.SeverityIgnore}}
}

// Subscribe registers a change listener.
func (s *Status) Subscribe(fn func(StatusData)) func() {
	return s.changes.subscribe(fn)
}

// SetUsername sets the displayed user.
func (s *Status) SetUsername(name string) {
	s.update(func(d *StatusData) { d.Username = name })
}

// SetLanguageInformation sets the embed type and language labels.
func (s *Status) SetLanguageInformation(embedType, languageDisplayName string) {
	s.update(func(d *StatusData) {
		d.EmbedType = embedType
		d.LanguageDisplayName = languageDisplayName
	})
}

// SetChangesLabel sets the unsaved changes indicator.
func (s *Status) SetChangesLabel(label string) {
	s.update(func(d *StatusData) { d.ChangesLabel = label })
}

// SetStatusMessage shows a message. A positive timeout resets it later
// unless a newer message replaced it.
func (s *Status) SetStatusMessage(message, title string, severity schema.Severity, timeout time.Duration) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.data.Message = message
	s.data.Title = title
	s.data.Severity = severity
	snapshot := s.data
	s.mu.Unlock()
	s.changes.emit(snapshot)
	if timeout > 0 {
		time.AfterFunc(timeout, func() {
			s.mu.Lock()
			stale := gen != s.generation
			s.mu.Unlock()
			if !stale {
				s.ResetStatusMessage()
			}
		})
	}
}

// ResetStatusMessage clears the message.
func (s *Status) ResetStatusMessage() {
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	s.update(func(d *StatusData) {
		d.Message = ""
		d.Title = ""
		d.Severity = schema.SeverityIgnore
	})
}

// ResetAll clears the message and language information.
func (s *Status) ResetAll() {
	s.mu.Lock()
	s.data.EmbedType = ""
	s.data.LanguageDisplayName = ""
	s.mu.Unlock()
	s.ResetStatusMessage()
}

// Data returns the current state.
func (s *Status) Data() StatusData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Status) update(fn func(*StatusData)) {
	s.mu.Lock()
	fn(&s.data)
	snapshot := s.data
	s.mu.Unlock()
	s.changes.emit(snapshot)
}
