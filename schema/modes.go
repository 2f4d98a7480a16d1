package schema

import "strings"

// Mode gates which project operations are permitted.
type Mode int

const (
	// ModeUnknown is the fallback for unrecognized modes and is the most restrictive.
	ModeUnknown Mode = iota
	// ModeDefault allows editing, running and saving.
	ModeDefault
	// ModeReadonly allows running but no file edits.
	ModeReadonly
	// ModeNoSave allows edits and running but never persists.
	ModeNoSave
	// ModeViewDocument shows a saved derivative of an embed without saving.
	ModeViewDocument
	// ModeRunMode is an ephemeral scratch session that is never persisted.
	ModeRunMode
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "Default"
	case ModeReadonly:
		return "Readonly"
	case ModeNoSave:
		return "NoSave"
	case ModeViewDocument:
		return "ViewDocument"
	case ModeRunMode:
		return "RunMode"
	case ModeUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

// ParseMode maps a wire name to a Mode. Empty input yields ModeDefault.
func ParseMode(value string) Mode {
	switch strings.TrimSpace(value) {
	case "", "Default":
		return ModeDefault
	case "Readonly":
		return ModeReadonly
	case "NoSave":
		return ModeNoSave
	case "ViewDocument":
		return ModeViewDocument
	case "RunMode":
		return ModeRunMode
	default:
		return ModeUnknown
	}
}

// AllowsSave reports whether persistence is permitted in the mode.
func (m Mode) AllowsSave() bool {
	switch m {
	case ModeDefault:
		return true
	case ModeReadonly, ModeNoSave, ModeViewDocument, ModeRunMode, ModeUnknown:
		return false
	default:
		return false
	}
}

// AllowsEdit reports whether file contents may be changed in the mode.
func (m Mode) AllowsEdit() bool {
	switch m {
	case ModeDefault, ModeNoSave, ModeViewDocument, ModeRunMode:
		return true
	case ModeReadonly, ModeUnknown:
		return false
	default:
		return false
	}
}

// AllowsRun reports whether the runner may be started in the mode.
func (m Mode) AllowsRun() bool {
	switch m {
	case ModeDefault, ModeReadonly, ModeNoSave, ModeViewDocument, ModeRunMode:
		return true
	case ModeUnknown:
		return false
	default:
		return false
	}
}

// CollectsTelemetry reports whether ide events are forwarded in the mode.
func (m Mode) CollectsTelemetry() bool {
	return m == ModeDefault
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(data []byte) error {
	*m = ParseMode(string(data))
	return nil
}

// TabType identifies the kind of item held by a tab.
type TabType string

const (
	// TabFile holds an open source file.
	TabFile TabType = "file"
	// TabProcess holds a runner or ad-hoc process.
	TabProcess TabType = "process"
	// TabTestResult holds a test result panel.
	TabTestResult TabType = "testresult"
	// TabInsights holds the insights panel.
	TabInsights TabType = "insights"
	// TabPanel holds any other auxiliary panel.
	TabPanel TabType = "panel"
)

// EmbedType selects the project variant.
type EmbedType string

const (
	// EmbedSourcebox runs code in the remote sandbox.
	EmbedSourcebox EmbedType = "sourcebox"
	// EmbedSkulpt runs code in-process.
	EmbedSkulpt EmbedType = "skulpt"
)

// EmbedTypes lists every supported embed type.
var EmbedTypes = []EmbedType{EmbedSourcebox, EmbedSkulpt}

// IsValidEmbedType reports whether t is supported.
func IsValidEmbedType(t EmbedType) bool {
	for _, known := range EmbedTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Severity grades user-facing messages.
type Severity string

const (
	// SeverityIgnore has no special styling.
	SeverityIgnore Severity = "ignore"
	// SeverityInfo is informational.
	SeverityInfo Severity = "info"
	// SeverityWarning is recoverable and needs attention.
	SeverityWarning Severity = "warning"
	// SeverityError reports a failure.
	SeverityError Severity = "danger"
)
