package schema

// ProjectEventType describes a change notification emitted by a project.
type ProjectEventType string

const (
	// ProjectEventChange is a general state change.
	ProjectEventChange ProjectEventType = "change"
	// ProjectEventTabRemoved reports a removed tab.
	ProjectEventTabRemoved ProjectEventType = "tabremoved"
	// ProjectEventOutput carries terminal output of a process tab.
	ProjectEventOutput ProjectEventType = "output"
	// ProjectEventMessages reports a message list change.
	ProjectEventMessages ProjectEventType = "messages"
	// ProjectEventStatus reports a status bar change.
	ProjectEventStatus ProjectEventType = "status"
	// ProjectEventRunState reports a runner state transition.
	ProjectEventRunState ProjectEventType = "runstate"
)

// RunState is the lifecycle of a runner.
type RunState string

const (
	// RunStateIdle has never run.
	RunStateIdle RunState = "idle"
	// RunStateRunning has a process in flight.
	RunStateRunning RunState = "running"
	// RunStateExited finished or was stopped.
	RunStateExited RunState = "exited"
)

// TabSnapshot is a transport-friendly view of a tab.
type TabSnapshot struct {
	UniqueID UniqueTabID `json:"uniqueId"`
	Type     TabType     `json:"type"`
	Title    string      `json:"title,omitempty"`
	Active   bool        `json:"active"`
}

// ProjectEvent is published to subscribers of a project.
type ProjectEvent struct {
	EmbedID  EmbedID          `json:"embedId"`
	Type     ProjectEventType `json:"type"`
	Tab      *TabSnapshot     `json:"tab,omitempty"`
	Tabs     []TabSnapshot    `json:"tabs,omitempty"`
	Lines    []string         `json:"lines,omitempty"`
	RunState RunState         `json:"runState,omitempty"`
	Message  string           `json:"message,omitempty"`
	Severity Severity         `json:"severity,omitempty"`
}
