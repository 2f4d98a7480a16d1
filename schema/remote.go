package schema

import (
	"encoding/json"
	"time"
)

// RemoteEventType names channels on the remote messaging connection.
type RemoteEventType string

const (
	// RemoteIDEEvent carries ide telemetry pushed by the server.
	RemoteIDEEvent RemoteEventType = "ide-event"
	// RemoteSubmission carries a submission pushed by the server.
	RemoteSubmission RemoteEventType = "submission"
	// RemoteUserTestResult carries a user's test result.
	RemoteUserTestResult RemoteEventType = "user-testresult"
	// RemoteReconnectFailed is raised locally when reconnecting gives up.
	RemoteReconnectFailed RemoteEventType = "reconnect_failed"
)

// EventLogName classifies telemetry events.
type EventLogName string

const (
	// EventLogError records a runtime error raised by user code.
	EventLogError EventLogName = "error"
	// EventLogRun records a run request.
	EventLogRun EventLogName = "run"
	// EventLogFailure records a sandbox failure.
	EventLogFailure EventLogName = "failure"
	// EventLogTest records a test run.
	EventLogTest EventLogName = "test"
)

// ActionName identifies a remote action.
type ActionName string

const (
	// ActionSubmission shares the project with a teacher.
	ActionSubmission ActionName = "submission"
	// ActionTestResult reports a test result.
	ActionTestResult ActionName = "testresult"
	// ActionSubscribe subscribes to embed-scoped pushes.
	ActionSubscribe ActionName = "subscribe"
)

// EventContext scopes an event or action to an embed and user.
type EventContext struct {
	EmbedName     string     `json:"embedName,omitempty"`
	EmbedID       EmbedID    `json:"embedId,omitempty"`
	EmbedDocument DocumentID `json:"embedDocument,omitempty"`
	EmbedUser     string     `json:"embedUser,omitempty"`
}

// EventLog is a fire-and-forget telemetry record.
type EventLog struct {
	Name      EventLogName   `json:"name"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timeStamp"`
	Context   EventContext   `json:"context"`
}

// NewEventLog stamps a new telemetry record.
func NewEventLog(name EventLogName, data map[string]any) EventLog {
	return EventLog{Name: name, Data: data, Timestamp: time.Now()}
}

// ActionResponse is the acknowledgement of a remote action.
type ActionResponse struct {
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Action is a request/response message sent over the remote channel.
type Action struct {
	Action   ActionName           `json:"action"`
	User     string               `json:"user,omitempty"`
	Data     map[string]any       `json:"data,omitempty"`
	Context  EventContext         `json:"context"`
	Callback func(ActionResponse) `json:"-"`
}

// Run delivers the response to the callback when one is set.
func (a Action) Run(resp ActionResponse) {
	if a.Callback != nil {
		a.Callback(resp)
	}
}

// Inbound is a push received from the remote channel.
type Inbound struct {
	Type    RemoteEventType `json:"type"`
	EmbedID EmbedID         `json:"embedId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TestResult is the outcome of a test run.
type TestResult struct {
	Score    float64          `json:"score"`
	MaxScore float64          `json:"max_score"`
	Tests    []map[string]any `json:"tests,omitempty"`
}

// Percentage returns score relative to max score.
func (r TestResult) Percentage() float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return r.Score / r.MaxScore * 100
}
