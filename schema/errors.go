package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidEmbed indicates an embed payload failed validation.
	ErrInvalidEmbed = errors.New("invalid embed")
	// ErrEmbedNotFound indicates a requested embed could not be found.
	ErrEmbedNotFound = errors.New("embed not found")
	// ErrUnsupportedEmbedType indicates no project variant handles the embed type.
	ErrUnsupportedEmbedType = errors.New("unsupported embed type")
	// ErrTabNotFound indicates a requested tab could not be found.
	ErrTabNotFound = errors.New("tab not found")
	// ErrFileNotFound indicates no open file carries the requested name.
	ErrFileNotFound = errors.New("file not found")
	// ErrInconsistentProject indicates duplicate file names are unresolved.
	ErrInconsistentProject = errors.New("project is inconsistent")
	// ErrSaveNotAllowed indicates the mode or user forbids persistence.
	ErrSaveNotAllowed = errors.New("save not allowed")
	// ErrSavePending indicates a save is already in flight.
	ErrSavePending = errors.New("save already pending")
	// ErrNotConnected indicates the remote channel is not connected.
	ErrNotConnected = errors.New("not connected")
	// ErrSandboxUnavailable indicates no execution sandbox is configured.
	ErrSandboxUnavailable = errors.New("sandbox not configured")
	// ErrRunnerBusy indicates the runner is already running.
	ErrRunnerBusy = errors.New("runner is busy")
	// ErrNoExecCommand indicates the language has no exec command.
	ErrNoExecCommand = errors.New("no exec command")
	// ErrNoTestCommand indicates the language has no test command.
	ErrNoTestCommand = errors.New("no test command")
	// ErrNoTestCode indicates the embed carries no tests.
	ErrNoTestCode = errors.New("no test code")
	// ErrCompileFailed indicates the compile step exited non-zero.
	ErrCompileFailed = errors.New("compile failed")
	// ErrExecFailed indicates the process could not be executed.
	ErrExecFailed = errors.New("exec failed")
	// ErrUnknownLanguage indicates no configuration exists for a language.
	ErrUnknownLanguage = errors.New("unknown language")
	// ErrPathOutsideRoot indicates a sandbox path escapes its work root.
	ErrPathOutsideRoot = errors.New("path outside work root")
)
