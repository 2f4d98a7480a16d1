package core

import (
	"context"
	"encoding/json"
	"io"

	"pkt.systems/webbox/schema"
)

// Runner is the live execution session of a project.
type Runner interface {
	Run(ctx context.Context) error
	Test(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	State() schema.RunState
	Terminal() *Terminal
	Stdin() io.Writer
	// Done is closed when the current invocation finishes.
	Done() <-chan struct{}
	Title() string
}

// Sandbox is the remote execution host a project writes its files to.
type Sandbox interface {
	Mkdir(ctx context.Context, paths []string, parents bool) error
	WriteFile(ctx context.Context, path string, data []byte) error
	Exec(ctx context.Context, req ExecRequest) (Process, error)
	Rm(ctx context.Context, paths []string) error
}

// ExecRequest describes a sandbox process invocation.
type ExecRequest struct {
	Command string
	Args    []string
	Cwd     string
	Env     []string
	// Term requests terminal-style output on stdout.
	Term bool
	// Streams is the number of extra stdio channels. The third one carries
	// JSON test results.
	Streams int
}

// Process is a running sandbox process.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Stdin() io.WriteCloser
	Signal(ctx context.Context, sig ProcessSignal) error
	Wait(ctx context.Context) (ExitStatus, error)
	Done() <-chan struct{}
	// Results yields JSON documents written to the result stream and is
	// closed when the process ends. It may be nil.
	Results() <-chan json.RawMessage
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code   int
	Signal string
}

// ProcessSignal indicates which signal to send to the process.
type ProcessSignal string

const (
	// ProcessSignalHUP requests a hangup signal.
	ProcessSignalHUP ProcessSignal = "HUP"
	// ProcessSignalTERM requests a termination signal.
	ProcessSignalTERM ProcessSignal = "TERM"
	// ProcessSignalKILL requests an immediate kill signal.
	ProcessSignalKILL ProcessSignal = "KILL"
)
