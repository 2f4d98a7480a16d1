package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/format"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/internal/logx"
	"pkt.systems/webbox/schema"
)

// Interpreter executes a program in-process against the project files.
type Interpreter interface {
	Run(ctx context.Context, req InterpretRequest) error
}

// InterpretRequest is handed to an Interpreter.
type InterpretRequest struct {
	Language string
	MainFile string
	Source   string
	Files    FileSystem
	Stdin    io.Reader
	Stdout   io.Writer
}

// FileSystem gives an interpreter access to the project files.
type FileSystem interface {
	// ReadFile returns the content of name. Mode "w" truncates or creates
	// the file, mode "x" creates it when missing and "b" is unsupported.
	ReadFile(name, mode string) (string, error)
	// AppendFile appends text to an existing file.
	AppendFile(name, text string) error
}

// InterpreterError is a program failure with a source position.
type InterpreterError struct {
	File      string
	Line      int
	Column    int
	Name      string
	Message   string
	Traceback string
}

func (e *InterpreterError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

var (
	// ErrBinaryMode is returned for binary file access.
	ErrBinaryMode = errors.New("binary mode is not supported")
	// ErrReadOnlyFile is returned when writing a file opened for reading.
	ErrReadOnlyFile = errors.New("file is in readonly mode, cannot write")
	// ErrFileDeleted is returned when writing a file that no longer exists.
	ErrFileDeleted = errors.New("file has been deleted, cannot write")
)

// InlineRunner runs a project through an in-process Interpreter.
type InlineRunner struct {
	host        runnerHost
	interpreter Interpreter
	terminal    *Terminal

	mu       sync.Mutex
	stdin    *io.PipeWriter
	state    schema.RunState
	running  bool
	stopping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newInlineRunner(host runnerHost, interpreter Interpreter, terminal *Terminal) *InlineRunner {
	return &InlineRunner{
		host:        host,
		interpreter: interpreter,
		terminal:    terminal,
		state:       schema.RunStateIdle,
		done:        closedChan(),
	}
}

// Title implements Titled.
func (r *InlineRunner) Title() string { return "Terminal" }

// Terminal returns the output terminal.
func (r *InlineRunner) Terminal() *Terminal { return r.terminal }

// State returns the lifecycle state.
func (r *InlineRunner) State() schema.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRunning reports whether the interpreter is busy.
func (r *InlineRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when the current run finishes.
func (r *InlineRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stdin feeds the running program.
func (r *InlineRunner) Stdin() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		r.mu.Lock()
		w := r.stdin
		r.mu.Unlock()
		if w == nil {
			return len(p), nil
		}
		return w.Write(p)
	})
}

// Test is not supported in-process.
func (r *InlineRunner) Test(context.Context) error {
	return schema.ErrNoTestCommand
}

// Run starts the interpreter on the main file. It returns immediately.
func (r *InlineRunner) Run(ctx context.Context) error {
	if r.interpreter == nil {
		return schema.ErrSandboxUnavailable
	}
	cfg := r.host.LanguageConfig()
	if cfg.Exec.IsZero() {
		return schema.ErrNoExecCommand
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := detachRunContext(ctx)
	runID := newRunID()
	log := logx.WithRun(pslog.Ctx(runCtx), runID)
	stdinR, stdinW := io.Pipe()
	done := make(chan struct{})
	r.running = true
	r.stopping = false
	r.state = schema.RunStateRunning
	r.cancel = cancel
	r.stdin = stdinW
	r.done = done
	r.mu.Unlock()

	files := snapshotFiles(r.host.GetFiles())
	for _, f := range files {
		f.file.ClearAnnotations()
	}
	mainFile := r.host.GetMainFile()
	source := ""
	if f := r.host.GetFileForName(mainFile); f != nil {
		source = f.Value()
	}
	language := r.host.LanguageName()
	command := strings.Join(cfg.Exec.Expand(fileNames(files), mainFile, r.host.ProjectName()), " ")
	r.host.SendEvent(ctx, schema.NewEventLog(schema.EventLogRun, map[string]any{"execCommand": command}))
	log.Info("inline run start", "main", mainFile, "language", language)
	r.host.runnerStateChanged(r, schema.RunStateRunning)

	go func() {
		started := time.Now()
		runCtx := pslog.ContextWithLogger(runCtx, log)
		writeStatus(r.terminal, command, false)
		err := r.interpreter.Run(runCtx, InterpretRequest{
			Language: language,
			MainFile: mainFile,
			Source:   source,
			Files:    projectFS{host: r.host},
			Stdin:    stdinR,
			Stdout:   r.terminal,
		})
		_ = stdinR.Close()
		r.finish(runCtx, files, err)
		log.Info("inline run finished", "duration_ms", time.Since(started).Milliseconds(), "err", err)

		r.mu.Lock()
		r.running = false
		r.state = schema.RunStateExited
		r.stdin = nil
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		close(done)
		r.host.runnerStateChanged(r, schema.RunStateExited)
	}()
	return nil
}

func (r *InlineRunner) finish(ctx context.Context, files []fileSnapshot, err error) {
	r.mu.Lock()
	stopping := r.stopping
	r.mu.Unlock()
	if err == nil {
		writeStatus(r.terminal, "Ausführung Beendet", true)
		return
	}
	var interpErr *InterpreterError
	if stopping || errors.Is(err, context.Canceled) || (errors.As(err, &interpErr) && interpErr.Name == "KeyboardInterrupt") {
		r.terminal.WriteString(format.StatusLine("Ausführung abgebrochen"))
		return
	}
	if !errors.As(err, &interpErr) {
		pslog.Ctx(ctx).Warn("inline run failed", "err", err)
		r.terminal.WriteString(format.StatusLine(err.Error()))
		return
	}
	raw := interpErr.Traceback
	if raw == "" {
		raw = interpErr.Error()
	}
	r.terminal.WriteString(errorLine(raw))
	column := interpErr.Column
	annotations := annotationMap{}
	reportRuntimeError(ctx, r.host, languages.RuntimeError{
		File:      interpErr.File,
		Line:      interpErr.Line,
		Column:    &column,
		Error:     interpErr.Name,
		Message:   interpErr.Error(),
		ErrorHint: raw,
		Raw:       raw,
	}, annotations)
	annotations.apply(files)
}

// Stop cancels the interpreter.
func (r *InlineRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	cancel := r.cancel
	stdin := r.stdin
	r.mu.Unlock()
	pslog.Ctx(ctx).Info("inline stop requested")
	if stdin != nil {
		_ = stdin.Close()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func errorLine(text string) string {
	return "\x1b[31m" + strings.ReplaceAll(text, "\n", "\r\n") + "\x1b[m\r\n"
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// projectFS exposes project files to an interpreter.
type projectFS struct {
	host runnerHost
}

func (fs projectFS) ReadFile(name, mode string) (string, error) {
	name = normalizeFileRef(name)
	file := fs.host.GetFileForName(name)
	switch mode {
	case "w":
		if file != nil {
			file.SetValue("")
		} else {
			fs.host.AddFile(name, "", "", false)
		}
		return "", nil
	case "x":
		if file == nil {
			fs.host.AddFile(name, "", "", false)
			return "", nil
		}
	case "b":
		return "", ErrBinaryMode
	}
	if file == nil {
		return "", fmt.Errorf("%w: %s", schema.ErrFileNotFound, name)
	}
	return file.Value(), nil
}

func (fs projectFS) AppendFile(name, text string) error {
	file := fs.host.GetFileForName(normalizeFileRef(name))
	if file == nil {
		return ErrFileDeleted
	}
	file.SetValue(file.Value() + text)
	return nil
}
