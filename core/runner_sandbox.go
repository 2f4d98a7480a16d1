package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/format"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/internal/logx"
	"pkt.systems/webbox/schema"
)

// SandboxRunner runs a project in a remote sandbox: it writes the files,
// compiles when the language asks for it and executes or tests the result.
type SandboxRunner struct {
	host      runnerHost
	sandbox   Sandbox
	stopGrace time.Duration
	terminal  *Terminal
	stdin     stdinRelay

	mu       sync.Mutex
	state    schema.RunState
	running  bool
	stopping bool
	runID    schema.RunID
	process  Process
	cancel   context.CancelFunc
	done     chan struct{}
	logger   pslog.Logger
}

// sandboxJob is everything a pipeline needs, copied at launch.
type sandboxJob struct {
	runID    schema.RunID
	root     string
	files    []fileSnapshot
	config   languages.Config
	mainFile string
	project  string
	test     *fileSnapshot
}

func newSandboxRunner(host runnerHost, sandbox Sandbox, terminal *Terminal, stopGrace time.Duration) *SandboxRunner {
	if stopGrace <= 0 {
		stopGrace = schema.DefaultStopGrace
	}
	return &SandboxRunner{
		host:      host,
		sandbox:   sandbox,
		stopGrace: stopGrace,
		terminal:  terminal,
		state:     schema.RunStateIdle,
		done:      closedChan(),
	}
}

// Title implements Titled.
func (r *SandboxRunner) Title() string { return "Terminal" }

// Terminal returns the output terminal.
func (r *SandboxRunner) Terminal() *Terminal { return r.terminal }

// Stdin returns the writer feeding the running process.
func (r *SandboxRunner) Stdin() io.Writer { return &r.stdin }

// State returns the lifecycle state.
func (r *SandboxRunner) State() schema.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRunning reports whether a pipeline is in flight.
func (r *SandboxRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed when the current pipeline finishes.
func (r *SandboxRunner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Run writes, compiles and executes the project. It returns immediately.
func (r *SandboxRunner) Run(ctx context.Context) error {
	return r.start(ctx, false)
}

// Test writes the project plus its tests and runs the test command.
func (r *SandboxRunner) Test(ctx context.Context) error {
	return r.start(ctx, true)
}

func (r *SandboxRunner) start(ctx context.Context, test bool) error {
	if r.sandbox == nil {
		return schema.ErrSandboxUnavailable
	}
	job := sandboxJob{
		runID:    newRunID(),
		files:    snapshotFiles(r.host.GetFiles()),
		config:   r.host.LanguageConfig(),
		mainFile: r.host.GetMainFile(),
		project:  r.host.ProjectName(),
	}
	job.root = job.project
	if job.root == "" {
		job.root = "."
	}
	if test {
		tests := r.host.TestCode()
		if tests == nil {
			return schema.ErrNoTestCode
		}
		job.test = &fileSnapshot{name: tests.Name(), value: tests.Value()}
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := detachRunContext(ctx)
	log := logx.WithRun(pslog.Ctx(runCtx), job.runID)
	done := make(chan struct{})
	r.running = true
	r.stopping = false
	r.state = schema.RunStateRunning
	r.runID = job.runID
	r.cancel = cancel
	r.done = done
	r.logger = log
	r.mu.Unlock()

	// stale input must not reach the new process
	r.stdin.attach(nil)
	if !test {
		args := job.config.Exec.Expand(fileNames(job.files), job.mainFile, job.project)
		r.host.SendEvent(ctx, schema.NewEventLog(schema.EventLogRun, map[string]any{"execCommand": args}))
	}
	log.Info("sandbox run start", "test", test, "files", len(job.files), "language", job.config.Name)
	r.host.runnerStateChanged(r, schema.RunStateRunning)
	go r.pipeline(pslog.ContextWithLogger(runCtx, log), job, done)
	return nil
}

func (r *SandboxRunner) pipeline(ctx context.Context, job sandboxJob, done chan struct{}) {
	log := pslog.Ctx(ctx)
	started := time.Now()
	files := job.files
	if job.test != nil {
		files = append(append([]fileSnapshot(nil), files...), *job.test)
	}
	err := r.ensureDirs(ctx, job.root, files)
	if err == nil {
		err = r.writeFiles(ctx, job.root, files)
	}
	if err == nil {
		err = r.compile(ctx, job, files)
	}
	if err == nil {
		if job.test != nil {
			err = r.test(ctx, job, files)
		} else {
			err = r.exec(ctx, job, files)
		}
	}

	r.mu.Lock()
	stopped := r.stopping
	r.mu.Unlock()
	switch {
	case stopped:
		log.Info("sandbox run stopped", "duration_ms", time.Since(started).Milliseconds())
	case err != nil:
		log.Warn("sandbox run failed", "err", err)
		writeStatus(r.terminal, runnerStatusText(err), true)
	default:
		writeStatus(r.terminal, "\n", false)
		if job.test != nil {
			writeStatus(r.terminal, "Test beendet", true)
		} else {
			writeStatus(r.terminal, "Ausführung Beendet", true)
		}
		log.Info("sandbox run finished", "duration_ms", time.Since(started).Milliseconds())
	}
	if job.test != nil {
		r.host.DeleteFile(ctx, job.test.name)
	}

	r.mu.Lock()
	r.running = false
	r.state = schema.RunStateExited
	r.process = nil
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(done)
	r.host.runnerStateChanged(r, schema.RunStateExited)
}

// Stop interrupts the current pipeline. It is safe to call at any time and
// does not block on the signal sequence.
func (r *SandboxRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	proc := r.process
	cancel := r.cancel
	log := r.logger
	r.mu.Unlock()
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log.Info("sandbox stop requested")
	writeStatus(r.terminal, "\n", false)
	writeStatus(r.terminal, "Ausführung abgebrochen", true)
	go stopProcess(log, proc, r.stopGrace, cancel)
	return nil
}

func (r *SandboxRunner) ensureDirs(ctx context.Context, root string, files []fileSnapshot) error {
	dirs := fileDirs(root, files)
	if len(dirs) == 0 {
		return nil
	}
	if err := r.sandbox.Mkdir(ctx, dirs, true); err != nil {
		return wrapSandboxError(RunnerErrorFiles, "mkdir", err)
	}
	return nil
}

func (r *SandboxRunner) writeFiles(ctx context.Context, root string, files []fileSnapshot) error {
	for _, f := range files {
		if err := r.sandbox.WriteFile(ctx, path.Join(root, f.name), []byte(f.value)); err != nil {
			return wrapSandboxError(RunnerErrorFiles, "write", err)
		}
	}
	return nil
}

func (r *SandboxRunner) compile(ctx context.Context, job sandboxJob, files []fileSnapshot) error {
	if !job.config.HasCompile() {
		return nil
	}
	log := pslog.Ctx(ctx)
	writeStatus(r.terminal, "Übersetze Quellcode", true)
	args := job.config.Compile.Expand(fileNames(files), job.mainFile, job.project)
	if len(args) == 0 {
		return &RunnerError{Kind: RunnerErrorCompile, Op: "compile", Message: "Übersetzen fehlgeschlagen"}
	}
	writeStatus(r.terminal, format.CommandLine(args), false)
	proc, err := r.sandbox.Exec(ctx, ExecRequest{
		Command: args[0],
		Args:    args[1:],
		Cwd:     job.root,
		Env:     job.config.EnvList(),
	})
	if err != nil {
		log.Warn("sandbox compile exec failed", "err", err)
		return &RunnerError{Kind: RunnerErrorCompile, Op: "compile", Err: err}
	}
	r.setProcess(proc)

	annotations := annotationMap{}
	var parser languages.DiagnosticParser
	if job.config.Parser != nil {
		parser = job.config.Parser()
	}
	addDiagnostics := func(diags []languages.Diagnostic) {
		for _, d := range diags {
			annotations.add(d.File, Annotation{Row: d.Row - 1, Column: max(d.Column-1, 0), Text: d.Text, Type: d.Type})
		}
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.copyOutput(proc.Stdout())
	}()
	r.copyStderr(proc.Stderr(), func(line string) {
		if parser != nil {
			addDiagnostics(parser.Feed(line))
		}
	})
	wg.Wait()
	if parser != nil {
		addDiagnostics(parser.Flush())
	}
	status, waitErr := proc.Wait(ctx)
	r.setProcess(nil)
	annotations.apply(job.files)
	if waitErr != nil || status.Code != 0 {
		log.Debug("sandbox compile failed", "exit_code", status.Code, "err", waitErr)
		return &RunnerError{Kind: RunnerErrorCompile, Op: "compile", Err: waitErr}
	}
	return nil
}

func (r *SandboxRunner) exec(ctx context.Context, job sandboxJob, files []fileSnapshot) error {
	args := job.config.Exec.Expand(fileNames(files), job.mainFile, job.project)
	if len(args) == 0 {
		return &RunnerError{Kind: RunnerErrorExec, Op: "exec", Message: "No exec command", Err: schema.ErrNoExecCommand}
	}
	writeStatus(r.terminal, format.CommandLine(args), false)
	return r.runProcess(ctx, job, args, false)
}

func (r *SandboxRunner) test(ctx context.Context, job sandboxJob, files []fileSnapshot) error {
	args := job.config.Test.Expand(fileNames(files), job.mainFile, job.project)
	if len(args) == 0 {
		return &RunnerError{Kind: RunnerErrorExec, Op: "test", Message: "No test command", Err: schema.ErrNoTestCommand}
	}
	writeStatus(r.terminal, "Überprüfe das Programm", false)
	return r.runProcess(ctx, job, args, true)
}

// runProcess executes the program. A non-zero exit code is a normal
// outcome; only transport failures count as errors.
func (r *SandboxRunner) runProcess(ctx context.Context, job sandboxJob, args []string, test bool) error {
	log := pslog.Ctx(ctx)
	op := "exec"
	if test {
		op = "test"
	}
	proc, err := r.sandbox.Exec(ctx, ExecRequest{
		Command: args[0],
		Args:    args[1:],
		Cwd:     job.root,
		Env:     job.config.EnvList(),
		Term:    true,
		Streams: job.config.Streams,
	})
	if err != nil {
		r.reportFailure(ctx, err)
		return &RunnerError{Kind: RunnerErrorExec, Op: op, Err: err}
	}
	r.setProcess(proc)
	r.stdin.attach(proc.Stdin())
	defer r.stdin.attach(nil)

	var errParser languages.ErrorParser
	if job.config.ErrorParser != nil {
		errParser = job.config.ErrorParser()
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.copyOutput(proc.Stdout())
	}()
	if test {
		if results := proc.Results(); results != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for raw := range results {
					result, err := decodeTestResult(raw)
					if err != nil {
						log.Warn("sandbox test result invalid", "err", err)
						continue
					}
					r.host.showTestResult(result)
				}
			}()
		}
	}
	r.copyStderr(proc.Stderr(), func(line string) {
		if errParser != nil {
			errParser.Feed(line)
		}
	})
	status, waitErr := proc.Wait(ctx)
	wg.Wait()
	r.setProcess(nil)

	annotations := annotationMap{}
	if errParser != nil && errParser.HasError() {
		reportRuntimeError(ctx, r.host, errParser.Result(), annotations)
	}
	annotations.apply(job.files)

	if waitErr != nil {
		if r.isStopping() || errors.Is(waitErr, context.Canceled) {
			return nil
		}
		r.reportFailure(ctx, waitErr)
		return &RunnerError{Kind: RunnerErrorExec, Op: op, Err: waitErr}
	}
	log.Info("sandbox exec finished", "exit_code", status.Code, "signal", status.Signal)
	return nil
}

// reportFailure tells the user the sandbox connection broke and records it.
func (r *SandboxRunner) reportFailure(ctx context.Context, err error) {
	if r.isStopping() {
		return
	}
	r.host.ShowMessage(schema.SeverityError, "Verbindung zum Server fehlgeschlagen.")
	r.host.SendEvent(ctx, schema.NewEventLog(schema.EventLogFailure, map[string]any{"message": err.Error()}))
}

func (r *SandboxRunner) copyOutput(src io.Reader) {
	if src == nil {
		return
	}
	_, _ = io.Copy(r.terminal, src)
}

// copyStderr mirrors stderr to the terminal and hands every line to fn.
func (r *SandboxRunner) copyStderr(src io.Reader, fn func(line string)) {
	if src == nil {
		return
	}
	reader := bufio.NewReader(src)
	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			r.terminal.WriteString(chunk)
			fn(strings.TrimRight(chunk, "\r\n"))
		}
		if err != nil {
			return
		}
	}
}

func (r *SandboxRunner) setProcess(proc Process) {
	r.mu.Lock()
	r.process = proc
	stopping := r.stopping
	grace := r.stopGrace
	log := r.logger
	r.mu.Unlock()
	// a process started after Stop was requested is stopped right away
	if stopping && proc != nil {
		go stopProcess(log, proc, grace, nil)
	}
}

func (r *SandboxRunner) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func wrapSandboxError(kind RunnerErrorKind, op string, err error) error {
	var runnerErr *RunnerError
	if errors.As(err, &runnerErr) {
		return err
	}
	return &RunnerError{Kind: kind, Op: op, Err: fmt.Errorf("sandbox %s: %w", op, err)}
}
