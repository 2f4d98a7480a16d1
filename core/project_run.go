package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

const inconsistentRunText = "Das Projekt kann derzeit nicht ausgeführt werden. Haben Sie noch weitere Meldungen offen?"

// Run starts the project program. A second call while the runner is busy
// is a no-op. Failures are shown as messages and returned.
func (p *Project) Run(ctx context.Context) error {
	return p.launch(ctx, false)
}

// Test runs the tests of the project against the current files.
func (p *Project) Test(ctx context.Context) error {
	return p.launch(ctx, true)
}

func (p *Project) launch(ctx context.Context, test bool) error {
	if ctx == nil {
		ctx = p.ctx
	}
	if !p.IsConsistent() {
		p.messages.ShowMessage(schema.SeverityError, inconsistentRunText)
		return schema.ErrInconsistentProject
	}
	if p.IsInert() || !p.Mode().AllowsRun() {
		return fmt.Errorf("run in mode %s: %w", p.Mode(), schema.ErrInvalidRequest)
	}
	if p.IsRunning() {
		return nil
	}
	runner, err := p.ensureRunner()
	if err != nil {
		p.logger.Warn("project runner unavailable", "err", err)
		p.messages.ShowMessage(schema.SeverityError, launchErrorText(err))
		return err
	}
	p.tabs.EnsureActive(schema.TabProcess, runner)
	ctx = pslog.ContextWithLogger(ctx, p.logger)
	if test {
		err = runner.Test(ctx)
	} else {
		err = runner.Run(ctx)
	}
	if err != nil {
		p.logger.Warn("project run failed", "test", test, "err", err)
		p.messages.ShowMessage(schema.SeverityError, launchErrorText(err))
		return err
	}
	return nil
}

func launchErrorText(err error) string {
	switch {
	case errors.Is(err, schema.ErrSandboxUnavailable):
		return "Verbindung zum Server fehlgeschlagen."
	case errors.Is(err, schema.ErrNoTestCode):
		return "Für dieses Beispiel sind keine Tests vorhanden."
	case errors.Is(err, schema.ErrNoTestCommand):
		return "Für diese Sprache können keine Tests ausgeführt werden."
	case errors.Is(err, schema.ErrNoExecCommand):
		return "Für diese Sprache ist kein Ausführungsbefehl konfiguriert."
	default:
		return err.Error()
	}
}

// ensureRunner creates the runner and its process tab on first use.
func (p *Project) ensureRunner() (Runner, error) {
	p.mu.Lock()
	if p.runner != nil {
		runner := p.runner
		p.mu.Unlock()
		return runner, nil
	}
	terminal := NewTerminal(p.cfg.TerminalMaxLines)
	var runner Runner
	switch p.embedType {
	case schema.EmbedSourcebox:
		if p.deps.Sandbox == nil {
			p.mu.Unlock()
			return nil, schema.ErrSandboxUnavailable
		}
		runner = newSandboxRunner(p, p.deps.Sandbox, terminal, p.cfg.StopGrace)
	case schema.EmbedSkulpt:
		if p.deps.Interpreter == nil {
			p.mu.Unlock()
			return nil, schema.ErrSandboxUnavailable
		}
		runner = newInlineRunner(p, p.deps.Interpreter, terminal)
	default:
		p.mu.Unlock()
		return nil, schema.ErrUnsupportedEmbedType
	}
	p.runner = runner
	p.mu.Unlock()

	terminal.OnLines(func(lines []string) { p.emitOutput(runner, lines) })
	p.tabs.AddTab(schema.TabProcess, TabOptions{
		Item:   runner,
		Active: Inactive(),
		Callback: func() {
			_ = runner.Stop(p.ctx)
			p.mu.Lock()
			if p.runner == runner {
				p.runner = nil
			}
			p.mu.Unlock()
		},
	})
	p.logger.Debug("project runner created", "embed_type", p.embedType)
	return runner, nil
}

// Stop stops the runner when it is busy.
func (p *Project) Stop(ctx context.Context) error {
	runner := p.Runner()
	if runner == nil || !runner.IsRunning() {
		return nil
	}
	if ctx == nil {
		ctx = p.ctx
	}
	return runner.Stop(pslog.ContextWithLogger(ctx, p.logger))
}

// IsRunning reports whether the runner is busy.
func (p *Project) IsRunning() bool {
	runner := p.Runner()
	return runner != nil && runner.IsRunning()
}

// Runner returns the runner or nil before the first run.
func (p *Project) Runner() Runner {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runner
}

func (p *Project) runnerStateChanged(r Runner, state schema.RunState) {
	var snap *schema.TabSnapshot
	if tab, ok := p.tabs.TabAt(p.tabs.IndexOf(schema.TabProcess, r)); ok {
		s := tab.Snapshot()
		snap = &s
	}
	p.emit(schema.ProjectEvent{Type: schema.ProjectEventRunState, Tab: snap, RunState: state})
	p.emitChange()
}

func (p *Project) emitOutput(item any, lines []string) {
	var snap *schema.TabSnapshot
	if tab, ok := p.tabs.TabAt(p.tabs.IndexOf(schema.TabProcess, item)); ok {
		s := tab.Snapshot()
		snap = &s
	}
	p.emit(schema.ProjectEvent{Type: schema.ProjectEventOutput, Tab: snap, Lines: lines})
}

func (p *Project) showTestResult(result schema.TestResult) {
	view := &TestResultView{Result: result}
	p.tabs.AddTab(schema.TabTestResult, TabOptions{Item: view})
	p.SendEvent(p.ctx, schema.NewEventLog(schema.EventLogTest, map[string]any{
		"score":      result.Score,
		"maxScore":   result.MaxScore,
		"percentage": result.Percentage(),
	}))
	p.logger.Info("project test result", "score", result.Score, "max_score", result.MaxScore)
}

// ProcessView is an ad-hoc sandbox process shown in a process tab.
type ProcessView struct {
	title    string
	terminal *Terminal
	process  Process
}

// Title implements Titled.
func (v *ProcessView) Title() string { return v.title }

// Terminal returns the process output.
func (v *ProcessView) Terminal() *Terminal { return v.terminal }

// Stdin feeds the process.
func (v *ProcessView) Stdin() io.Writer { return v.process.Stdin() }

// Done is closed when the process exits.
func (v *ProcessView) Done() <-chan struct{} { return v.process.Done() }

// Exec starts cmd in the project directory of the sandbox and shows it in a
// new process tab. Closing the tab hangs the process up and the tab closes
// itself when the process exits.
func (p *Project) Exec(ctx context.Context, cmd string, args ...string) (*ProcessView, error) {
	if p.deps.Sandbox == nil {
		return nil, schema.ErrSandboxUnavailable
	}
	if cmd == "" {
		cmd = "bash"
	}
	if ctx == nil {
		ctx = p.ctx
	}
	procCtx, cancel := detachRunContext(pslog.ContextWithLogger(ctx, p.logger))
	proc, err := p.deps.Sandbox.Exec(procCtx, ExecRequest{
		Command: cmd,
		Args:    args,
		Cwd:     schema.ProjectPath(p.ProjectName(), ""),
		Env:     p.LanguageConfig().EnvList(),
		Term:    true,
	})
	if err != nil {
		cancel()
		p.logger.Warn("project exec failed", "command", cmd, "err", err)
		p.messages.ShowMessage(schema.SeverityError, err.Error())
		return nil, err
	}
	view := &ProcessView{title: cmd, terminal: NewTerminal(p.cfg.TerminalMaxLines), process: proc}
	view.terminal.OnLines(func(lines []string) { p.emitOutput(view, lines) })
	p.tabs.AddTab(schema.TabProcess, TabOptions{
		Item: view,
		Callback: func() {
			if isDone(proc.Done()) {
				return
			}
			if err := proc.Signal(procCtx, ProcessSignalHUP); err != nil {
				p.logger.Debug("project exec hangup failed", "err", err)
			}
		},
	})
	p.logger.Info("project exec start", "command", cmd)

	go func() {
		defer cancel()
		var wg sync.WaitGroup
		for _, src := range []io.Reader{proc.Stdout(), proc.Stderr()} {
			if src == nil {
				continue
			}
			wg.Add(1)
			go func(r io.Reader) {
				defer wg.Done()
				_, _ = io.Copy(view.terminal, r)
			}(src)
		}
		status, err := proc.Wait(procCtx)
		wg.Wait()
		view.terminal.Flush()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Warn("project exec wait failed", "command", cmd, "err", err)
			p.messages.ShowMessage(schema.SeverityError, err.Error())
		}
		p.logger.Info("project exec finished", "command", cmd, "exit_code", status.Code)
		if index := p.tabs.IndexOf(schema.TabProcess, view); index >= 0 {
			if tab, ok := p.tabs.TabAt(index); ok {
				p.tabs.RemoveTab(tab, index)
			}
		}
	}()
	return view, nil
}
