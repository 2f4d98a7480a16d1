package core

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"pkt.systems/webbox/schema"
)

func sandboxProcess(r Runner) Process {
	sr := r.(*SandboxRunner)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.process
}

func startRun(t *testing.T, p *Project) Runner {
	t.Helper()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	runner := p.Runner()
	if runner == nil {
		t.Fatalf("expected runner after run")
	}
	return runner
}

func TestSandboxRunWritesFilesAndStreamsOutput(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	f.sandbox.next = func(ExecRequest) *fakeProcess { return newFakeProcess("hello\n", 0) }
	p := f.project

	runner := startRun(t, p)
	waitDone(t, runner.Done())

	if got, ok := f.sandbox.File("demo/main.py"); !ok || got != "print('hi')" {
		t.Fatalf("main file not written: %q", got)
	}
	if _, ok := f.sandbox.File("demo/a_helper.py"); !ok {
		t.Fatalf("helper file not written")
	}
	execs := f.sandbox.Execs()
	if len(execs) != 1 {
		t.Fatalf("expected one exec, got %d", len(execs))
	}
	req := execs[0]
	if req.Command != "python3" || !slices.Equal(req.Args, []string{"main.py"}) || req.Cwd != "demo" || !req.Term || req.Streams != 3 {
		t.Fatalf("unexpected exec request %+v", req)
	}
	text := runner.Terminal().Text()
	if !strings.Contains(text, "hello") || !strings.Contains(text, "Ausführung Beendet") {
		t.Fatalf("unexpected terminal output %q", text)
	}
	if runner.State() != schema.RunStateExited || runner.IsRunning() {
		t.Fatalf("expected exited runner")
	}
	index := p.Tabs().IndexOf(schema.TabProcess, runner)
	tab, ok := p.Tabs().TabAt(index)
	if !ok || !tab.Active {
		t.Fatalf("runner tab should be shown")
	}
	events := f.remote.Events()
	if len(events) == 0 || events[0].Name != schema.EventLogRun {
		t.Fatalf("expected run event, got %+v", events)
	}
}

func TestSandboxRunIsNoOpWhileRunningAndStops(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	proc := newBlockingProcess()
	f.sandbox.next = func(ExecRequest) *fakeProcess { return proc }
	p := f.project

	runner := startRun(t, p)
	eventually(t, func() bool { return sandboxProcess(runner) != nil }, "process started")
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := len(f.sandbox.Execs()); n != 1 {
		t.Fatalf("second run must not start another process, got %d execs", n)
	}
	if _, err := runner.Stdin().Write([]byte("input\n")); err != nil {
		t.Fatalf("stdin: %v", err)
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	waitDone(t, runner.Done())
	if got := proc.Signals(); !slices.Equal(got, []ProcessSignal{ProcessSignalTERM}) {
		t.Fatalf("expected TERM only, got %v", got)
	}
	proc.mu.Lock()
	input := proc.stdin.String()
	proc.mu.Unlock()
	if input != "input\n" {
		t.Fatalf("stdin not forwarded, got %q", input)
	}
	if !strings.Contains(runner.Terminal().Text(), "Ausführung abgebrochen") {
		t.Fatalf("expected abort status line")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop after exit: %v", err)
	}
}

func TestSandboxStopEscalatesToKill(t *testing.T) {
	orig := stopWait
	stopWait = func(<-chan struct{}, time.Duration) {}
	t.Cleanup(func() { stopWait = orig })

	f := newProjectFixture(t, testEmbed(), nil)
	proc := newBlockingProcess()
	proc.ignoreTerm = true
	f.sandbox.next = func(ExecRequest) *fakeProcess { return proc }

	runner := startRun(t, f.project)
	eventually(t, func() bool { return sandboxProcess(runner) != nil }, "process started")
	_ = runner.Stop(context.Background())
	waitDone(t, runner.Done())
	if got := proc.Signals(); !slices.Equal(got, []ProcessSignal{ProcessSignalTERM, ProcessSignalKILL}) {
		t.Fatalf("expected TERM then KILL, got %v", got)
	}
}

func TestRemovingRunnerTabStopsRunner(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	proc := newBlockingProcess()
	f.sandbox.next = func(ExecRequest) *fakeProcess { return proc }
	p := f.project

	runner := startRun(t, p)
	eventually(t, func() bool { return sandboxProcess(runner) != nil }, "process started")
	index := p.Tabs().IndexOf(schema.TabProcess, runner)
	tab, ok := p.Tabs().TabAt(index)
	if !ok {
		t.Fatalf("runner tab missing")
	}
	p.Tabs().RemoveTab(tab, index)
	waitDone(t, runner.Done())
	if p.Runner() != nil {
		t.Fatalf("runner must be dropped with its tab")
	}
	if len(proc.Signals()) == 0 {
		t.Fatalf("expected the process to be signalled")
	}
}

func TestSandboxCompileDiagnosticsAnnotateFiles(t *testing.T) {
	embed := schema.Embed{
		ID:   "c1",
		Meta: schema.EmbedMeta{Language: "c", MainFile: "main.c", Name: "cdemo"},
		Code: map[string]string{"main.c": "int main(void) {\n\n    return 0\n}"},
	}
	f := newProjectFixture(t, embed, nil)
	f.sandbox.next = func(req ExecRequest) *fakeProcess {
		if req.Command != "gcc" {
			return newFakeProcess("", 0)
		}
		proc := newFakeProcess("", 1)
		proc.stderr = "main.c:3:5: error: expected ';' before '}' token\n"
		return proc
	}
	p := f.project
	runner := startRun(t, p)
	waitDone(t, runner.Done())

	execs := f.sandbox.Execs()
	if len(execs) != 1 || execs[0].Command != "gcc" || !slices.Equal(execs[0].Args, []string{"-lm", "-Wall", "main.c"}) {
		t.Fatalf("expected only the compile step, got %+v", execs)
	}
	annotations := p.GetFileForName("main.c").Annotations()
	want := Annotation{Row: 2, Column: 4, Text: "expected ';' before '}' token", Type: "error"}
	if len(annotations) != 1 || annotations[0] != want {
		t.Fatalf("unexpected annotations %+v", annotations)
	}
	if !strings.Contains(runner.Terminal().Text(), "Übersetzen fehlgeschlagen") {
		t.Fatalf("expected compile failure status, got %q", runner.Terminal().Text())
	}
}

func TestSandboxRuntimeErrorSendsErrorEvent(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	f.sandbox.next = func(ExecRequest) *fakeProcess {
		proc := newFakeProcess("", 1)
		proc.stderr = "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nNameError: name 'x' is not defined\n"
		return proc
	}
	p := f.project
	runner := startRun(t, p)
	waitDone(t, runner.Done())

	var errorEvent *schema.EventLog
	for _, ev := range f.remote.Events() {
		if ev.Name == schema.EventLogError {
			errorEvent = &ev
		}
	}
	if errorEvent == nil {
		t.Fatalf("expected error event")
	}
	if errorEvent.Data["fileContent"] != "print('hi')" || errorEvent.Data["error"] != "NameError" {
		t.Fatalf("unexpected error event data %+v", errorEvent.Data)
	}
	annotations := p.GetFileForName("main.py").Annotations()
	if len(annotations) != 1 || annotations[0].Row != 0 || annotations[0].Type != "error" {
		t.Fatalf("unexpected annotations %+v", annotations)
	}
	if !strings.Contains(runner.Terminal().Text(), "Ausführung Beendet") {
		t.Fatalf("a failing program still finishes normally")
	}
}

func TestSandboxExecFailureShowsMessage(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	f.sandbox.execErr = errors.New("connection refused")
	p := f.project
	runner := startRun(t, p)
	waitDone(t, runner.Done())

	if !hasMessage(p.Messages(), "Verbindung zum Server fehlgeschlagen.") {
		t.Fatalf("expected connection failure message")
	}
	if !strings.Contains(runner.Terminal().Text(), "Ausführen fehlgeschlagen") {
		t.Fatalf("expected exec failure status, got %q", runner.Terminal().Text())
	}
	found := false
	for _, ev := range f.remote.Events() {
		if ev.Name == schema.EventLogFailure {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failure event")
	}
}

func TestSandboxTestShowsResultTab(t *testing.T) {
	embed := testEmbed()
	embed.Assets = []schema.Asset{{Type: schema.TestsAssetType, Data: "assert True"}}
	f := newProjectFixture(t, embed, nil)
	f.sandbox.next = func(ExecRequest) *fakeProcess {
		proc := newFakeProcess("ok\n", 0)
		proc.results = []json.RawMessage{json.RawMessage(`{"score":1,"max_score":2,"tests":[{"name":"a"}]}`)}
		return proc
	}
	p := f.project
	if err := p.Test(context.Background()); err != nil {
		t.Fatalf("test: %v", err)
	}
	runner := p.Runner()
	waitDone(t, runner.Done())

	if got, ok := f.sandbox.File("demo/tests.py"); !ok || got != "assert True" {
		t.Fatalf("test file not written: %q", got)
	}
	if !slices.Contains(f.sandbox.Removed(), "demo/tests.py") {
		t.Fatalf("test file must be removed after the run")
	}
	req := f.sandbox.Execs()[0]
	if req.Command != "python3" || !slices.Equal(req.Args, []string{"/usr/local/lib/sourcebox/tester.py", "/home/user/demo"}) {
		t.Fatalf("unexpected test command %+v", req)
	}
	var view *TestResultView
	for _, tab := range p.Tabs().Tabs() {
		if v, ok := tab.Item.(*TestResultView); ok && tab.Type == schema.TabTestResult {
			view = v
		}
	}
	if view == nil || view.Title() != "Testergebnis 50%" || len(view.Result.Tests) != 1 {
		t.Fatalf("expected test result tab, got %+v", view)
	}
	if !strings.Contains(runner.Terminal().Text(), "Test beendet") {
		t.Fatalf("expected test status line")
	}
}

func TestSandboxTestWithoutTestsIsRefused(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	if err := f.project.Test(context.Background()); !errors.Is(err, schema.ErrNoTestCode) {
		t.Fatalf("expected ErrNoTestCode, got %v", err)
	}
	if !hasMessage(f.project.Messages(), "Für dieses Beispiel sind keine Tests vorhanden.") {
		t.Fatalf("expected missing tests message")
	}
}

func TestExecProcessTabClosesOnExit(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	f.sandbox.next = func(ExecRequest) *fakeProcess { return newFakeProcess("ok\n", 0) }
	p := f.project
	view, err := p.Exec(context.Background(), "")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if req := f.sandbox.Execs()[0]; req.Command != "bash" || req.Cwd != "demo" {
		t.Fatalf("unexpected exec request %+v", req)
	}
	eventually(t, func() bool { return p.Tabs().IndexOf(schema.TabProcess, view) < 0 }, "process tab closed")
	if !strings.Contains(view.Terminal().Text(), "ok") {
		t.Fatalf("expected process output")
	}
}

func TestExecProcessTabHangsUpOnClose(t *testing.T) {
	f := newProjectFixture(t, testEmbed(), nil)
	proc := newBlockingProcess()
	f.sandbox.next = func(ExecRequest) *fakeProcess { return proc }
	p := f.project
	view, err := p.Exec(context.Background(), "bash")
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	index := p.Tabs().IndexOf(schema.TabProcess, view)
	p.Tabs().CloseTab(index)
	waitDone(t, view.Done())
	if got := proc.Signals(); !slices.Equal(got, []ProcessSignal{ProcessSignalHUP}) {
		t.Fatalf("expected HUP, got %v", got)
	}
}

type fakeInterpreter struct {
	run func(ctx context.Context, req InterpretRequest) error
}

func (f fakeInterpreter) Run(ctx context.Context, req InterpretRequest) error {
	return f.run(ctx, req)
}

func inlineFixture(t *testing.T, run func(ctx context.Context, req InterpretRequest) error) projectFixture {
	t.Helper()
	embed := testEmbed()
	embed.EmbedType = schema.EmbedSkulpt
	return newProjectFixture(t, embed, func(d *ProjectDeps) {
		d.Interpreter = fakeInterpreter{run: run}
	})
}

func TestInlineRunnerUsesProjectFiles(t *testing.T) {
	f := inlineFixture(t, func(_ context.Context, req InterpretRequest) error {
		if req.MainFile != "main.py" || req.Source != "print('hi')" {
			return errors.New("unexpected request")
		}
		helper, err := req.Files.ReadFile("./a_helper.py", "r")
		if err != nil {
			return err
		}
		if _, err := req.Files.ReadFile("out.txt", "w"); err != nil {
			return err
		}
		if err := req.Files.AppendFile("out.txt", helper); err != nil {
			return err
		}
		if _, err := req.Files.ReadFile("img.png", "b"); !errors.Is(err, ErrBinaryMode) {
			return errors.New("binary mode must fail")
		}
		if _, err := req.Files.ReadFile("missing.txt", "r"); !errors.Is(err, schema.ErrFileNotFound) {
			return errors.New("missing file must fail")
		}
		_, err = req.Stdout.Write([]byte("hi\n"))
		return err
	})
	p := f.project
	runner := startRun(t, p)
	waitDone(t, runner.Done())

	text := runner.Terminal().Text()
	if !strings.Contains(text, "hi") || !strings.Contains(text, "Ausführung Beendet") {
		t.Fatalf("unexpected terminal output %q", text)
	}
	out := p.GetFileForName("out.txt")
	if out == nil || out.Value() != "x = 1" {
		t.Fatalf("expected out.txt written by the program")
	}
	if len(f.sandbox.Execs()) != 0 {
		t.Fatalf("inline runs must not touch the sandbox")
	}
}

func TestInlineRunnerReportsInterpreterError(t *testing.T) {
	f := inlineFixture(t, func(context.Context, InterpretRequest) error {
		return &InterpreterError{File: "main.py", Line: 1, Column: 2, Name: "NameError", Message: "name 'x' is not defined"}
	})
	p := f.project
	runner := startRun(t, p)
	waitDone(t, runner.Done())

	annotations := p.GetFileForName("main.py").Annotations()
	if len(annotations) != 1 || annotations[0].Row != 0 || annotations[0].Column != 2 {
		t.Fatalf("unexpected annotations %+v", annotations)
	}
	found := false
	for _, ev := range f.remote.Events() {
		if ev.Name == schema.EventLogError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected error event")
	}
}

func TestInlineRunnerStop(t *testing.T) {
	f := inlineFixture(t, func(ctx context.Context, _ InterpretRequest) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := f.project
	runner := startRun(t, p)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitDone(t, runner.Done())
	if !strings.Contains(runner.Terminal().Text(), "Ausführung abgebrochen") {
		t.Fatalf("expected abort status, got %q", runner.Terminal().Text())
	}
	if err := p.Test(context.Background()); !errors.Is(err, schema.ErrNoTestCommand) {
		t.Fatalf("inline test must be refused, got %v", err)
	}
}
