package core

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/webbox/schema"
)

type fakeProcess struct {
	stdout  string
	stderr  string
	exit    ExitStatus
	waitErr error
	results []json.RawMessage

	// ignoreTerm keeps the process alive on TERM.
	ignoreTerm bool

	mu      sync.Mutex
	signals []ProcessSignal
	stdin   strings.Builder
	done    chan struct{}
	once    sync.Once
}

func newFakeProcess(stdout string, code int) *fakeProcess {
	p := &fakeProcess{stdout: stdout, exit: ExitStatus{Code: code}, done: make(chan struct{})}
	p.finish()
	return p
}

// newBlockingProcess returns a process that runs until it is signalled.
func newBlockingProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) finish() { p.once.Do(func() { close(p.done) }) }

func (p *fakeProcess) Stdout() io.Reader {
	if isDone(p.done) {
		return strings.NewReader(p.stdout)
	}
	r, w := io.Pipe()
	go func() {
		_, _ = io.WriteString(w, p.stdout)
		<-p.done
		_ = w.Close()
	}()
	return r
}

func (p *fakeProcess) Stderr() io.Reader { return strings.NewReader(p.stderr) }

func (p *fakeProcess) Stdin() io.WriteCloser { return nopWriteCloser{p} }

func (p *fakeProcess) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdin.Write(b)
}

func (p *fakeProcess) Signal(_ context.Context, sig ProcessSignal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	if sig == ProcessSignalTERM && p.ignoreTerm {
		p.mu.Unlock()
		return nil
	}
	if !isDone(p.done) {
		p.exit = ExitStatus{Code: -1, Signal: string(sig)}
	}
	p.finish()
	p.mu.Unlock()
	return nil
}

func (p *fakeProcess) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exit, p.waitErr
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Results() <-chan json.RawMessage {
	if p.results == nil {
		return nil
	}
	ch := make(chan json.RawMessage, len(p.results))
	for _, r := range p.results {
		ch <- r
	}
	close(ch)
	return ch
}

func (p *fakeProcess) Signals() []ProcessSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ProcessSignal(nil), p.signals...)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type fakeSandbox struct {
	mu      sync.Mutex
	dirs    []string
	files   map[string]string
	removed []string
	execs   []ExecRequest
	execErr error
	// next builds the process for an exec request; nil yields an empty exit 0 process.
	next func(req ExecRequest) *fakeProcess
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: make(map[string]string)}
}

func (s *fakeSandbox) Mkdir(_ context.Context, paths []string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, paths...)
	return nil
}

func (s *fakeSandbox) WriteFile(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = string(data)
	return nil
}

func (s *fakeSandbox) Exec(_ context.Context, req ExecRequest) (Process, error) {
	s.mu.Lock()
	s.execs = append(s.execs, req)
	next := s.next
	err := s.execErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if next == nil {
		return newFakeProcess("", 0), nil
	}
	return next(req), nil
}

func (s *fakeSandbox) Rm(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, paths...)
	return nil
}

func (s *fakeSandbox) Execs() []ExecRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ExecRequest(nil), s.execs...)
}

func (s *fakeSandbox) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.files[path]
	return v, ok
}

func (s *fakeSandbox) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

type fakePersistence struct {
	mu       sync.Mutex
	saves    []schema.SaveEmbedRequest
	updates  []schema.Embed
	deletes  int
	saveResp schema.SaveEmbedResponse
	saveErr  error
	apiResp  schema.APIResponse
	apiErr   error
	// gate blocks SaveEmbed until closed when set.
	gate chan struct{}
}

func (f *fakePersistence) SaveEmbed(_ context.Context, _ schema.EmbedID, req schema.SaveEmbedRequest) (schema.SaveEmbedResponse, error) {
	f.mu.Lock()
	f.saves = append(f.saves, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.saveResp, f.saveErr
}

func (f *fakePersistence) UpdateEmbed(_ context.Context, _ schema.EmbedID, embed schema.Embed) (schema.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, embed)
	return f.apiResp, f.apiErr
}

func (f *fakePersistence) DeleteEmbed(context.Context, schema.EmbedID) (schema.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return f.apiResp, f.apiErr
}

func (f *fakePersistence) Saves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type fakeRemote struct {
	mu       sync.Mutex
	events   []schema.EventLog
	actions  []schema.Action
	handlers map[schema.RemoteEventType][]func(schema.Inbound)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{handlers: make(map[schema.RemoteEventType][]func(schema.Inbound))}
}

func (r *fakeRemote) SendAction(_ context.Context, action schema.Action, _ bool) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
	action.Run(schema.ActionResponse{})
}

func (r *fakeRemote) SendEvent(_ context.Context, event schema.EventLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *fakeRemote) On(event schema.RemoteEventType, fn func(schema.Inbound)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = append(r.handlers[event], fn)
	return func() {}
}

func (r *fakeRemote) fire(event schema.RemoteEventType) {
	r.mu.Lock()
	handlers := append([]func(schema.Inbound)(nil), r.handlers[event]...)
	r.mu.Unlock()
	for _, fn := range handlers {
		fn(schema.Inbound{Type: event})
	}
}

func (r *fakeRemote) Events() []schema.EventLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.EventLog(nil), r.events...)
}

func (r *fakeRemote) Actions() []schema.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Action(nil), r.actions...)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func findMessage(t *testing.T, list *MessageList, text string) Message {
	t.Helper()
	for _, msg := range list.Messages() {
		if msg.Text == text {
			return msg
		}
	}
	t.Fatalf("message %q not shown", text)
	return Message{}
}

func hasMessage(list *MessageList, text string) bool {
	for _, msg := range list.Messages() {
		if msg.Text == text {
			return true
		}
	}
	return false
}
