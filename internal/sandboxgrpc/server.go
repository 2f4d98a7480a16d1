package sandboxgrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/schema"
)

// Store is the embed persistence behind the server. Events are recorded
// through AppendEvent.
type Store interface {
	core.PersistenceAPI
	GetEmbed(ctx context.Context, id schema.EmbedID) (schema.Embed, error)
	AppendEvent(ctx context.Context, event schema.EventLog) error
}

// Server hosts the sandbox, the messaging endpoint and the embed store.
type Server struct {
	cfg    Config
	store  Store
	hub    *hub
	logger pslog.Logger

	mu   sync.Mutex
	runs map[string]runProcess

	lastPingUnix int64
}

// NewServer constructs a sandbox server. store may be nil, in which case
// persistence calls fail with FailedPrecondition.
func NewServer(cfg Config, store Store) *Server {
	return &Server{cfg: cfg, store: store, hub: newHub(), runs: make(map[string]runProcess)}
}

// Register installs the service on a gRPC server.
func (s *Server) Register(reg grpc.ServiceRegistrar) {
	reg.RegisterService(&serviceDesc, s)
}

// ListenAndServe starts the gRPC server over a Unix domain socket. When a
// keepalive interval is configured the server shuts down after the
// configured number of missed pings.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.cfg.SocketPath == "" {
		return errors.New("sandbox socket path is required")
	}
	if s.cfg.WorkRoot == "" {
		return errors.New("sandbox work root is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.cfg.KeepaliveInterval > 0 && s.cfg.KeepaliveMisses <= 0 {
		s.cfg.KeepaliveMisses = defaultKeepaliveMisses
	}
	if err := os.MkdirAll(s.cfg.WorkRoot, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(s.cfg.SocketPath)

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	grpcServer := grpc.NewServer()
	s.Register(grpcServer)
	s.logger.Info("sandbox grpc listening", "socket", s.cfg.SocketPath, "work_root", s.cfg.WorkRoot)

	errCh := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.setLastPing(time.Now())
	if s.cfg.KeepaliveInterval > 0 {
		go s.keepaliveLoop(runCtx, cancel)
	}
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-runCtx.Done():
		s.shutdown()
		grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

// shutdown ends open streams so a graceful stop does not wait on them.
func (s *Server) shutdown() {
	s.hub.close()
	s.mu.Lock()
	procs := make([]runProcess, 0, len(s.runs))
	for _, proc := range s.runs {
		procs = append(procs, proc)
	}
	s.mu.Unlock()
	for _, proc := range procs {
		_ = proc.Signal(core.ProcessSignalKILL)
	}
	if len(procs) > 0 {
		s.logger.Info("sandbox runs killed on shutdown", "runs", len(procs))
	}
}

func (s *Server) call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		out any
		err error
	)
	switch method {
	case methodPing:
		out, err = s.ping(ctx)
	case methodMkdir:
		out, err = s.mkdir(ctx, in)
	case methodWriteFile:
		out, err = s.writeFile(ctx, in)
	case methodRm:
		out, err = s.rm(ctx, in)
	case methodSignal:
		out, err = s.signal(ctx, in)
	case methodEmitAction:
		out, err = s.emitAction(ctx, in)
	case methodEmitEvent:
		out, err = s.emitEvent(ctx, in)
	case methodSaveEmbed, methodUpdateEmbed, methodDeleteEmbed, methodGetEmbed:
		out, err = s.embed(ctx, method, in)
	default:
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	if err != nil {
		return nil, err
	}
	resp, err := encode(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

func (s *Server) ping(ctx context.Context) (okResponse, error) {
	s.setLastPing(time.Now())
	s.log(ctx).Trace("sandbox ping")
	return okResponse{OK: true}, nil
}

func (s *Server) mkdir(ctx context.Context, in *structpb.Struct) (okResponse, error) {
	var req pathsRequest
	if err := decode(in, &req); err != nil {
		return okResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	for _, name := range req.Paths {
		full, err := resolve(s.cfg.WorkRoot, name)
		if err != nil {
			return okResponse{}, toStatus("mkdir", err)
		}
		if req.Parents {
			err = os.MkdirAll(full, 0o755)
		} else {
			err = os.Mkdir(full, 0o755)
		}
		if err != nil {
			s.log(ctx).Warn("sandbox mkdir failed", "path", name, "err", err)
			return okResponse{}, toStatus("mkdir", err)
		}
	}
	s.log(ctx).Debug("sandbox mkdir", "paths", len(req.Paths), "parents", req.Parents)
	return okResponse{OK: true}, nil
}

func (s *Server) writeFile(ctx context.Context, in *structpb.Struct) (okResponse, error) {
	var req writeFileRequest
	if err := decode(in, &req); err != nil {
		return okResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	full, err := resolve(s.cfg.WorkRoot, req.Path)
	if err != nil {
		return okResponse{}, toStatus("write", err)
	}
	if err := os.WriteFile(full, req.Data, 0o644); err != nil {
		s.log(ctx).Warn("sandbox write failed", "path", req.Path, "err", err)
		return okResponse{}, toStatus("write", err)
	}
	s.log(ctx).Debug("sandbox write", "path", req.Path, "bytes", len(req.Data))
	return okResponse{OK: true}, nil
}

func (s *Server) rm(ctx context.Context, in *structpb.Struct) (okResponse, error) {
	var req pathsRequest
	if err := decode(in, &req); err != nil {
		return okResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	for _, name := range req.Paths {
		full, err := resolve(s.cfg.WorkRoot, name)
		if err != nil {
			return okResponse{}, toStatus("rm", err)
		}
		if full == filepath.Clean(s.cfg.WorkRoot) {
			return okResponse{}, status.Error(codes.InvalidArgument, "rm: refusing to remove the work root")
		}
		if err := os.RemoveAll(full); err != nil {
			s.log(ctx).Warn("sandbox rm failed", "path", name, "err", err)
			return okResponse{}, toStatus("rm", err)
		}
	}
	s.log(ctx).Debug("sandbox rm", "paths", len(req.Paths))
	return okResponse{OK: true}, nil
}

func (s *Server) signal(ctx context.Context, in *structpb.Struct) (signalResponse, error) {
	var req signalRequest
	if err := decode(in, &req); err != nil {
		return signalResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	if strings.TrimSpace(req.RunID) == "" {
		s.log(ctx).Warn("sandbox signal rejected", "err", "run id required")
		return signalResponse{}, status.Error(codes.InvalidArgument, "run id is required")
	}
	log := s.log(ctx).With("run_id", req.RunID)
	proc := s.lookup(req.RunID)
	if proc == nil {
		log.Info("sandbox signal ignored", "reason", "not running")
		return signalResponse{OK: false, Message: "not running"}, nil
	}
	sig := core.ProcessSignal(req.Signal)
	if err := proc.Signal(sig); err != nil {
		log.Warn("sandbox signal failed", "signal", sig, "err", err)
		return signalResponse{OK: false, Message: err.Error()}, nil
	}
	log.Info("sandbox signal sent", "signal", sig)
	return signalResponse{OK: true}, nil
}

func (s *Server) exec(stream grpc.ServerStream) error {
	ctx := stream.Context()
	first := new(structpb.Struct)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	var input execInput
	if err := decode(first, &input); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	req := input.Request
	if req == nil || strings.TrimSpace(req.RunID) == "" {
		s.log(ctx).Warn("sandbox exec rejected", "err", "run id required")
		return status.Error(codes.InvalidArgument, "run id is required")
	}
	log := s.log(ctx).With("run_id", req.RunID)
	if strings.TrimSpace(req.Command) == "" {
		log.Warn("sandbox exec rejected", "err", "command required")
		return status.Error(codes.InvalidArgument, "command is required")
	}
	dir, err := resolve(s.cfg.WorkRoot, req.Cwd)
	if err != nil {
		log.Warn("sandbox exec rejected", "err", err)
		return toStatus("exec", err)
	}
	started := time.Now()
	log.Info("sandbox exec start", "command", req.Command, "cwd", req.Cwd, "term", req.Term, "streams", req.Streams)
	log.Trace("sandbox exec args", "args", req.Args, "env", req.Env)

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = dir
	cmd.Env = commandEnv(os.Environ(), s.cfg.WorkRoot, req.Term, req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		log.Error("sandbox exec stdin failed", "err", err)
		return status.Errorf(codes.Internal, "stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error("sandbox exec stdout failed", "err", err)
		return status.Errorf(codes.Internal, "stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		log.Error("sandbox exec stderr failed", "err", err)
		return status.Errorf(codes.Internal, "stderr pipe: %v", err)
	}
	var results *os.File
	if req.Streams >= 3 {
		r, w, err := os.Pipe()
		if err != nil {
			log.Error("sandbox exec result pipe failed", "err", err)
			return status.Errorf(codes.Internal, "result pipe: %v", err)
		}
		// the child sees the write end as fd 3
		cmd.ExtraFiles = []*os.File{w}
		results = r
		defer func() { _ = w.Close() }()
	}
	if err := cmd.Start(); err != nil {
		if results != nil {
			_ = results.Close()
		}
		log.Warn("sandbox exec start failed", "err", err)
		return status.Errorf(codes.Internal, "exec start: %v", err)
	}
	for _, f := range cmd.ExtraFiles {
		_ = f.Close()
	}
	applyNice(log, cmd.Process.Pid, s.cfg.CommandNice)
	pgid, _ := unix.Getpgid(cmd.Process.Pid)
	proc := cmdProcess{cmd: cmd, pgid: pgid}
	s.register(req.RunID, proc)
	defer s.unregister(req.RunID)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			log.Debug("sandbox exec stream closed; killing process")
			_ = proc.Signal(core.ProcessSignalKILL)
		case <-finished:
		}
	}()
	go s.forwardStdin(log, stream, stdin)

	if err := s.send(stream, execEvent{Kind: execStarted}); err != nil {
		log.Warn("sandbox exec stream start failed", "err", err)
		_ = proc.Signal(core.ProcessSignalKILL)
		_ = cmd.Wait()
		return err
	}

	events := make(chan execEvent, 128)
	var wg sync.WaitGroup
	wg.Add(2)
	var conv *crlfWriter
	if req.Term {
		conv = &crlfWriter{}
	}
	go readOutput(&wg, stdout, execStdout, conv, events)
	go readOutput(&wg, stderr, execStderr, nil, events)
	if results != nil {
		wg.Add(1)
		go readResults(&wg, log, results, events)
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	chunks := 0
	for ev := range events {
		chunks++
		if err := s.send(stream, ev); err != nil {
			log.Warn("sandbox exec stream failed", "err", err, "chunks", chunks)
			_ = proc.Signal(core.ProcessSignalKILL)
			go func() {
				for range events {
				}
			}()
			_ = cmd.Wait()
			return err
		}
	}

	waitErr := cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		log.Error("sandbox exec wait failed", "err", waitErr)
		return status.Errorf(codes.Internal, "wait: %v", waitErr)
	}
	code, sig := exitStatus(cmd.ProcessState)
	fields := []any{
		"exit_code", code,
		"chunks", chunks,
		"duration_ms", time.Since(started).Milliseconds(),
	}
	if sig != "" {
		fields = append(fields, "signal", sig)
	}
	log.Info("sandbox exec finished", fields...)
	return s.send(stream, execEvent{Kind: execExit, Code: code, Signal: sig})
}

// forwardStdin copies client frames to the process until the client closes
// stdin or the stream ends.
func (s *Server) forwardStdin(log pslog.Logger, stream grpc.ServerStream, stdin io.WriteCloser) {
	defer func() { _ = stdin.Close() }()
	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			return
		}
		var input execInput
		if err := decode(msg, &input); err != nil {
			log.Warn("sandbox exec stdin frame invalid", "err", err)
			continue
		}
		if len(input.Stdin) > 0 {
			if _, err := stdin.Write(input.Stdin); err != nil {
				log.Debug("sandbox exec stdin write failed", "err", err)
				return
			}
			log.Trace("sandbox exec stdin", "bytes", len(input.Stdin))
		}
		if input.CloseStdin {
			return
		}
	}
}

func (s *Server) send(stream grpc.ServerStream, ev execEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.SendMsg(msg)
}

func readOutput(wg *sync.WaitGroup, reader io.Reader, kind execEventKind, conv *crlfWriter, out chan<- execEvent) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			if conv != nil {
				data = conv.convert(data)
			}
			out <- execEvent{Kind: kind, Data: data}
		}
		if err != nil {
			return
		}
	}
}

// readResults decodes consecutive JSON documents from the result stream.
func readResults(wg *sync.WaitGroup, log pslog.Logger, reader io.ReadCloser, out chan<- execEvent) {
	defer wg.Done()
	defer func() { _ = reader.Close() }()
	dec := json.NewDecoder(bufio.NewReader(reader))
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("sandbox exec result invalid", "err", err)
				_, _ = io.Copy(io.Discard, reader)
			}
			return
		}
		out <- execEvent{Kind: execResult, Result: raw}
	}
}

func (s *Server) subscribe(stream grpc.ServerStream) error {
	ctx := stream.Context()
	first := new(structpb.Struct)
	if err := stream.RecvMsg(first); err != nil {
		return err
	}
	var req subscribeRequest
	if err := decode(first, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	log := s.log(ctx)
	ch, cancel := s.hub.add(req.EmbedID)
	defer cancel()
	log.Debug("remote subscriber attached", "embed", req.EmbedID)
	for {
		select {
		case <-ctx.Done():
			log.Debug("remote subscriber detached", "embed", req.EmbedID)
			return nil
		case in, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := encode(in)
			if err != nil {
				log.Warn("remote push encode failed", "type", in.Type, "err", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				log.Warn("remote push failed", "type", in.Type, "err", err)
				return err
			}
		}
	}
}

func (s *Server) emitAction(ctx context.Context, in *structpb.Struct) (schema.ActionResponse, error) {
	var action schema.Action
	if err := decode(in, &action); err != nil {
		return schema.ActionResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	log := s.log(ctx).With("action", action.Action, "embed", action.Context.EmbedID)
	var push schema.RemoteEventType
	switch action.Action {
	case schema.ActionSubmission:
		push = schema.RemoteSubmission
	case schema.ActionTestResult:
		push = schema.RemoteUserTestResult
	case schema.ActionSubscribe:
		log.Debug("remote action ack")
		return schema.ActionResponse{Data: json.RawMessage(`{"ok":true}`)}, nil
	default:
		log.Warn("remote action rejected", "reason", "unknown action")
		return schema.ActionResponse{Error: "unknown action"}, nil
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return schema.ActionResponse{}, status.Error(codes.Internal, err.Error())
	}
	delivered := s.hub.publish(schema.Inbound{Type: push, EmbedID: action.Context.EmbedID, Payload: payload})
	log.Info("remote action delivered", "subscribers", delivered)
	return schema.ActionResponse{Data: json.RawMessage(`{"ok":true}`)}, nil
}

func (s *Server) emitEvent(ctx context.Context, in *structpb.Struct) (okResponse, error) {
	var event schema.EventLog
	if err := decode(in, &event); err != nil {
		return okResponse{}, status.Error(codes.InvalidArgument, err.Error())
	}
	log := s.log(ctx).With("event", event.Name, "embed", event.Context.EmbedID)
	if s.store != nil {
		if err := s.store.AppendEvent(ctx, event); err != nil {
			log.Warn("remote event record failed", "err", err)
			return okResponse{}, toStatus("event", err)
		}
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return okResponse{}, status.Error(codes.Internal, err.Error())
	}
	s.hub.publish(schema.Inbound{Type: schema.RemoteIDEEvent, EmbedID: event.Context.EmbedID, Payload: payload})
	log.Debug("remote event recorded")
	return okResponse{OK: true}, nil
}

func (s *Server) embed(ctx context.Context, method string, in *structpb.Struct) (any, error) {
	var req embedRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "embed store not configured")
	}
	if strings.TrimSpace(string(req.ID)) == "" {
		return nil, status.Error(codes.InvalidArgument, "embed id is required")
	}
	log := s.log(ctx).With("embed", req.ID)
	var (
		out any
		err error
	)
	switch method {
	case methodSaveEmbed:
		out, err = s.store.SaveEmbed(ctx, req.ID, schema.SaveEmbedRequest{Code: req.Code})
	case methodUpdateEmbed:
		if req.Embed == nil {
			return nil, status.Error(codes.InvalidArgument, "embed is required")
		}
		out, err = s.store.UpdateEmbed(ctx, req.ID, *req.Embed)
	case methodDeleteEmbed:
		out, err = s.store.DeleteEmbed(ctx, req.ID)
	case methodGetEmbed:
		out, err = s.store.GetEmbed(ctx, req.ID)
	}
	if err != nil {
		log.Warn("embed store call failed", "method", method, "err", err)
		return nil, toStatus(strings.ToLower(method), err)
	}
	log.Debug("embed store call", "method", method)
	return out, nil
}

func toStatus(op string, err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, schema.ErrPathOutsideRoot),
		errors.Is(err, schema.ErrInvalidEmbed),
		errors.Is(err, schema.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, schema.ErrEmbedNotFound), errors.Is(err, fs.ErrNotExist):
		code = codes.NotFound
	case errors.Is(err, fs.ErrPermission):
		code = codes.PermissionDenied
	case errors.Is(err, fs.ErrExist):
		code = codes.AlreadyExists
	}
	return status.Errorf(code, "%s: %v", op, err)
}

func (s *Server) register(runID string, proc runProcess) {
	s.mu.Lock()
	s.runs[runID] = proc
	s.mu.Unlock()
}

func (s *Server) unregister(runID string) {
	s.mu.Lock()
	delete(s.runs, runID)
	s.mu.Unlock()
}

func (s *Server) lookup(runID string) runProcess {
	s.mu.Lock()
	proc := s.runs[runID]
	s.mu.Unlock()
	return proc
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

func (s *Server) setLastPing(ts time.Time) {
	atomic.StoreInt64(&s.lastPingUnix, ts.UnixNano())
}

func (s *Server) lastPing() time.Time {
	val := atomic.LoadInt64(&s.lastPingUnix)
	if val == 0 {
		return time.Time{}
	}
	return time.Unix(0, val)
}

func (s *Server) keepaliveLoop(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := s.lastPing()
			if last.IsZero() {
				continue
			}
			if time.Since(last) > time.Duration(s.cfg.KeepaliveMisses)*s.cfg.KeepaliveInterval {
				s.logger.Warn("sandbox keepalive missed; shutting down", "last_ping", last.Format(time.RFC3339Nano), "interval", s.cfg.KeepaliveInterval, "misses", s.cfg.KeepaliveMisses)
				cancel()
				return
			}
		}
	}
}
