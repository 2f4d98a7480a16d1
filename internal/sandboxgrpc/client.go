package sandboxgrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/schema"
)

// Client implements core.Sandbox, core.PersistenceAPI and the remote
// transport over gRPC.
type Client struct {
	conn      *grpc.ClientConn
	connected atomic.Bool
}

// Dial creates a new sandbox client over a Unix domain socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	if socketPath == "" {
		return nil, errors.New("sandbox socket path is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", addr)
	}
	conn, err := grpc.NewClient(
		"passthrough:///"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
	)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if c.conn == nil {
		return errors.New("sandbox client not initialized")
	}
	in, err := encode(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		if status.Code(err) == codes.Unavailable {
			c.connected.Store(false)
		}
		return err
	}
	if resp == nil {
		return nil
	}
	return decode(out, resp)
}

// Ping sends a keepalive ping to the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.invoke(ctx, methodPing, struct{}{}, nil)
}

// Keepalive pings every interval until ctx ends.
func (c *Client) Keepalive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultKeepaliveInterval
	}
	log := pslog.Ctx(ctx)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil && ctx.Err() == nil {
				logGRPCError(log, "sandbox keepalive ping failed", err)
			}
		}
	}
}

// Mkdir creates directories in the sandbox.
func (c *Client) Mkdir(ctx context.Context, paths []string, parents bool) error {
	if err := c.invoke(ctx, methodMkdir, pathsRequest{Paths: paths, Parents: parents}, nil); err != nil {
		logGRPCError(pslog.Ctx(ctx), "sandbox grpc mkdir failed", err)
		return wrapRunnerError("mkdir", err)
	}
	return nil
}

// WriteFile writes data to path in the sandbox.
func (c *Client) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := c.invoke(ctx, methodWriteFile, writeFileRequest{Path: path, Data: data}, nil); err != nil {
		logGRPCError(pslog.Ctx(ctx), "sandbox grpc write failed", err)
		return wrapRunnerError("write", err)
	}
	return nil
}

// Rm removes paths from the sandbox.
func (c *Client) Rm(ctx context.Context, paths []string) error {
	if err := c.invoke(ctx, methodRm, pathsRequest{Paths: paths}, nil); err != nil {
		logGRPCError(pslog.Ctx(ctx), "sandbox grpc rm failed", err)
		return wrapRunnerError("rm", err)
	}
	return nil
}

// Exec starts a process and returns once the server reports it running.
// Cancelling ctx kills the process.
func (c *Client) Exec(ctx context.Context, req core.ExecRequest) (core.Process, error) {
	if c.conn == nil {
		return nil, errors.New("sandbox client not initialized")
	}
	runID := uuid.NewString()
	log := pslog.Ctx(ctx).With("run_id", runID)
	log.Debug("sandbox grpc exec start", "command", req.Command, "cwd", req.Cwd, "term", req.Term)
	stream, err := c.conn.NewStream(ctx, &execStreamDesc, fullMethod(streamExec))
	if err != nil {
		logGRPCError(log, "sandbox grpc exec failed", err)
		return nil, wrapRunnerError("exec", err)
	}
	first := execInput{Request: &execRequest{
		RunID:   runID,
		Command: req.Command,
		Args:    req.Args,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Term:    req.Term,
		Streams: req.Streams,
	}}
	if err := sendFrame(stream, first); err != nil {
		logGRPCError(log, "sandbox grpc exec failed", err)
		return nil, wrapRunnerError("exec", err)
	}
	ev, err := recvEvent(stream)
	if err != nil {
		logGRPCError(log, "sandbox grpc exec failed", err)
		return nil, wrapRunnerError("exec", err)
	}
	if ev.Kind != execStarted {
		return nil, core.NewRunnerError(core.RunnerErrorExec, "exec", fmt.Errorf("unexpected first frame %q", ev.Kind))
	}
	return newProcess(c, runID, stream, log, req.Streams >= 3), nil
}

func sendFrame(stream grpc.ClientStream, input execInput) error {
	msg, err := encode(input)
	if err != nil {
		return err
	}
	return stream.SendMsg(msg)
}

func recvEvent(stream grpc.ClientStream) (execEvent, error) {
	msg := new(structpb.Struct)
	if err := stream.RecvMsg(msg); err != nil {
		return execEvent{}, err
	}
	var ev execEvent
	if err := decode(msg, &ev); err != nil {
		return execEvent{}, err
	}
	return ev, nil
}

// process is a running sandbox process seen from the client.
type process struct {
	client *Client
	runID  string
	stream grpc.ClientStream
	logger pslog.Logger

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
	stdin   *stdinWriter
	results chan json.RawMessage
	done    chan struct{}

	mu     sync.Mutex
	status core.ExitStatus
	err    error
}

const resultBuffer = 16

func newProcess(client *Client, runID string, stream grpc.ClientStream, logger pslog.Logger, withResults bool) *process {
	p := &process{
		client: client,
		runID:  runID,
		stream: stream,
		logger: logger,
		stdin:  &stdinWriter{stream: stream},
		done:   make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	if withResults {
		p.results = make(chan json.RawMessage, resultBuffer)
	}
	go p.consume()
	return p
}

func (p *process) Stdout() io.Reader { return p.stdoutR }
func (p *process) Stderr() io.Reader { return p.stderrR }
func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Results() <-chan json.RawMessage {
	if p.results == nil {
		return nil
	}
	return p.results
}

func (p *process) Signal(ctx context.Context, sig core.ProcessSignal) error {
	var resp signalResponse
	if err := p.client.invoke(ctx, methodSignal, signalRequest{RunID: p.runID, Signal: string(sig)}, &resp); err != nil {
		return wrapRunnerError("signal", err)
	}
	if !resp.OK && resp.Message != "not running" {
		return fmt.Errorf("signal %s: %s", sig, resp.Message)
	}
	return nil
}

func (p *process) Wait(ctx context.Context) (core.ExitStatus, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.status, p.err
	case <-ctx.Done():
		return core.ExitStatus{}, ctx.Err()
	}
}

func (p *process) consume() {
	chunks := 0
	for {
		ev, err := recvEvent(p.stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = status.Error(codes.Unavailable, "exec stream ended before exit")
			}
			logGRPCError(p.logger, "sandbox grpc exec stream failed", err)
			p.finish(core.ExitStatus{Code: -1}, wrapRunnerError("exec", err))
			return
		}
		switch ev.Kind {
		case execStdout:
			chunks++
			_, _ = p.stdoutW.Write(ev.Data)
		case execStderr:
			chunks++
			_, _ = p.stderrW.Write(ev.Data)
		case execResult:
			if p.results == nil {
				continue
			}
			select {
			case p.results <- ev.Result:
			default:
				p.logger.Warn("sandbox grpc result dropped", "bytes", len(ev.Result))
			}
		case execExit:
			p.logger.Debug("sandbox grpc exec finished", "exit_code", ev.Code, "signal", ev.Signal, "chunks", chunks)
			p.finish(core.ExitStatus{Code: ev.Code, Signal: ev.Signal}, nil)
			return
		default:
			p.logger.Trace("sandbox grpc exec frame ignored", "kind", ev.Kind)
		}
	}
}

func (p *process) finish(st core.ExitStatus, err error) {
	_ = p.stdoutW.CloseWithError(err)
	_ = p.stderrW.CloseWithError(err)
	if p.results != nil {
		close(p.results)
	}
	p.mu.Lock()
	p.status = st
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// stdinWriter sends stdin frames; Close half-closes the stream.
type stdinWriter struct {
	mu     sync.Mutex
	stream grpc.ClientStream
	closed bool
}

func (w *stdinWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if err := sendFrame(w.stream, execInput{Stdin: append([]byte(nil), data...)}); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (w *stdinWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := sendFrame(w.stream, execInput{CloseStdin: true}); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return w.stream.CloseSend()
}

// Connect checks the server is reachable.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		c.connected.Store(false)
		return wrapRunnerError("connect", err)
	}
	c.connected.Store(true)
	return nil
}

// Connected reports whether the last call reached the server.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// EmitAction sends a request/response action.
func (c *Client) EmitAction(ctx context.Context, action schema.Action) (schema.ActionResponse, error) {
	var resp schema.ActionResponse
	if err := c.invoke(ctx, methodEmitAction, action, &resp); err != nil {
		return schema.ActionResponse{}, wrapRunnerError("action", err)
	}
	return resp, nil
}

// EmitEvent sends a telemetry record.
func (c *Client) EmitEvent(ctx context.Context, event schema.EventLog) error {
	if err := c.invoke(ctx, methodEmitEvent, event, nil); err != nil {
		return wrapRunnerError("event", err)
	}
	return nil
}

// Subscribe streams inbound pushes until the stream breaks.
func (c *Client) Subscribe(ctx context.Context) (<-chan schema.Inbound, error) {
	if c.conn == nil {
		return nil, errors.New("sandbox client not initialized")
	}
	log := pslog.Ctx(ctx)
	stream, err := c.conn.NewStream(ctx, &subscribeStreamDesc, fullMethod(streamSubscribe))
	if err != nil {
		logGRPCError(log, "remote grpc subscribe failed", err)
		return nil, wrapRunnerError("subscribe", err)
	}
	msg, err := encode(subscribeRequest{})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, wrapRunnerError("subscribe", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, wrapRunnerError("subscribe", err)
	}
	out := make(chan schema.Inbound)
	go func() {
		defer close(out)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					logGRPCError(log, "remote grpc subscribe stream failed", err)
				}
				c.connected.Store(false)
				return
			}
			var in schema.Inbound
			if err := decode(msg, &in); err != nil {
				log.Warn("remote grpc push invalid", "err", err)
				continue
			}
			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SaveEmbed stores the project files as a new document.
func (c *Client) SaveEmbed(ctx context.Context, id schema.EmbedID, req schema.SaveEmbedRequest) (schema.SaveEmbedResponse, error) {
	var resp schema.SaveEmbedResponse
	if err := c.invoke(ctx, methodSaveEmbed, embedRequest{ID: id, Code: req.Code}, &resp); err != nil {
		return schema.SaveEmbedResponse{}, wrapStoreError("save", err)
	}
	return resp, nil
}

// UpdateEmbed replaces the embed attributes.
func (c *Client) UpdateEmbed(ctx context.Context, id schema.EmbedID, embed schema.Embed) (schema.APIResponse, error) {
	var resp schema.APIResponse
	if err := c.invoke(ctx, methodUpdateEmbed, embedRequest{ID: id, Embed: &embed}, &resp); err != nil {
		return schema.APIResponse{}, wrapStoreError("update", err)
	}
	return resp, nil
}

// DeleteEmbed removes the embed.
func (c *Client) DeleteEmbed(ctx context.Context, id schema.EmbedID) (schema.APIResponse, error) {
	var resp schema.APIResponse
	if err := c.invoke(ctx, methodDeleteEmbed, embedRequest{ID: id}, &resp); err != nil {
		return schema.APIResponse{}, wrapStoreError("delete", err)
	}
	return resp, nil
}

// GetEmbed loads an embed including its latest document.
func (c *Client) GetEmbed(ctx context.Context, id schema.EmbedID) (schema.Embed, error) {
	var embed schema.Embed
	if err := c.invoke(ctx, methodGetEmbed, embedRequest{ID: id}, &embed); err != nil {
		return schema.Embed{}, wrapStoreError("get", err)
	}
	return embed, nil
}

func wrapStoreError(op string, err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.NotFound:
			return fmt.Errorf("%w: %s", schema.ErrEmbedNotFound, st.Message())
		case codes.InvalidArgument:
			return fmt.Errorf("%w: %s", schema.ErrInvalidEmbed, st.Message())
		}
	}
	return wrapRunnerError(op, err)
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}

func wrapRunnerError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *core.RunnerError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return core.NewRunnerError(core.RunnerErrorCanceled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewRunnerError(core.RunnerErrorTimeout, op, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unauthenticated:
			return core.NewRunnerError(core.RunnerErrorUnauthorized, op, err)
		case codes.PermissionDenied:
			return core.NewRunnerError(core.RunnerErrorPermissionDenied, op, err)
		case codes.Unavailable:
			return core.NewRunnerError(core.RunnerErrorUnavailable, op, err)
		case codes.DeadlineExceeded:
			return core.NewRunnerError(core.RunnerErrorTimeout, op, err)
		case codes.Canceled:
			return core.NewRunnerError(core.RunnerErrorCanceled, op, err)
		default:
			return core.NewRunnerError(core.RunnerErrorUnknown, op, err)
		}
	}
	return core.NewRunnerError(core.RunnerErrorUnknown, op, err)
}
