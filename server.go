package webbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/internal/eventbus"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/internal/persist"
	"pkt.systems/webbox/internal/remote"
	"pkt.systems/webbox/internal/sandboxgrpc"
	"pkt.systems/webbox/schema"
)

// Server composes the sandbox service, the embed store and in-process
// project sessions.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// OpenProject loads a stored embed and opens a project session on it.
	// Sessions are closed by Stop.
	OpenProject(ctx context.Context, id schema.EmbedID, user schema.User) (*core.Project, error)
	CloseProject(id schema.EmbedID)
	// Events returns the bus carrying the change events of open projects.
	Events() *eventbus.Bus
	Store() *persist.Store
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	StateDir  string
	Sandbox   sandboxgrpc.Config
	Store     persist.Options
	Project   schema.ProjectConfig
	Languages *languages.Registry
	Location  schema.Location
	// EventSink receives project events in addition to the bus.
	EventSink core.EventSink
	Logger    pslog.Logger
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableSandbox  bool
	enableSessions bool
}

// WithSandbox enables the sandbox gRPC server on the configured socket.
func WithSandbox() ServerOption {
	return func(o *serverOptions) { o.enableSandbox = true }
}

// WithSessions enables in-process project sessions.
func WithSessions() ServerOption {
	return func(o *serverOptions) { o.enableSessions = true }
}

// New constructs a composable webbox server.
func New(cfg ServerConfig, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableSandbox && !options.enableSessions {
		return nil, errors.New("no services enabled")
	}
	normalized, err := schema.NormalizeProjectConfig(cfg.Project)
	if err != nil {
		return nil, err
	}
	cfg.Project = normalized
	if cfg.Languages == nil {
		cfg.Languages = languages.Default()
	}
	if cfg.Store.Logger == nil {
		cfg.Store.Logger = cfg.Logger
	}
	store, err := persist.NewStore(cfg.StateDir, cfg.Store)
	if err != nil {
		return nil, err
	}

	var sandbox *sandboxgrpc.Server
	if options.enableSandbox {
		sandbox = sandboxgrpc.NewServer(cfg.Sandbox, store)
	}
	var bus *eventbus.Bus
	var sink core.EventSink
	if options.enableSessions {
		bus = eventbus.New(cfg.Logger)
		sinks := make([]core.EventSink, 0, 2)
		sinks = append(sinks, bus)
		if cfg.EventSink != nil {
			sinks = append(sinks, cfg.EventSink)
		}
		if len(sinks) == 1 {
			sink = sinks[0]
		} else {
			sink = eventFanout{sinks: sinks}
		}
	}

	return &compositeServer{
		cfg:      cfg,
		options:  options,
		store:    store,
		sandbox:  sandbox,
		bus:      bus,
		sink:     sink,
		projects: map[schema.EmbedID]*core.Project{},
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	store   *persist.Store
	sandbox *sandboxgrpc.Server
	bus     *eventbus.Bus
	sink    core.EventSink
	logger  pslog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	errCh    chan error
	done     chan struct{}
	started  bool
	client   *sandboxgrpc.Client
	remote   *remote.Dispatcher
	projects map[schema.EmbedID]*core.Project
}

func (s *compositeServer) Events() *eventbus.Bus { return s.bus }

func (s *compositeServer) Store() *persist.Store { return s.store }

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 2)
	s.done = make(chan struct{})
	s.started = true
	s.logger = s.cfg.Logger
	if s.logger == nil {
		s.logger = pslog.Ctx(s.ctx)
	}
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"sandbox", s.options.enableSandbox,
		"sessions", s.options.enableSessions,
		"socket", s.cfg.Sandbox.SocketPath,
		"work_root", s.cfg.Sandbox.WorkRoot,
		"state_dir", s.cfg.StateDir,
	)
	if s.options.enableSandbox && s.sandbox != nil {
		go func() {
			defer close(s.done)
			if err := s.sandbox.ListenAndServe(s.ctx); err != nil {
				log.Error("sandbox server failed", "err", err)
				s.errCh <- err
			}
		}()
	} else {
		close(s.done)
	}
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	log := s.logger
	done := s.done
	projects := make([]*core.Project, 0, len(s.projects))
	for _, project := range s.projects {
		projects = append(projects, project)
	}
	s.projects = map[schema.EmbedID]*core.Project{}
	dispatcher := s.remote
	client := s.client
	s.remote, s.client = nil, nil
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested", "projects", len(projects))
	for _, project := range projects {
		project.Close()
	}
	if dispatcher != nil {
		_ = dispatcher.Close()
	}
	if client != nil {
		_ = client.Close()
	}
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}

// OpenProject returns the open session for the embed or creates one. The
// session persists through the store and executes through the sandbox
// socket when the sandbox is enabled.
func (s *compositeServer) OpenProject(ctx context.Context, id schema.EmbedID, user schema.User) (*core.Project, error) {
	if !s.options.enableSessions {
		return nil, errors.New("project sessions are disabled")
	}
	s.mu.Lock()
	started := s.started
	project := s.projects[id]
	baseCtx := s.ctx
	s.mu.Unlock()
	if !started {
		return nil, errors.New("server not started")
	}
	if project != nil {
		return project, nil
	}
	log := s.logger.With("embed", id)
	embed, err := s.store.GetEmbed(ctx, id)
	if err != nil {
		log.Warn("server project open failed", "err", err)
		return nil, err
	}
	deps := core.ProjectDeps{
		Persistence: s.store,
		Languages:   s.cfg.Languages,
		EventSink:   s.sink,
		User:        user,
		Location:    s.cfg.Location,
		Config:      s.cfg.Project,
		Logger:      s.logger,
	}
	if s.options.enableSandbox {
		client, dispatcher, err := s.sandboxClient(ctx)
		if err != nil {
			log.Warn("server sandbox dial failed", "err", err)
		} else {
			deps.Sandbox = client
			deps.Remote = dispatcher
		}
	}
	project, err = core.NewProject(baseCtx, embed, deps)
	if err != nil {
		log.Warn("server project open failed", "err", err)
		return nil, err
	}
	s.mu.Lock()
	if existing := s.projects[id]; existing != nil {
		s.mu.Unlock()
		project.Close()
		return existing, nil
	}
	s.projects[id] = project
	s.mu.Unlock()
	log.Info("server project open", "mode", project.Mode())
	return project, nil
}

// CloseProject ends the session of an embed.
func (s *compositeServer) CloseProject(id schema.EmbedID) {
	s.mu.Lock()
	project := s.projects[id]
	delete(s.projects, id)
	s.mu.Unlock()
	if project != nil {
		project.Close()
	}
}

func (s *compositeServer) sandboxClient(ctx context.Context) (*sandboxgrpc.Client, *remote.Dispatcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, s.remote, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := sandboxgrpc.Dial(dialCtx, s.cfg.Sandbox.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("dial sandbox: %w", err)
	}
	s.client = client
	s.remote = remote.New(client, remote.Options{Logger: s.logger})
	s.remote.Connect(s.ctx)
	if s.cfg.Sandbox.KeepaliveInterval > 0 {
		go client.Keepalive(s.ctx, s.cfg.Sandbox.KeepaliveInterval)
	}
	return s.client, s.remote, nil
}
