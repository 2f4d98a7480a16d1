package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/internal/logx"
	"pkt.systems/webbox/schema"
)

// Project is an open coding session built from an embed: its files and
// panels as tabs, a status bar, messages, persistence and a runner.
type Project struct {
	deps     ProjectDeps
	cfg      schema.ProjectConfig
	ctx      context.Context
	stopCtx  context.CancelFunc
	logger   pslog.Logger
	tabs     *Registry
	messages *MessageList
	status   *Status
	save     *throttle
	events   listeners[schema.ProjectEvent]

	mu                sync.Mutex
	embed             schema.Embed
	embedType         schema.EmbedType
	mode              schema.Mode
	name              string
	language          languages.Config
	inert             bool
	isConsistent      bool
	pendingSave       bool
	hasUnsavedChanges bool
	tests             *TestCode
	runner            Runner
	closed            bool
	cancels           []func()
}

// NewProject builds a project from an embed payload. An embed of an
// unsupported type or language yields an inert project that shows an error
// message and never runs. Malformed payloads are rejected.
func NewProject(ctx context.Context, embed schema.Embed, deps ProjectDeps) (*Project, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	inert := false
	if err := schema.ValidateEmbed(embed); err != nil {
		if !errors.Is(err, schema.ErrUnsupportedEmbedType) {
			return nil, err
		}
		inert = true
	}
	cfg, err := schema.NormalizeProjectConfig(deps.Config)
	if err != nil {
		return nil, err
	}
	if deps.Languages == nil {
		deps.Languages = languages.Default()
	}
	if deps.TextBuffers == nil {
		deps.TextBuffers = MemoryBufferFactory{}
	}
	if deps.Messages == nil {
		deps.Messages = NewMessageList()
	}
	log := deps.Logger
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	log = log.With("embed", embed.ID)
	baseCtx, stopCtx := detachRunContext(logx.ContextWithEmbedLogger(ctx, log, embed.ID))

	p := &Project{
		deps:         deps,
		cfg:          cfg,
		ctx:          baseCtx,
		stopCtx:      stopCtx,
		logger:       log,
		messages:     deps.Messages,
		status:       NewStatus(),
		embed:        embed.Clone(),
		embedType:    embed.TypeOrDefault(),
		mode:         schema.ParseMode(embed.Mode),
		name:         embed.Meta.Name,
		inert:        inert,
		isConsistent: true,
	}
	p.tabs = NewRegistry(p.messages, log)
	p.save = newThrottle(cfg.SaveThrottle, func() { p.saveEmbed(p.ctx) })

	if !inert {
		language, err := deps.Languages.Lookup(embed.Meta.Language)
		if err != nil {
			log.Warn("project language unknown", "language", embed.Meta.Language, "err", err)
			inert = true
			p.inert = true
		} else {
			p.language = language
		}
	}

	p.cancels = append(p.cancels,
		p.tabs.Subscribe(p.onRegistryEvent),
		p.messages.Subscribe(func() { p.emit(schema.ProjectEvent{Type: schema.ProjectEventMessages}) }),
		p.status.Subscribe(func(data StatusData) {
			p.emit(schema.ProjectEvent{Type: schema.ProjectEventStatus, Message: data.Message, Severity: data.Severity})
		}),
	)
	if deps.Remote != nil {
		p.cancels = append(p.cancels, deps.Remote.On(schema.RemoteReconnectFailed, func(schema.Inbound) { p.OnReconnectFailed() }))
	}

	p.status.SetUsername(deps.User.DisplayName())
	if inert {
		log.Warn("project inert", "embed_type", embed.EmbedType, "language", embed.Meta.Language)
		p.messages.ShowMessage(schema.SeverityError, "Dieser Beispieltyp wird nicht unterstützt.")
		return p, nil
	}
	p.status.SetLanguageInformation(capitalize(string(p.embedType)), p.language.DisplayName)
	p.fromInitialData(embed, false)
	log.Info("project open", "mode", p.mode, "embed_type", p.embedType, "language", p.language.Name, "files", p.tabs.Len())
	return p, nil
}

// Subscribe registers a listener for project events.
func (p *Project) Subscribe(fn func(schema.ProjectEvent)) func() {
	return p.events.subscribe(fn)
}

func (p *Project) emit(event schema.ProjectEvent) {
	event.EmbedID = p.embed.ID
	if p.deps.EventSink != nil {
		p.deps.EventSink.OnProjectEvent(event)
	}
	p.events.emit(event)
}

func (p *Project) emitChange() {
	p.emit(schema.ProjectEvent{Type: schema.ProjectEventChange, Tabs: p.tabs.Snapshots()})
}

func (p *Project) onRegistryEvent(event RegistryEvent) {
	switch event.Type {
	case schema.ProjectEventTabRemoved:
		var snap *schema.TabSnapshot
		if event.Tab != nil {
			s := event.Tab.Snapshot()
			snap = &s
		}
		p.emit(schema.ProjectEvent{Type: schema.ProjectEventTabRemoved, Tab: snap, Tabs: p.tabs.Snapshots()})
		if event.Tab != nil && event.Tab.Type == schema.TabFile && p.embedType == schema.EmbedSourcebox {
			if file, ok := event.Tab.Item.(*File); ok {
				go p.DeleteFile(p.ctx, file.Name())
			}
		}
	default:
		p.emitChange()
	}
}

// EmbedID returns the id of the embed.
func (p *Project) EmbedID() schema.EmbedID { return p.embed.ID }

// Embed returns a copy of the current embed payload.
func (p *Project) Embed() schema.Embed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embed.Clone()
}

// Mode returns the permission mode.
func (p *Project) Mode() schema.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// EmbedType returns the project variant.
func (p *Project) EmbedType() schema.EmbedType { return p.embedType }

// IsInert reports whether the project was opened without a runner.
func (p *Project) IsInert() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inert
}

// CanEdit reports whether the mode permits file edits.
func (p *Project) CanEdit() bool { return p.Mode().AllowsEdit() }

// ProjectName returns the directory name files are written to.
func (p *Project) ProjectName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// LanguageConfig returns the language configuration.
func (p *Project) LanguageConfig() languages.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.language
}

// LanguageName returns the language name of the embed.
func (p *Project) LanguageName() string {
	return p.embed.Meta.Language
}

// Tabs returns the tab registry.
func (p *Project) Tabs() *Registry { return p.tabs }

// Messages returns the message list.
func (p *Project) Messages() *MessageList { return p.messages }

// Status returns the status bar model.
func (p *Project) Status() *Status { return p.status }

// ShowMessage adds a message to the message list.
func (p *Project) ShowMessage(severity schema.Severity, text string, actions ...MessageAction) func() {
	return p.messages.ShowMessage(severity, text, actions...)
}

// IsConsistent reports whether no file name conflict is pending.
func (p *Project) IsConsistent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isConsistent
}

func (p *Project) setConsistency(consistent bool) {
	p.mu.Lock()
	p.isConsistent = consistent
	p.mu.Unlock()
	p.emitChange()
}

// HasUnsavedChanges reports whether files changed since the last save.
func (p *Project) HasUnsavedChanges() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasUnsavedChanges
}

// IsSavePending reports whether a save request is in flight.
func (p *Project) IsSavePending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pendingSave
}

// GetSharableLink returns the public link of the embed, pointing at the
// saved document when there is one.
func (p *Project) GetSharableLink() string {
	p.mu.Lock()
	embed := p.embed
	p.mu.Unlock()
	link := p.embedURL(embed)
	if embed.Document != nil && embed.Document.ID != "" {
		link += "?showDocument=" + string(embed.Document.ID)
	}
	return link
}

// GetOriginalLink returns the link to the unmodified embed.
func (p *Project) GetOriginalLink() string {
	p.mu.Lock()
	embed := p.embed
	p.mu.Unlock()
	return p.embedURL(embed) + "?showOriginal=true"
}

func (p *Project) embedURL(embed schema.Embed) string {
	idOrSlug := string(embed.Slug)
	if idOrSlug == "" {
		idOrSlug = string(embed.ID)
	}
	protocol := strings.TrimSuffix(p.deps.Location.Protocol, "//")
	if protocol == "" {
		protocol = "http:"
	}
	if !strings.HasSuffix(protocol, ":") {
		protocol += ":"
	}
	return fmt.Sprintf("%s//%s/embed/%s", protocol, p.deps.Location.Host, idOrSlug)
}

// GetContextData returns the context attached to events and actions.
func (p *Project) GetContextData() schema.EventContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := schema.EventContext{
		EmbedName: p.name,
		EmbedID:   p.embed.ID,
		EmbedUser: "anonymous",
	}
	if p.embed.Document != nil {
		ctx.EmbedDocument = p.embed.Document.ID
	}
	if p.deps.User.Email != "" {
		ctx.EmbedUser = p.deps.User.Email
	}
	return ctx
}

// Close stops the runner and drops all subscriptions.
func (p *Project) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	runner := p.runner
	cancels := p.cancels
	p.cancels = nil
	p.mu.Unlock()
	p.save.Stop()
	if runner != nil {
		_ = runner.Stop(p.ctx)
	}
	for _, cancel := range cancels {
		cancel()
	}
	p.stopCtx()
	p.logger.Info("project closed")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
