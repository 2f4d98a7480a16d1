package core

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// PersistenceAPI stores embeds and the documents derived from them.
type PersistenceAPI interface {
	SaveEmbed(ctx context.Context, id schema.EmbedID, req schema.SaveEmbedRequest) (schema.SaveEmbedResponse, error)
	UpdateEmbed(ctx context.Context, id schema.EmbedID, embed schema.Embed) (schema.APIResponse, error)
	DeleteEmbed(ctx context.Context, id schema.EmbedID) (schema.APIResponse, error)
}

// RemoteChannel is the messaging connection used for telemetry and actions.
type RemoteChannel interface {
	SendAction(ctx context.Context, action schema.Action, useQueue bool)
	SendEvent(ctx context.Context, event schema.EventLog)
	On(event schema.RemoteEventType, fn func(schema.Inbound)) func()
}

// ProjectDeps captures the collaborators of a project. Everything except
// Languages is optional.
type ProjectDeps struct {
	Persistence PersistenceAPI
	Sandbox     Sandbox
	Remote      RemoteChannel
	Interpreter Interpreter
	Languages   *languages.Registry
	TextBuffers TextBufferFactory
	Messages    *MessageList
	EventSink   EventSink
	User        schema.User
	Location    schema.Location
	Config      schema.ProjectConfig
	Logger      pslog.Logger
}
