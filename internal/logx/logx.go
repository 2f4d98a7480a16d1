package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

type contextKey int

const (
	embedKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithEmbed annotates the logger with the embed id if present.
func WithEmbed(ctx context.Context, embedID schema.EmbedID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if embedID != "" {
		if current, ok := ctx.Value(embedKey).(schema.EmbedID); ok && current == embedID {
			return log
		}
		log = log.With("embed", embedID)
	}
	return log
}

// WithEmbedTab annotates the logger with embed and tab identifiers.
func WithEmbedTab(ctx context.Context, embedID schema.EmbedID, tabID schema.UniqueTabID) pslog.Logger {
	log := WithEmbed(ctx, embedID)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.UniqueTabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithRun annotates the logger with a run id when available.
func WithRun(log pslog.Logger, runID schema.RunID) pslog.Logger {
	if runID != "" {
		log = log.With("run_id", runID)
	}
	return log
}

// WithLanguage annotates the logger with the project language.
func WithLanguage(log pslog.Logger, language string) pslog.Logger {
	if language != "" {
		log = log.With("language", language)
	}
	return log
}

// ContextWithEmbed stores the embed marker on the context for log de-duplication.
func ContextWithEmbed(ctx context.Context, embedID schema.EmbedID) context.Context {
	if ctx == nil || embedID == "" {
		return ctx
	}
	return context.WithValue(ctx, embedKey, embedID)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.UniqueTabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithEmbedTab stores embed/tab markers on the context.
func ContextWithEmbedTab(ctx context.Context, embedID schema.EmbedID, tabID schema.UniqueTabID) context.Context {
	return ContextWithTab(ContextWithEmbed(ctx, embedID), tabID)
}

// ContextWithEmbedLogger attaches the logger and embed marker to the context.
func ContextWithEmbedLogger(ctx context.Context, log pslog.Logger, embedID schema.EmbedID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithEmbed(ctx, embedID)
}

// ContextWithEmbedTabLogger attaches the logger and embed/tab markers to the context.
func ContextWithEmbedTabLogger(ctx context.Context, log pslog.Logger, embedID schema.EmbedID, tabID schema.UniqueTabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithEmbedTab(ctx, embedID, tabID)
}

// CopyContextFields copies embed/tab markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if embed, ok := src.Value(embedKey).(schema.EmbedID); ok && embed != "" {
		dst = ContextWithEmbed(dst, embed)
	}
	if tab, ok := src.Value(tabKey).(schema.UniqueTabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	return dst
}
