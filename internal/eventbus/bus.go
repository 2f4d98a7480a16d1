package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

// Bus fans out project events to per-embed subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.EmbedID]map[chan schema.ProjectEvent]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.EmbedID]map[chan schema.ProjectEvent]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the embed and returns a channel + cancel.
func (b *Bus) Subscribe(embedID schema.EmbedID) (<-chan schema.ProjectEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.ProjectEvent, b.depth)
	b.mu.Lock()
	embedSubs := b.subs[embedID]
	if embedSubs == nil {
		embedSubs = make(map[chan schema.ProjectEvent]struct{})
		b.subs[embedID] = embedSubs
	}
	embedSubs[ch] = struct{}{}
	count := len(embedSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("embed", embedID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[embedID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, embedID)
				}
			}
			b.mu.Unlock()
			close(ch)
			if b.log != nil {
				b.log.With("embed", embedID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnProjectEvent publishes a project event to subscribers of its embed.
func (b *Bus) OnProjectEvent(event schema.ProjectEvent) {
	b.publish(event.EmbedID, event)
}

// Subscribers returns the number of subscribers for an embed.
func (b *Bus) Subscribers(embedID schema.EmbedID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[embedID])
}

func (b *Bus) publish(embedID schema.EmbedID, event schema.ProjectEvent) {
	if b == nil {
		return
	}
	// sends never block, so they run under the lock that guards close
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs[embedID] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("embed", embedID).Trace("eventbus dropped", "count", dropped)
	}
}
