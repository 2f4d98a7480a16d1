package sandboxgrpc

import (
	"sync"

	"pkt.systems/webbox/schema"
)

const subscriberBuffer = 64

type subscriber struct {
	embed schema.EmbedID
	ch    chan schema.Inbound
}

// hub fans inbound pushes out to Subscribe streams. A subscriber with an
// empty embed id receives every push.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]*subscriber)}
}

func (h *hub) add(embed schema.EmbedID) (<-chan schema.Inbound, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan schema.Inbound, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = &subscriber{embed: embed, ch: ch}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub.ch)
			}
		})
	}
}

// publish delivers in to every matching subscriber and returns how many
// received it. Slow subscribers drop pushes instead of blocking senders.
func (h *hub) publish(in schema.Inbound) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, sub := range h.subs {
		if sub.embed != "" && sub.embed != in.EmbedID {
			continue
		}
		select {
		case sub.ch <- in:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
