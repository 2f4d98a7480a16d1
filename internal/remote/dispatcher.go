// Package remote queues telemetry events and actions for the messaging
// connection and fans inbound pushes out to subscribers.
package remote

import (
	"context"
	"slices"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

// NotConnectedText is the error handed to action callbacks when the
// channel is offline and the action must not be queued.
const NotConnectedText = "Keine Verbindung zum Server. Ihre Aktion kann nicht ausgeführt werden."

// Transport is the wire connection underneath a Dispatcher.
type Transport interface {
	Connect(ctx context.Context) error
	Connected() bool
	EmitAction(ctx context.Context, action schema.Action) (schema.ActionResponse, error)
	EmitEvent(ctx context.Context, event schema.EventLog) error
	// Subscribe streams inbound pushes until the connection drops, then
	// closes the channel.
	Subscribe(ctx context.Context) (<-chan schema.Inbound, error)
}

// Options tune reconnect behaviour.
type Options struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	Logger               pslog.Logger
}

const (
	defaultReconnectInterval    = time.Second
	defaultMaxReconnectAttempts = 5
)

// queued is either an action or an event waiting for a connection.
type queued struct {
	action *schema.Action
	event  *schema.EventLog
}

// Dispatcher connects on demand, queues while offline and purges the
// queue on (re)connect.
type Dispatcher struct {
	transport Transport
	interval  time.Duration
	attempts  int
	logger    pslog.Logger

	mu       sync.Mutex
	queue    []queued
	started  bool
	closed   bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	nextID   int
	handlers map[schema.RemoteEventType]map[int]func(schema.Inbound)
	inflight sync.WaitGroup
}

// New returns a dispatcher that has not connected yet.
func New(transport Transport, opts Options) *Dispatcher {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = defaultReconnectInterval
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	return &Dispatcher{
		transport: transport,
		interval:  opts.ReconnectInterval,
		attempts:  opts.MaxReconnectAttempts,
		logger:    opts.Logger,
		handlers:  map[schema.RemoteEventType]map[int]func(schema.Inbound){},
	}
}

func (d *Dispatcher) log(ctx context.Context) pslog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return pslog.Ctx(ctx)
}

// Connect starts the connection loop unless it is already running.
func (d *Dispatcher) Connect(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startLocked(ctx)
}

func (d *Dispatcher) startLocked(ctx context.Context) {
	if d.started || d.closed || d.transport == nil {
		return
	}
	// the loop outlives the request that triggered it
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.started = true
	d.cancel = cancel
	done := make(chan struct{})
	d.loopDone = done
	go d.loop(loopCtx, done)
}

// Connected reports whether the transport is currently usable.
func (d *Dispatcher) Connected() bool {
	return d.transport != nil && d.transport.Connected()
}

// SendAction sends action now when connected. Before the first connection
// the action is queued; afterwards an offline action is queued only with
// useQueue, otherwise its callback receives NotConnectedText.
func (d *Dispatcher) SendAction(ctx context.Context, action schema.Action, useQueue bool) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		action.Run(schema.ActionResponse{Error: NotConnectedText})
		return
	}
	if !d.started {
		d.queue = append(d.queue, queued{action: &action})
		d.startLocked(ctx)
		d.mu.Unlock()
		return
	}
	if !d.Connected() {
		if useQueue {
			d.queue = append(d.queue, queued{action: &action})
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.log(ctx).Debug("remote action dropped", "action", action.Action)
		action.Run(schema.ActionResponse{Error: NotConnectedText})
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.inflight.Done()
		d.emitAction(ctx, action)
	}()
}

// SendEvent sends event when connected and queues it otherwise.
func (d *Dispatcher) SendEvent(ctx context.Context, event schema.EventLog) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.startLocked(ctx)
	if !d.Connected() {
		d.queue = append(d.queue, queued{event: &event})
		d.mu.Unlock()
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.inflight.Done()
		d.emitEvent(ctx, event)
	}()
}

func (d *Dispatcher) emitAction(ctx context.Context, action schema.Action) {
	log := d.log(ctx)
	log.Debug("remote action send", "action", action.Action)
	resp, err := d.transport.EmitAction(context.WithoutCancel(ctx), action)
	if err != nil {
		log.Warn("remote action failed", "action", action.Action, "err", err)
		resp = schema.ActionResponse{Error: err.Error()}
	}
	action.Run(resp)
}

func (d *Dispatcher) emitEvent(ctx context.Context, event schema.EventLog) {
	log := d.log(ctx)
	if err := d.transport.EmitEvent(context.WithoutCancel(ctx), event); err != nil {
		if !d.Connected() {
			d.mu.Lock()
			d.queue = append(d.queue, queued{event: &event})
			d.mu.Unlock()
			log.Debug("remote event requeued", "event", event.Name, "err", err)
			return
		}
		log.Warn("remote event failed", "event", event.Name, "err", err)
	}
}

// purge sends everything queued so far. Items that fail while the
// connection drops again go back to the queue.
func (d *Dispatcher) purge(ctx context.Context) {
	d.mu.Lock()
	items := d.queue
	d.queue = nil
	d.mu.Unlock()
	if len(items) > 0 {
		d.log(ctx).Debug("remote queue purge", "items", len(items))
	}
	for _, item := range items {
		switch {
		case item.action != nil:
			d.emitAction(ctx, *item.action)
		case item.event != nil:
			d.emitEvent(ctx, *item.event)
		}
	}
}

// QueueLen returns the number of waiting items.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// On registers fn for inbound pushes of type event. The reconnect_failed
// type is raised locally when the connection loop gives up.
func (d *Dispatcher) On(event schema.RemoteEventType, fn func(schema.Inbound)) func() {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	subs := d.handlers[event]
	if subs == nil {
		subs = map[int]func(schema.Inbound){}
		d.handlers[event] = subs
	}
	id := d.nextID
	d.nextID++
	subs[id] = fn
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers[event], id)
			d.mu.Unlock()
		})
	}
}

func (d *Dispatcher) fire(in schema.Inbound) {
	d.mu.Lock()
	subs := d.handlers[in.Type]
	ids := make([]int, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(schema.Inbound), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(in)
	}
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := d.log(ctx)
	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := d.transport.Connect(ctx)
		if err != nil {
			failures++
			log.Debug("remote connect failed", "attempt", failures, "err", err)
			if failures >= d.attempts {
				log.Warn("remote reconnect failed", "attempts", failures, "err", err)
				d.mu.Lock()
				d.started = false
				d.mu.Unlock()
				d.fire(schema.Inbound{Type: schema.RemoteReconnectFailed})
				return
			}
			if !sleepCtx(ctx, d.interval) {
				return
			}
			continue
		}
		failures = 0
		log.Info("remote connected")
		d.purge(ctx)
		inbound, err := d.transport.Subscribe(ctx)
		if err != nil {
			log.Warn("remote subscribe failed", "err", err)
			if !sleepCtx(ctx, d.interval) {
				return
			}
			continue
		}
		for in := range inbound {
			log.Trace("remote inbound", "type", in.Type, "embed", in.EmbedID)
			d.fire(in)
		}
		if ctx.Err() != nil {
			return
		}
		log.Info("remote disconnected")
	}
}

// Close stops the connection loop and waits for in-flight sends.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cancel := d.cancel
	done := d.loopDone
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	d.inflight.Wait()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
