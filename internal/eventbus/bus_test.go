package eventbus

import (
	"testing"
	"time"

	"pkt.systems/webbox/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("e1")
	defer cancel()

	bus.OnProjectEvent(schema.ProjectEvent{EmbedID: "e1", Type: schema.ProjectEventOutput, Lines: []string{"hi"}})
	bus.OnProjectEvent(schema.ProjectEvent{EmbedID: "other", Type: schema.ProjectEventChange})

	select {
	case got := <-ch:
		if got.Type != schema.ProjectEventOutput || len(got.Lines) != 1 {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received event for other embed: %+v", got)
	default:
	}
}

func TestCancelClosesChannelOnce(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("e1")
	if bus.Subscribers("e1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if bus.Subscribers("e1") != 0 {
		t.Fatalf("expected subscriber removed")
	}
}

func TestPublishDoesNotBlock(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("e1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.OnProjectEvent(schema.ProjectEvent{EmbedID: "e1", Type: schema.ProjectEventChange})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
