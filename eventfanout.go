package webbox

import (
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnProjectEvent(event schema.ProjectEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnProjectEvent(event)
	}
}
