package core

import "pkt.systems/webbox/schema"

// EventSink receives change notifications of a project.
type EventSink interface {
	OnProjectEvent(event schema.ProjectEvent)
}
