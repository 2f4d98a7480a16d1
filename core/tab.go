package core

import (
	"reflect"

	"pkt.systems/webbox/schema"
)

// Tab is a registry entry wrapping one open artifact.
type Tab struct {
	UniqueID schema.UniqueTabID
	Type     schema.TabType
	Item     any
	Active   bool
	// Callback runs when the tab is removed.
	Callback func()
}

// TabOptions configures AddTab. A nil Active means true.
type TabOptions struct {
	Item     any
	Active   *bool
	Callback func()
}

// Inactive is a convenience for TabOptions.Active.
func Inactive() *bool {
	v := false
	return &v
}

// Titled is implemented by tab items that have a display title.
type Titled interface {
	Title() string
}

// Snapshot returns a transport-friendly view of the tab.
func (t *Tab) Snapshot() schema.TabSnapshot {
	snap := schema.TabSnapshot{UniqueID: t.UniqueID, Type: t.Type, Active: t.Active}
	switch item := t.Item.(type) {
	case *File:
		snap.Title = item.Name()
	case Titled:
		snap.Title = item.Title()
	}
	return snap
}

// sameItem compares tab items by identity without panicking on
// non-comparable values.
func sameItem(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
