package core

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/webbox/schema"
)

// RegistryEvent is emitted by a Registry.
type RegistryEvent struct {
	Type  schema.ProjectEventType
	Tab   *Tab
	Index int
}

// Registry is an ordered collection of tabs with per-tab active flags.
type Registry struct {
	mu                sync.Mutex
	tabs              []*Tab
	counter           int
	unnamedTabCounter int
	confirm           Confirmer
	logger            pslog.Logger
	events            listeners[RegistryEvent]
}

// NewRegistry creates an empty registry. File tab removal is confirmed
// through confirm when set.
func NewRegistry(confirm Confirmer, logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{confirm: confirm, logger: logger}
}

// Subscribe registers a listener for change and tabremoved events.
func (r *Registry) Subscribe(fn func(RegistryEvent)) func() {
	return r.events.subscribe(fn)
}

func (r *Registry) emitChange() {
	r.events.emit(RegistryEvent{Type: schema.ProjectEventChange, Index: -1})
}

// AddTab adds a tab or returns the index of the existing tab holding the
// same item. Active tabs are switched to exclusively.
func (r *Registry) AddTab(tabType schema.TabType, opts TabOptions) int {
	active := opts.Active == nil || *opts.Active
	r.mu.Lock()
	index := -1
	for i, tab := range r.tabs {
		if tab.Type == tabType && sameItem(tab.Item, opts.Item) {
			index = i
			break
		}
	}
	if index < 0 {
		r.counter++
		r.tabs = append(r.tabs, &Tab{
			UniqueID: schema.UniqueTabID(fmt.Sprintf("tab-%d", r.counter)),
			Type:     tabType,
			Item:     opts.Item,
			Callback: opts.Callback,
		})
		index = len(r.tabs) - 1
	}
	r.mu.Unlock()
	if active {
		r.SwitchTab(index)
	} else {
		r.emitChange()
	}
	return index
}

// TabAt returns the tab at index.
func (r *Registry) TabAt(index int) (*Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.tabs) {
		return nil, false
	}
	return r.tabs[index], true
}

// Tabs returns copies of all tabs in order.
func (r *Registry) Tabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Tab, len(r.tabs))
	for i, tab := range r.tabs {
		out[i] = *tab
	}
	return out
}

// ActiveTabs returns copies of the active tabs.
func (r *Registry) ActiveTabs() []Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Tab
	for _, tab := range r.tabs {
		if tab.Active {
			out = append(out, *tab)
		}
	}
	return out
}

// Snapshots returns transport views of all tabs.
func (r *Registry) Snapshots() []schema.TabSnapshot {
	tabs := r.Tabs()
	out := make([]schema.TabSnapshot, len(tabs))
	for i := range tabs {
		out[i] = tabs[i].Snapshot()
	}
	return out
}

// Len returns the number of tabs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tabs)
}

// IndexOf returns the index of the tab holding item, or -1.
func (r *Registry) IndexOf(tabType schema.TabType, item any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, tab := range r.tabs {
		if tab.Type == tabType && sameItem(tab.Item, item) {
			return i
		}
	}
	return -1
}

// NextUnnamed returns and increments the unnamed file counter.
func (r *Registry) NextUnnamed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.unnamedTabCounter
	r.unnamedTabCounter++
	return n
}

// UnnamedTabCounter returns the number of unnamed files created so far.
func (r *Registry) UnnamedTabCounter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unnamedTabCounter
}

// RemoveTab removes tab, which is expected at index. The tab's callback runs,
// a removed active tab hands activation to its neighbour, and a tabremoved
// event is always emitted.
func (r *Registry) RemoveTab(tab *Tab, index int) {
	if tab == nil {
		return
	}
	r.mu.Lock()
	if index < 0 || index >= len(r.tabs) || r.tabs[index] != tab {
		index = -1
		for i, t := range r.tabs {
			if t == tab {
				index = i
				break
			}
		}
	}
	if index < 0 {
		r.mu.Unlock()
		r.logger.Debug("tabs remove ignored", "tab", tab.UniqueID)
		return
	}
	r.tabs = append(r.tabs[:index], r.tabs[index+1:]...)
	reactivate := -1
	if tab.Active && len(r.tabs) > 0 {
		anyActive := false
		for _, t := range r.tabs {
			if t.Active {
				anyActive = true
				break
			}
		}
		if !anyActive {
			reactivate = min(len(r.tabs)-1, index)
		}
	}
	removed := *tab
	r.mu.Unlock()

	if tab.Callback != nil {
		tab.Callback()
	}
	if reactivate >= 0 {
		r.SwitchTab(reactivate)
	} else {
		r.emitChange()
	}
	r.events.emit(RegistryEvent{Type: schema.ProjectEventTabRemoved, Tab: &removed, Index: index})
}

// CloseTab closes the tab at index. File tabs ask for confirmation first.
func (r *Registry) CloseTab(index int) {
	tab, ok := r.TabAt(index)
	if !ok {
		r.logger.Debug("tabs close ignored", "index", index)
		return
	}
	if tab.Type == schema.TabFile && r.confirm != nil {
		r.closeFileTab(tab, index)
		return
	}
	r.RemoveTab(tab, index)
}

func (r *Registry) closeFileTab(tab *Tab, index int) {
	var hide func()
	deleteAction := MessageAction{ID: ActionIDDelete, Label: "Löschen", Handler: func(string) {
		r.RemoveTab(tab, index)
		if disposer, ok := tab.Item.(interface{ Dispose() }); ok {
			disposer.Dispose()
		}
		if hide != nil {
			hide()
		}
	}}
	cancelAction := MessageAction{ID: ActionIDCancel, Label: "Abbrechen", Handler: func(string) {
		if hide != nil {
			hide()
		}
	}}
	hide = r.confirm.ShowMessage(schema.SeverityWarning, "Wollen Sie diese Datei wirklich löschen?", deleteAction, cancelAction)
}

// CloseTabByType removes every tab of the given type.
func (r *Registry) CloseTabByType(tabType schema.TabType) {
	for _, tab := range r.tabsOfType(tabType) {
		r.RemoveTab(tab, r.indexOfTab(tab))
	}
}

// HideTabsByType deactivates every tab of the given type.
func (r *Registry) HideTabsByType(tabType schema.TabType) {
	r.mu.Lock()
	for _, tab := range r.tabs {
		if tab.Type == tabType {
			tab.Active = false
		}
	}
	r.mu.Unlock()
	r.emitChange()
}

// SwitchTab activates exactly the tab at index.
func (r *Registry) SwitchTab(index int) {
	r.mu.Lock()
	if index < 0 || index >= len(r.tabs) {
		r.mu.Unlock()
		r.logger.Debug("tabs switch ignored", "index", index)
		return
	}
	for _, tab := range r.tabs {
		tab.Active = false
	}
	r.tabs[index].Active = true
	r.mu.Unlock()
	r.emitChange()
}

// ToggleTab flips the active flag of the tab at index only.
func (r *Registry) ToggleTab(index int) {
	r.mu.Lock()
	if index < 0 || index >= len(r.tabs) {
		r.mu.Unlock()
		r.logger.Debug("tabs toggle ignored", "index", index)
		return
	}
	r.tabs[index].Active = !r.tabs[index].Active
	r.mu.Unlock()
	r.emitChange()
}

// EnsureActive activates the tab holding item without touching others.
func (r *Registry) EnsureActive(tabType schema.TabType, item any) int {
	r.mu.Lock()
	index := -1
	for i, tab := range r.tabs {
		if tab.Type == tabType && sameItem(tab.Item, item) {
			index = i
			break
		}
	}
	if index < 0 || r.tabs[index].Active {
		r.mu.Unlock()
		return index
	}
	r.mu.Unlock()
	r.ToggleTab(index)
	return index
}

// MoveToFront moves the tab at index to position 0.
func (r *Registry) MoveToFront(index int) {
	r.mu.Lock()
	if index <= 0 || index >= len(r.tabs) {
		r.mu.Unlock()
		return
	}
	tab := r.tabs[index]
	copy(r.tabs[1:index+1], r.tabs[:index])
	r.tabs[0] = tab
	r.mu.Unlock()
	r.emitChange()
}

// Clear drops all tabs without running callbacks.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.tabs = nil
	r.mu.Unlock()
	r.emitChange()
}

// ClearByType drops every tab of the given type without running callbacks.
func (r *Registry) ClearByType(tabType schema.TabType) {
	r.mu.Lock()
	kept := r.tabs[:0]
	for _, tab := range r.tabs {
		if tab.Type != tabType {
			kept = append(kept, tab)
		}
	}
	clear(r.tabs[len(kept):])
	r.tabs = kept
	r.mu.Unlock()
	r.emitChange()
}

// ClearFileChanges resets the dirty flag of every file tab.
func (r *Registry) ClearFileChanges() {
	for _, tab := range r.tabsOfType(schema.TabFile) {
		if file, ok := tab.Item.(*File); ok {
			file.ClearChanges()
		}
	}
}

// Files returns the files of all file tabs in order.
func (r *Registry) Files() []*File {
	tabs := r.tabsOfType(schema.TabFile)
	out := make([]*File, 0, len(tabs))
	for _, tab := range tabs {
		if file, ok := tab.Item.(*File); ok {
			out = append(out, file)
		}
	}
	return out
}

func (r *Registry) tabsOfType(tabType schema.TabType) []*Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Tab
	for _, tab := range r.tabs {
		if tab.Type == tabType {
			out = append(out, tab)
		}
	}
	return out
}

func (r *Registry) indexOfTab(tab *Tab) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.tabs {
		if t == tab {
			return i
		}
	}
	return -1
}
