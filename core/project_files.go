package core

import (
	"context"
	"fmt"
	"slices"

	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// AddFile opens a new file tab. An empty name creates an unnamed file with
// rename editing enabled. An empty mode is derived from the file name.
func (p *Project) AddFile(name, text, mode string, active bool) *File {
	filename := name
	unnamed := name == ""
	if unnamed {
		filename = fmt.Sprintf("%s%d.txt", p.cfg.UnnamedPrefix, p.tabs.NextUnnamed())
	}
	if mode == "" {
		mode = languages.ModeForFile(filename)
	}
	file := NewFile(p.deps.TextBuffers, filename, text, mode)
	if unnamed {
		file.SetNameEditable(true)
	}
	file.Subscribe(func(event FileEvent) {
		switch event.Type {
		case FileChangedName:
			p.OnChangedFileName(event)
		case FileHasChangesUpdate:
			if file.HasChanges() {
				p.SetUnsavedChanges(true)
			}
		default:
			p.emitChange()
		}
	})
	p.SetUnsavedChanges(true)
	p.tabs.AddTab(schema.TabFile, TabOptions{Item: file, Active: &active})
	return file
}

// CreateFile adds an unnamed file when the mode permits edits.
func (p *Project) CreateFile() (*File, error) {
	if !p.CanEdit() {
		return nil, fmt.Errorf("create file in mode %s: %w", p.Mode(), schema.ErrInvalidRequest)
	}
	return p.AddFile("", "", "", true), nil
}

// OnChangedFileName re-detects the language of a renamed file and asks the
// user how to resolve a name collision. Only the first duplicate is offered
// for replacement.
func (p *Project) OnChangedFileName(event FileEvent) {
	if event.File == nil {
		return
	}
	if tab := p.GetTabForFileOrNull(event.File); tab != nil {
		event.File.AutoDetectMode()
	}
	var duplicates []*File
	for _, f := range p.GetFiles() {
		if f != event.File && f.Name() == event.NewName {
			duplicates = append(duplicates, f)
		}
	}
	if len(duplicates) == 0 {
		p.emitChange()
		return
	}
	p.logger.Info("project file name conflict", "name", event.NewName, "duplicates", len(duplicates))
	p.setConsistency(false)
	duplicateTab := p.GetTabForFileOrNull(duplicates[0])
	index := p.tabs.IndexOf(schema.TabFile, duplicates[0])
	renamed := event.File

	var hide func()
	replace := MessageAction{ID: ActionIDReplace, Label: "Ersetzen", Handler: func(string) {
		if duplicateTab != nil {
			p.tabs.RemoveTab(duplicateTab, index)
		}
		p.setConsistency(true)
		hide()
		p.SetUnsavedChanges(true)
	}}
	rename := MessageAction{ID: ActionIDRename, Label: "Umbenennen", Handler: func(string) {
		renamed.SetNameEditable(true)
		p.setConsistency(true)
		hide()
		p.SetUnsavedChanges(true)
	}}
	hide = p.messages.ShowMessage(schema.SeverityWarning, "Es existiert bereits eine Datei mit diesem Namen. Was möchten Sie machen?", replace, rename)
}

// SetUnsavedChanges updates the unsaved flag. Projects that cannot be saved
// never report unsaved changes, and clearing the flag clears every file.
func (p *Project) SetUnsavedChanges(unsaved bool) {
	if !p.CanSave(false) {
		unsaved = false
	}
	p.mu.Lock()
	p.hasUnsavedChanges = unsaved
	p.mu.Unlock()
	label := ""
	if unsaved {
		label = "Ungespeicherte Änderungen"
	} else {
		p.tabs.ClearFileChanges()
	}
	p.status.SetChangesLabel(label)
	p.emitChange()
}

// GetTabForFileOrNull returns the tab holding file. More than one match is
// reported as an inconsistent project and yields nil.
func (p *Project) GetTabForFileOrNull(file *File) *Tab {
	return p.singleFileTab(func(f *File) bool { return f == file })
}

// GetTabForFilenameOrNull returns the tab of the file called name.
func (p *Project) GetTabForFilenameOrNull(name string) *Tab {
	return p.singleFileTab(func(f *File) bool { return f.Name() == name })
}

func (p *Project) singleFileTab(match func(*File) bool) *Tab {
	var found []*Tab
	for _, tab := range p.tabs.tabsOfType(schema.TabFile) {
		if file, ok := tab.Item.(*File); ok && match(file) {
			found = append(found, tab)
		}
	}
	switch len(found) {
	case 0:
		return nil
	case 1:
		return found[0]
	default:
		p.logger.Error("project file tabs inconsistent", "matches", len(found))
		p.messages.ShowMessage(schema.SeverityError, "Inkonsistentes Projekt. Bitte Seite neu laden!")
		return nil
	}
}

// GetIndexForFilename returns the tab index of the file called name or -1.
func (p *Project) GetIndexForFilename(name string) int {
	for i, tab := range p.tabs.Tabs() {
		if file, ok := tab.Item.(*File); ok && tab.Type == schema.TabFile && file.Name() == name {
			return i
		}
	}
	return -1
}

// GetFileForName returns the file called name or nil.
func (p *Project) GetFileForName(name string) *File {
	index := p.GetIndexForFilename(name)
	if index < 0 {
		return nil
	}
	tab, ok := p.tabs.TabAt(index)
	if !ok {
		return nil
	}
	file, _ := tab.Item.(*File)
	return file
}

// HasFile reports whether a file called name is open.
func (p *Project) HasFile(name string) bool {
	return slices.ContainsFunc(p.GetFiles(), func(f *File) bool { return f.Name() == name })
}

// GetFiles returns all open files in tab order.
func (p *Project) GetFiles() []*File {
	return p.tabs.Files()
}

// GetMainFile returns the configured entry point or an empty string.
func (p *Project) GetMainFile() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embed.Meta.MainFile
}

// ToCodeDocument serializes all open files by name.
func (p *Project) ToCodeDocument() map[string]string {
	code := make(map[string]string)
	for _, f := range p.GetFiles() {
		code[f.Name()] = f.Value()
	}
	return code
}

// LoadFromData replaces the file tabs with the files of embed, or of its
// saved document unless ignoreDocument is set. The main file becomes the
// first, active tab and the project starts without unsaved changes.
func (p *Project) LoadFromData(embed schema.Embed, ignoreDocument bool) {
	code := embed.Code
	if !ignoreDocument && embed.Document != nil && embed.Document.Code != nil {
		code = embed.Document.Code
	}
	for _, f := range p.GetFiles() {
		f.Dispose()
	}
	p.tabs.ClearByType(schema.TabFile)

	names := make([]string, 0, len(code))
	for name := range code {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p.AddFile(name, code[name], "", true)
	}

	index := 0
	if mainFile := embed.Meta.MainFile; mainFile != "" {
		index = max(p.GetIndexForFilename(mainFile), 0)
	}
	if p.tabs.Len() > 1 {
		p.tabs.MoveToFront(index)
		p.tabs.SwitchTab(0)
	}

	p.mu.Lock()
	p.hasUnsavedChanges = false
	p.mu.Unlock()
	p.tabs.ClearFileChanges()
	p.status.SetChangesLabel("")
}

func (p *Project) fromInitialData(embed schema.Embed, ignoreDocument bool) {
	p.LoadFromData(embed, ignoreDocument)
	var tests *TestCode
	if asset, ok := embed.TestsAsset(); ok {
		tests = NewTestCode(p.deps.TextBuffers, asset.Metadata, asset.Data, embed.Meta.Language)
	}
	p.mu.Lock()
	p.tests = tests
	p.mu.Unlock()
	p.emitChange()
}

// Reset reloads the files of the original embed, discarding the saved
// document and every local change.
func (p *Project) Reset() {
	p.mu.Lock()
	embed := p.embed.Clone()
	p.mu.Unlock()
	p.logger.Info("project reset")
	p.fromInitialData(embed, true)
}

// DeleteFile removes a file from the sandbox work directory.
func (p *Project) DeleteFile(ctx context.Context, name string) {
	if name == "" || p.deps.Sandbox == nil {
		return
	}
	target := schema.ProjectPath(p.ProjectName(), name)
	if err := p.deps.Sandbox.Rm(ctx, []string{target}); err != nil {
		p.logger.Debug("project sandbox rm failed", "path", target, "err", err)
	}
}
