package core

import (
	"context"
	"time"

	"pkt.systems/webbox/schema"
)

const savedStatusTimeout = 2 * time.Second

// CanSave reports whether the project may be persisted: only in the default
// mode and only for signed in users. With showWarnings the reason is shown.
func (p *Project) CanSave(showWarnings bool) bool {
	if !p.Mode().AllowsSave() {
		if showWarnings {
			p.messages.ShowMessage(schema.SeverityWarning, "Sie können dieses Beispiel nicht speichern, da es in der Leseansicht geöffnet wurde.")
		}
		return false
	}
	if p.deps.User.IsAnonymous {
		if showWarnings {
			p.messages.ShowMessage(schema.SeverityWarning, "Sie können dieses Beispiel nicht speichern, da Sie nicht angemeldet sind.")
		}
		return false
	}
	return true
}

// SaveEmbed requests a save. Bursts of requests collapse into one save at
// the end of the throttle window.
func (p *Project) SaveEmbed() {
	if !p.CanSave(true) {
		return
	}
	if !p.IsConsistent() {
		p.messages.ShowMessage(schema.SeverityError, "Das Projekt kann derzeit nicht gespeichert werden. Haben Sie noch weitere Meldungen offen?")
		return
	}
	p.save.Call()
}

// SaveEmbedNow persists all open files unless the project cannot be saved
// or a save is already in flight. Failures end up in the status bar or the
// message list.
func (p *Project) SaveEmbedNow(ctx context.Context) {
	if !p.CanSave(true) {
		return
	}
	p.saveEmbed(ctx)
}

func (p *Project) saveEmbed(ctx context.Context) {
	if !p.IsConsistent() {
		p.logger.Warn("project save skipped", "err", schema.ErrInconsistentProject)
		return
	}
	if p.deps.Persistence == nil {
		p.logger.Warn("project save skipped", "err", schema.ErrSaveNotAllowed)
		return
	}
	p.mu.Lock()
	if p.pendingSave {
		p.mu.Unlock()
		p.logger.Debug("project save skipped", "err", schema.ErrSavePending)
		return
	}
	p.pendingSave = true
	id := p.embed.ID
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pendingSave = false
		p.mu.Unlock()
	}()

	p.status.SetStatusMessage("Speichere...", "", schema.SeverityIgnore, 0)
	req := schema.SaveEmbedRequest{Code: p.ToCodeDocument()}
	p.logger.Debug("project save start", "files", len(req.Code))
	resp, err := p.deps.Persistence.SaveEmbed(ctx, id, req)
	if err != nil {
		p.logger.Warn("project save failed", "err", err)
		p.messages.ShowMessage(schema.SeverityError, "Speichern fehlgeschlagen!")
		p.status.ResetStatusMessage()
		return
	}
	if resp.Error != "" {
		p.logger.Warn("project save rejected", "error", resp.Error)
		p.status.SetStatusMessage("Beim Speichern ist ein Fehler augetreten.", "", schema.SeverityError, 0)
		return
	}
	p.SetUnsavedChanges(false)
	p.status.SetStatusMessage("Gespeichert.", "", schema.SeverityInfo, savedStatusTimeout)
	if resp.Document != nil {
		p.mu.Lock()
		p.embed.Document = &schema.Document{ID: resp.Document.ID, Code: req.Code}
		if resp.Document.Code != nil {
			p.embed.Document.Code = resp.Document.Code
		}
		p.mu.Unlock()
	}
	p.logger.Info("project saved")
}

// UpdateEmbed replaces the embed attributes. It does not save file changes.
func (p *Project) UpdateEmbed(ctx context.Context, embed schema.Embed) {
	if p.deps.Persistence == nil {
		p.logger.Warn("project update skipped", "err", schema.ErrSaveNotAllowed)
		return
	}
	resp, err := p.deps.Persistence.UpdateEmbed(ctx, p.embed.ID, embed)
	if err != nil {
		p.logger.Warn("project update failed", "err", err)
		p.messages.ShowMessage(schema.SeverityError, "Aktualisieren fehlgeschlagen!")
		return
	}
	if resp.Error != "" {
		p.logger.Warn("project update rejected", "error", resp.Error)
		p.messages.ShowMessage(schema.SeverityError, "Beim Aktualisieren ist ein Fehler augetreten.")
		return
	}
	p.mu.Lock()
	document := p.embed.Document
	p.embed = embed.Clone()
	if p.embed.Document == nil {
		p.embed.Document = document
	}
	p.mu.Unlock()
	p.messages.ShowMessage(schema.SeverityInfo, "Erfolgreich aktualisiert.")
}

// DeleteEmbed asks for confirmation and deletes the embed. onDeleted runs
// after a successful delete.
func (p *Project) DeleteEmbed(ctx context.Context, onDeleted func()) {
	var hide func()
	deleteAction := MessageAction{ID: ActionIDDelete, Label: "Löschen", Handler: func(string) {
		hide()
		if p.deps.Persistence == nil {
			return
		}
		resp, err := p.deps.Persistence.DeleteEmbed(ctx, p.embed.ID)
		switch {
		case err != nil:
			p.logger.Warn("project delete failed", "err", err)
			p.messages.ShowMessage(schema.SeverityError, err.Error())
		case resp.Error != "":
			p.logger.Warn("project delete rejected", "error", resp.Error)
			p.messages.ShowMessage(schema.SeverityError, resp.Error)
		default:
			p.logger.Info("project embed deleted")
			if onDeleted != nil {
				onDeleted()
			}
		}
	}}
	cancelAction := MessageAction{ID: ActionIDCancel, Label: "Abbrechen", Handler: func(string) { hide() }}
	hide = p.messages.ShowMessage(schema.SeverityWarning, "Wollen Sie das Beispiel wirklich löschen? Sie können das Beispiel davor auch exportieren.", deleteAction, cancelAction)
}

// TestCode returns the tests of the embed or nil.
func (p *Project) TestCode() *TestCode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tests
}

// HasTestCode reports whether the embed carries tests.
func (p *Project) HasTestCode() bool { return p.TestCode() != nil }

// CreateTestCode replaces the tests with new code for the project language.
func (p *Project) CreateTestCode(metadata map[string]any, data string) *TestCode {
	tests := NewTestCode(p.deps.TextBuffers, metadata, data, p.LanguageName())
	p.mu.Lock()
	p.tests = tests
	p.mu.Unlock()
	p.emitChange()
	return tests
}

// SaveTests stores the tests as the only tests asset of the embed.
func (p *Project) SaveTests(ctx context.Context) {
	tests := p.TestCode()
	if tests == nil {
		p.logger.Warn("project save tests skipped", "err", schema.ErrNoTestCode)
		return
	}
	embed := p.Embed()
	assets := make([]schema.Asset, 0, len(embed.Assets)+1)
	for _, asset := range embed.Assets {
		if asset.Type != schema.TestsAssetType {
			assets = append(assets, asset)
		}
	}
	embed.Assets = append(assets, tests.Asset())
	p.UpdateEmbed(ctx, embed)
}
