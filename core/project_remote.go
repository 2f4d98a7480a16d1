package core

import (
	"context"

	"pkt.systems/webbox/schema"
)

// SendEvent forwards a telemetry record with the project context. Events
// are only collected in the default mode.
func (p *Project) SendEvent(ctx context.Context, event schema.EventLog) {
	if !p.Mode().CollectsTelemetry() {
		return
	}
	if p.deps.Remote == nil {
		p.logger.Debug("project event dropped", "name", event.Name, "err", schema.ErrNotConnected)
		return
	}
	event.Context = p.GetContextData()
	p.deps.Remote.SendEvent(ctx, event)
}

// SendAction sends a remote action with the project context.
func (p *Project) SendAction(ctx context.Context, action schema.Action, useQueue bool) {
	if p.deps.Remote == nil {
		p.logger.Debug("project action dropped", "action", action.Action, "err", schema.ErrNotConnected)
		action.Run(schema.ActionResponse{Error: schema.ErrNotConnected.Error()})
		return
	}
	action.Context = p.GetContextData()
	p.deps.Remote.SendAction(ctx, action, useQueue)
}

// ShareWithTeacher asks for an optional note and submits the link of the
// current solution.
func (p *Project) ShareWithTeacher(ctx context.Context) {
	var hide func()
	share := MessageAction{ID: ActionIDShare, Label: "Abschicken", Input: "Nachricht...", Handler: func(input string) {
		p.SendAction(ctx, schema.Action{
			Action: schema.ActionSubmission,
			User:   p.deps.User.Name(),
			Data: map[string]any{
				"shareableLink": p.GetSharableLink(),
				"message":       input,
			},
			Callback: func(resp schema.ActionResponse) {
				if resp.Error != "" {
					p.logger.Warn("project submission failed", "error", resp.Error)
					p.messages.ShowMessage(schema.SeverityError, "Das Senden ist fehlgeschlagen :(")
				}
			},
		}, false)
		hide()
	}}
	closeAction := MessageAction{ID: ActionIDClose, Label: "Schließen", Handler: func(string) { hide() }}
	hide = p.messages.ShowMessage(schema.SeverityWarning, "Aktuelle Lösung an den Dozenten schicken?", share, closeAction)
}

// ShowShareableLink shows the share link. copyText puts it on a clipboard
// and may be nil when none is available.
func (p *Project) ShowShareableLink(copyText func(string) error) {
	link := p.GetSharableLink()
	var hide func()
	copyAction := MessageAction{ID: ActionIDCopy, Label: "Kopieren", Handler: func(string) {
		if copyText == nil || copyText(link) != nil {
			p.messages.ShowMessage(schema.SeverityWarning, "Link konnte nicht automatisch in die Zwischenablage kopiert werden. Bitte manuell markieren und kopieren.")
		}
	}}
	closeAction := MessageAction{ID: ActionIDClose, Label: "Schließen", Handler: func(string) { hide() }}
	hide = p.messages.ShowMessage(schema.SeverityInfo, "Ihr Link: "+link, copyAction, closeAction)
}

// OnReconnectFailed warns that the remote channel gave up reconnecting.
func (p *Project) OnReconnectFailed() {
	p.logger.Warn("project remote reconnect failed")
	p.messages.ShowMessage(schema.SeverityWarning, "Derzeit konnte keine Verbindung zum Server hergestellt werden. Sind sie offline?")
}
