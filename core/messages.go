package core

import (
	"errors"
	"sync"
	"time"

	"pkt.systems/webbox/schema"
)

const (
	// DefaultMessagePurgeInterval removes undismissed infos and warnings.
	DefaultMessagePurgeInterval = 10 * time.Second
	// DefaultMaxMessages limits how many distinct messages are shown.
	DefaultMaxMessages = 5
)

// Message action ids.
const (
	ActionIDClose   = "close.message.action"
	ActionIDDelete  = "delete.message.action"
	ActionIDCancel  = "cancel.message.action"
	ActionIDReplace = "replace.message.action"
	ActionIDRename  = "rename.message.action"
	ActionIDShare   = "share.sharewithteacher.action"
	ActionIDCopy    = "copy.sharablelink.action"
)

// ErrMessageNotFound indicates a stale message or action reference.
var ErrMessageNotFound = errors.New("message not found")

// MessageAction is a user choice attached to a message.
type MessageAction struct {
	ID    string
	Label string
	// Input is the placeholder of an optional text input.
	Input   string
	Handler func(input string)
}

// Message is an entry of the message list.
type Message struct {
	ID       int64
	Text     string
	Severity schema.Severity
	Time     time.Time
	Count    int
	Actions  []MessageAction
}

// Confirmer shows a message with actions and returns a function hiding it.
type Confirmer interface {
	ShowMessage(severity schema.Severity, text string, actions ...MessageAction) func()
}

// MessageList keeps user-facing messages, newest first.
type MessageList struct {
	mu            sync.Mutex
	messages      []Message
	nextID        int64
	purgeInterval time.Duration
	maxMessages   int
	purgeTimer    *time.Timer
	changes       listeners[struct{}]
}

// NewMessageList creates an empty message list.
func NewMessageList() *MessageList {
	return &MessageList{purgeInterval: DefaultMessagePurgeInterval, maxMessages: DefaultMaxMessages}
}

// Subscribe registers a change listener.
func (l *MessageList) Subscribe(fn func()) func() {
	return l.changes.subscribe(func(struct{}) { fn() })
}

// ShowMessage adds a message and returns a function hiding it.
// Empty text is ignored.
func (l *MessageList) ShowMessage(severity schema.Severity, text string, actions ...MessageAction) func() {
	if text == "" {
		return func() {}
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	entry := Message{
		ID:       id,
		Text:     text,
		Severity: severity,
		Time:     time.Now(),
		Count:    1,
		Actions:  append([]MessageAction(nil), actions...),
	}
	l.messages = append([]Message{entry}, l.messages...)
	l.schedulePurgeLocked()
	l.mu.Unlock()
	l.changes.emit(struct{}{})
	return func() { l.HideMessage(id) }
}

// ShowError adds an error message for err.
func (l *MessageList) ShowError(err error) func() {
	if err == nil {
		return func() {}
	}
	return l.ShowMessage(schema.SeverityError, err.Error())
}

// HideMessage removes the message with the given id.
func (l *MessageList) HideMessage(id int64) {
	l.hide(func(m Message) bool { return m.ID == id })
}

// HideText removes all messages with the given text.
func (l *MessageList) HideText(text string) {
	l.hide(func(m Message) bool { return m.Text == text })
}

// HideAll removes every message.
func (l *MessageList) HideAll() {
	l.hide(func(Message) bool { return true })
}

func (l *MessageList) hide(match func(Message) bool) {
	l.mu.Lock()
	kept := l.messages[:0]
	found := false
	for _, msg := range l.messages {
		if match(msg) {
			found = true
			continue
		}
		kept = append(kept, msg)
	}
	l.messages = kept
	l.mu.Unlock()
	if found {
		l.changes.emit(struct{}{})
	}
}

// Messages returns the list prepared for display: duplicates by text are
// folded into the newest entry and messages without actions get a close action.
func (l *MessageList) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, 0, len(l.messages))
	seen := make(map[string]int)
	for _, msg := range l.messages {
		if idx, ok := seen[msg.Text]; ok {
			out[idx].Count++
			continue
		}
		msg.Count = 1
		if len(msg.Actions) == 0 {
			text := msg.Text
			msg.Actions = []MessageAction{{ID: ActionIDClose, Label: "Schließen", Handler: func(string) { l.HideText(text) }}}
		} else {
			msg.Actions = append([]MessageAction(nil), msg.Actions...)
		}
		seen[msg.Text] = len(out)
		out = append(out, msg)
	}
	if l.maxMessages > 0 && len(out) > l.maxMessages {
		out = out[:l.maxMessages]
	}
	return out
}

// Len returns the number of stored messages.
func (l *MessageList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Trigger runs an action of a message.
func (l *MessageList) Trigger(messageID int64, actionID string, input string) error {
	l.mu.Lock()
	var action *MessageAction
	var text string
	for _, msg := range l.messages {
		if msg.ID != messageID {
			continue
		}
		text = msg.Text
		for i := range msg.Actions {
			if msg.Actions[i].ID == actionID {
				a := msg.Actions[i]
				action = &a
				break
			}
		}
		if action == nil && len(msg.Actions) == 0 && actionID == ActionIDClose {
			action = &MessageAction{ID: ActionIDClose}
		}
		break
	}
	l.mu.Unlock()
	if action == nil {
		return ErrMessageNotFound
	}
	if action.ID == ActionIDClose && action.Handler == nil {
		l.HideText(text)
		return nil
	}
	if action.Handler != nil {
		action.Handler(input)
	}
	return nil
}

func (l *MessageList) schedulePurgeLocked() {
	if l.purgeInterval <= 0 {
		return
	}
	if l.purgeTimer != nil {
		l.purgeTimer.Stop()
	}
	l.purgeTimer = time.AfterFunc(l.purgeInterval, l.purge)
}

// purge drops infos and warnings the user never dismissed.
func (l *MessageList) purge() {
	l.hide(func(m Message) bool {
		return m.Severity != schema.SeverityError && len(m.Actions) == 0
	})
}

// Close stops the purge timer.
func (l *MessageList) Close() {
	l.mu.Lock()
	if l.purgeTimer != nil {
		l.purgeTimer.Stop()
		l.purgeTimer = nil
	}
	l.mu.Unlock()
}
