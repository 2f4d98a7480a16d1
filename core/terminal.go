package core

import (
	"io"
	"strings"
	"sync"

	"pkt.systems/webbox/schema"
)

// TerminalView is a snapshot of a terminal's visible state.
type TerminalView struct {
	Lines        []string
	Partial      string
	TotalLines   int
	ScrollOffset int
	AtBottom     bool
}

// Terminal stores process output as scrollback lines and forwards complete
// lines to a listener. ScrollOffset counts lines from the bottom.
type Terminal struct {
	mu           sync.Mutex
	lines        []string
	partial      string
	scrollOffset int
	maxLines     int
	tee          io.Writer
	onLines      func([]string)
}

// NewTerminal returns a terminal keeping at most maxLines lines.
func NewTerminal(maxLines int) *Terminal {
	if maxLines <= 0 {
		maxLines = schema.DefaultTerminalMaxLines
	}
	return &Terminal{maxLines: maxLines}
}

// SetTee mirrors every raw write to w.
func (t *Terminal) SetTee(w io.Writer) {
	t.mu.Lock()
	t.tee = w
	t.mu.Unlock()
}

// OnLines registers the listener for completed lines.
func (t *Terminal) OnLines(fn func([]string)) {
	t.mu.Lock()
	t.onLines = fn
	t.mu.Unlock()
}

// Write appends raw output. Carriage returns before a newline are dropped.
func (t *Terminal) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	tee := t.tee
	data := t.partial + string(p)
	parts := strings.Split(data, "\n")
	t.partial = parts[len(parts)-1]
	var done []string
	for _, line := range parts[:len(parts)-1] {
		done = append(done, strings.TrimSuffix(line, "\r"))
	}
	t.appendLocked(done)
	fn := t.onLines
	t.mu.Unlock()
	if tee != nil {
		if _, err := tee.Write(p); err != nil {
			return len(p), err
		}
	}
	if fn != nil && len(done) > 0 {
		fn(done)
	}
	return len(p), nil
}

// WriteString is a convenience for Write.
func (t *Terminal) WriteString(s string) {
	_, _ = t.Write([]byte(s))
}

// Flush completes a pending partial line.
func (t *Terminal) Flush() {
	t.mu.Lock()
	if t.partial == "" {
		t.mu.Unlock()
		return
	}
	line := strings.TrimSuffix(t.partial, "\r")
	t.partial = ""
	t.appendLocked([]string{line})
	fn := t.onLines
	t.mu.Unlock()
	if fn != nil {
		fn([]string{line})
	}
}

func (t *Terminal) appendLocked(lines []string) {
	if len(lines) == 0 {
		return
	}
	t.lines = append(t.lines, lines...)
	if t.scrollOffset > 0 {
		t.scrollOffset += len(lines)
	}
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
		t.scrollOffset = clampOffset(t.scrollOffset, len(t.lines))
	}
}

// Clear drops all scrollback.
func (t *Terminal) Clear() {
	t.mu.Lock()
	t.lines = nil
	t.partial = ""
	t.scrollOffset = 0
	t.mu.Unlock()
}

// Scroll moves the view. Positive delta scrolls towards older lines.
func (t *Terminal) Scroll(delta, limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrollOffset = clampOffset(t.scrollOffset+delta, maxScroll(len(t.lines), limit))
}

// ResetScroll returns the view to the bottom.
func (t *Terminal) ResetScroll() {
	t.mu.Lock()
	t.scrollOffset = 0
	t.mu.Unlock()
}

// Snapshot returns the visible window for a viewport of limit lines.
// A non-positive limit returns everything.
func (t *Terminal) Snapshot(limit int) TerminalView {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := len(t.lines)
	if limit <= 0 || limit > total {
		limit = total
	}
	t.scrollOffset = clampOffset(t.scrollOffset, maxScroll(total, limit))
	end := total - t.scrollOffset
	start := max(end-limit, 0)
	lines := make([]string, end-start)
	copy(lines, t.lines[start:end])
	return TerminalView{
		Lines:        lines,
		Partial:      t.partial,
		TotalLines:   total,
		ScrollOffset: t.scrollOffset,
		AtBottom:     t.scrollOffset == 0,
	}
}

// Text returns the whole scrollback including a pending partial line.
func (t *Terminal) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := strings.Join(t.lines, "\n")
	if len(t.lines) > 0 {
		out += "\n"
	}
	return out + t.partial
}

func maxScroll(total, limit int) int {
	if total <= 0 || limit <= 0 || total <= limit {
		return 0
	}
	return total - limit
}

func clampOffset(offset, maxOffset int) int {
	return min(max(offset, 0), maxOffset)
}
