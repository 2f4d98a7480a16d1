package format

import (
	"regexp"
	"strings"
)

const (
	statusColor = "\x1b[34m"
	resetColor  = "\x1b[m"
	statusDash  = " ---- "
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StatusLine formats a runner status message for the terminal.
func StatusLine(message string) string {
	return statusColor + statusDash + message + statusDash + resetColor + "\r\n"
}

// StatusLineBare formats a status message without the dash frame.
func StatusLineBare(message string) string {
	return statusColor + message + resetColor + "\r\n"
}

// StripANSI removes terminal escape sequences from text.
func StripANSI(text string) string {
	if !strings.Contains(text, "\x1b") {
		return text
	}
	return ansiPattern.ReplaceAllString(text, "")
}

// PlainRenderer converts raw terminal output into display lines.
type PlainRenderer struct {
	// KeepColor leaves escape sequences in place.
	KeepColor bool
}

// NewPlainRenderer returns a renderer that strips colors.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{}
}

// Lines splits terminal output into lines, normalizing CRLF.
// A trailing partial line is returned as rest.
func (p *PlainRenderer) Lines(chunk string) (lines []string, rest string) {
	if p != nil && !p.KeepColor {
		chunk = StripANSI(chunk)
	}
	chunk = strings.ReplaceAll(chunk, "\r\n", "\n")
	parts := strings.Split(chunk, "\n")
	rest = parts[len(parts)-1]
	for _, part := range parts[:len(parts)-1] {
		lines = append(lines, strings.TrimSuffix(part, "\r"))
	}
	return lines, rest
}

// CommandLine renders a command array for display.
func CommandLine(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "" || strings.ContainsAny(arg, " \t\"'$") {
			quoted = append(quoted, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
			continue
		}
		quoted = append(quoted, arg)
	}
	return strings.Join(quoted, " ")
}
