package languages

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Diagnostic is one compiler message attached to a file position.
// Row and Column are 1-based as printed by the compiler.
type Diagnostic struct {
	File   string `json:"file"`
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Type   string `json:"type"`
	Text   string `json:"text"`
}

// DiagnosticParser turns compiler output lines into diagnostics.
type DiagnosticParser interface {
	Feed(line string) []Diagnostic
	Flush() []Diagnostic
}

// RegexParser matches a sliding window of lines against a labelled pattern.
type RegexParser struct {
	pattern *regexp.Regexp
	labels  []string
	lines   int
	buffer  []string
	build   func(map[string]string) (Diagnostic, bool)
}

// NewRegexParser constructs a parser over a window of lines.
func NewRegexParser(pattern *regexp.Regexp, labels []string, lines int, build func(map[string]string) (Diagnostic, bool)) *RegexParser {
	if lines <= 0 {
		lines = 1
	}
	if build == nil {
		build = defaultDiagnostic
	}
	return &RegexParser{pattern: pattern, labels: labels, lines: lines, build: build}
}

// Feed adds a line and returns any diagnostic completed by it.
func (p *RegexParser) Feed(line string) []Diagnostic {
	p.buffer = append(p.buffer, strings.TrimRight(line, "\r"))
	if len(p.buffer) < p.lines {
		return nil
	}
	out := p.match()
	p.buffer = p.buffer[1:]
	return out
}

// Flush matches a short trailing window once the stream ends.
func (p *RegexParser) Flush() []Diagnostic {
	if len(p.buffer) == 0 || len(p.buffer) >= p.lines {
		return nil
	}
	out := p.match()
	p.buffer = nil
	return out
}

func (p *RegexParser) match() []Diagnostic {
	text := strings.Join(p.buffer, "\n")
	matches := p.pattern.FindStringSubmatch(text)
	if matches == nil {
		return nil
	}
	fields := make(map[string]string, len(p.labels))
	for i, label := range p.labels {
		if i+1 < len(matches) {
			fields[label] = matches[i+1]
		}
	}
	diag, ok := p.build(fields)
	if !ok {
		return nil
	}
	return []Diagnostic{diag}
}

func defaultDiagnostic(fields map[string]string) (Diagnostic, bool) {
	file := fields["file"]
	row, err := strconv.Atoi(fields["row"])
	if file == "" || err != nil {
		return Diagnostic{}, false
	}
	column, _ := strconv.Atoi(fields["column"])
	kind := strings.TrimSpace(fields["type"])
	text := fields["text"]
	if text == "" {
		text = capitalize(kind)
	}
	return Diagnostic{File: file, Row: row, Column: column, Type: normalizeType(kind), Text: text}, true
}

func normalizeType(kind string) string {
	lower := strings.ToLower(kind)
	switch {
	case strings.Contains(lower, "error"):
		return "error"
	case strings.Contains(lower, "warning"):
		return "warning"
	case strings.HasPrefix(lower, "e"):
		return "error"
	case strings.HasPrefix(lower, "w"):
		return "warning"
	default:
		return "info"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

var (
	gccPattern   = regexp.MustCompile(`^(.+):(\d+):(\d+): (?:fatal )?(error|warning|note): (.*)$`)
	javacPattern = regexp.MustCompile(`^(.+):(\d+): (error|warning): (.+)\n.*\n( +)\^$`)
)

// NewGCCParser parses gcc diagnostics.
func NewGCCParser() DiagnosticParser {
	return NewRegexParser(gccPattern, []string{"file", "row", "column", "type", "text"}, 1, nil)
}

// NewJavacParser parses javac diagnostics, which span three lines with a caret marker.
func NewJavacParser() DiagnosticParser {
	return NewRegexParser(javacPattern, []string{"file", "row", "type", "text", "column"}, 3, func(fields map[string]string) (Diagnostic, bool) {
		caret := len(fields["column"]) + 1
		fields["column"] = strconv.Itoa(caret)
		return defaultDiagnostic(fields)
	})
}

// RuntimeError describes the last error raised by a program on stderr.
type RuntimeError struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    *int   `json:"column,omitempty"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorHint string `json:"errorHint"`
	Raw       string `json:"raw"`
}

// Data returns the error as an event payload.
func (e RuntimeError) Data() map[string]any {
	data := map[string]any{
		"file":      e.File,
		"line":      e.Line,
		"error":     e.Error,
		"message":   e.Message,
		"errorHint": e.ErrorHint,
		"raw":       e.Raw,
	}
	if e.Column != nil {
		data["column"] = *e.Column
	}
	return data
}

// ErrorParser inspects runtime stderr for an uncaught error.
type ErrorParser interface {
	Feed(line string)
	HasError() bool
	Result() RuntimeError
}

var (
	pythonFilePattern  = regexp.MustCompile(`^\s*File\s"(.+)",\sline\s(.*)$`)
	pythonErrorPattern = regexp.MustCompile(`^\s*(.+(?:Error|Exception|Interrupt|Exit)):\s(.*)$`)
)

// PythonErrorParser extracts the innermost frame and exception of a traceback.
type PythonErrorParser struct {
	file    string
	line    int
	err     string
	message string
	raw     []string
	hints   []string
}

// NewPythonErrorParser returns an empty traceback parser.
func NewPythonErrorParser() ErrorParser {
	return &PythonErrorParser{line: -1}
}

// Feed consumes one stderr line.
func (p *PythonErrorParser) Feed(line string) {
	p.raw = append(p.raw, line)
	matchedFile := false
	if m := pythonFilePattern.FindStringSubmatch(line); m != nil {
		p.file = m[1]
		lineText := m[2]
		if idx := strings.IndexByte(lineText, ','); idx >= 0 {
			lineText = lineText[:idx]
		}
		if n, err := strconv.Atoi(strings.TrimSpace(lineText)); err == nil {
			p.line = n
		}
		matchedFile = true
	}
	if m := pythonErrorPattern.FindStringSubmatch(line); m != nil {
		p.err = m[1]
		p.message = m[2]
	}
	if !matchedFile && p.file != "" && p.err == "" {
		p.hints = append(p.hints, line)
	}
}

// HasError reports whether both a frame and an exception were seen.
func (p *PythonErrorParser) HasError() bool {
	return p.file != "" && p.err != ""
}

// Result returns the parsed error.
func (p *PythonErrorParser) Result() RuntimeError {
	return RuntimeError{
		File:      p.file,
		Line:      p.line,
		Error:     p.err,
		Message:   p.message,
		ErrorHint: strings.Join(p.hints, "\n"),
		Raw:       strings.Join(p.raw, "\n"),
	}
}
