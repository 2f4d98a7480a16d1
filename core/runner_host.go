package core

import (
	"context"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"pkt.systems/webbox/internal/format"
	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// runnerHost is the project surface a runner works against.
type runnerHost interface {
	GetFiles() []*File
	GetFileForName(name string) *File
	GetMainFile() string
	ProjectName() string
	LanguageConfig() languages.Config
	LanguageName() string
	TestCode() *TestCode
	SendEvent(ctx context.Context, event schema.EventLog)
	ShowMessage(severity schema.Severity, text string, actions ...MessageAction) func()
	AddFile(name, text, mode string, active bool) *File
	DeleteFile(ctx context.Context, name string)
	showTestResult(result schema.TestResult)
	runnerStateChanged(r Runner, state schema.RunState)
}

// fileSnapshot is a file value copied at launch.
type fileSnapshot struct {
	name  string
	value string
	file  *File
}

func snapshotFiles(files []*File) []fileSnapshot {
	out := make([]fileSnapshot, 0, len(files))
	for _, f := range files {
		out = append(out, fileSnapshot{name: f.Name(), value: f.Value(), file: f})
	}
	return out
}

func fileNames(files []fileSnapshot) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names
}

// fileDirs returns the unique parent directories of files under root.
func fileDirs(root string, files []fileSnapshot) []string {
	var dirs []string
	for _, f := range files {
		dir := path.Dir(path.Join(root, f.name))
		if dir == "." {
			continue
		}
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	return slices.Compact(dirs)
}

// annotationMap collects annotations per normalized file name.
type annotationMap map[string][]Annotation

func (m annotationMap) add(file string, a Annotation) {
	name := normalizeFileRef(file)
	m[name] = append(m[name], a)
}

// apply replaces the annotations of every file, clearing files without any.
func (m annotationMap) apply(files []fileSnapshot) {
	for _, f := range files {
		f.file.SetAnnotations(m[f.name])
	}
}

func normalizeFileRef(name string) string {
	return strings.TrimPrefix(name, "./")
}

// reportRuntimeError sends an error event with the current file content and
// annotates the failing line.
func reportRuntimeError(ctx context.Context, host runnerHost, errObj languages.RuntimeError, annotations annotationMap) {
	name := normalizeFileRef(errObj.File)
	content := ""
	if f := host.GetFileForName(name); f != nil {
		content = f.Value()
	}
	data := errObj.Data()
	data["fileContent"] = content
	host.SendEvent(ctx, schema.NewEventLog(schema.EventLogError, data))
	column := 0
	if errObj.Column != nil {
		column = *errObj.Column
	}
	annotations.add(name, Annotation{Row: errObj.Line - 1, Column: column, Text: errObj.Message, Type: "error"})
}

// writeStatus writes a blue status line to the terminal.
func writeStatus(term *Terminal, msg string, dashes bool) {
	if dashes {
		term.WriteString(format.StatusLine(msg))
		return
	}
	term.WriteString(format.StatusLineBare(msg))
}

// stdinRelay forwards terminal input to the attached process and drops it
// when nothing is attached.
type stdinRelay struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *stdinRelay) attach(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *stdinRelay) Write(p []byte) (int, error) {
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	if w == nil {
		return len(p), nil
	}
	return w.Write(p)
}
