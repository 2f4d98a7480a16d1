package languages

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"pkt.systems/webbox/schema"
)

// Config describes how a language is compiled, executed and tested.
type Config struct {
	Name        string
	DisplayName string
	Extension   string
	Template    string
	Compile     Command
	Exec        Command
	Test        Command
	Env         map[string]string
	// Streams is the number of extra result streams the sandbox should open.
	Streams     int
	Parser      func() DiagnosticParser
	ErrorParser func() ErrorParser
}

// HasCompile reports whether a compile step is configured.
func (c Config) HasCompile() bool { return !c.Compile.IsZero() }

// HasTest reports whether a test step is configured.
func (c Config) HasTest() bool { return !c.Test.IsZero() }

// EnvList renders the environment as KEY=VALUE pairs in stable order.
func (c Config) EnvList() []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+c.Env[k])
	}
	return out
}

const (
	sourceboxLib = "/usr/local/lib/sourcebox/"
	defaultMain  = "./main.py"
)

func pythonEnv() map[string]string {
	return map[string]string{
		"PYTHONPATH":   sourceboxLib,
		"MPLBACKEND":   "module://backend_sb",
		"MPLCONFIGDIR": sourceboxLib + "mplconfig",
	}
}

func cLanguage(name string) Config {
	return Config{
		Name:        name,
		DisplayName: "C",
		Extension:   "c",
		Template:    "#include <stdio.h>\n#include <stdlib.h>\n\nint main(void) {\nprintf(\"Hi\");\nreturn 0;\n}",
		Compile: Command{Build: func(files []string, _ string, _ string) []string {
			args := []string{"gcc", "-lm", "-Wall"}
			for _, f := range files {
				if strings.HasSuffix(f, ".c") {
					args = append(args, f)
				}
			}
			return args
		}},
		Exec:   ArgsCommand("./a.out"),
		Parser: NewGCCParser,
	}
}

func javaLanguage(name string) Config {
	return Config{
		Name:        name,
		DisplayName: "Java",
		Extension:   "java",
		Compile:     ShellCommand("javac -Xlint $FILES"),
		Exec: Command{Build: func(_ []string, mainFile string, _ string) []string {
			className := strings.ReplaceAll(strings.TrimSuffix(mainFile, ".java"), "/", ".")
			return []string{"java", className}
		}},
		Parser: NewJavacParser,
	}
}

func python3Language() Config {
	return Config{
		Name:        "python3",
		DisplayName: "Python 3",
		Extension:   "py",
		Template:    `print("Hi")`,
		Exec: Command{Build: func(_ []string, mainFile string, _ string) []string {
			if mainFile == "" {
				mainFile = defaultMain
			}
			return []string{"python3", mainFile}
		}},
		Test: Command{Build: func(_ []string, _ string, projectName string) []string {
			return []string{"python3", sourceboxLib + "tester.py", "/home/user/" + projectName}
		}},
		Env:         pythonEnv(),
		Streams:     3,
		ErrorParser: NewPythonErrorParser,
	}
}

func python2Language() Config {
	return Config{
		Name:        "python2",
		DisplayName: "Python 2",
		Extension:   "py",
		Template:    `print "Hi"`,
		Exec: Command{Build: func(_ []string, mainFile string, _ string) []string {
			if mainFile == "" {
				mainFile = defaultMain
			}
			return []string{"python", mainFile}
		}},
		Env:         pythonEnv(),
		Streams:     3,
		ErrorParser: NewPythonErrorParser,
	}
}

// Registry resolves language names to configurations.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// Default returns a registry with the built-in languages.
func Default() *Registry {
	r := &Registry{configs: make(map[string]Config)}
	for _, name := range []string{"c", "c13"} {
		r.configs[name] = cLanguage(name)
	}
	for _, name := range []string{"java", "java7", "java8"} {
		r.configs[name] = javaLanguage(name)
	}
	r.configs["python3"] = python3Language()
	r.configs["python2"] = python2Language()
	return r
}

// Lookup returns the configuration for a language.
func (r *Registry) Lookup(name string) (Config, error) {
	if r == nil {
		return Config{}, fmt.Errorf("%w: %s", schema.ErrUnknownLanguage, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", schema.ErrUnknownLanguage, name)
	}
	return cfg, nil
}

// Register adds or replaces a language.
func (r *Registry) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[strings.ToLower(cfg.Name)] = cfg
}

// Names lists registered languages in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var extensions = map[string]string{
	"python":  "py",
	"python2": "py",
	"python3": "py",
	"c#":      "cs",
	"cs":      "cs",
	"cpp":     "cpp",
	"c":       "c",
	"c13":     "c",
	"java":    "java",
	"java7":   "java",
	"java8":   "java",
	"ruby":    "rb",
}

// ExtensionFor returns the file extension used for a language.
func ExtensionFor(language string) string {
	return extensions[strings.ToLower(language)]
}

// TestFileName returns the name of the test file for a language.
func TestFileName(language string) string {
	ext := ExtensionFor(language)
	if ext == "" {
		return schema.TestsAssetType
	}
	return schema.TestsAssetType + "." + ext
}

var modes = map[string]string{
	"py":   "python",
	"c":    "c",
	"h":    "c",
	"cpp":  "cpp",
	"cs":   "csharp",
	"java": "java",
	"rb":   "ruby",
	"js":   "javascript",
	"json": "json",
	"md":   "markdown",
	"html": "html",
	"css":  "css",
	"sh":   "shell",
	"xml":  "xml",
	"txt":  "plaintext",
}

// ModeForFile returns the editor language mode for a file name.
func ModeForFile(name string) string {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if mode, ok := modes[strings.ToLower(ext)]; ok {
		return mode
	}
	return "plaintext"
}
