package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/internal/languages"
)

// hostInterpreter stands in for the in-browser interpreter of inline embeds:
// it copies the project files into a scratch directory and runs the
// language's exec command on the host.
type hostInterpreter struct {
	languages *languages.Registry
	files     []string
}

var tracebackLine = regexp.MustCompile(`File "([^"]+)", line (\d+)`)

func (h hostInterpreter) Run(ctx context.Context, req core.InterpretRequest) error {
	log := pslog.Ctx(ctx)
	lang, err := h.languages.Lookup(req.Language)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "webbox-inline-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	names := h.files
	if len(names) == 0 {
		names = []string{req.MainFile}
	}
	for _, name := range names {
		content, err := req.Files.ReadFile(name, "r")
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if name == req.MainFile {
			content = req.Source
		}
		path := filepath.Join(dir, filepath.Clean("/"+name))
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
	}

	argv := lang.Exec.Expand(names, req.MainFile, "")
	if len(argv) == 0 {
		return errors.New("no exec command")
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), lang.EnvList()...)
	cmd.Stdin = req.Stdin
	cmd.Stdout = req.Stdout
	cmd.Stderr = io.MultiWriter(&stderr, req.Stdout)
	log.Debug("inline interpreter start", "argv", argv, "dir", dir)
	err = cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return err
	}
	return interpreterError(stderr.String(), req.MainFile)
}

// interpreterError turns the last traceback of stderr into a positioned
// error.
func interpreterError(stderr, mainFile string) error {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	out := &core.InterpreterError{File: mainFile, Traceback: stderr}
	if len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if name, msg, ok := strings.Cut(last, ": "); ok && !strings.Contains(name, " ") {
			out.Name, out.Message = name, msg
		} else {
			out.Message = last
		}
	}
	for _, line := range lines {
		if m := tracebackLine.FindStringSubmatch(line); m != nil {
			out.File = filepath.Base(m[1])
			out.Line, _ = strconv.Atoi(m[2])
		}
	}
	return out
}
