package sandboxgrpc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"pkt.systems/pslog"
	"pkt.systems/webbox/core"
	"pkt.systems/webbox/schema"
)

type runProcess interface {
	Signal(sig core.ProcessSignal) error
}

type cmdProcess struct {
	cmd  *exec.Cmd
	pgid int
}

func (p cmdProcess) Signal(sig core.ProcessSignal) error {
	if p.cmd == nil || p.cmd.Process == nil {
		return errors.New("process not started")
	}
	pid := p.cmd.Process.Pid
	if pid <= 0 {
		return errors.New("invalid process id")
	}
	signal, err := unixSignal(sig)
	if err != nil {
		return err
	}
	if p.pgid > 0 {
		if err := unix.Kill(-p.pgid, signal); err == nil {
			killProcessTree(pid, signal)
			return nil
		}
	}
	if err := unix.Kill(-pid, signal); err == nil {
		killProcessTree(pid, signal)
		return nil
	}
	if err := p.cmd.Process.Signal(signal); err != nil {
		return err
	}
	killProcessTree(pid, signal)
	return nil
}

func unixSignal(sig core.ProcessSignal) (syscall.Signal, error) {
	switch sig {
	case core.ProcessSignalHUP:
		return unix.SIGHUP, nil
	case core.ProcessSignalTERM:
		return unix.SIGTERM, nil
	case core.ProcessSignalKILL:
		return unix.SIGKILL, nil
	default:
		return 0, fmt.Errorf("unsupported signal: %s", sig)
	}
}

// exitStatus reports the exit code and the terminating signal name, e.g.
// "TERM", of a finished command.
func exitStatus(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -1, strings.TrimPrefix(unix.SignalName(ws.Signal()), "SIG")
	}
	return state.ExitCode(), ""
}

func killProcessTree(root int, sig syscall.Signal) {
	if root <= 0 {
		return
	}
	children, err := listProcessChildren(root)
	if err != nil {
		return
	}
	for _, pid := range children {
		_ = unix.Kill(pid, sig)
	}
}

func listProcessChildren(root int) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}
	parents := make(map[int][]int)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}
		ppid, err := readPPid(pid)
		if err != nil {
			continue
		}
		parents[ppid] = append(parents[ppid], pid)
	}
	var out []int
	queue := []int{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range parents[cur] {
			out = append(out, child)
			queue = append(queue, child)
		}
	}
	return out, nil
}

func readPPid(pid int) (int, error) {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "status"))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "PPid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, errors.New("ppid missing")
		}
		return strconv.Atoi(fields[1])
	}
	return 0, errors.New("ppid not found")
}

func applyNice(log pslog.Logger, pid int, nice int) {
	if nice == 0 || pid <= 0 {
		return
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		log.Warn("sandbox nice set failed", "pid", pid, "nice", nice, "err", err)
		return
	}
	log.Debug("sandbox nice set", "pid", pid, "nice", nice)
}

// resolve maps a sandbox path onto the work root. Absolute paths are
// treated as relative to the root.
func resolve(root, name string) (string, error) {
	if root == "" {
		return "", errors.New("sandbox work root is not configured")
	}
	full := filepath.Join(root, filepath.Clean("/"+name))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", schema.ErrPathOutsideRoot, name)
	}
	return full, nil
}

// commandEnv builds the child environment: the server's own environment
// minus overridden keys, then the sandbox entries. Later entries win.
func commandEnv(base []string, home string, term bool, extra []string) []string {
	env := []string{"HOME=" + home}
	if term {
		env = append(env, "TERM=xterm")
	}
	env = append(env, extra...)
	keys := make(map[string]bool, len(env))
	for _, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		keys[key] = true
	}
	out := make([]string, 0, len(base)+len(env))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if !keys[key] {
			out = append(out, entry)
		}
	}
	return append(out, env...)
}

// crlfWriter turns lone "\n" into "\r\n" the way a terminal line
// discipline does.
type crlfWriter struct {
	prev byte
}

func (w *crlfWriter) convert(p []byte) []byte {
	out := make([]byte, 0, len(p)+8)
	for _, b := range p {
		if b == '\n' && w.prev != '\r' {
			out = append(out, '\r')
		}
		out = append(out, b)
		w.prev = b
	}
	return out
}
