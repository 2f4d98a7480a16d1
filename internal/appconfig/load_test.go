package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	def, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, def.Sandbox.SocketPath, cfg.Sandbox.SocketPath)
	assert.Equal(t, def.Project.SaveThrottle, cfg.Project.SaveThrottle)
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 9
state_dir: /state
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config_version")
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
state_dir: /state
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_version is required")
}

func TestLoadDecodesDurations(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
state_dir: /state
sandbox:
  socket_path: /state/sandbox.sock
  work_root: /work
  keepalive_interval: 15s
  stop_grace: 500ms
project:
  save_throttle: 2s
  terminal_max_lines: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Sandbox.KeepaliveInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Sandbox.StopGrace)
	assert.Equal(t, 2*time.Second, cfg.Project.SaveThrottle)
	assert.Equal(t, 100, cfg.Project.TerminalMaxLines)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"sandbox.work_root": `
config_version: 1
sandbox:
  work_root: ""
`,
		"project.base_url": `
config_version: 1
project:
  base_url: example.com
`,
		"store.key_store_path": `
config_version: 1
store:
  seal: true
  key_store_path: ""
`,
		"logging.level": `
config_version: 1
logging:
  level: loud
`,
	}
	for key, content := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadLanguageOverrides(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
languages:
  python3:
    exec: python3 -u $MAINFILE
  broken:
    exec: run
    exec_argv: run
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "languages")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	assert.True(t, strings.HasPrefix(value, "bar/"), "expected env expansion, got %q", value)
	assert.NotContains(t, value, "$UID")
	assert.NotContains(t, value, "$GID")
	assert.True(t, strings.HasSuffix(value, "/$MISSING"), "expected missing vars to remain, got %q", value)
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	written, err := WriteDefault(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, written)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = WriteDefault(path, false)
	require.Error(t, err)
	_, err = WriteDefault(path, true)
	require.NoError(t, err)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := WriteDefault(path, false)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "save_throttle: 800ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	def, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, def.Project.SaveThrottle, cfg.Project.SaveThrottle)
	assert.Equal(t, def.Sandbox.StopGrace, cfg.Sandbox.StopGrace)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600))
	return path
}
