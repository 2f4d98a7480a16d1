package appconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

func TestDefaultConfigDisablesKeepalive(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.Sandbox.KeepaliveInterval)
	assert.False(t, cfg.Store.Seal)
	assert.Equal(t, CurrentConfigVersion, cfg.ConfigVersion)
}

func TestProjectDefaultsNormalizes(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.Project.SaveThrottle = 0
	cfg.Sandbox.StopGrace = 5 * time.Second

	project, err := cfg.ProjectDefaults()
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultSaveThrottle, project.SaveThrottle)
	assert.Equal(t, 5*time.Second, project.StopGrace)
	assert.Equal(t, schema.DefaultUnnamedPrefix, project.UnnamedPrefix)
}

func TestLanguageRegistryAppliesOverrides(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.Languages = map[string]languages.Override{
		"ruby": {DisplayName: "Ruby", Extension: ".rb", ExecArgv: "ruby $MAINFILE"},
	}

	reg, err := cfg.LanguageRegistry()
	require.NoError(t, err)
	ruby, err := reg.Lookup("ruby")
	require.NoError(t, err)
	assert.Equal(t, "Ruby", ruby.DisplayName)
	assert.Equal(t, "rb", ruby.Extension)
}

func TestConfigKey(t *testing.T) {
	assert.Equal(t, "sandbox.work_root", configKey("Config.Sandbox.WorkRoot"))
	assert.Equal(t, "project.base_url", configKey("Config.Project.BaseURL"))
	assert.Equal(t, "store.key_store_path", configKey("Config.Store.KeyStorePath"))
}
