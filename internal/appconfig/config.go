package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/webbox/internal/languages"
	"pkt.systems/webbox/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int                           `mapstructure:"config_version" yaml:"config_version" validate:"required"`
	StateDir      string                        `mapstructure:"state_dir" yaml:"state_dir" validate:"required"`
	Sandbox       SandboxConfig                 `mapstructure:"sandbox" yaml:"sandbox"`
	Project       ProjectConfig                 `mapstructure:"project" yaml:"project"`
	Store         StoreConfig                   `mapstructure:"store" yaml:"store"`
	Languages     map[string]languages.Override `mapstructure:"languages" yaml:"languages,omitempty"`
	Logging       LoggingConfig                 `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// SandboxConfig configures the execution sandbox server and its clients.
type SandboxConfig struct {
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path" validate:"required"`
	WorkRoot   string `mapstructure:"work_root" yaml:"work_root" validate:"required"`
	// KeepaliveInterval of zero keeps the server up without client pings.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval" validate:"gte=0"`
	KeepaliveMisses   int           `mapstructure:"keepalive_misses" yaml:"keepalive_misses" validate:"gte=0"`
	StopGrace         time.Duration `mapstructure:"stop_grace" yaml:"stop_grace" validate:"gte=0"`
	CommandNice       int           `mapstructure:"command_nice" yaml:"command_nice" validate:"gte=-20,lte=19"`
}

// ProjectConfig controls project behavior.
type ProjectConfig struct {
	SaveThrottle     time.Duration `mapstructure:"save_throttle" yaml:"save_throttle" validate:"gte=0"`
	StatusTimeout    time.Duration `mapstructure:"status_timeout" yaml:"status_timeout" validate:"gte=0"`
	TerminalMaxLines int           `mapstructure:"terminal_max_lines" yaml:"terminal_max_lines" validate:"gte=0"`
	// BaseURL prefixes shareable links, e.g. https://example.com.
	BaseURL string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
}

// StoreConfig controls the embed store.
type StoreConfig struct {
	Seal         bool   `mapstructure:"seal" yaml:"seal"`
	KeyStorePath string `mapstructure:"key_store_path" yaml:"key_store_path" validate:"required_if=Seal true"`
}

// LoggingConfig controls the default log level when no env override is set.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	base := filepath.Join(home, ".webbox")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(base, "state"),
		Sandbox: SandboxConfig{
			SocketPath:        filepath.Join(base, "state", "sandbox.sock"),
			WorkRoot:          filepath.Join(base, "work"),
			KeepaliveInterval: 0,
			KeepaliveMisses:   3,
			StopGrace:         schema.DefaultStopGrace,
			CommandNice:       0,
		},
		Project: ProjectConfig{
			SaveThrottle:     schema.DefaultSaveThrottle,
			StatusTimeout:    schema.DefaultStatusTimeout,
			TerminalMaxLines: schema.DefaultTerminalMaxLines,
		},
		Store: StoreConfig{
			Seal:         false,
			KeyStorePath: filepath.Join(base, "state", "keys", "store.pb"),
		},
		Languages: map[string]languages.Override{},
		Logging: LoggingConfig{
			Level: "info",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".webbox", "config.yaml"), nil
}

// ProjectDefaults converts the project and sandbox settings into the
// normalized core project configuration.
func (c Config) ProjectDefaults() (schema.ProjectConfig, error) {
	return schema.NormalizeProjectConfig(schema.ProjectConfig{
		SaveThrottle:     c.Project.SaveThrottle,
		StopGrace:        c.Sandbox.StopGrace,
		StatusTimeout:    c.Project.StatusTimeout,
		TerminalMaxLines: c.Project.TerminalMaxLines,
	})
}

// LanguageRegistry returns the built-in languages with the configured
// overrides applied.
func (c Config) LanguageRegistry() (*languages.Registry, error) {
	reg := languages.Default()
	if err := reg.ApplyAll(c.Languages); err != nil {
		return nil, err
	}
	return reg, nil
}

// MarshalYAML writes durations in their string form.
func (c SandboxConfig) MarshalYAML() (any, error) {
	return struct {
		SocketPath        string `yaml:"socket_path"`
		WorkRoot          string `yaml:"work_root"`
		KeepaliveInterval string `yaml:"keepalive_interval"`
		KeepaliveMisses   int    `yaml:"keepalive_misses"`
		StopGrace         string `yaml:"stop_grace"`
		CommandNice       int    `yaml:"command_nice"`
	}{
		SocketPath:        c.SocketPath,
		WorkRoot:          c.WorkRoot,
		KeepaliveInterval: c.KeepaliveInterval.String(),
		KeepaliveMisses:   c.KeepaliveMisses,
		StopGrace:         c.StopGrace.String(),
		CommandNice:       c.CommandNice,
	}, nil
}

// MarshalYAML writes durations in their string form.
func (c ProjectConfig) MarshalYAML() (any, error) {
	return struct {
		SaveThrottle     string `yaml:"save_throttle"`
		StatusTimeout    string `yaml:"status_timeout"`
		TerminalMaxLines int    `yaml:"terminal_max_lines"`
		BaseURL          string `yaml:"base_url"`
	}{
		SaveThrottle:     c.SaveThrottle.String(),
		StatusTimeout:    c.StatusTimeout.String(),
		TerminalMaxLines: c.TerminalMaxLines,
		BaseURL:          c.BaseURL,
	}, nil
}
