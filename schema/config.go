package schema

import (
	"errors"
	"time"
)

// ProjectConfig defines defaults and limits for projects.
type ProjectConfig struct {
	SaveThrottle     time.Duration
	StopGrace        time.Duration
	StatusTimeout    time.Duration
	TerminalMaxLines int
	// UnnamedPrefix is the base name of files created without a name.
	UnnamedPrefix string
}

const (
	// DefaultSaveThrottle is the minimum interval between saves.
	DefaultSaveThrottle = 800 * time.Millisecond
	// DefaultStopGrace is the wait between TERM and KILL.
	DefaultStopGrace = 2 * time.Second
	// DefaultStatusTimeout clears transient status messages.
	DefaultStatusTimeout = 3 * time.Second
	// DefaultTerminalMaxLines is the per-process scrollback limit.
	DefaultTerminalMaxLines = 5000
	// DefaultUnnamedPrefix names files created without a name.
	DefaultUnnamedPrefix = "Unbenannt"
)

// NormalizeProjectConfig applies defaults and validates the config.
func NormalizeProjectConfig(cfg ProjectConfig) (ProjectConfig, error) {
	if cfg.SaveThrottle < 0 || cfg.StopGrace < 0 || cfg.StatusTimeout < 0 {
		return ProjectConfig{}, errors.New("project durations must not be negative")
	}
	if cfg.SaveThrottle == 0 {
		cfg.SaveThrottle = DefaultSaveThrottle
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.TerminalMaxLines <= 0 {
		cfg.TerminalMaxLines = DefaultTerminalMaxLines
	}
	if cfg.UnnamedPrefix == "" {
		cfg.UnnamedPrefix = DefaultUnnamedPrefix
	}
	return cfg, nil
}
