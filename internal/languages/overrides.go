package languages

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Override customizes or adds a language from configuration.
// The *_argv fields are shell-quoted argv strings; the plain fields are
// shell scripts run through bash -c.
type Override struct {
	Base        string            `mapstructure:"base" yaml:"base,omitempty"`
	DisplayName string            `mapstructure:"display_name" yaml:"display_name,omitempty"`
	Extension   string            `mapstructure:"extension" yaml:"extension,omitempty"`
	Compile     string            `mapstructure:"compile" yaml:"compile,omitempty"`
	CompileArgv string            `mapstructure:"compile_argv" yaml:"compile_argv,omitempty"`
	Exec        string            `mapstructure:"exec" yaml:"exec,omitempty"`
	ExecArgv    string            `mapstructure:"exec_argv" yaml:"exec_argv,omitempty"`
	Test        string            `mapstructure:"test" yaml:"test,omitempty"`
	TestArgv    string            `mapstructure:"test_argv" yaml:"test_argv,omitempty"`
	Env         map[string]string `mapstructure:"env" yaml:"env,omitempty"`
}

// Apply merges an override into the registry. The language named by Base,
// or the existing entry for name, is used as the starting point.
func (r *Registry) Apply(name string, o Override) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("language override without name")
	}
	cfg, err := r.Lookup(name)
	if o.Base != "" {
		cfg, err = r.Lookup(o.Base)
		if err != nil {
			return fmt.Errorf("language %s: %w", name, err)
		}
	} else if err != nil {
		cfg = Config{}
	}
	cfg.Name = name
	if o.DisplayName != "" {
		cfg.DisplayName = o.DisplayName
	}
	if o.Extension != "" {
		cfg.Extension = strings.TrimPrefix(o.Extension, ".")
	}
	if cfg.Compile, err = overrideCommand(cfg.Compile, o.Compile, o.CompileArgv); err != nil {
		return fmt.Errorf("language %s compile: %w", name, err)
	}
	if cfg.Exec, err = overrideCommand(cfg.Exec, o.Exec, o.ExecArgv); err != nil {
		return fmt.Errorf("language %s exec: %w", name, err)
	}
	if cfg.Test, err = overrideCommand(cfg.Test, o.Test, o.TestArgv); err != nil {
		return fmt.Errorf("language %s test: %w", name, err)
	}
	if len(o.Env) > 0 {
		env := make(map[string]string, len(cfg.Env)+len(o.Env))
		for k, v := range cfg.Env {
			env[k] = v
		}
		// config keys arrive lowercased
		for k, v := range o.Env {
			env[strings.ToUpper(k)] = v
		}
		cfg.Env = env
	}
	if cfg.Exec.IsZero() {
		return fmt.Errorf("language %s has no exec command", name)
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = name
	}
	r.Register(cfg)
	return nil
}

// ApplyAll merges overrides in name order so errors are deterministic.
func (r *Registry) ApplyAll(overrides map[string]Override) error {
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Apply(name, overrides[name]); err != nil {
			return err
		}
	}
	return nil
}

func overrideCommand(current Command, shell, argv string) (Command, error) {
	if shell != "" && argv != "" {
		return Command{}, fmt.Errorf("set either the script or the argv form")
	}
	if shell != "" {
		return ShellCommand(shell), nil
	}
	if argv != "" {
		return SplitCommand(argv)
	}
	return current, nil
}

// LoadFile reads a YAML file with a top-level languages map.
func LoadFile(path string) (map[string]Override, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	overrides := map[string]Override{}
	if err := v.UnmarshalKey("languages", &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
