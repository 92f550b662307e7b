// Package config loads the supervisor description used by the procbox
// command from a YAML, TOML or JSON file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/axondata/go-procbox"
)

// EnvPrefix prefixes environment overrides, e.g. PROCBOX_STATE_DIR
const EnvPrefix = "PROCBOX"

// Config describes a supervisor and its services
type Config struct {
	Name         string          `mapstructure:"name"`
	StateDir     string          `mapstructure:"state_dir"`
	Concurrency  int             `mapstructure:"concurrency"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	DrainTimeout time.Duration   `mapstructure:"drain_timeout"`
	Log          Log             `mapstructure:"log"`
	Services     []ServiceConfig `mapstructure:"services"`
}

// Log selects the command's log output
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServiceConfig describes one service. Services naming the same pool
// share it; services without a pool go to the supervisor's default pool.
type ServiceConfig struct {
	Name        string            `mapstructure:"name"`
	Description string            `mapstructure:"description"`
	Pool        string            `mapstructure:"pool"`
	Exec        string            `mapstructure:"exec"`
	Args        []string          `mapstructure:"args"`
	Env         map[string]string `mapstructure:"env"`
	Cwd         string            `mapstructure:"cwd"`
	Stdio       []string          `mapstructure:"stdio"`
	TTY         bool              `mapstructure:"tty"`
	StopTimeout time.Duration     `mapstructure:"stop_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "")
	v.SetDefault("state_dir", "")
	v.SetDefault("concurrency", 0)
	v.SetDefault("timeout", time.Duration(0))
	v.SetDefault("drain_timeout", procbox.DefaultDrainTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads path, applies defaults and PROCBOX_ environment overrides,
// and validates the result
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks service names and commands
func (c Config) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Services))
	for i, svc := range c.Services {
		switch {
		case svc.Name == "":
			errs = append(errs, fmt.Errorf("%w: services[%d]: name is required", procbox.ErrConfig, i))
		case seen[svc.Name]:
			errs = append(errs, fmt.Errorf("%w: services[%d]: duplicate name %q", procbox.ErrConfig, i, svc.Name))
		}
		seen[svc.Name] = true
		if svc.Exec == "" {
			errs = append(errs, fmt.Errorf("%w: services[%d]: exec is required", procbox.ErrConfig, i))
		}
		if _, err := svc.config(); err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("%w: concurrency must not be negative", procbox.ErrConfig))
	}
	return errors.Join(errs...)
}

func (s ServiceConfig) config() (procbox.Config, error) {
	modes := make([]procbox.StdioMode, 0, len(s.Stdio))
	for _, name := range s.Stdio {
		mode, err := procbox.ParseStdioMode(name)
		if err != nil {
			return procbox.Config{}, err
		}
		modes = append(modes, mode)
	}

	// viper lower-cases map keys; environment names are upper case
	var env map[string]string
	if len(s.Env) > 0 {
		env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			env[strings.ToUpper(k)] = v
		}
	}

	cfg := procbox.Config{
		Stdio:       modes,
		Env:         env,
		Cwd:         s.Cwd,
		TTY:         s.TTY,
		StopTimeout: s.StopTimeout,
	}
	return cfg, cfg.Validate()
}

// Spec converts the service description. The pool is resolved by the
// caller.
func (s ServiceConfig) Spec() (procbox.Spec, error) {
	cfg, err := s.config()
	if err != nil {
		return procbox.Spec{}, err
	}
	return procbox.Spec{
		Name:        s.Name,
		Description: s.Description,
		Exec:        s.Exec,
		Args:        s.Args,
		Config:      cfg,
	}, nil
}

// PoolOptions returns the pool options the config asks for
func (c Config) PoolOptions() []procbox.PoolOption {
	opts := []procbox.PoolOption{
		procbox.WithConcurrency(c.Concurrency),
		procbox.WithTimeout(c.Timeout),
	}
	if c.StateDir != "" {
		opts = append(opts, procbox.WithProcessOptions(procbox.WithStateDir(c.StateDir)))
	}
	return opts
}

// Build creates a supervisor with every configured service
func (c Config) Build(opts ...procbox.SupervisorOption) (*procbox.Supervisor, error) {
	opts = append([]procbox.SupervisorOption{procbox.WithSupervisorPoolOptions(c.PoolOptions()...)}, opts...)
	sup := procbox.NewSupervisor(c.Name, opts...)

	pools := make(map[string]*procbox.ServicePool)
	for _, svc := range c.Services {
		spec, err := svc.Spec()
		if err != nil {
			return nil, err
		}
		if svc.Pool != "" {
			pool, ok := pools[svc.Pool]
			if !ok {
				if pool, err = sup.Pool(svc.Pool); err != nil {
					return nil, err
				}
				pools[svc.Pool] = pool
			}
			spec.Pool = pool
		}
		if _, err := sup.Service(svc.Name, spec); err != nil {
			return nil, err
		}
	}
	return sup, nil
}
