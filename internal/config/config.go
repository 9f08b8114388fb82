// Package config loads the daemon configuration from a TOML file and
// MINIONS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fordtom/minions/internal/history/factory"
	"github.com/fordtom/minions/internal/logger"
	"github.com/fordtom/minions/internal/metrics"
	"github.com/fordtom/minions/internal/process"
	mtls "github.com/fordtom/minions/internal/tls"
)

const EnvPrefix = "MINIONS"

type Config struct {
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Store      StoreConfig      `toml:"store" mapstructure:"store"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    factory.Config   `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// LockFile defaults to "<sqlite path>.lock"; empty for non-file stores means no lock.
	LockFile string      `toml:"lock_file" mapstructure:"lock_file"`
	TLS      mtls.Config `toml:"tls" mapstructure:"tls"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type SupervisorConfig struct {
	RunCommand  []string      `toml:"run_command" mapstructure:"run_command"`
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	KillTimeout time.Duration `toml:"kill_timeout" mapstructure:"kill_timeout"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on a separate address; empty mounts it on the API router.
	Listen    string                 `toml:"listen" mapstructure:"listen"`
	Resources metrics.ResourceConfig `toml:"resources" mapstructure:"resources"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:3000")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.lock_file", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("store.dsn", "minions.db")
	v.SetDefault("supervisor.run_command", process.DefaultRunCommand)
	v.SetDefault("supervisor.grace_period", process.DefaultGracePeriod)
	v.SetDefault("supervisor.kill_timeout", process.DefaultKillTimeout)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.resources.enabled", false)
	v.SetDefault("metrics.resources.interval", 5*time.Second)
	v.SetDefault("metrics.resources.max_history", 60)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.extra", []string{})
}

// Default returns the configuration used when no file is given, with
// environment overrides applied.
func Default() (*Config, error) { return Load("") }

// Load reads path (TOML) when non-empty, then applies MINIONS_* overrides,
// e.g. MINIONS_STORE_DSN or MINIONS_SUPERVISOR_GRACE_PERIOD=10s. A bare PORT
// variable sets the listen port when MINIONS_SERVER_LISTEN is not set.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_LISTEN") == "" {
		c.Server.Listen = ":" + port
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen must not be empty"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn must not be empty"))
	}
	if len(c.Supervisor.RunCommand) == 0 || c.Supervisor.RunCommand[0] == "" {
		errs = append(errs, errors.New("supervisor.run_command must not be empty"))
	}
	if c.Supervisor.GracePeriod <= 0 {
		errs = append(errs, errors.New("supervisor.grace_period must be positive"))
	}
	if c.Supervisor.KillTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.kill_timeout must be positive"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.History.Enabled && c.History.DSN == "" && len(c.History.Extra) == 0 {
		errs = append(errs, errors.New("history.dsn is required when history is enabled"))
	}
	return errors.Join(errs...)
}

// ProcessConfig converts the supervisor section for process.New.
func (c *Config) ProcessConfig() process.Config {
	return process.Config{
		RunCommand:  c.Supervisor.RunCommand,
		GracePeriod: c.Supervisor.GracePeriod,
		KillTimeout: c.Supervisor.KillTimeout,
	}
}
