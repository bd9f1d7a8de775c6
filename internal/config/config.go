package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Events       EventsConfig       `yaml:"events"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EventsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Channel  string `yaml:"channel"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ExecutionConfig struct {
	Timeout string `yaml:"timeout"`
}

// TimeoutDuration parses Execution.Timeout, falling back to def on empty
// or malformed values.
func (c ExecutionConfig) TimeoutDuration(def time.Duration) time.Duration {
	if c.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

type CredentialsConfig struct {
	Path string `yaml:"path"`
}

type CapabilitiesConfig struct {
	// Scripts maps capability names to Lua implementation files.
	Scripts map[string]string `yaml:"scripts"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
	cfg.Events.Redis.Addr = expandEnv(cfg.Events.Redis.Addr)
	cfg.Events.Redis.Password = expandEnv(cfg.Events.Redis.Password)
	cfg.Credentials.Path = expandEnv(cfg.Credentials.Path)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	expandEnvInConfig(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8420"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = defaultStateDir()
	}
	if cfg.Events.Redis.Channel == "" {
		cfg.Events.Redis.Channel = "scriptflow.events"
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scriptflow"
	}
	return home + "/.scriptflow"
}
