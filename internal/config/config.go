package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the client-side tunables. Everything has a default; the
// optional YAML file and environment overrides adjust individual fields.
type Config struct {
	ConfigPath     string
	DBPath         string
	PollInterval   time.Duration
	StreamBackoff  time.Duration
	ConnectTimeout time.Duration
	UnaryTimeout   time.Duration
	PromptTimeout  time.Duration
	MessageLimit   int
	Bell           bool
}

func DefaultConfig() Config {
	return Config{
		ConfigPath:     defaultConfigPath(),
		DBPath:         defaultDBPath(),
		PollInterval:   3500 * time.Millisecond,
		StreamBackoff:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		UnaryTimeout:   30 * time.Second,
		PromptTimeout:  5 * time.Minute,
		MessageLimit:   100,
	}
}

// fileConfig is the YAML shape. Durations are written as strings ("3.5s")
// so the file stays hand-editable.
type fileConfig struct {
	DBPath         string   `yaml:"db_path,omitempty"`
	PollInterval   Duration `yaml:"poll_interval,omitempty"`
	StreamBackoff  Duration `yaml:"stream_backoff,omitempty"`
	ConnectTimeout Duration `yaml:"connect_timeout,omitempty"`
	UnaryTimeout   Duration `yaml:"unary_timeout,omitempty"`
	PromptTimeout  Duration `yaml:"prompt_timeout,omitempty"`
	MessageLimit   int      `yaml:"message_limit,omitempty"`
	Bell           bool     `yaml:"bell,omitempty"`
}

type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Load builds the effective config: defaults, then the YAML file when it
// exists, then OCREMOTE_CONFIG / OCREMOTE_DB overrides. A missing file is
// not an error.
func Load() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("OCREMOTE_CONFIG"); path != "" {
		cfg.ConfigPath = path
	}
	raw, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
		}
	} else {
		var file fileConfig
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
		}
		cfg.apply(file)
	}
	if path := os.Getenv("OCREMOTE_DB"); path != "" {
		cfg.DBPath = path
	}
	return cfg, nil
}

func (c *Config) apply(file fileConfig) {
	if file.DBPath != "" {
		c.DBPath = file.DBPath
	}
	if file.PollInterval > 0 {
		c.PollInterval = time.Duration(file.PollInterval)
	}
	if file.StreamBackoff > 0 {
		c.StreamBackoff = time.Duration(file.StreamBackoff)
	}
	if file.ConnectTimeout > 0 {
		c.ConnectTimeout = time.Duration(file.ConnectTimeout)
	}
	if file.UnaryTimeout > 0 {
		c.UnaryTimeout = time.Duration(file.UnaryTimeout)
	}
	if file.PromptTimeout > 0 {
		c.PromptTimeout = time.Duration(file.PromptTimeout)
	}
	if file.MessageLimit > 0 {
		c.MessageLimit = file.MessageLimit
	}
	if file.Bell {
		c.Bell = true
	}
}

// CheckFile reports whether the file at path parses as a config file.
// A missing file returns os.ErrNotExist unchanged.
func CheckFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Save writes the config file with the current values, creating its
// directory when needed.
func (c Config) Save() error {
	file := fileConfig{
		DBPath:         c.DBPath,
		PollInterval:   Duration(c.PollInterval),
		StreamBackoff:  Duration(c.StreamBackoff),
		ConnectTimeout: Duration(c.ConnectTimeout),
		UnaryTimeout:   Duration(c.UnaryTimeout),
		PromptTimeout:  Duration(c.PromptTimeout),
		MessageLimit:   c.MessageLimit,
		Bell:           c.Bell,
	}
	raw, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(c.ConfigPath, raw, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", c.ConfigPath, err)
	}
	return nil
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "opencode-remote", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "opencode-remote.yaml"
	}
	return filepath.Join(home, ".config", "opencode-remote", "config.yaml")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "opencode-remote.db"
	}
	return filepath.Join(home, ".local", "state", "opencode-remote", "profiles.db")
}
