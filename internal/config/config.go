package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can carry "30s" style values.
// Bare numbers are read as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, serr := strconv.ParseFloat(s, 64)
		if serr != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		parsed = time.Duration(secs * float64(time.Second))
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// NagiosConfig holds check reporting settings.
type NagiosConfig struct {
	CacheDir      string   `yaml:"cache_dir"`
	User          string   `yaml:"user"`
	WorldReadable bool     `yaml:"world_readable"`
	Threshold     Duration `yaml:"threshold"`
}

// LockConfig holds lockfile settings.
type LockConfig struct {
	Dir       string   `yaml:"dir"`
	Disabled  bool     `yaml:"disabled"`
	Staleness Duration `yaml:"staleness"`
}

// GraphiteConfig holds metrics sender settings.
type GraphiteConfig struct {
	Addr     string   `yaml:"addr"`
	Prefix   string   `yaml:"prefix"`
	Timeout  Duration `yaml:"timeout"`
	Interval Duration `yaml:"interval"`
}

// MailConfig holds mail transport settings.
type MailConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	From string `yaml:"from"`
}

// SSHConfig holds remote shell settings.
type SSHConfig struct {
	User    string   `yaml:"user"`
	KeyFile string   `yaml:"key_file"`
	Port    int      `yaml:"port"`
	Timeout Duration `yaml:"timeout"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	HAAddr    string         `yaml:"ha_addr"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
	Nagios    NagiosConfig   `yaml:"nagios"`
	Lock      LockConfig     `yaml:"lock"`
	Graphite  GraphiteConfig `yaml:"graphite"`
	Mail      MailConfig     `yaml:"mail"`
	SSH       SSHConfig      `yaml:"ssh"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Nagios: NagiosConfig{
			CacheDir: "/var/cache",
			User:     "nagios",
		},
		Lock: LockConfig{
			Dir:       "/var/lock",
			Staleness: Duration(60 * time.Second),
		},
		Graphite: GraphiteConfig{
			Timeout:  Duration(5 * time.Second),
			Interval: Duration(10 * time.Second),
		},
		Mail: MailConfig{
			Host: "localhost",
			Port: 25,
		},
		SSH: SSHConfig{
			Port:    22,
			Timeout: Duration(10 * time.Second),
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv applies environment variable overrides to the config.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("SENTINEL_HA_ADDR"); v != "" {
		cfg.HAAddr = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("SENTINEL_NAGIOS_CACHE_DIR"); v != "" {
		cfg.Nagios.CacheDir = v
	}
	if v := os.Getenv("SENTINEL_NAGIOS_USER"); v != "" {
		cfg.Nagios.User = v
	}
	if v := os.Getenv("SENTINEL_LOCK_DIR"); v != "" {
		cfg.Lock.Dir = v
	}
	if v := os.Getenv("SENTINEL_GRAPHITE_ADDR"); v != "" {
		cfg.Graphite.Addr = v
	}
	if v := os.Getenv("SENTINEL_GRAPHITE_PREFIX"); v != "" {
		cfg.Graphite.Prefix = v
	}
	if v := os.Getenv("SENTINEL_MAIL_HOST"); v != "" {
		cfg.Mail.Host = v
	}
	if v := os.Getenv("SENTINEL_MAIL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Mail.Port = p
		}
	}
	if v := os.Getenv("SENTINEL_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
}
