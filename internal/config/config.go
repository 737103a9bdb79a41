package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vburojevic/crashwatch/internal/crashstore"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format" yaml:"format"`
	Level   string `mapstructure:"level" yaml:"level"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`

	Detector DetectorConfig `mapstructure:"detector" yaml:"detector"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// DetectorConfig holds heartbeat timing. Durations use time.ParseDuration
// syntax ("5s", "250ms").
type DetectorConfig struct {
	HeartbeatInterval  string `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ParentPollInterval string `mapstructure:"parent_poll_interval" yaml:"parent_poll_interval"`
}

// StoreConfig selects and tunes the crash store
type StoreConfig struct {
	Backend          string `mapstructure:"backend" yaml:"backend"`
	RecordFormat     string `mapstructure:"record_format" yaml:"record_format"`
	DeleteRetries    int    `mapstructure:"delete_retries" yaml:"delete_retries"`
	DeleteRetryDelay string `mapstructure:"delete_retry_delay" yaml:"delete_retry_delay"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Level:   "info",
		Quiet:   false,
		Verbose: false,
		Detector: DetectorConfig{
			HeartbeatInterval:  "5s",
			ParentPollInterval: "1s",
		},
		Store: StoreConfig{
			Backend:          crashstore.BackendFile,
			RecordFormat:     crashstore.FormatJSON,
			DeleteRetries:    4,
			DeleteRetryDelay: "100ms",
		},
	}
}

// config file names in order of preference within one directory
var configNames = []string{"crashwatch.yaml", ".crashwatch.yaml", ".crashwatch.yml", ".crashwatchrc"}

func configDirs() []string {
	// highest precedence first
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(configDir, "crashwatch"))
	}
	return append(dirs, "/etc/crashwatch")
}

// findConfigFile returns the first config file found, or ""
func findConfigFile() string {
	for _, dir := range configDirs() {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				if abs, err := filepath.Abs(path); err == nil {
					return abs
				}
				return path
			}
		}
	}
	return ""
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CRASHWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper knows about, so every key gets a default
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("detector.heartbeat_interval", cfg.Detector.HeartbeatInterval)
	v.SetDefault("detector.parent_poll_interval", cfg.Detector.ParentPollInterval)
	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.record_format", cfg.Store.RecordFormat)
	v.SetDefault("store.delete_retries", cfg.Store.DeleteRetries)
	v.SetDefault("store.delete_retry_delay", cfg.Store.DeleteRetryDelay)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads configuration from the first config file found and the
// environment. A missing config file is not an error.
func Load() (*Config, error) {
	v := newViper()
	if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file. Environment
// variables still override file values.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// ConfigFile returns the path to the config file Load would read
func ConfigFile() string {
	return findConfigFile()
}

// Validate checks enumerations and durations
func (c *Config) Validate() error {
	switch c.Format {
	case "ndjson", "text":
	default:
		return fmt.Errorf("format must be ndjson or text, got %q", c.Format)
	}
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", c.Level)
	}
	if _, _, err := c.Detector.Intervals(); err != nil {
		return err
	}
	if _, err := c.Store.Options(); err != nil {
		return err
	}
	return nil
}

func parsePositive(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, value)
	}
	return d, nil
}

// Intervals returns the heartbeat and parent poll intervals
func (d DetectorConfig) Intervals() (heartbeat, parentPoll time.Duration, err error) {
	heartbeat, err = parsePositive("detector.heartbeat_interval", d.HeartbeatInterval)
	if err != nil {
		return 0, 0, err
	}
	parentPoll, err = parsePositive("detector.parent_poll_interval", d.ParentPollInterval)
	if err != nil {
		return 0, 0, err
	}
	return heartbeat, parentPoll, nil
}

// Options converts the store section into crash store options
func (s StoreConfig) Options() (crashstore.Options, error) {
	switch s.Backend {
	case crashstore.BackendFile, crashstore.BackendSQLite:
	default:
		return crashstore.Options{}, fmt.Errorf("%w: %q", crashstore.ErrUnknownBackend, s.Backend)
	}
	if _, err := crashstore.CodecFor(s.RecordFormat); err != nil {
		return crashstore.Options{}, err
	}
	if s.DeleteRetries < 1 {
		return crashstore.Options{}, fmt.Errorf("store.delete_retries must be at least 1, got %d", s.DeleteRetries)
	}
	delay, err := time.ParseDuration(s.DeleteRetryDelay)
	if err != nil || delay < 0 {
		return crashstore.Options{}, fmt.Errorf("invalid store.delete_retry_delay %q", s.DeleteRetryDelay)
	}
	return crashstore.Options{
		Backend:      s.Backend,
		RecordFormat: s.RecordFormat,
		Retry:        crashstore.RetryPolicy{MaxTries: uint(s.DeleteRetries), Delay: delay},
	}, nil
}
