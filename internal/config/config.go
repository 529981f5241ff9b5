package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Device drivers.
const (
	DriverEAPI   = "eapi"
	DriverMemory = "memory"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig     `yaml:"device"`
	Manifest        string           `yaml:"manifest"`
	Database        DatabaseConfig   `yaml:"database"`
	Log             LogConfig        `yaml:"log"`
	Reconciler      ReconcilerConfig `yaml:"reconciler"`
	Ledger          LedgerConfig     `yaml:"ledger"`
	HTTP            HTTPConfig       `yaml:"http"`
	EventBus        EventBusConfig   `yaml:"eventbus"`
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains switch connection settings
type DeviceConfig struct {
	Driver       string   `yaml:"driver"` // eapi or memory
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`      // 0 picks the transport default
	Transport    string   `yaml:"transport"` // https or http
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	Timeout      Duration `yaml:"timeout"`
	Insecure     bool     `yaml:"insecure"` // Skip TLS verification of the switch certificate
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	PeriodicInterval Duration          `yaml:"periodic_interval"`
	DebounceMS       int               `yaml:"debounce_ms"`
	DryRun           bool              `yaml:"dry_run"`
	Prefetch         map[string]string `yaml:"prefetch"` // kind -> preserve|rebind
}

// Debounce returns the trigger debounce delay.
func (c *ReconcilerConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// Retention returns how long ledger entries are kept.
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HTTPConfig contains control server settings
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration YAML and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := ExpandEnv(string(data))

	cfg := Config{
		Log:  LogConfig{Colors: true},
		HTTP: HTTPConfig{Enabled: true},
	}
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./netdevd.sqlite"
	}
	if cfg.Manifest == "" {
		cfg.Manifest = "resources.yaml"
	}

	// Device defaults
	if cfg.Device.Driver == "" {
		cfg.Device.Driver = DriverEAPI
	}
	if cfg.Device.Transport == "" {
		cfg.Device.Transport = "https"
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(30 * time.Second)
	}
	if cfg.Device.RateLimitRPS == 0 {
		cfg.Device.RateLimitRPS = 10.0 // 10 requests per second
	}

	// Reconciler defaults
	if cfg.Reconciler.PeriodicInterval == 0 {
		cfg.Reconciler.PeriodicInterval = Duration(5 * time.Minute)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// HTTP defaults
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 9090
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Device.Driver {
	case DriverEAPI:
		if c.Device.Host == "" {
			return fmt.Errorf("device.host is required for the %s driver", DriverEAPI)
		}
		if c.Device.Transport != "https" && c.Device.Transport != "http" {
			return fmt.Errorf("device.transport: unknown transport %q, expected https or http", c.Device.Transport)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("device.driver: unknown driver %q, expected %s or %s", c.Device.Driver, DriverEAPI, DriverMemory)
	}
	if c.Reconciler.DebounceMS < 0 {
		return fmt.Errorf("reconciler.debounce_ms must not be negative")
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// ExpandEnv expands environment variables in the format ${VAR} or ${VAR:default}
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
