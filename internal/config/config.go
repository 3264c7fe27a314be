package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig  `yaml:"device"`
	Scan     ScanConfig    `yaml:"scan"`
	Connect  ConnectConfig `yaml:"connect"`
	Session  SessionConfig `yaml:"session"`
	LogLevel string        `yaml:"log_level"`
}

// DeviceConfig identifies provisionable devices and their GATT profile.
// UUIDs may be given in full or as 16/32-bit short forms ("e403", "0xE403").
type DeviceConfig struct {
	NamePattern    string `yaml:"name_pattern"` // case-insensitive substring
	ServiceUUID    string `yaml:"service_uuid"`
	WriteCharUUID  string `yaml:"write_char_uuid"`
	StatusCharUUID string `yaml:"status_char_uuid"`
}

// ScanConfig holds discovery settings.
type ScanConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectConfig holds link setup settings.
type ConnectConfig struct {
	Timeout time.Duration `yaml:"timeout"` // connect + discovery
}

// SessionConfig holds handshake settings.
type SessionConfig struct {
	StepTimeout time.Duration `yaml:"step_timeout"`
	PacketDelay time.Duration `yaml:"packet_delay"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blenetcfg")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			NamePattern:    "netcfg",
			ServiceUUID:    protocol.ServiceUUID,
			WriteCharUUID:  protocol.WriteCharUUID,
			StatusCharUUID: protocol.StatusCharUUID,
		},
		Scan: ScanConfig{
			Timeout: 5 * time.Second,
		},
		Connect: ConnectConfig{
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			StepTimeout: 10 * time.Second,
			PacketDelay: 20 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("config: reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.NamePattern) == "" {
		return fmt.Errorf("device.name_pattern must not be empty")
	}

	for _, u := range []struct{ field, value string }{
		{"device.service_uuid", c.Device.ServiceUUID},
		{"device.write_char_uuid", c.Device.WriteCharUUID},
		{"device.status_char_uuid", c.Device.StatusCharUUID},
	} {
		if _, err := protocol.ParseUUID(u.value); err != nil {
			return fmt.Errorf("%s: %w", u.field, err)
		}
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Connect.Timeout <= 0 {
		return fmt.Errorf("connect.timeout must be > 0")
	}
	if c.Session.StepTimeout <= 0 {
		return fmt.Errorf("session.step_timeout must be > 0")
	}
	if c.Session.PacketDelay < 0 {
		return fmt.Errorf("session.packet_delay must be >= 0")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a log_level value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
	}
}

const defaultConfigTemplate = `# blenetcfg configuration
#
# Durations use Go syntax: 500ms, 5s, 1m.

device:
  # Advertised names containing this (case-insensitive) are flagged as matches.
  name_pattern: %q
  service_uuid: %q
  write_char_uuid: %q
  status_char_uuid: %q

scan:
  timeout: %s

connect:
  timeout: %s

session:
  step_timeout: %s
  packet_delay: %s

log_level: %s
`

// WriteDefault writes the default config to DefaultConfigPath and returns the
// path. It returns ("", nil) when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("config: creating config dir: %w", err)
	}

	d := Default()
	content := fmt.Sprintf(defaultConfigTemplate,
		d.Device.NamePattern, d.Device.ServiceUUID, d.Device.WriteCharUUID, d.Device.StatusCharUUID,
		d.Scan.Timeout, d.Connect.Timeout, d.Session.StepTimeout, d.Session.PacketDelay,
		d.LogLevel)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", path, err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
