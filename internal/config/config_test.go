package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.NamePattern != "netcfg" {
		t.Errorf("Device.NamePattern = %q, want %q", cfg.Device.NamePattern, "netcfg")
	}
	if cfg.Device.ServiceUUID != "0000e402-0000-1000-8000-00805f9b34fb" {
		t.Errorf("Device.ServiceUUID = %q", cfg.Device.ServiceUUID)
	}
	if cfg.Scan.Timeout != 5*time.Second {
		t.Errorf("Scan.Timeout = %s, want 5s", cfg.Scan.Timeout)
	}
	if cfg.Connect.Timeout < 5*time.Second {
		t.Errorf("Connect.Timeout = %s, want at least 5s", cfg.Connect.Timeout)
	}
	if cfg.Session.StepTimeout != 10*time.Second {
		t.Errorf("Session.StepTimeout = %s, want 10s", cfg.Session.StepTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  name_pattern: esp-prov
  write_char_uuid: "0xff01"
scan:
  timeout: 3s
connect:
  timeout: 15s
session:
  step_timeout: 20s
  packet_delay: 50ms
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.NamePattern != "esp-prov" {
		t.Errorf("Device.NamePattern = %q, want %q", cfg.Device.NamePattern, "esp-prov")
	}
	if cfg.Device.WriteCharUUID != "0xff01" {
		t.Errorf("Device.WriteCharUUID = %q, want %q", cfg.Device.WriteCharUUID, "0xff01")
	}
	if cfg.Device.StatusCharUUID != Default().Device.StatusCharUUID {
		t.Errorf("Device.StatusCharUUID = %q, want default", cfg.Device.StatusCharUUID)
	}
	if cfg.Scan.Timeout != 3*time.Second {
		t.Errorf("Scan.Timeout = %s, want 3s", cfg.Scan.Timeout)
	}
	if cfg.Connect.Timeout != 15*time.Second {
		t.Errorf("Connect.Timeout = %s, want 15s", cfg.Connect.Timeout)
	}
	if cfg.Session.StepTimeout != 20*time.Second {
		t.Errorf("Session.StepTimeout = %s, want 20s", cfg.Session.StepTimeout)
	}
	if cfg.Session.PacketDelay != 50*time.Millisecond {
		t.Errorf("Session.PacketDelay = %s, want 50ms", cfg.Session.PacketDelay)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("scan: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "short uuid forms",
			modify:  func(c *Config) { c.Device.ServiceUUID = "e402"; c.Device.WriteCharUUID = "0x0000E403" },
			wantErr: false,
		},
		{
			name:    "empty name pattern",
			modify:  func(c *Config) { c.Device.NamePattern = "  " },
			wantErr: true,
		},
		{
			name:    "bad service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "empty status uuid",
			modify:  func(c *Config) { c.Device.StatusCharUUID = "" },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.Scan.Timeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.Connect.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero step timeout",
			modify:  func(c *Config) { c.Session.StepTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero packet delay is allowed",
			modify:  func(c *Config) { c.Session.PacketDelay = 0 },
			wantErr: false,
		},
		{
			name:    "negative packet delay",
			modify:  func(c *Config) { c.Session.PacketDelay = -time.Millisecond },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "blenetcfg", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# blenetcfg") {
		t.Error("written config should start with header comment")
	}

	// Should be valid YAML that round-trips to the defaults
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("written config = %+v, want defaults %+v", *cfg, *Default())
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "blenetcfg")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestLoadExpandsTildeInPath(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	if err := os.WriteFile(filepath.Join(tmpHome, "netcfg.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/netcfg.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}
