package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return cfgPath
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Device.Name != "ArduinoMotorEAI" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "ArduinoMotorEAI")
	}
	if cfg.Device.ServiceUUID != protocol.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want %q", cfg.Device.ServiceUUID, protocol.ServiceUUID)
	}
	if cfg.BLE.Backend != "tinygo" {
		t.Errorf("BLE.Backend = %q, want %q", cfg.BLE.Backend, "tinygo")
	}
	if cfg.BLE.ScanTimeout != 30*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 30s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.NotifySettle != 800*time.Millisecond {
		t.Errorf("BLE.NotifySettle = %v, want 800ms", cfg.BLE.NotifySettle)
	}
	if cfg.Input.Method != "console" {
		t.Errorf("Input.Method = %q, want %q", cfg.Input.Method, "console")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	cfgPath := writeConfig(t, `
device:
  name: RoverTwo
  service_uuid: 19B10000-E8F2-537E-4F6C-D104768A1214
ble:
  backend: bluez
  adapter: hci1
  scan_timeout: 5s
  notify_settle: 250ms
input:
  method: keys
  mode: hold
  keys:
    left: j
    right: l
log_level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "RoverTwo" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "RoverTwo")
	}
	if cfg.Device.ServiceUUID != protocol.ServiceUUID {
		t.Errorf("Device.ServiceUUID = %q, want normalised %q", cfg.Device.ServiceUUID, protocol.ServiceUUID)
	}
	if cfg.Device.CommandUUID != protocol.CommandCharUUID {
		t.Errorf("Device.CommandUUID = %q, want default %q", cfg.Device.CommandUUID, protocol.CommandCharUUID)
	}
	if cfg.BLE.Backend != "bluez" || cfg.BLE.Adapter != "hci1" {
		t.Errorf("BLE = %s/%s, want bluez/hci1", cfg.BLE.Backend, cfg.BLE.Adapter)
	}
	if cfg.BLE.ScanTimeout != 5*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 5s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.ConnectTimeout != 10*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want default 10s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.NotifySettle != 250*time.Millisecond {
		t.Errorf("BLE.NotifySettle = %v, want 250ms", cfg.BLE.NotifySettle)
	}
	if cfg.Input.Method != "keys" || cfg.Input.Mode != "hold" {
		t.Errorf("Input = %s/%s, want keys/hold", cfg.Input.Method, cfg.Input.Mode)
	}
	if cfg.Input.Keys.Left != "j" || cfg.Input.Keys.Right != "l" || cfg.Input.Keys.Stop != "s" {
		t.Errorf("Input.Keys = %+v, want j/s/l", cfg.Input.Keys)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	if err := os.WriteFile(filepath.Join(tmpHome, "motor.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/motor.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	cfgPath := writeConfig(t, "ble:\n  scan_timeout: soon\n")
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail for an unparsable duration")
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
			name:    "empty device name",
			modify:  func(c *Config) { c.Device.Name = "" },
			wantErr: true,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.Device.ServiceUUID = "19b10000" },
			wantErr: true,
		},
		{
			name:    "invalid command uuid",
			modify:  func(c *Config) { c.Device.CommandUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "command and distance share a uuid",
			modify:  func(c *Config) { c.Device.DistanceUUID = c.Device.CommandUUID },
			wantErr: true,
		},
		{
			name:    "invalid backend",
			modify:  func(c *Config) { c.BLE.Backend = "corebluetooth" },
			wantErr: true,
		},
		{
			name:    "bluez without adapter",
			modify:  func(c *Config) { c.BLE.Backend = "bluez"; c.BLE.Adapter = "" },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative settle",
			modify:  func(c *Config) { c.BLE.NotifySettle = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero settle",
			modify:  func(c *Config) { c.BLE.NotifySettle = 0 },
			wantErr: false,
		},
		{
			name:    "invalid input method",
			modify:  func(c *Config) { c.Input.Method = "gamepad" },
			wantErr: true,
		},
		{
			name:    "keys with invalid mode",
			modify:  func(c *Config) { c.Input.Method = "keys"; c.Input.Mode = "toggle" },
			wantErr: true,
		},
		{
			name:    "keys with unbound stop",
			modify:  func(c *Config) { c.Input.Method = "keys"; c.Input.Keys.Stop = "" },
			wantErr: true,
		},
		{
			name:    "keys with duplicate binding",
			modify:  func(c *Config) { c.Input.Method = "keys"; c.Input.Keys.Quit = "a" },
			wantErr: true,
		},
		{
			name:    "keys without auto binding",
			modify:  func(c *Config) { c.Input.Method = "keys"; c.Input.Keys.Auto = "" },
			wantErr: false,
		},
		{
			name:    "console ignores key bindings",
			modify:  func(c *Config) { c.Input.Keys = KeyConfig{} },
			wantErr: false,
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

func TestControllerOptions(t *testing.T) {
	cfg := Default()
	cfg.Device.Name = "RoverTwo"
	cfg.BLE.ScanTimeout = 3 * time.Second
	cfg.BLE.ConnectTimeout = 4 * time.Second
	cfg.BLE.NotifySettle = 0

	opts := cfg.ControllerOptions()
	if opts.Profile.DeviceName != "RoverTwo" {
		t.Errorf("Profile.DeviceName = %q, want RoverTwo", opts.Profile.DeviceName)
	}
	if opts.Profile.DistanceUUID != protocol.DistanceCharUUID {
		t.Errorf("Profile.DistanceUUID = %q, want %q", opts.Profile.DistanceUUID, protocol.DistanceCharUUID)
	}
	if opts.Scan.Timeout != 3*time.Second {
		t.Errorf("Scan.Timeout = %v, want 3s", opts.Scan.Timeout)
	}
	if opts.Session.ConnectTimeout != 4*time.Second || opts.Session.NotifySettle != 0 {
		t.Errorf("Session = %+v, want 4s connect and no settle", opts.Session)
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

	expectedPath := filepath.Join(tmpHome, ".config", "motorlink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# motorlink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.NotifySettle != 800*time.Millisecond {
		t.Errorf("written config BLE.NotifySettle = %v, want 800ms", cfg.BLE.NotifySettle)
	}
	if cfg.Device.DistanceUUID != protocol.DistanceCharUUID {
		t.Errorf("written config Device.DistanceUUID = %q", cfg.Device.DistanceUUID)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "motorlink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("device:\n  name: Custom\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	// WriteDefault should return ("", nil) without overwriting
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

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
