package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/motorlink/internal/ble"
	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	BLE      BLEConfig    `yaml:"ble"`
	Input    InputConfig  `yaml:"input"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig identifies the robot and its GATT attributes.
type DeviceConfig struct {
	Name         string `yaml:"name"`
	ServiceUUID  string `yaml:"service_uuid"`
	CommandUUID  string `yaml:"command_uuid"`
	DistanceUUID string `yaml:"distance_uuid"`
}

// BLEConfig holds radio and link settings.
type BLEConfig struct {
	Backend        string        `yaml:"backend"` // "tinygo" or "bluez"
	Adapter        string        `yaml:"adapter"` // bluez only, e.g. "hci0"
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	NotifySettle   time.Duration `yaml:"notify_settle"`
}

// InputConfig selects how the user drives the robot.
type InputConfig struct {
	Method string    `yaml:"method"` // "console" or "keys"
	Mode   string    `yaml:"mode"`   // "tap" or "hold", keys only
	Keys   KeyConfig `yaml:"keys"`
}

// KeyConfig binds global keys to actions.
type KeyConfig struct {
	Left  string `yaml:"left"`
	Stop  string `yaml:"stop"`
	Right string `yaml:"right"`
	Auto  string `yaml:"auto"`
	Quit  string `yaml:"quit"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "motorlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:         protocol.DeviceName,
			ServiceUUID:  protocol.ServiceUUID,
			CommandUUID:  protocol.CommandCharUUID,
			DistanceUUID: protocol.DistanceCharUUID,
		},
		BLE: BLEConfig{
			Backend:        "tinygo",
			Adapter:        "hci0",
			ScanTimeout:    30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			NotifySettle:   800 * time.Millisecond,
		},
		Input: InputConfig{
			Method: "console",
			Mode:   "tap",
			Keys: KeyConfig{
				Left:  "a",
				Stop:  "s",
				Right: "d",
				Auto:  "t",
				Quit:  "q",
			},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. UUIDs are normalised to lower case.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	d := &cfg.Device
	d.ServiceUUID = strings.ToLower(strings.TrimSpace(d.ServiceUUID))
	d.CommandUUID = strings.ToLower(strings.TrimSpace(d.CommandUUID))
	d.DistanceUUID = strings.ToLower(strings.TrimSpace(d.DistanceUUID))

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath and returns
// the path written. If a config file already exists it is left alone and
// WriteDefault returns ("", nil).
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", errors.New("cannot determine home directory")
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	header := "# motorlink configuration\n" +
		"# ble.backend: tinygo | bluez; input.method: console | keys; input.mode: tap | hold\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	for _, f := range []struct{ field, value string }{
		{"device.service_uuid", c.Device.ServiceUUID},
		{"device.command_uuid", c.Device.CommandUUID},
		{"device.distance_uuid", c.Device.DistanceUUID},
	} {
		if _, err := uuid.Parse(f.value); err != nil {
			return fmt.Errorf("%s: invalid UUID %q: %w", f.field, f.value, err)
		}
	}
	if strings.EqualFold(c.Device.CommandUUID, c.Device.DistanceUUID) {
		return fmt.Errorf("device.command_uuid and device.distance_uuid must differ")
	}

	switch c.BLE.Backend {
	case "tinygo":
	case "bluez":
		if c.BLE.Adapter == "" {
			return fmt.Errorf("ble.adapter must not be empty for the bluez backend")
		}
	default:
		return fmt.Errorf("ble.backend must be \"tinygo\" or \"bluez\", got %q", c.BLE.Backend)
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.NotifySettle < 0 {
		return fmt.Errorf("ble.notify_settle must not be negative")
	}

	switch c.Input.Method {
	case "console":
	case "keys":
		if err := c.Input.validateKeys(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("input.method must be \"console\" or \"keys\", got %q", c.Input.Method)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func (in *InputConfig) validateKeys() error {
	switch in.Mode {
	case "tap", "hold":
	default:
		return fmt.Errorf("input.mode must be \"tap\" or \"hold\", got %q", in.Mode)
	}

	k := in.Keys
	if k.Left == "" || k.Stop == "" || k.Right == "" || k.Quit == "" {
		return fmt.Errorf("input.keys: left, stop, right and quit must be bound")
	}
	seen := make(map[string]string)
	for _, b := range []struct{ action, key string }{
		{"left", k.Left}, {"stop", k.Stop}, {"right", k.Right}, {"auto", k.Auto}, {"quit", k.Quit},
	} {
		if b.key == "" {
			continue
		}
		if other, dup := seen[b.key]; dup {
			return fmt.Errorf("input.keys: %q is bound to both %s and %s", b.key, other, b.action)
		}
		seen[b.key] = b.action
	}
	return nil
}

// ControllerOptions converts the device and link settings into options for
// ble.NewController.
func (c *Config) ControllerOptions() ble.ControllerOptions {
	opts := ble.DefaultControllerOptions()
	opts.Profile = ble.Profile{
		DeviceName:   c.Device.Name,
		ServiceUUID:  c.Device.ServiceUUID,
		CommandUUID:  c.Device.CommandUUID,
		DistanceUUID: c.Device.DistanceUUID,
	}
	opts.Scan.Timeout = c.BLE.ScanTimeout
	opts.Session.ConnectTimeout = c.BLE.ConnectTimeout
	opts.Session.NotifySettle = c.BLE.NotifySettle
	return opts
}

// ParseLogLevel maps a log_level value to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
