package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/motorlink/internal/ble"
	"github.com/chaz8081/motorlink/internal/ble/bluez"
	"github.com/chaz8081/motorlink/internal/config"
	"github.com/chaz8081/motorlink/internal/keypad"
	"github.com/chaz8081/motorlink/internal/remote"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/motorlink/config.yaml)")
	backend := flag.String("backend", "", "override ble.backend: tinygo or bluez")
	input := flag.String("input", "", "override input.method: console or keys")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("init: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
			return
		}
		log.Printf("Default config written to %s", path)
		return
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *backend != "" {
		cfg.BLE.Backend = *backend
	}
	if *input != "" {
		cfg.Input.Method = *input
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	adapter := newAdapter(cfg)
	controller := ble.NewController(adapter, cfg.ControllerOptions())
	rc := remote.New(controller)

	go watchStatus(controller)
	go watchDistance(controller)
	go watchMode(rc)

	if err := controller.Start(); err != nil {
		log.Printf("ERROR: %v", err)
	}

	// Signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var (
		lines    <-chan string
		keys     <-chan keypad.Event
		listener *keypad.Listener
	)
	switch cfg.Input.Method {
	case "keys":
		listener = keypad.NewListener(keypad.Bindings{
			Left:  cfg.Input.Keys.Left,
			Stop:  cfg.Input.Keys.Stop,
			Right: cfg.Input.Keys.Right,
			Auto:  cfg.Input.Keys.Auto,
			Quit:  cfg.Input.Keys.Quit,
		}, cfg.Input.Mode)
		keys = listener.Events()
		go listener.Start()
		log.Printf("Ready! Keys: %s left, %s stop, %s right, %s auto, %s quit. Ctrl+C to quit.",
			cfg.Input.Keys.Left, cfg.Input.Keys.Stop, cfg.Input.Keys.Right, cfg.Input.Keys.Auto, cfg.Input.Keys.Quit)
	default:
		lines = readLines(os.Stdin)
		log.Println("Ready! Type \"help\" for commands. Ctrl+C to quit.")
	}

	con := &console{link: controller, remote: rc, out: os.Stdout}

	// Main event loop
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				shutdown(controller, listener)
			}
			if con.handle(line) {
				shutdown(controller, listener)
			}

		case ev, ok := <-keys:
			if !ok {
				log.Println("Key listener stopped")
				shutdown(controller, listener)
			}
			if ev.Quit {
				shutdown(controller, listener)
			}
			if err := rc.Do(ev.Action); err != nil {
				log.Printf("%s: %s", ev.Action, ble.Reason(err))
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			shutdown(controller, listener)
		}
	}
}

// shutdown disconnects from the robot and exits.
func shutdown(controller *ble.Controller, listener *keypad.Listener) {
	controller.Stop()
	if listener != nil {
		listener.Stop()
	}
	log.Println("Goodbye!")
	// Exit directly to avoid gohook's C cleanup crash.
	// The OS reclaims the event hook on process exit.
	os.Exit(0)
}

func newAdapter(cfg *config.Config) ble.Adapter {
	if cfg.BLE.Backend == "bluez" {
		return bluez.New(cfg.BLE.Adapter)
	}
	return ble.NewTinyGoAdapter()
}

func watchStatus(c *ble.Controller) {
	updates, _ := c.Status().Subscribe()
	for st := range updates {
		log.Printf("Status: %s", st)
	}
}

func watchDistance(c *ble.Controller) {
	updates, _ := c.Distance().Subscribe()
	for d := range updates {
		if c.Status().Get().State == ble.StateReady {
			log.Printf("Distance: %.1f cm", d)
		}
	}
}

func watchMode(rc *remote.Remote) {
	updates, _ := rc.AutoModeUpdates().Subscribe()
	for on := range updates {
		if on {
			log.Println("Mode: auto")
		} else {
			log.Println("Mode: manual")
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults (run with -init to write one)")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== motorlink ===")
	fmt.Printf("  Device:  %s\n", cfg.Device.Name)
	fmt.Printf("  Service: %s\n", cfg.Device.ServiceUUID)
	fmt.Printf("  Backend: %s", cfg.BLE.Backend)
	if cfg.BLE.Backend == "bluez" {
		fmt.Printf(" (%s)", cfg.BLE.Adapter)
	}
	fmt.Println()
	fmt.Printf("  Scan:    %s timeout\n", cfg.BLE.ScanTimeout)
	if cfg.Input.Method == "keys" {
		fmt.Printf("  Input:   keys (%s mode)\n", cfg.Input.Mode)
	} else {
		fmt.Printf("  Input:   console\n")
	}
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	fmt.Println("=================")
}
