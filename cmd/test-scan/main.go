// Command test-scan is a manual test for the radio backends. It scans for
// the robot by name and, once found, optionally connects and sends one
// command while printing distance readings.
//
// Usage:
//
//	go run ./cmd/test-scan [--backend tinygo|bluez] [--name ArduinoMotorEAI] [--send stop]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/motorlink/internal/ble"
	"github.com/chaz8081/motorlink/internal/ble/bluez"
	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

func main() {
	backend := flag.String("backend", "tinygo", "radio backend: tinygo or bluez")
	hci := flag.String("adapter", "hci0", "bluez adapter name")
	name := flag.String("name", protocol.DeviceName, "advertised device name")
	timeout := flag.Duration("timeout", 15*time.Second, "scan timeout")
	send := flag.String("send", "", "command to send once connected (left, stop, right, auto, manual)")
	flag.Parse()

	var adapter ble.Adapter
	if *backend == "bluez" {
		adapter = bluez.New(*hci)
	} else {
		adapter = ble.NewTinyGoAdapter()
	}
	if err := adapter.Enable(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %q (%s)...\n", *name, *timeout)
	found := make(chan ble.ScanResult, 1)
	scanner := ble.NewScanner(adapter, ble.ScannerOptions{Timeout: *timeout})
	if err := scanner.Start(*name, func(r ble.ScanResult) { found <- r }); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	r := <-found
	if r.Err != nil {
		fmt.Printf("Error: %v\n", r.Err)
		os.Exit(1)
	}
	fmt.Printf("Found %s at %s (RSSI %d)\n", r.Device.Name, r.Device.MAC, r.Device.RSSI)

	if *send == "" {
		return
	}
	cmd, err := protocol.ParseCommand(*send)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	sink := &printSink{settled: make(chan ble.State, 1)}
	session := ble.NewSession(adapter, r.Device, ble.DefaultSessionOptions(), sink)
	session.Open()
	defer session.Close()

	select {
	case state := <-sink.settled:
		if state != ble.StateReady {
			fmt.Printf("Error: session ended in %s: %s\n", state, ble.Reason(session.Err()))
			return
		}
	case <-time.After(15 * time.Second):
		fmt.Printf("Error: session did not become ready (%s)\n", session.State())
		return
	}
	if err := session.SendCommand(cmd); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Sent %s, watching distance for 5s...\n", cmd)
	time.Sleep(5 * time.Second)
	fmt.Println("\nDone!")
}

// printSink prints session callbacks and reports the first state that is
// either ready or terminal.
type printSink struct {
	settled chan ble.State
}

func (p *printSink) OnState(state ble.State, err error) {
	if err != nil {
		fmt.Printf("  state: %s (%s)\n", state, ble.Reason(err))
	} else {
		fmt.Printf("  state: %s\n", state)
	}
	if state == ble.StateReady || state.Terminal() {
		select {
		case p.settled <- state:
		default:
		}
	}
}

func (p *printSink) OnReading(distance float32) {
	fmt.Printf("  distance: %.1f cm\n", distance)
}
