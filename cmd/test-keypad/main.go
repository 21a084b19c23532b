// Command test-keypad is a manual test for the global key bindings.
// Run it, then press the bound keys to see events. No robot is needed.
// Press Ctrl+C or the quit key to exit.
//
// Usage:
//
//	go run ./cmd/test-keypad [--mode tap|hold]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/motorlink/internal/config"
	"github.com/chaz8081/motorlink/internal/keypad"
)

func main() {
	mode := flag.String("mode", "tap", "key mode: tap or hold")
	flag.Parse()

	k := config.Default().Input.Keys
	fmt.Printf("Listening in %q mode: %s left, %s stop, %s right, %s auto, %s quit\n",
		*mode, k.Left, k.Stop, k.Right, k.Auto, k.Quit)
	fmt.Println("Press Ctrl+C to exit.")

	listener := keypad.NewListener(keypad.Bindings{
		Left:  k.Left,
		Stop:  k.Stop,
		Right: k.Right,
		Auto:  k.Auto,
		Quit:  k.Quit,
	}, *mode)

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read events
	go func() {
		for ev := range listener.Events() {
			if ev.Quit {
				fmt.Println("--- QUIT")
				listener.Stop()
				continue
			}
			fmt.Printf(">>> %s\n", ev.Action)
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
