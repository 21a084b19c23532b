package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chaz8081/motorlink/internal/ble"
	"github.com/chaz8081/motorlink/internal/observe"
	"github.com/chaz8081/motorlink/internal/remote"
)

// link is the part of the BLE controller the console drives.
type link interface {
	Start() error
	Stop()
	Status() observe.Reader[ble.Status]
	Distance() observe.Reader[float32]
	Stats() ble.StatsSnapshot
}

// console interprets one command per input line.
type console struct {
	link   link
	remote *remote.Remote
	out    io.Writer
}

const consoleHelp = `commands:
  left | stop | right     drive the motors (ignored in auto mode)
  auto | manual | toggle  switch automatic mode
  connect | disconnect    start or end the BLE connection
  status                  show connection status and counters
  quit                    exit`

// readLines sends each line of r on the returned channel, which is closed
// at EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// handle runs one console command and reports whether the user asked to
// quit.
func (c *console) handle(line string) (quit bool) {
	cmd := strings.ToLower(strings.TrimSpace(line))
	switch cmd {
	case "":
		return false
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
	case "connect":
		if err := c.link.Start(); err != nil {
			fmt.Fprintf(c.out, "connect: %v\n", err)
		}
	case "disconnect":
		c.link.Stop()
	case "status":
		c.printStatus()
	default:
		action, err := remote.ParseAction(cmd)
		if err != nil {
			fmt.Fprintf(c.out, "unknown command %q (try \"help\")\n", line)
			return false
		}
		if err := c.remote.Do(action); err != nil {
			fmt.Fprintf(c.out, "%s: %s\n", action, ble.Reason(err))
		}
	}
	return false
}

func (c *console) printStatus() {
	st := c.link.Status().Get()
	s := c.link.Stats()
	mode := "manual"
	if c.remote.AutoMode() {
		mode = "auto"
	}
	fmt.Fprintf(c.out, "status:   %s\n", st)
	fmt.Fprintf(c.out, "distance: %.1f cm\n", c.link.Distance().Get())
	fmt.Fprintf(c.out, "mode:     %s\n", mode)
	fmt.Fprintf(c.out, "commands: %d sent, %d failed, %d rejected\n", s.CommandsSent, s.CommandsFailed, s.CommandsRejected)
	fmt.Fprintf(c.out, "readings: %d decoded, %d dropped\n", s.Readings, s.ReadingsDropped)
}

var _ link = (*ble.Controller)(nil)
