package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
	"github.com/chaz8081/motorlink/internal/observe"
)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	Profile Profile
	Scan    ScannerOptions
	Session SessionOptions
}

// DefaultControllerOptions returns options for the stock robot firmware.
func DefaultControllerOptions() ControllerOptions {
	return ControllerOptions{
		Profile: DefaultProfile(),
		Scan:    DefaultScannerOptions(),
		Session: DefaultSessionOptions(),
	}
}

// Controller is the entry point used by the user interface. It runs a scan
// for the configured device name, hands the match to a new Session and
// publishes one merged status plus the latest distance reading.
//
// Each Start begins a new generation; scanner and session callbacks from an
// older generation are discarded.
type Controller struct {
	adapter  Adapter
	opts     ControllerOptions
	scanner  *Scanner
	stats    Stats
	status   *observe.Value[Status]
	distance *observe.Value[float32]

	opMu sync.Mutex // serializes Start and Stop

	mu      sync.Mutex
	gen     uint64
	session *Session
	enabled bool
}

// NewController creates an idle controller on adapter.
func NewController(adapter Adapter, opts ControllerOptions) *Controller {
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}
	return &Controller{
		adapter:  adapter,
		opts:     opts,
		scanner:  NewScanner(adapter, opts.Scan),
		status:   observe.New(Status{State: StateIdle}),
		distance: observe.New[float32](0),
	}
}

// Start begins a new connection attempt. It does nothing while an attempt
// is already scanning, connecting or ready. Otherwise any previous session
// is torn down, the status resets to Idle with a zero reading, and scanning
// starts. The returned error only covers failing to start; later failures
// are reported through Status.
func (c *Controller) Start() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if st := c.status.Get(); st.State.Active() {
		slog.Debug("[BLE] start ignored", "state", st.State)
		return nil
	}

	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.session
	c.session = nil
	c.mu.Unlock()

	c.scanner.Stop()
	if old != nil {
		old.Close()
	}
	c.publish(gen, Status{State: StateIdle}, true)

	if !c.enabled {
		if err := c.adapter.Enable(); err != nil {
			err = &ScanError{Err: fmt.Errorf("enable adapter: %w", err)}
			slog.Error("[BLE] adapter unavailable", "error", err)
			c.publish(gen, Status{State: StateFailed, Err: err}, false)
			return err
		}
		c.enabled = true
	}

	c.publish(gen, Status{State: StateScanning}, false)
	err := c.scanner.Start(c.opts.Profile.DeviceName, func(r ScanResult) {
		c.onScanResult(gen, r)
	})
	if err != nil {
		err = &ScanError{Err: err}
		c.publish(gen, Status{State: StateFailed, Err: err}, false)
		return err
	}
	return nil
}

// Stop ends the current attempt, if any, and leaves the controller
// Disconnected with a zero reading. It is safe to call from any state and
// more than once.
func (c *Controller) Stop() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	s := c.session
	c.session = nil
	c.mu.Unlock()

	c.scanner.Stop()
	if s != nil {
		s.Close()
	}
	c.publish(gen, Status{State: StateDisconnected}, true)
}

// SendCommand forwards cmd to the device. It returns ErrNotReady unless the
// link is Ready.
func (c *Controller) SendCommand(cmd protocol.Command) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		if !cmd.Valid() {
			return fmt.Errorf("ble: send: %w: %v", protocol.ErrUnknownCommand, cmd)
		}
		c.stats.rejected.Add(1)
		slog.Warn("[BLE] command dropped, not connected", "command", cmd, "state", c.status.Get().State)
		return ErrNotReady
	}
	return s.SendCommand(cmd)
}

// Status publishes the connection status.
func (c *Controller) Status() observe.Reader[Status] { return c.status }

// Distance publishes the latest distance in centimetres; 0 when there is no
// reading.
func (c *Controller) Distance() observe.Reader[float32] { return c.distance }

// Stats returns the traffic counters across all sessions.
func (c *Controller) Stats() StatsSnapshot { return c.stats.Snapshot() }

// Device returns the device of the current session, if there is one.
func (c *Controller) Device() (Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Device{}, false
	}
	return c.session.Device(), true
}

func (c *Controller) onScanResult(gen uint64, r ScanResult) {
	if r.Err != nil {
		c.publish(gen, Status{State: StateFailed, Err: r.Err}, false)
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		slog.Debug("[BLE] discarding stale scan result", "mac", r.Device.MAC)
		return
	}
	opts := c.opts.Session
	opts.Profile = c.opts.Profile
	opts.Stats = &c.stats
	s := NewSession(c.adapter, r.Device, opts, &sessionObserver{c: c, gen: gen})
	c.session = s
	c.mu.Unlock()

	s.Open()
}

// publish sets the status, and optionally clears the reading, if gen is
// still current.
func (c *Controller) publish(gen uint64, st Status, clearReading bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.status.Set(st)
	if clearReading {
		c.distance.Set(0)
	}
}

// sessionObserver relays one session's updates into the controller.
type sessionObserver struct {
	c   *Controller
	gen uint64
}

func (o *sessionObserver) OnState(state State, err error) {
	o.c.publish(o.gen, Status{State: state, Err: err}, false)
}

func (o *sessionObserver) OnReading(distance float32) {
	o.c.mu.Lock()
	defer o.c.mu.Unlock()
	if o.gen != o.c.gen {
		return
	}
	o.c.distance.Set(distance)
}
