package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// SessionOptions configures a GATT session.
type SessionOptions struct {
	Profile        Profile
	ConnectTimeout time.Duration // bound on opening the link; 0 means none
	NotifySettle   time.Duration // pause before the descriptor write; 0 writes immediately
	Stats          *Stats        // optional; shared with the controller
}

// DefaultSessionOptions returns sensible defaults.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Profile:        DefaultProfile(),
		ConnectTimeout: 10 * time.Second,
		// Some radios reject the descriptor write if it follows discovery
		// too closely.
		NotifySettle: 800 * time.Millisecond,
	}
}

// SessionSink receives session updates. Calls are made in event order,
// never while the session lock is held.
type SessionSink interface {
	OnState(state State, err error)
	OnReading(distance float32)
}

// Session owns one connection attempt to one device: connect, discover
// the service, resolve the characteristics, enable distance notifications,
// then relay commands and readings until it ends. A Session is used once;
// after it reaches Failed or Disconnected every further event is ignored.
//
// Platform operations run on their own goroutines and report back through
// dispatch, which applies them one at a time against the current state.
type Session struct {
	adapter Adapter
	device  Device
	opts    SessionOptions
	sink    SessionSink
	out     emitter

	mu       sync.Mutex
	state    State
	err      error
	reading  float32
	cancel   context.CancelFunc
	conn     Connection
	command  Characteristic
	distance Characteristic
	settle   *time.Timer
}

// NewSession creates an idle session for device. sink may be nil.
func NewSession(adapter Adapter, device Device, opts SessionOptions, sink SessionSink) *Session {
	if opts.Profile == (Profile{}) {
		opts.Profile = DefaultProfile()
	}
	if opts.NotifySettle < 0 {
		opts.NotifySettle = 0
	}
	if opts.Stats == nil {
		opts.Stats = &Stats{}
	}
	return &Session{
		adapter: adapter,
		device:  device,
		opts:    opts,
		sink:    sink,
	}
}

// events delivered to dispatch
type (
	evConnected struct {
		conn Connection
		err  error
	}
	evServiceDiscovered struct {
		svc Service
		err error
	}
	evResolved struct {
		command  Characteristic
		distance Characteristic
		err      error
	}
	evSettled           struct{}
	evDescriptorWritten struct{ err error }
	evNotification      struct{ data []byte }
	evLinkLost          struct{}
	evClose             struct{}
)

// Open starts connecting. It returns immediately; progress is reported
// through the sink. Open does nothing unless the session is idle.
func (s *Session) Open() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	var ctx context.Context
	if s.opts.ConnectTimeout > 0 {
		ctx, s.cancel = context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	} else {
		ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.setStateLocked(StateConnecting, nil)
	s.mu.Unlock()
	s.out.flush()

	device := s.device
	go func() {
		conn, err := s.adapter.Connect(ctx, device)
		s.dispatch(evConnected{conn: conn, err: err})
	}()
}

// Close tears the session down from any state and leaves it Disconnected.
// It is safe to call multiple times.
func (s *Session) Close() {
	s.dispatch(evClose{})
}

// SendCommand writes cmd to the command characteristic. It fails with
// ErrNotReady unless the session is Ready. Commands are not queued, and a
// nil error only means the platform accepted the write, not that the
// device received it.
func (s *Session) SendCommand(cmd protocol.Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("ble: send: %w: %v", protocol.ErrUnknownCommand, cmd)
	}

	s.mu.Lock()
	state, char := s.state, s.command
	s.mu.Unlock()

	if state != StateReady {
		s.opts.Stats.rejected.Add(1)
		slog.Warn("[BLE] command dropped, not ready", "command", cmd, "state", state)
		return ErrNotReady
	}
	// The write may be a round trip to the platform; notifications keep
	// flowing meanwhile. A teardown racing it surfaces as a write error.
	if err := char.Write(protocol.EncodeCommand(cmd)); err != nil {
		s.opts.Stats.failed.Add(1)
		slog.Warn("[BLE] command write failed", "command", cmd, "error", err)
		return fmt.Errorf("ble: write %s: %w", cmd, err)
	}
	s.opts.Stats.sent.Add(1)
	slog.Debug("[BLE] command written", "command", cmd)
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns why the session ended, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reading returns the last decoded distance, or 0 if there is none.
func (s *Session) Reading() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reading
}

// Device returns the device this session is bound to.
func (s *Session) Device() Device {
	return s.device
}

// dispatch applies one event to the state machine.
func (s *Session) dispatch(ev any) {
	s.mu.Lock()
	handled := s.handleCommonLocked(ev)
	if !handled {
		switch s.state {
		case StateConnecting:
			handled = s.whileConnecting(ev)
		case StateDiscoveringServices:
			handled = s.whileDiscovering(ev)
		case StateResolvingCharacteristics:
			handled = s.whileResolving(ev)
		case StateSubscribingNotifications:
			handled = s.whileSubscribing(ev)
		case StateReady:
			handled = s.whileReady(ev)
		default:
			handled = s.whileEnded(ev)
		}
	}
	if !handled {
		slog.Debug("[BLE] ignoring event", "event", fmt.Sprintf("%T", ev), "state", s.state)
	}
	s.mu.Unlock()
	s.out.flush()
}

// handleCommonLocked handles the events every live state reacts to alike.
func (s *Session) handleCommonLocked(ev any) bool {
	if s.state.Terminal() {
		return false
	}
	switch ev.(type) {
	case evClose:
		slog.Info("[BLE] disconnecting", "mac", s.device.MAC, "state", s.state)
		s.teardownLocked(StateDisconnected, nil)
		return true
	case evLinkLost:
		if s.state == StateIdle {
			return false
		}
		slog.Warn("[BLE] link lost", "mac", s.device.MAC, "state", s.state)
		s.teardownLocked(StateDisconnected, ErrSpontaneousDisconnect)
		return true
	}
	return false
}

func (s *Session) whileConnecting(ev any) bool {
	e, ok := ev.(evConnected)
	if !ok {
		return false
	}
	if e.err != nil {
		slog.Error("[BLE] connect failed", "mac", s.device.MAC, "error", e.err)
		s.teardownLocked(StateFailed, &ConnectError{Device: s.device, Err: e.err})
		return true
	}

	s.conn = e.conn
	conn := e.conn
	conn.OnDisconnect(func() {
		// May be invoked from inside a platform call made under s.mu.
		go s.dispatch(evLinkLost{})
	})
	slog.Info("[BLE] connected, discovering services", "mac", s.device.MAC)
	s.setStateLocked(StateDiscoveringServices, nil)

	serviceUUID := s.opts.Profile.ServiceUUID
	go func() {
		svc, err := conn.DiscoverService(serviceUUID)
		s.dispatch(evServiceDiscovered{svc: svc, err: err})
	}()
	return true
}

func (s *Session) whileDiscovering(ev any) bool {
	e, ok := ev.(evServiceDiscovered)
	if !ok {
		return false
	}
	if e.err != nil || e.svc == nil {
		err := e.err
		switch {
		case err == nil:
			err = ErrServiceNotFound
		case !errors.Is(err, ErrServiceNotFound):
			err = fmt.Errorf("%w: %w", ErrServiceNotFound, err)
		}
		slog.Error("[BLE] service not found", "service", s.opts.Profile.ServiceUUID, "error", e.err)
		s.teardownLocked(StateFailed, err)
		return true
	}

	s.setStateLocked(StateResolvingCharacteristics, nil)
	p := s.opts.Profile
	svc := e.svc
	go func() {
		command, err := svc.Characteristic(p.CommandUUID)
		if err != nil || command == nil {
			s.dispatch(evResolved{err: &CharacteristicNotFoundError{Role: "command", UUID: p.CommandUUID, Err: err}})
			return
		}
		distance, err := svc.Characteristic(p.DistanceUUID)
		if err != nil || distance == nil {
			s.dispatch(evResolved{err: &CharacteristicNotFoundError{Role: "distance", UUID: p.DistanceUUID, Err: err}})
			return
		}
		s.dispatch(evResolved{command: command, distance: distance})
	}()
	return true
}

func (s *Session) whileResolving(ev any) bool {
	e, ok := ev.(evResolved)
	if !ok {
		return false
	}
	if e.err != nil {
		slog.Error("[BLE] characteristic not found", "error", e.err)
		s.teardownLocked(StateFailed, e.err)
		return true
	}

	s.command = e.command
	s.distance = e.distance
	slog.Info("[BLE] characteristics resolved, enabling notifications", "settle", s.opts.NotifySettle)
	s.setStateLocked(StateSubscribingNotifications, nil)

	s.distance.SetNotifyHandler(func(data []byte) {
		s.dispatch(evNotification{data: data})
	})
	s.settle = time.AfterFunc(s.opts.NotifySettle, func() {
		s.dispatch(evSettled{})
	})
	return true
}

func (s *Session) whileSubscribing(ev any) bool {
	switch e := ev.(type) {
	case evSettled:
		s.settle = nil
		distance := s.distance
		go func() {
			s.dispatch(evDescriptorWritten{err: distance.EnableNotifications()})
		}()
		return true
	case evDescriptorWritten:
		if e.err != nil {
			slog.Error("[BLE] enable notifications failed", "error", e.err)
			s.teardownLocked(StateFailed, fmt.Errorf("%w: %w", ErrNotifySetupFailed, e.err))
			return true
		}
		slog.Info("[BLE] ready", "mac", s.device.MAC)
		s.setStateLocked(StateReady, nil)
		return true
	}
	return false
}

func (s *Session) whileReady(ev any) bool {
	e, ok := ev.(evNotification)
	if !ok {
		return false
	}
	v, err := protocol.DecodeDistance(e.data)
	if err != nil {
		s.opts.Stats.dropped.Add(1)
		slog.Warn("[BLE] dropping notification", "error", err)
		return true
	}
	s.opts.Stats.readings.Add(1)
	s.reading = v
	slog.Debug("[BLE] distance", "cm", v)
	s.out.push(func() {
		if s.sink != nil {
			s.sink.OnReading(v)
		}
	})
	return true
}

// whileEnded handles events that arrive after the session is over (or
// before it started). Only a connection that completes after Close needs
// action: it is released at once.
func (s *Session) whileEnded(ev any) bool {
	e, ok := ev.(evConnected)
	if !ok || e.conn == nil {
		return false
	}
	slog.Debug("[BLE] releasing late connection", "mac", s.device.MAC)
	if err := e.conn.Disconnect(); err != nil {
		slog.Warn("[BLE] release late connection", "error", err)
	}
	return true
}

// teardownLocked releases everything the session holds and moves to a
// terminal state.
func (s *Session) teardownLocked(state State, err error) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	if s.distance != nil {
		s.distance.SetNotifyHandler(nil)
	}
	if s.conn != nil {
		if derr := s.conn.Disconnect(); derr != nil {
			slog.Warn("[BLE] disconnect", "mac", s.device.MAC, "error", derr)
		}
		s.conn = nil
	}
	s.command = nil
	s.distance = nil
	s.reading = 0
	s.setStateLocked(state, err)
	s.out.push(func() {
		if s.sink != nil {
			s.sink.OnReading(0)
		}
	})
}

func (s *Session) setStateLocked(state State, err error) {
	s.state = state
	s.err = err
	s.out.push(func() {
		if s.sink != nil {
			s.sink.OnState(state, err)
		}
	})
}

// emitter runs queued callbacks in order, outside the session lock. If a
// flush is already running on another goroutine, that goroutine delivers
// the newly queued callbacks too.
type emitter struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (e *emitter) push(f func()) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	e.mu.Unlock()
}

func (e *emitter) flush() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	for len(e.queue) > 0 {
		f := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		f()
		e.mu.Lock()
	}
	e.running = false
	e.mu.Unlock()
}
