package ble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// mockCharacteristic records writes and delivers simulated notifications.
type mockCharacteristic struct {
	uuid string

	mu          sync.Mutex
	writes      [][]byte
	writeErr    error
	writeGate   chan struct{} // if set, Write blocks until it is closed
	inWrite     bool
	handler     func([]byte)
	enableErr   error
	enableCalls int
}

func newMockCharacteristic(uuid string) *mockCharacteristic {
	return &mockCharacteristic{uuid: uuid}
}

func (c *mockCharacteristic) UUID() string { return c.uuid }

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	gate := c.writeGate
	c.inWrite = true
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inWrite = false
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) SetNotifyHandler(h func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *mockCharacteristic) EnableNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enableCalls++
	return c.enableErr
}

// SimulateNotification delivers data to the handler, if one is set.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *mockCharacteristic) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *mockCharacteristic) writing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inWrite
}

func (c *mockCharacteristic) hasHandler() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *mockCharacteristic) enabled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enableCalls
}

// mockService maps characteristic UUIDs to mocks.
type mockService struct {
	chars map[string]*mockCharacteristic
}

func newRobotService() *mockService {
	p := DefaultProfile()
	return &mockService{chars: map[string]*mockCharacteristic{
		p.CommandUUID:  newMockCharacteristic(p.CommandUUID),
		p.DistanceUUID: newMockCharacteristic(p.DistanceUUID),
	}}
}

func (s *mockService) Characteristic(uuid string) (Characteristic, error) {
	c, ok := s.chars[uuid]
	if !ok {
		return nil, ErrCharacteristicNotFound
	}
	return c, nil
}

func (s *mockService) command() *mockCharacteristic {
	return s.chars[protocol.CommandCharUUID]
}

func (s *mockService) distance() *mockCharacteristic {
	return s.chars[protocol.DistanceCharUUID]
}

// mockConnection simulates a link to the robot.
type mockConnection struct {
	service *mockService // nil: the service is missing

	// discoverGate, if set, blocks DiscoverService until it is closed.
	discoverGate chan struct{}

	mu           sync.Mutex
	disconnectCb func()
	disconnects  int
	discovering  bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{service: newRobotService()}
}

func (c *mockConnection) DiscoverService(uuid string) (Service, error) {
	c.mu.Lock()
	c.discovering = true
	c.mu.Unlock()
	if c.discoverGate != nil {
		<-c.discoverGate
	}
	if c.service == nil || uuid != protocol.ServiceUUID {
		return nil, ErrServiceNotFound
	}
	return c.service, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects > 0
}

func (c *mockConnection) inDiscovery() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovering
}

// errAlreadyScanning is what an exclusive mockAdapter returns for a second
// concurrent Scan.
var errAlreadyScanning = errors.New("bluetooth: already scanning")

// mockAdapter simulates the radio. Scan advertises devices in order and
// then keeps scanning until StopScan or ctx ends, unless scanErr is set.
type mockAdapter struct {
	devices    []Device
	enableErr  error
	scanErr    error
	connectErr error

	// exclusive allows one Scan at a time, and a cancelled Scan takes a
	// few milliseconds to return, like a real radio.
	exclusive bool
	// hangConnect makes Connect block until ctx ends.
	hangConnect bool

	// newConn, if set, builds each connection.
	newConn func() *mockConnection

	mu          sync.Mutex
	stop        chan struct{}
	stopped     bool
	scanning    bool
	connections []*mockConnection
	enables     int
	scans       int
}

func newMockAdapter(devices ...Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enables++
	return a.enableErr
}

func (a *mockAdapter) Scan(ctx context.Context, onResult func(Device)) error {
	stop := make(chan struct{})
	a.mu.Lock()
	if a.exclusive && a.scanning {
		a.mu.Unlock()
		return errAlreadyScanning
	}
	a.stop = stop
	a.stopped = false
	a.scanning = true
	a.scans++
	a.mu.Unlock()

	defer func() {
		if a.exclusive {
			time.Sleep(5 * time.Millisecond)
		}
		a.mu.Lock()
		a.scanning = false
		a.mu.Unlock()
	}()

	for _, d := range a.devices {
		onResult(d)
	}
	if a.scanErr != nil {
		return a.scanErr
	}
	select {
	case <-ctx.Done():
	case <-stop:
	}
	return nil
}

func (a *mockAdapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil && !a.stopped {
		close(a.stop)
		a.stopped = true
	}
	return nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ Device) (Connection, error) {
	if a.hangConnect {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := newMockConnection()
	if a.newConn != nil {
		conn = a.newConn()
	}
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection, or nil.
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

func (a *mockAdapter) connectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connections)
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// recordingSink collects session callbacks.
type recordingSink struct {
	mu       sync.Mutex
	states   []State
	errs     []error
	readings []float32
}

func (s *recordingSink) OnState(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
	s.errs = append(s.errs, err)
}

func (s *recordingSink) OnReading(v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, v)
}

func (s *recordingSink) stateLog() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

// last returns the most recent state, or StateIdle if there is none.
func (s *recordingSink) last() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return StateIdle
	}
	return s.states[len(s.states)-1]
}

func (s *recordingSink) readingLog() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.readings...)
}

var robot = Device{Name: protocol.DeviceName, MAC: "AA:BB:CC:DD:EE:FF", RSSI: -52}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
