package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// TinyGoAdapter wraps tinygo-org/bluetooth: CoreBluetooth on macOS, BlueZ
// on Linux and WinRT on Windows.
// On macOS, device addresses are CoreBluetooth UUIDs (not MAC addresses).
// The MAC field of Device stores this UUID string.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter on the system default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports peripheral disconnects through the
	// adapter-level handler with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.lost()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, onResult func(Device)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		onResult(Device{
			Name: result.LocalName(),
			MAC:  result.Address.String(),
			RSSI: int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) StopScan() error {
	return a.adapter.StopScan()
}

func (a *TinyGoAdapter) Connect(ctx context.Context, d Device) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(d.MAC)

	// tinygo/bluetooth's Connect blocks with its own timeout; ctx only
	// bounds how long we wait for it.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// Release the link if it comes up after we stopped waiting.
		go func() {
			if r := <-ch; r.err == nil {
				r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		conn := &tinyGoConnection{device: &result.device}

		a.mu.Lock()
		a.connections[d.MAC] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device *bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverService(uuid string) (Service, error) {
	svcUUID, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, ErrServiceNotFound
	}
	return &tinyGoService{svc: &svcs[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *tinyGoConnection) lost() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoService struct {
	svc *bluetooth.DeviceService
}

func (s *tinyGoService) Characteristic(uuid string) (Characteristic, error) {
	charUUID, err := bluetooth.ParseUUID(uuid)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, ErrCharacteristicNotFound
	}
	return &tinyGoCharacteristic{char: &chars[0], uuid: uuid}, nil
}

type tinyGoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
	uuid string

	mu      sync.Mutex
	handler func([]byte)
}

func (c *tinyGoCharacteristic) UUID() string { return c.uuid }

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) SetNotifyHandler(h func([]byte)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// EnableNotifications subscribes through the platform, which writes
// protocol.EnableNotificationValue to the client configuration descriptor
// (protocol.CCCDUUID). Values are delivered to the handler set with
// SetNotifyHandler.
func (c *tinyGoCharacteristic) EnableNotifications() error {
	err := c.char.EnableNotifications(func(buf []byte) {
		// The platform may reuse buf after the callback returns.
		data := append([]byte(nil), buf...)
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			h(data)
		}
	})
	if err != nil {
		return fmt.Errorf("ble: enable notifications on %s: %w", c.uuid, err)
	}
	slog.Debug("[BLE] notifications enabled", "char", c.uuid,
		"descriptor", protocol.CCCDUUID, "value", fmt.Sprintf("% x", protocol.EnableNotificationValue))
	return nil
}
