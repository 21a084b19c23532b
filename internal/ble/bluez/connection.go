package bluez

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/chaz8081/motorlink/internal/ble"
	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// connection is a link to one device. PropertiesChanged signals below the
// device path are routed to the disconnect callback and to the notify
// handlers of resolved characteristics.
type connection struct {
	bus     *dbus.Conn
	path    dbus.ObjectPath
	rule    string
	signals chan *dbus.Signal

	stopOnce sync.Once
	done     chan struct{}

	mu           sync.Mutex
	onDisconnect func()
	lost         bool // link dropped before a callback was registered
	chars        map[dbus.ObjectPath]*characteristic
}

func newConnection(bus *dbus.Conn, path dbus.ObjectPath) *connection {
	return &connection{
		bus:   bus,
		path:  path,
		rule:  fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'", busName, propsIface, path),
		done:  make(chan struct{}),
		chars: make(map[dbus.ObjectPath]*characteristic),
	}
}

// watch subscribes to property changes of the device and its attributes.
func (c *connection) watch() error {
	if call := c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, c.rule); call.Err != nil {
		return fmt.Errorf("bluez: add signal match: %w", call.Err)
	}
	c.signals = make(chan *dbus.Signal, 64)
	c.bus.Signal(c.signals)

	go func() {
		for {
			select {
			case <-c.done:
				return
			case sig, ok := <-c.signals:
				if !ok {
					return
				}
				c.handleSignal(sig)
			}
		}
	}()
	return nil
}

// unwatch stops signal routing. It is safe to call more than once.
func (c *connection) unwatch() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.bus == nil {
			return
		}
		c.bus.RemoveSignal(c.signals)
		c.bus.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, c.rule)
	})
}

func (c *connection) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propsChanged || len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch {
	case sig.Path == c.path && iface == deviceIface:
		v, ok := changed["Connected"]
		if !ok {
			return
		}
		if connected, _ := v.Value().(bool); !connected {
			c.linkLost()
		}

	case iface == charIface:
		v, ok := changed["Value"]
		if !ok {
			return
		}
		data, ok := v.Value().([]byte)
		if !ok {
			return
		}
		c.mu.Lock()
		ch := c.chars[sig.Path]
		c.mu.Unlock()
		if ch != nil {
			ch.deliver(data)
		}
	}
}

func (c *connection) linkLost() {
	c.mu.Lock()
	cb := c.onDisconnect
	if cb == nil {
		c.lost = true
	}
	c.mu.Unlock()
	slog.Debug("[BLE] device reports disconnected", "path", c.path)
	if cb != nil {
		cb()
	}
}

func (c *connection) DiscoverService(id string) (ble.Service, error) {
	objects, err := getManagedObjects(c.bus)
	if err != nil {
		return nil, fmt.Errorf("bluez: list objects: %w", err)
	}
	path, ok := findByUUID(objects, c.path, serviceIface, id)
	if !ok {
		return nil, ble.ErrServiceNotFound
	}
	return &service{conn: c, path: path}, nil
}

func (c *connection) Disconnect() error {
	c.mu.Lock()
	var notifying []*characteristic
	for _, ch := range c.chars {
		if ch.notifying {
			notifying = append(notifying, ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range notifying {
		ch.obj().Call(charIface+".StopNotify", 0)
	}
	c.unwatch()

	if call := c.bus.Object(busName, c.path).Call(deviceIface+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("bluez: disconnect: %w", call.Err)
	}
	return nil
}

func (c *connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.onDisconnect = cb
	lost := c.lost
	c.mu.Unlock()
	if lost && cb != nil {
		go cb()
	}
}

type service struct {
	conn *connection
	path dbus.ObjectPath
}

func (s *service) Characteristic(id string) (ble.Characteristic, error) {
	objects, err := getManagedObjects(s.conn.bus)
	if err != nil {
		return nil, fmt.Errorf("bluez: list objects: %w", err)
	}
	path, ok := findByUUID(objects, s.path, charIface, id)
	if !ok {
		return nil, ble.ErrCharacteristicNotFound
	}

	ch := &characteristic{conn: s.conn, path: path, uuid: strings.ToLower(id)}
	s.conn.mu.Lock()
	s.conn.chars[path] = ch
	s.conn.mu.Unlock()
	return ch, nil
}

type characteristic struct {
	conn *connection
	path dbus.ObjectPath
	uuid string

	// guarded by conn.mu
	handler   func([]byte)
	notifying bool
}

func (ch *characteristic) obj() dbus.BusObject {
	return ch.conn.bus.Object(busName, ch.path)
}

func (ch *characteristic) UUID() string { return ch.uuid }

// Write sends data as a write command (without response).
func (ch *characteristic) Write(data []byte) error {
	call := ch.obj().Call(charIface+".WriteValue", 0, data, map[string]dbus.Variant{
		"type": dbus.MakeVariant("command"),
	})
	if call.Err != nil {
		return fmt.Errorf("bluez: write %s: %w", ch.uuid, call.Err)
	}
	return nil
}

func (ch *characteristic) SetNotifyHandler(h func([]byte)) {
	ch.conn.mu.Lock()
	ch.handler = h
	ch.conn.mu.Unlock()
}

// EnableNotifications asks BlueZ to start notifying. BlueZ keeps the client
// configuration descriptor (protocol.CCCDUUID) to itself and writes
// protocol.EnableNotificationValue to it on the device.
func (ch *characteristic) EnableNotifications() error {
	if call := ch.obj().Call(charIface+".StartNotify", 0); call.Err != nil {
		if errorName(call.Err) == "org.bluez.Error.NotSupported" {
			return fmt.Errorf("bluez: start notify %s: %w: %w", ch.uuid, ble.ErrDescriptorNotFound, call.Err)
		}
		return fmt.Errorf("bluez: start notify %s: %w", ch.uuid, call.Err)
	}
	ch.conn.mu.Lock()
	ch.notifying = true
	ch.conn.mu.Unlock()
	slog.Debug("[BLE] notifications enabled", "char", ch.uuid,
		"descriptor", protocol.CCCDUUID, "value", fmt.Sprintf("% x", protocol.EnableNotificationValue))
	return nil
}

func (ch *characteristic) deliver(data []byte) {
	ch.conn.mu.Lock()
	h := ch.handler
	ch.conn.mu.Unlock()
	if h != nil {
		h(append([]byte(nil), data...))
	}
}
