// Package bluez implements ble.Adapter directly on the BlueZ D-Bus API.
// It needs a running bluetooth.service and access to the system bus.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/chaz8081/motorlink/internal/ble"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	deviceIface        = "org.bluez.Device1"
	serviceIface       = "org.bluez.GattService1"
	charIface          = "org.bluez.GattCharacteristic1"
	propsIface         = "org.freedesktop.DBus.Properties"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsChanged       = propsIface + ".PropertiesChanged"
)

var errNotEnabled = errors.New("bluez: adapter not enabled")

// managedObjects is the reply of ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Adapter drives one local controller, such as hci0.
type Adapter struct {
	name         string
	path         dbus.ObjectPath
	pollInterval time.Duration

	mu   sync.Mutex
	bus  *dbus.Conn
	stop chan struct{} // closed by StopScan
}

// New returns an adapter for the named controller. The system bus is not
// touched until Enable.
func New(name string) *Adapter {
	if name == "" {
		name = "hci0"
	}
	return &Adapter{
		name:         name,
		path:         dbus.ObjectPath("/org/bluez/" + name),
		pollInterval: 250 * time.Millisecond,
	}
}

// Enable connects to the system bus and powers the controller on.
func (a *Adapter) Enable() error {
	// The shared system bus connection is never closed.
	bus, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("bluez: connect to system bus: %w", err)
	}

	powered, err := getProperty[bool](bus, a.path, adapterIface, "Powered")
	if err != nil {
		return fmt.Errorf("bluez: adapter %s: %w", a.name, err)
	}
	if !powered {
		slog.Info("[BLE] powering on adapter", "adapter", a.name)
		obj := bus.Object(busName, a.path)
		if err := obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
			return fmt.Errorf("bluez: power on %s: %w", a.name, err)
		}
	}

	a.mu.Lock()
	a.bus = bus
	a.mu.Unlock()
	return nil
}

func (a *Adapter) conn() (*dbus.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return nil, errNotEnabled
	}
	return a.bus, nil
}

// Scan runs LE discovery and reports every named device BlueZ knows about
// under this adapter until ctx ends or StopScan is called.
func (a *Adapter) Scan(ctx context.Context, onResult func(ble.Device)) error {
	bus, err := a.conn()
	if err != nil {
		return err
	}
	adapter := bus.Object(busName, a.path)

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if call := adapter.Call(adapterIface+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("bluez: set discovery filter: %w", call.Err)
	}
	if call := adapter.Call(adapterIface+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("bluez: start discovery: %w", call.Err)
	}
	defer adapter.Call(adapterIface+".StopDiscovery", 0)

	stop := make(chan struct{})
	a.mu.Lock()
	a.stop = stop
	a.mu.Unlock()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	// Cached devices show up here once BlueZ hears them advertise.
	reported := make(map[string]string) // address -> name
	for {
		objects, err := getManagedObjects(bus)
		if err != nil {
			return fmt.Errorf("bluez: list objects: %w", err)
		}
		for _, d := range devicesUnder(objects, a.path) {
			if reported[d.MAC] == d.Name {
				continue
			}
			reported[d.MAC] = d.Name
			onResult(d)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-ticker.C:
		}
	}
}

// StopScan ends a running Scan.
func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
	return nil
}

// Connect connects to d and waits for BlueZ to finish resolving its GATT
// services.
func (a *Adapter) Connect(ctx context.Context, d ble.Device) (ble.Connection, error) {
	bus, err := a.conn()
	if err != nil {
		return nil, err
	}
	path := devicePath(a.path, d.MAC)
	device := bus.Object(busName, path)

	c := newConnection(bus, path)
	if err := c.watch(); err != nil {
		return nil, err
	}

	if call := device.CallWithContext(ctx, deviceIface+".Connect", 0); call.Err != nil {
		c.unwatch()
		return nil, fmt.Errorf("bluez: connect %s: %w", d.MAC, call.Err)
	}
	if err := waitServicesResolved(ctx, bus, path); err != nil {
		c.unwatch()
		device.Call(deviceIface+".Disconnect", 0)
		return nil, err
	}
	slog.Debug("[BLE] services resolved", "path", path)
	return c, nil
}

// Compile-time check that Adapter implements ble.Adapter.
var _ ble.Adapter = (*Adapter)(nil)

func waitServicesResolved(ctx context.Context, bus *dbus.Conn, path dbus.ObjectPath) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		resolved, err := getProperty[bool](bus, path, deviceIface, "ServicesResolved")
		if err == nil && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bluez: wait for services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// --- helpers ---

// devicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func devicePath(adapter dbus.ObjectPath, mac string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(mac), ":", "_"))
}

func getManagedObjects(bus *dbus.Conn) (managedObjects, error) {
	var objects managedObjects
	if err := bus.Object(busName, "/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}

// getProperty reads a property from a BlueZ object.
func getProperty[T any](bus *dbus.Conn, path dbus.ObjectPath, iface, prop string) (T, error) {
	var zero T
	v, err := bus.Object(busName, path).GetProperty(iface + "." + prop)
	if err != nil {
		return zero, err
	}
	val, ok := v.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, prop, v.Value())
	}
	return val, nil
}

// devicesUnder lists the named devices below adapter that are advertising
// now. BlueZ keeps devices it has seen before in its object tree, but only
// carries an RSSI for those heard during the current discovery.
func devicesUnder(objects managedObjects, adapter dbus.ObjectPath) []ble.Device {
	prefix := string(adapter) + "/"
	var devices []ble.Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		addr, _ := props["Address"].Value().(string)
		name, _ := props["Name"].Value().(string)
		if addr == "" || name == "" {
			continue
		}
		rssi, ok := props["RSSI"].Value().(int16)
		if !ok {
			continue
		}
		devices = append(devices, ble.Device{Name: name, MAC: addr, RSSI: int(rssi)})
	}
	return devices
}

// findByUUID returns the object below parent that implements iface and
// whose UUID property equals want.
func findByUUID(objects managedObjects, parent dbus.ObjectPath, iface, want string) (dbus.ObjectPath, bool) {
	prefix := string(parent) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[iface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		id, _ := props["UUID"].Value().(string)
		if sameUUID(id, want) {
			return path, true
		}
	}
	return "", false
}

func sameUUID(a, b string) bool {
	ua, errA := uuid.Parse(a)
	ub, errB := uuid.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return ua == ub
}

// errorName returns the D-Bus error name carried by err, if any.
func errorName(err error) string {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name
	}
	var perr *dbus.Error
	if errors.As(err, &perr) {
		return perr.Name
	}
	return ""
}
