// Package ble drives the BLE link to the motor robot: it scans for the
// device by name, connects, resolves the command and distance
// characteristics, subscribes to distance notifications and sends motor
// commands. The platform radio is reached through the Adapter interface so
// that backends (tinygo, BlueZ) and test doubles can be swapped freely.
package ble

import (
	"context"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
)

// Profile names the device and the GATT attributes a session looks for.
type Profile struct {
	DeviceName   string
	ServiceUUID  string
	CommandUUID  string
	DistanceUUID string
}

// DefaultProfile returns the profile of the stock firmware.
func DefaultProfile() Profile {
	return Profile{
		DeviceName:   protocol.DeviceName,
		ServiceUUID:  protocol.ServiceUUID,
		CommandUUID:  protocol.CommandCharUUID,
		DistanceUUID: protocol.DistanceCharUUID,
	}
}

// Characteristic represents a resolved GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID in lower-case canonical form.
	UUID() string
	// Write sends data to the characteristic.
	Write(data []byte) error
	// SetNotifyHandler installs (or, with nil, removes) the local handler
	// for notifications. It does not talk to the peripheral.
	SetNotifyHandler(handler func(data []byte))
	// EnableNotifications writes the enable value to the characteristic's
	// configuration descriptor. Returns ErrDescriptorNotFound if the
	// characteristic has none.
	EnableNotifications() error
}

// Service represents a discovered GATT service.
type Service interface {
	// Characteristic looks up a characteristic of the service by UUID.
	// Returns ErrCharacteristicNotFound if it is absent.
	Characteristic(uuid string) (Characteristic, error)
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string // platform address; a CoreBluetooth UUID on macOS
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverService finds a primary service by UUID. Returns
	// ErrServiceNotFound if the peripheral does not expose it.
	DiscoverService(uuid string) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports every advertisement to onResult until ctx is cancelled
	// or StopScan is called.
	Scan(ctx context.Context, onResult func(Device)) error
	// StopScan ends a running Scan.
	StopScan() error
	// Connect establishes a connection to the given device.
	Connect(ctx context.Context, device Device) (Connection, error)
}
