package ble

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrScanTimeout            = errors.New("ble: scan timed out")
	ErrScanInProgress         = errors.New("ble: scan already in progress")
	ErrServiceNotFound        = errors.New("ble: service not found")
	ErrCharacteristicNotFound = errors.New("ble: characteristic not found")
	ErrDescriptorNotFound     = errors.New("ble: notification descriptor not found")
	ErrNotifySetupFailed      = errors.New("ble: notification setup failed")
	ErrNotReady               = errors.New("ble: not ready")
	ErrSpontaneousDisconnect  = errors.New("ble: device disconnected")
)

// ScanError reports a failure of the radio while scanning.
type ScanError struct {
	Err error
}

func (e *ScanError) Error() string { return "ble: scan failed: " + e.Err.Error() }
func (e *ScanError) Unwrap() error { return e.Err }

// ConnectError reports a failure to open the link to the device.
type ConnectError struct {
	Device Device
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ble: connect to %s: %v", e.Device.MAC, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CharacteristicNotFoundError reports that the service lacks one of the
// characteristics a session needs. Role is "command" or "distance".
type CharacteristicNotFoundError struct {
	Role string
	UUID string
	Err  error
}

func (e *CharacteristicNotFoundError) Error() string {
	return fmt.Sprintf("ble: %s characteristic %s not found", e.Role, e.UUID)
}

func (e *CharacteristicNotFoundError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCharacteristicNotFound) hold whatever the
// underlying platform error was.
func (e *CharacteristicNotFoundError) Is(target error) bool {
	return target == ErrCharacteristicNotFound
}

// Reason renders err for display, without the package prefix.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "ble: ")
}
