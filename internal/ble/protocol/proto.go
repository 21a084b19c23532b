// Package protocol implements the wire format of the motor firmware's BLE
// service: single-byte ASCII motor commands going out and little-endian
// float32 distance readings coming back.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// DistancePayloadSize is the size of a distance notification in bytes.
const DistancePayloadSize = 4

var (
	// ErrMalformedPayload is returned when a notification does not have the
	// expected shape. Callers drop the notification and carry on.
	ErrMalformedPayload = errors.New("protocol: malformed payload")
	// ErrUnknownCommand is returned by ParseCommand for unrecognised input.
	ErrUnknownCommand = errors.New("protocol: unknown command")
)

// Command is a motor command. Its value is the ASCII byte sent on the wire.
type Command byte

const (
	CommandLeft    Command = 'L'
	CommandStop    Command = 'S'
	CommandRight   Command = 'R'
	CommandAutoOn  Command = 'A'
	CommandAutoOff Command = 'M' // "manual"
)

var commandNames = map[Command]string{
	CommandLeft:    "left",
	CommandStop:    "stop",
	CommandRight:   "right",
	CommandAutoOn:  "auto",
	CommandAutoOff: "manual",
}

// Valid reports whether c is one of the commands the firmware understands.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

// IsMotor reports whether c drives the motors directly (left, stop, right).
func (c Command) IsMotor() bool {
	return c == CommandLeft || c == CommandStop || c == CommandRight
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%#02x)", byte(c))
}

// ParseCommand accepts a command name ("left", "auto", ...) or its wire
// letter ("L", "a", ...). Matching is case-insensitive.
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	for c, name := range commandNames {
		if strings.EqualFold(s, name) || strings.EqualFold(s, string(rune(c))) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// EncodeCommand returns the one-byte write payload for c.
func EncodeCommand(c Command) []byte {
	return []byte{byte(c)}
}

// DecodeDistance decodes a distance notification: an IEEE-754 single
// precision float in little-endian byte order.
func DecodeDistance(data []byte) (float32, error) {
	if len(data) != DistancePayloadSize {
		return 0, fmt.Errorf("%w: distance is %d bytes, want %d", ErrMalformedPayload, len(data), DistancePayloadSize)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
}

// EncodeFloatLE is the inverse of DecodeDistance.
func EncodeFloatLE(v float32) []byte {
	buf := make([]byte, DistancePayloadSize)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}
