// Package remote turns user intents into robot commands. It keeps the
// manual/automatic mode switch: while the robot drives itself, motor
// commands from the user are not sent.
package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chaz8081/motorlink/internal/ble/protocol"
	"github.com/chaz8081/motorlink/internal/observe"
)

// ErrNotMotorCommand is returned by Motor for commands that do not drive
// the motors.
var ErrNotMotorCommand = errors.New("remote: not a motor command")

// Sender is the link the remote writes commands to.
type Sender interface {
	SendCommand(cmd protocol.Command) error
}

// Action is a user intent coming from an input method.
type Action string

const (
	ActionLeft       Action = "left"
	ActionStop       Action = "stop"
	ActionRight      Action = "right"
	ActionAuto       Action = "auto"
	ActionManual     Action = "manual"
	ActionToggleAuto Action = "toggle"
)

// ParseAction parses an action name, case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionLeft, ActionStop, ActionRight, ActionAuto, ActionManual, ActionToggleAuto:
		return a, nil
	}
	return "", fmt.Errorf("remote: unknown action %q", s)
}

// Remote sends motor and mode commands through a Sender.
type Remote struct {
	sender Sender

	mu   sync.Mutex
	auto *observe.Value[bool]
}

// New creates a Remote in manual mode backed by the given sender.
// Panics if sender is nil (programmer error).
func New(sender Sender) *Remote {
	if sender == nil {
		panic("remote: New called with nil sender")
	}
	return &Remote{sender: sender, auto: observe.New(false)}
}

// Motor sends a left, stop or right command. In automatic mode the command
// is dropped and Motor returns nil.
func (r *Remote) Motor(cmd protocol.Command) error {
	if !cmd.IsMotor() {
		return fmt.Errorf("%w: %v", ErrNotMotorCommand, cmd)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auto.Get() {
		slog.Info("[REMOTE] motor command ignored in auto mode", "command", cmd)
		return nil
	}
	return r.sender.SendCommand(cmd)
}

// SetAutoMode records the mode switch and tells the robot about it. The
// switch is kept even if the command cannot be sent.
func (r *Remote) SetAutoMode(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.auto.Set(on)
	cmd := protocol.CommandAutoOff
	if on {
		cmd = protocol.CommandAutoOn
	}
	slog.Info("[REMOTE] mode changed", "auto", on)
	return r.sender.SendCommand(cmd)
}

// AutoMode reports whether automatic mode is on.
func (r *Remote) AutoMode() bool {
	return r.auto.Get()
}

// AutoModeUpdates publishes the mode switch.
func (r *Remote) AutoModeUpdates() observe.Reader[bool] {
	return r.auto
}

// Do performs an action.
func (r *Remote) Do(a Action) error {
	switch a {
	case ActionLeft:
		return r.Motor(protocol.CommandLeft)
	case ActionStop:
		return r.Motor(protocol.CommandStop)
	case ActionRight:
		return r.Motor(protocol.CommandRight)
	case ActionAuto:
		return r.SetAutoMode(true)
	case ActionManual:
		return r.SetAutoMode(false)
	case ActionToggleAuto:
		return r.SetAutoMode(!r.AutoMode())
	}
	return fmt.Errorf("remote: unknown action %q", a)
}
