package ble

// State is the connection state of the link to the device.
//
// The non-terminal states are ordered: within one connection attempt the
// state only moves forward, or drops into Failed or Disconnected.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateResolvingCharacteristics
	StateSubscribingNotifications
	StateReady
	StateFailed
	StateDisconnected
)

var stateNames = []string{
	"idle",
	"scanning",
	"connecting",
	"discovering services",
	"resolving characteristics",
	"subscribing notifications",
	"ready",
	"failed",
	"disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// InProgress reports whether a connection attempt is under way but not yet
// ready.
func (s State) InProgress() bool {
	return s >= StateScanning && s < StateReady
}

// Active reports whether the state belongs to a live attempt (in progress
// or ready).
func (s State) Active() bool {
	return s >= StateScanning && s <= StateReady
}

// Terminal reports whether the attempt has ended.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateDisconnected
}

// Status is the externally visible connection status.
type Status struct {
	State State
	Err   error // why the attempt ended; nil unless Failed or Disconnected
}

// Reason returns a human-readable cause, or "" if there is none.
func (s Status) Reason() string {
	return Reason(s.Err)
}

func (s Status) String() string {
	switch {
	case s.State == StateIdle:
		return "not started"
	case s.State.InProgress():
		return s.State.String() + "..."
	case s.State == StateReady:
		return "ready"
	case s.Err != nil:
		return s.State.String() + ": " + s.Reason()
	default:
		return s.State.String()
	}
}
