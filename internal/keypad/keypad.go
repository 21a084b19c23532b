// Package keypad drives the robot from global key bindings using gohook.
// In "tap" mode each press sends its command. In "hold" mode the motors
// turn while a direction key is held and stop when it is released.
package keypad

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"

	"github.com/chaz8081/motorlink/internal/remote"
)

// Bindings names the key bound to each action, as gohook key names
// (e.g. "a", "left", "space").
type Bindings struct {
	Left  string
	Stop  string
	Right string
	Auto  string // toggles automatic mode
	Quit  string
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Action remote.Action
	Quit   bool
}

// Listener turns key presses into events.
type Listener struct {
	bindings Bindings
	mode     string // "tap" or "hold"
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener for the given bindings and mode.
func NewListener(bindings Bindings, mode string) *Listener {
	return &Listener{
		bindings: bindings,
		mode:     mode,
		ch:       make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Events returns the channel that receives key events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

type binding struct {
	key   string
	event Event
}

func (l *Listener) bindingList() []binding {
	b := l.bindings
	list := []binding{
		{b.Left, Event{Action: remote.ActionLeft}},
		{b.Stop, Event{Action: remote.ActionStop}},
		{b.Right, Event{Action: remote.ActionRight}},
		{b.Auto, Event{Action: remote.ActionToggleAuto}},
		{b.Quit, Event{Quit: true}},
	}
	out := list[:0]
	for _, kb := range list {
		if kb.key != "" {
			out = append(out, kb)
		}
	}
	return out
}

// Start registers the bindings and listens for keys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for _, kb := range l.bindingList() {
		ev := kb.event
		hook.Register(hook.KeyDown, []string{kb.key}, func(hook.Event) {
			l.keyDown(ev)
		})
		if l.mode == "hold" {
			hook.Register(hook.KeyUp, []string{kb.key}, func(hook.Event) {
				l.keyUp(ev)
			})
		}
	}
	slog.Info("[KEYS] listening", "mode", l.mode, "left", l.bindings.Left, "stop", l.bindings.Stop,
		"right", l.bindings.Right, "auto", l.bindings.Auto, "quit", l.bindings.Quit)

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) keyDown(ev Event) {
	l.emit(ev)
}

// keyUp stops the motors when a held direction key is released.
func (l *Listener) keyUp(ev Event) {
	if l.mode != "hold" {
		return
	}
	if ev.Action == remote.ActionLeft || ev.Action == remote.ActionRight {
		l.emit(Event{Action: remote.ActionStop})
	}
}

func (l *Listener) emit(ev Event) {
	select {
	case l.ch <- ev:
	default: // don't block the hook if nobody is reading
		slog.Debug("[KEYS] event dropped", "action", ev.Action, "quit", ev.Quit)
	}
}

// Stop terminates the listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
