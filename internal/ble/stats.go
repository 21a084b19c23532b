package ble

import "sync/atomic"

// Stats counts traffic on the link. Commands and notifications that are
// dropped are counted as well as logged.
type Stats struct {
	sent     atomic.Uint64
	failed   atomic.Uint64
	rejected atomic.Uint64
	readings atomic.Uint64
	dropped  atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	CommandsSent     uint64 // writes issued without a local error
	CommandsFailed   uint64 // writes the platform refused
	CommandsRejected uint64 // commands sent while not ready
	Readings         uint64 // distance notifications decoded
	ReadingsDropped  uint64 // malformed distance notifications
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		CommandsSent:     s.sent.Load(),
		CommandsFailed:   s.failed.Load(),
		CommandsRejected: s.rejected.Load(),
		Readings:         s.readings.Load(),
		ReadingsDropped:  s.dropped.Load(),
	}
}
