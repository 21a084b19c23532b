package ble

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ScannerOptions configures the device scanner.
type ScannerOptions struct {
	Timeout time.Duration // give up after this long; 0 scans until stopped
}

// DefaultScannerOptions returns sensible defaults.
func DefaultScannerOptions() ScannerOptions {
	return ScannerOptions{Timeout: 30 * time.Second}
}

// ScanResult is the single outcome of a scan: either the matching device
// or the reason the scan ended without one.
type ScanResult struct {
	Device Device
	Err    error
}

// Scanner looks for one device by exact advertised name.
type Scanner struct {
	adapter Adapter
	opts    ScannerOptions

	mu     sync.Mutex
	gen    uint64
	active bool
	cancel context.CancelFunc
	done   chan struct{} // closed when the latest adapter scan has returned
}

// scanExitWait bounds how long Stop and Start wait for a cancelled adapter
// scan to return.
const scanExitWait = 2 * time.Second

// NewScanner creates a scanner on the given adapter.
func NewScanner(adapter Adapter, opts ScannerOptions) *Scanner {
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	return &Scanner{adapter: adapter, opts: opts}
}

// Start scans for a device whose advertised name equals nameFilter
// (case-sensitive). report is called at most once: with the first match,
// after which scanning stops, or with a *ScanError if the radio fails or
// the timeout expires. Nothing is reported after Stop.
func (s *Scanner) Start(nameFilter string, report func(ScanResult)) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active {
		return ErrScanInProgress
	}
	// A scan that already reported may still be unwinding in the adapter.
	s.awaitExit()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrScanInProgress
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if s.opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.gen++
	s.active = true
	s.cancel = cancel

	slog.Info("[SCAN] scanning", "name", nameFilter, "timeout", s.opts.Timeout)
	done := make(chan struct{})
	s.done = done
	go s.run(ctx, s.gen, done, nameFilter, report)
	return nil
}

func (s *Scanner) run(ctx context.Context, gen uint64, done chan struct{}, nameFilter string, report func(ScanResult)) {
	err := s.adapter.Scan(ctx, func(d Device) {
		if d.Name != nameFilter {
			return
		}
		if !s.claim(gen) {
			return
		}
		slog.Info("[SCAN] device found", "name", d.Name, "mac", d.MAC, "rssi", d.RSSI)
		if err := s.adapter.StopScan(); err != nil {
			slog.Debug("[SCAN] stop scan", "error", err)
		}
		report(ScanResult{Device: d})
	})
	close(done)

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if !s.claim(gen) {
		return
	}
	switch {
	case timedOut:
		slog.Warn("[SCAN] no device found", "name", nameFilter, "timeout", s.opts.Timeout)
		report(ScanResult{Err: &ScanError{Err: ErrScanTimeout}})
	case err != nil:
		slog.Error("[SCAN] scan failed", "error", err)
		report(ScanResult{Err: &ScanError{Err: err}})
	default:
		// The radio ended the scan on its own.
		report(ScanResult{Err: &ScanError{Err: errors.New("scan ended without a match")}})
	}
}

// claim ends scan generation gen and reports whether the caller won the
// right to deliver its result.
func (s *Scanner) claim(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.active {
		return false
	}
	s.active = false
	s.cancel()
	return true
}

// Stop cancels the current scan, if any, and waits for the adapter scan to
// return so that a new scan can start right away. It is safe to call
// multiple times.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.active {
		s.active = false
		s.cancel()
		slog.Info("[SCAN] scan stopped")
	}
	s.mu.Unlock()
	s.awaitExit()
}

// awaitExit waits, up to scanExitWait, for the latest adapter scan to
// return. It must not be called with s.mu held.
func (s *Scanner) awaitExit() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(scanExitWait):
		slog.Warn("[SCAN] adapter scan did not return", "waited", scanExitWait)
	}
}

// Scanning reports whether a scan is running.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
