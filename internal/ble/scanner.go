package ble

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultNamePattern is matched case-insensitively against advertised names.
const DefaultNamePattern = "netcfg"

// DefaultScanTimeout is the scan window used when the caller has no preference.
const DefaultScanTimeout = 5 * time.Second

// advertMarker flags a NETCFG device inside manufacturer data.
var advertMarker = []byte{0xAB, 0x0A}

// scanStopGrace bounds how long Scan waits for the adapter to wind down
// after the scan window closes.
const scanStopGrace = 500 * time.Millisecond

// DeviceCandidate is a device found by a scan.
type DeviceCandidate struct {
	ID      string // adapter address
	Name    string
	RSSI    *int
	Matched bool // advertised name or data looks like a NETCFG device
}

// MatchFunc decides whether an advertisement looks like the expected device.
type MatchFunc func(Advertisement) bool

// NameMatcher matches advertisements whose name contains pattern
// (case-insensitive) or whose manufacturer or service data carries the
// NETCFG marker.
func NameMatcher(pattern string) MatchFunc {
	pattern = strings.ToLower(pattern)
	return func(adv Advertisement) bool {
		if pattern != "" && strings.Contains(strings.ToLower(adv.Name), pattern) {
			return true
		}
		return hasMarker(adv.ManufacturerData) || hasMarker(adv.ServiceData)
	}
}

func hasMarker(elements [][]byte) bool {
	for _, data := range elements {
		if bytes.Contains(data, advertMarker) {
			return true
		}
	}
	return false
}

// Scanner runs time-bounded discovery. Only one scan may run at a time.
type Scanner struct {
	adapter Adapter
	match   MatchFunc

	scanning atomic.Bool

	mu   sync.Mutex
	last map[string]DeviceCandidate // results of the most recent scan
}

// NewScanner creates a Scanner. A nil match uses NameMatcher(DefaultNamePattern).
func NewScanner(adapter Adapter, match MatchFunc) *Scanner {
	if match == nil {
		match = NameMatcher(DefaultNamePattern)
	}
	return &Scanner{
		adapter: adapter,
		match:   match,
		last:    make(map[string]DeviceCandidate),
	}
}

// Scan collects advertisements for up to timeout and returns one candidate
// per address, keeping the most recent RSSI sample. Finding nothing is not an
// error. Results are sorted strongest signal first.
func (s *Scanner) Scan(ctx context.Context, timeout time.Duration) ([]DeviceCandidate, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: scan timeout must be positive, got %s", ErrInvalidArgument, timeout)
	}
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	if err := s.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		closed bool
		found  = make(map[string]DeviceCandidate)
	)
	onReport := func(adv Advertisement) {
		if adv.Address == "" {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		prev, seen := found[adv.Address]
		c := DeviceCandidate{
			ID:      adv.Address,
			Name:    adv.Name,
			RSSI:    adv.RSSI,
			Matched: s.match(adv) || prev.Matched,
		}
		if c.Name == "" {
			c.Name = prev.Name
		}
		if c.RSSI == nil {
			c.RSSI = prev.RSSI
		}
		if !seen {
			slog.Debug("[BLE] discovered", "address", c.ID, "name", c.Name, "matched", c.Matched)
		}
		found[adv.Address] = c
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.adapter.Scan(scanCtx, onReport) }()

	var scanErr error
	select {
	case scanErr = <-errCh:
	case <-scanCtx.Done():
		select {
		case scanErr = <-errCh:
		case <-time.After(scanStopGrace):
			slog.Warn("[BLE] adapter did not stop scanning in time")
		}
	}

	mu.Lock()
	closed = true
	candidates := make([]DeviceCandidate, 0, len(found))
	for _, c := range found {
		candidates = append(candidates, c)
	}
	mu.Unlock()

	// An error after the window closed is just the adapter being stopped.
	if scanErr != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", scanErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortCandidates(candidates)

	s.mu.Lock()
	s.last = make(map[string]DeviceCandidate, len(candidates))
	for _, c := range candidates {
		s.last[c.ID] = c
	}
	s.mu.Unlock()

	slog.Info("[BLE] scan complete", "devices", len(candidates))
	return candidates, nil
}

// Lookup returns the candidate with the given address from the most recent scan.
func (s *Scanner) Lookup(id string) (DeviceCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.last[id]
	return c, ok
}

// sortCandidates orders by RSSI descending; unknown RSSI sorts last and ties
// fall back to address order so output is stable.
func sortCandidates(c []DeviceCandidate) {
	sort.Slice(c, func(i, j int) bool {
		ri, rj := c[i].RSSI, c[j].RSSI
		switch {
		case ri != nil && rj != nil && *ri != *rj:
			return *ri > *rj
		case ri != nil && rj == nil:
			return true
		case ri == nil && rj != nil:
			return false
		}
		return c[i].ID < c[j].ID
	})
}
