// Package connectivity watches network reachability and reports transitions
// from offline to online.
package connectivity

import (
	"context"
	"log"
	"net"
	"sync"
	"time"
)

// State is the reachability as last observed.
type State int

const (
	Unknown State = iota
	Unreachable
	Reachable
)

func (s State) String() string {
	switch s {
	case Unreachable:
		return "unreachable"
	case Reachable:
		return "reachable"
	default:
		return "unknown"
	}
}

// ReachFunc reports whether the network is currently reachable.
type ReachFunc func(ctx context.Context) bool

// TCPReach returns a ReachFunc that dials address with the given timeout.
func TCPReach(address string, timeout time.Duration) ReachFunc {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// Monitor polls a ReachFunc on its own goroutine. OnReconnect fires once per
// Unreachable -> Reachable transition; the first observation never fires.
type Monitor struct {
	reach    ReachFunc
	interval time.Duration

	mu          sync.Mutex
	state       State
	onReconnect []func()
}

// NewMonitor creates a monitor polling reach every interval.
func NewMonitor(reach ReachFunc, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{reach: reach, interval: interval}
}

// OnReconnect registers fn to run after each transition to Reachable.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnect = append(m.onReconnect, fn)
}

// State returns the last observed state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check runs the reachability check once and applies the result.
func (m *Monitor) Check(ctx context.Context) {
	next := Unreachable
	if m.reach(ctx) {
		next = Reachable
	}
	m.observe(next)
}

func (m *Monitor) observe(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	var callbacks []func()
	if prev == Unreachable && next == Reachable {
		callbacks = append(callbacks, m.onReconnect...)
	}
	m.mu.Unlock()

	if prev != next && prev != Unknown {
		log.Printf("INFO: Network is now %s", next)
	}
	for _, fn := range callbacks {
		fn()
	}
}
