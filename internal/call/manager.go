package call

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultInactivityTTL is how long an idle call state survives before the
// sweeper destroys it.
const defaultInactivityTTL = 30 * time.Minute

// Manager owns the live call states. It creates a [State] on the first
// inbound turn and destroys it on call end or after the inactivity TTL.
//
// All methods are safe for concurrent use; turn-level serialization per call
// remains the caller's responsibility.
type Manager struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	states map[string]*State
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithInactivityTTL overrides the idle lifetime of a call state.
func WithInactivityTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithManagerClock overrides the time source. For tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		ttl:    defaultInactivityTTL,
		now:    time.Now,
		states: make(map[string]*State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the state for callID, creating it if this is the first
// inbound turn. The state's activity timestamp is refreshed.
func (m *Manager) Acquire(callID, tenantID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[callID]
	if !ok {
		st = New(callID, tenantID)
		m.states[callID] = st
	}
	st.LastActivity = m.now()
	return st
}

// End destroys the state for callID. Safe to call for unknown calls.
func (m *Manager) End(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, callID)
}

// Len returns the number of live call states.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// Sweep destroys every state idle longer than the TTL and returns the number
// removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, st := range m.states {
		if st.LastActivity.Before(cutoff) {
			delete(m.states, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled. Call from a goroutine.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("call: swept idle call states", "removed", n)
			}
		}
	}
}
