package notify

import (
	"sync"
	"time"
)

// GateConfig bounds alert volume per server, independently of thresholds.
type GateConfig struct {
	// MinInterval is the minimum spacing between two dispatched alerts
	// for the same server.
	MinInterval time.Duration

	// MaxPerHour caps dispatched alerts per server in a trailing hour.
	MaxPerHour int
}

type gateState struct {
	lastSent time.Time
	hasSent  bool
	sent     []time.Time
}

// Gate is the per-server notification rate limiter. State is independent
// per server: one server's alert storm never silences another's alerts.
type Gate struct {
	mu     sync.Mutex
	clock  Clock
	cfg    GateConfig
	states map[string]*gateState
}

func NewGate(cfg GateConfig, clock Clock) *Gate {
	return &Gate{
		clock:  clock,
		cfg:    cfg,
		states: make(map[string]*gateState),
	}
}

// Allow reports whether a notification for the server may be dispatched
// now. It does not record anything: only MarkSent mutates gate state, so
// suppressed attempts never tighten the gate.
func (g *Gate) Allow(server string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[server]
	if !ok {
		return true
	}

	now := g.clock.Now()
	if st.hasSent && now.Sub(st.lastSent) < g.cfg.MinInterval {
		return false
	}

	hourAgo := now.Add(-time.Hour)
	recent := 0
	for _, ts := range st.sent {
		if ts.After(hourAgo) {
			recent++
		}
	}
	return recent < g.cfg.MaxPerHour
}

// MarkSent records a dispatched notification. Entries older than two hours
// are pruned; the extra hour beyond the rate window is retained only so
// recent history stays inspectable.
func (g *Gate) MarkSent(server string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[server]
	if !ok {
		st = &gateState{}
		g.states[server] = st
	}

	now := g.clock.Now()
	st.lastSent = now
	st.hasSent = true
	st.sent = append(st.sent, now)

	cutoff := now.Add(-2 * time.Hour)
	kept := st.sent[:0]
	for _, ts := range st.sent {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.sent = kept
}

// SentInLastHour returns the dispatched-alert count for a server in the
// trailing hour, for status display.
func (g *Gate) SentInLastHour(server string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[server]
	if !ok {
		return 0
	}

	hourAgo := g.clock.Now().Add(-time.Hour)
	count := 0
	for _, ts := range st.sent {
		if ts.After(hourAgo) {
			count++
		}
	}
	return count
}
