package notify

import (
	"sync"
	"time"
)

// Thresholds configures when recorded failures justify an alert.
type Thresholds struct {
	// ConsecutiveFailures is the consecutive-failure count at which
	// alerting is permitted.
	ConsecutiveFailures int

	// FailureRate is the rolling-window failure ratio (0..1) at which
	// alerting is permitted.
	FailureRate float64

	// RatePeriod is the rolling window over which FailureRate is
	// computed.
	RatePeriod time.Duration
}

// Evaluation is the tracker's verdict for one server.
type Evaluation struct {
	ConsecutiveExceeded bool
	ConsecutiveCount    int
	RateExceeded        bool
	FailureRate         float64
	ShouldNotify        bool
}

type observation struct {
	at      time.Time
	success bool
}

type trackerState struct {
	consecutive int
	window      []observation
}

// Tracker keeps per-server rolling failure state. All state is in-memory
// and keyed by server name; one tracker instance is owned by the
// coordinator, never ambient.
type Tracker struct {
	mu     sync.Mutex
	clock  Clock
	cfg    Thresholds
	states map[string]*trackerState
}

func NewTracker(cfg Thresholds, clock Clock) *Tracker {
	return &Tracker{
		clock:  clock,
		cfg:    cfg,
		states: make(map[string]*trackerState),
	}
}

// Record appends an outcome observation for the server and updates the
// consecutive-failure counter: failures increment it, a success resets it.
func (t *Tracker) Record(server string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.state(server)
	if success {
		st.consecutive = 0
	} else {
		st.consecutive++
	}
	t.observe(st, success)
}

// RecordSoft records a partial outcome: it counts as a failure sample in
// the rolling window but leaves the consecutive counter untouched, so
// recurring single-account glitches don't trip the consecutive threshold
// yet sustained degradation still trips the rate one.
func (t *Tracker) RecordSoft(server string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.observe(t.state(server), false)
}

// Evaluate computes the alerting verdict for a server. A server that was
// never recorded evaluates to all-zero, never blocking a first
// observation.
func (t *Tracker) Evaluate(server string) Evaluation {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[server]
	if !ok {
		return Evaluation{}
	}

	ev := Evaluation{
		ConsecutiveCount:    st.consecutive,
		ConsecutiveExceeded: st.consecutive >= t.cfg.ConsecutiveFailures,
	}

	if len(st.window) > 0 {
		failures := 0
		for _, obs := range st.window {
			if !obs.success {
				failures++
			}
		}
		ev.FailureRate = float64(failures) / float64(len(st.window))
		ev.RateExceeded = ev.FailureRate >= t.cfg.FailureRate
	}

	ev.ShouldNotify = ev.ConsecutiveExceeded || ev.RateExceeded
	return ev
}

// state returns the server's state, creating it on first observation.
// Callers hold t.mu.
func (t *Tracker) state(server string) *trackerState {
	st, ok := t.states[server]
	if !ok {
		st = &trackerState{}
		t.states[server] = st
	}
	return st
}

// observe appends to the rolling window and prunes entries older than the
// rate period. Callers hold t.mu.
func (t *Tracker) observe(st *trackerState, success bool) {
	now := t.clock.Now()
	st.window = append(st.window, observation{at: now, success: success})

	cutoff := now.Add(-t.cfg.RatePeriod)
	kept := st.window[:0]
	for _, obs := range st.window {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
		}
	}
	st.window = kept
}
