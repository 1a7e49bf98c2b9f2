package ratelimit

import (
	"sync"
	"time"
)

// DefaultIdleTTL is how long a client's window survives without traffic
// before Sweep discards it.
const DefaultIdleTTL = 15 * time.Minute

// Limiter caps the rate of admitted requests per client identity to limit
// admissions within a rolling window. Each client carries the ordered
// timestamps of its admissions inside the trailing window; an admission
// attempt prunes stale timestamps, rejects when the window is full, and
// records the attempt only when it is allowed. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	idleTTL time.Duration
	clients map[string]*clientWindow
	now     func() time.Time
}

type clientWindow struct {
	admissions []time.Time
	lastSeen   time.Time
}

// New creates a Limiter allowing limit admissions per client per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		idleTTL: DefaultIdleTTL,
		clients: make(map[string]*clientWindow),
		now:     time.Now,
	}
}

// SetIdleTTL overrides how long inactive client windows are retained.
// Non-positive values keep the default.
func (l *Limiter) SetIdleTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	l.idleTTL = d
	l.mu.Unlock()
}

// Admit reports whether a request from clientID is allowed now. A rejected
// attempt is not recorded, so hammering a full window does not extend it.
// Unknown clients start with an empty window.
func (l *Limiter) Admit(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cw, ok := l.clients[clientID]
	if !ok {
		cw = &clientWindow{}
		l.clients[clientID] = cw
	}
	cw.lastSeen = now

	cw.admissions = pruneBefore(cw.admissions, now.Add(-l.window))
	if len(cw.admissions) >= l.limit {
		return false
	}
	cw.admissions = append(cw.admissions, now)
	return true
}

// Clients returns the number of tracked client windows, idle ones included
// until the next Sweep.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Sweep discards windows of clients not seen within the idle TTL. Run
// periodically so many distinct client identities do not grow memory without
// bound.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	for id, cw := range l.clients {
		if cw.lastSeen.Before(cutoff) {
			delete(l.clients, id)
		}
	}
}

// pruneBefore drops timestamps older than cutoff, keeping order. Timestamps
// are appended in time order, so a single scan from the front suffices.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(times) && times[i].Before(cutoff); i++ {
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
