package scheduler

import (
	"sync"
	"time"
)

// State is the scheduler's memory between ticks. The process creates one and
// passes it to every Tick; it is safe for concurrent use.
type State struct {
	mu                sync.Mutex
	running           bool
	lastSync          time.Time
	lastSubscriptions time.Time
	ticks             int64
}

func NewState() *State {
	return &State{}
}

// begin marks a tick as running. It returns false if one already is.
func (s *State) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.ticks++
	return true
}

func (s *State) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// syncDue reports whether a sync sweep should run at now.
func (s *State) syncDue(now time.Time, every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync.IsZero() || now.Sub(s.lastSync) >= every
}

func (s *State) markSync(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = now
}

func (s *State) subscriptionsDue(now time.Time, every time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSubscriptions.IsZero() || now.Sub(s.lastSubscriptions) >= every
}

func (s *State) markSubscriptions(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSubscriptions = now
}

// Snapshot is a read-only copy of State for health output and tests.
type Snapshot struct {
	Running           bool      `json:"running"`
	Ticks             int64     `json:"ticks"`
	LastSync          time.Time `json:"last_sync"`
	LastSubscriptions time.Time `json:"last_subscriptions"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:           s.running,
		Ticks:             s.ticks,
		LastSync:          s.lastSync,
		LastSubscriptions: s.lastSubscriptions,
	}
}
