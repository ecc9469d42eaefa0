package web

import "sync"

// TrackerState holds the per-user mutable state that is not worth a database
// round-trip: the timestamp of the last accepted position and the pending
// sport mode toggles.
type TrackerState struct {
	mu         sync.Mutex
	lastUpdate map[int32]int64
	toggles    map[int32]bool
}

func NewTrackerState() *TrackerState {
	return &TrackerState{
		lastUpdate: make(map[int32]int64),
		toggles:    make(map[int32]bool),
	}
}

// RecentlyUpdated reports whether tm falls within one second of the last
// accepted position of the user.
func (t *TrackerState) RecentlyUpdated(user int32, tm int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastUpdate[user]
	if !ok {
		return false
	}
	return tm >= last-1000 && tm <= last+1000
}

func (t *TrackerState) SetLastUpdate(user int32, tm int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastUpdate[user] = tm
}

// RequestToggle marks the user so that the sport mode flag of their next
// position submission is inverted.
func (t *TrackerState) RequestToggle(user int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.toggles[user] = true
}

// ConsumeToggle clears a pending toggle and reports whether one was set.
func (t *TrackerState) ConsumeToggle(user int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.toggles[user] {
		delete(t.toggles, user)
		return true
	}
	return false
}

// SwitchingMode reports a pending toggle without clearing it.
func (t *TrackerState) SwitchingMode(user int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toggles[user]
}
