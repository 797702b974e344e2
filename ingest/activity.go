package ingest

import (
	"sync"
	"time"
)

// Activity tracks the last time each open suite was heard from.
type Activity struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewActivity returns an empty tracker.
func NewActivity() *Activity {
	return &Activity{lastSeen: make(map[string]time.Time)}
}

// Touch records activity on a suite at t. Older readings never replace newer ones.
func (a *Activity) Touch(suiteID string, t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.lastSeen[suiteID]; ok && prev.After(t) {
		return
	}
	a.lastSeen[suiteID] = t
}

// Seed records t only if the suite has no reading yet.
func (a *Activity) Seed(suiteID string, t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.lastSeen[suiteID]; !ok {
		a.lastSeen[suiteID] = t
	}
}

// Forget stops tracking a suite.
func (a *Activity) Forget(suiteID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lastSeen, suiteID)
}

// LastSeen returns the last recorded activity of a suite.
func (a *Activity) LastSeen(suiteID string) (time.Time, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.lastSeen[suiteID]
	return t, ok
}

// Len reports how many suites are tracked.
func (a *Activity) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.lastSeen)
}

// IDs returns the tracked suite ids in no particular order.
func (a *Activity) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.lastSeen))
	for id := range a.lastSeen {
		ids = append(ids, id)
	}
	return ids
}
