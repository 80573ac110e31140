// Package server tracks which users are currently online as a
// reference-counted view of the hub's session bindings.
package server

import (
	"sort"
	"sync"
)

// PresenceTracker maintains the set of userIds bound to at least one open
// session. A user may hold several sessions at once, so membership is
// reference counted: a user goes offline only when their last session closes.
type PresenceTracker struct {
	mu       sync.Mutex
	sessions map[string]int
}

// NewPresenceTracker creates an empty presence tracker.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		sessions: make(map[string]int),
	}
}

// MarkOnline records one more session for the user and reports whether the
// user just transitioned from offline to online.
func (p *PresenceTracker) MarkOnline(userID string) bool {
	if userID == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions[userID]++
	return p.sessions[userID] == 1
}

// MarkOffline records one fewer session for the user and reports whether the
// user just transitioned from online to offline. Calling it for a user with
// no recorded sessions is a no-op.
func (p *PresenceTracker) MarkOffline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	count, ok := p.sessions[userID]
	if !ok {
		return false
	}
	if count <= 1 {
		delete(p.sessions, userID)
		return true
	}
	p.sessions[userID] = count - 1
	return false
}

// Online reports whether the user currently has at least one session.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sessions[userID] > 0
}

// Snapshot returns the current members sorted lexicographically, so every
// recipient of the same presence broadcast sees the same list.
func (p *PresenceTracker) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]string, 0, len(p.sessions))
	for userID := range p.sessions {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}
