// Package server declares the location history contract consumed by the hub
// and provides the in-memory reference implementation.
package server

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// timestampLayout matches the ISO-8601 format with millisecond precision
// that clients of this protocol already parse.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// serverTimestamp returns the current time formatted for a LocationSample.
func serverTimestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// LocationStore is the durable append-only history of location samples,
// keyed by userId. The hub only ever appends and reads; nothing in this
// server deletes or edits stored samples.
//
// All implementations must be safe for concurrent use. Both operations may
// block on I/O and may fail independently of message validity; callers must
// treat a failure as a logged, recoverable condition rather than a reason to
// drop the connection or the process.
type LocationStore interface {
	// AppendLocation adds a sample to the end of the user's history,
	// creating the history if the user is new.
	AppendLocation(ctx context.Context, userID string, sample LocationSample) error

	// GetAllLocations returns every user's full history in append order.
	// Calling it twice with no intervening append returns equal results.
	GetAllLocations(ctx context.Context) (map[string][]LocationSample, error)
}

// MemoryStore implements LocationStore with a mutex-guarded map. It backs
// the "memory" store backend and the test suite.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string][]LocationSample
}

// NewMemoryStore creates an empty in-memory location store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string][]LocationSample),
	}
}

// AppendLocation adds the sample to the end of the user's history.
func (m *MemoryStore) AppendLocation(_ context.Context, userID string, sample LocationSample) error {
	if userID == "" {
		return fmt.Errorf("append location: empty userId")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.locations[userID] = append(m.locations[userID], sample)
	return nil
}

// GetAllLocations returns a copy of every history so callers cannot mutate
// the stored slices.
func (m *MemoryStore) GetAllLocations(_ context.Context) (map[string][]LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]LocationSample, len(m.locations))
	for userID, history := range m.locations {
		copied := make([]LocationSample, len(history))
		copy(copied, history)
		result[userID] = copied
	}
	return result, nil
}
