// Package server contains the embedded unitdb-backed location store for
// single-host deployments that need durability without an external service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unit-io/unitdb"
)

// userRegistryTopic records every userId that owns a history, since unitdb
// has no way to enumerate topics on its own.
const userRegistryTopic = "users.registry"

// UnitDBStore implements LocationStore on an embedded unitdb database. Each
// user's history lives under its own topic; a registry topic lists the known
// userIds so GetAllLocations can find every history after a restart.
type UnitDBStore struct {
	db  *unitdb.DB
	seq atomic.Uint64

	mu    sync.RWMutex
	users map[string]struct{}
}

// storedSample wraps a sample with a write sequence number. Server timestamps
// have millisecond precision, so the sequence disambiguates samples written
// within the same millisecond.
type storedSample struct {
	LocationSample
	Seq uint64 `json:"seq"`
}

func locationTopic(userID string) []byte {
	return []byte(fmt.Sprintf("user.%s.location", userID))
}

// NewUnitDBStore opens (or creates) the database at path and loads the user
// registry. An open failure is returned so the caller can fail fast.
func NewUnitDBStore(path string) (*UnitDBStore, error) {
	db, err := unitdb.Open(path, unitdb.WithDefaultOptions(), unitdb.WithMutable())
	if err != nil {
		return nil, fmt.Errorf("open unitdb at %s: %w", path, err)
	}

	store := &UnitDBStore{
		db:    db,
		users: make(map[string]struct{}),
	}
	// Seeding from the clock keeps sequence numbers increasing across
	// restarts without having to scan every topic for the previous maximum.
	store.seq.Store(uint64(time.Now().UnixNano()))
	if err := store.loadRegistry(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *UnitDBStore) loadRegistry() error {
	entries, err := s.db.Get(unitdb.NewQuery([]byte(userRegistryTopic)))
	if err != nil {
		return fmt.Errorf("read user registry: %w", err)
	}
	for _, entry := range entries {
		s.users[string(entry)] = struct{}{}
	}
	return nil
}

// registerUser records a userId in the registry topic the first time it is seen.
func (s *UnitDBStore) registerUser(userID string) error {
	s.mu.RLock()
	_, known := s.users[userID]
	s.mu.RUnlock()
	if known {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.users[userID]; known {
		return nil
	}

	if err := s.db.Put([]byte(userRegistryTopic), []byte(userID)); err != nil {
		return fmt.Errorf("register user %s: %w", userID, err)
	}
	s.users[userID] = struct{}{}
	return nil
}

// AppendLocation writes the JSON-encoded sample under the user's topic.
func (s *UnitDBStore) AppendLocation(_ context.Context, userID string, sample LocationSample) error {
	if userID == "" {
		return fmt.Errorf("append location: empty userId")
	}

	payload, err := json.Marshal(storedSample{LocationSample: sample, Seq: s.seq.Add(1)})
	if err != nil {
		return fmt.Errorf("encode sample for %s: %w", userID, err)
	}

	if err := s.registerUser(userID); err != nil {
		return err
	}

	if err := s.db.Put(locationTopic(userID), payload); err != nil {
		return fmt.Errorf("put sample for %s: %w", userID, err)
	}
	return nil
}

// GetAllLocations reads every registered user's topic. unitdb does not
// guarantee retrieval order, so each history is sorted by its write sequence,
// which is assigned in append order.
func (s *UnitDBStore) GetAllLocations(_ context.Context) (map[string][]LocationSample, error) {
	s.mu.RLock()
	userIDs := make([]string, 0, len(s.users))
	for userID := range s.users {
		userIDs = append(userIDs, userID)
	}
	s.mu.RUnlock()

	result := make(map[string][]LocationSample, len(userIDs))
	for _, userID := range userIDs {
		entries, err := s.db.Get(unitdb.NewQuery(locationTopic(userID)))
		if err != nil {
			return nil, fmt.Errorf("get history for %s: %w", userID, err)
		}

		history, err := decodeStoredHistory(entries, userID)
		if err != nil {
			return nil, err
		}
		result[userID] = history
	}
	return result, nil
}

// decodeStoredHistory decodes raw topic entries and restores append order.
// Entries written before sequence numbers existed decode with Seq zero and
// fall back to timestamp order.
func decodeStoredHistory(entries [][]byte, userID string) ([]LocationSample, error) {
	records := make([]storedSample, 0, len(entries))
	for _, entry := range entries {
		var record storedSample
		if err := json.Unmarshal(entry, &record); err != nil {
			return nil, fmt.Errorf("decode sample for %s: %w", userID, err)
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Seq != records[j].Seq {
			return records[i].Seq < records[j].Seq
		}
		return records[i].Timestamp < records[j].Timestamp
	})

	history := make([]LocationSample, len(records))
	for i, record := range records {
		history[i] = record.LocationSample
	}
	return history, nil
}

// Close flushes and closes the underlying database.
func (s *UnitDBStore) Close() error {
	return s.db.Close()
}
