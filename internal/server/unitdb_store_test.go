package server

import (
	"encoding/json"
	"testing"
)

func encodeStoredSample(t *testing.T, seq uint64, timestamp string, lat float64) []byte {
	t.Helper()
	payload, err := json.Marshal(storedSample{
		LocationSample: LocationSample{Latitude: lat, Longitude: -lat, Timestamp: timestamp},
		Seq:            seq,
	})
	if err != nil {
		t.Fatalf("Failed to encode sample: %v", err)
	}
	return payload
}

// TestDecodeStoredHistoryOrdersBySequence verifies that samples sharing a
// millisecond timestamp come back in write order, whatever order the
// database returned them in.
func TestDecodeStoredHistoryOrdersBySequence(t *testing.T) {
	const sameMillisecond = "2026-08-30T12:00:00.000Z"
	entries := [][]byte{
		encodeStoredSample(t, 3, sameMillisecond, 3),
		encodeStoredSample(t, 1, sameMillisecond, 1),
		encodeStoredSample(t, 2, sameMillisecond, 2),
	}

	history, err := decodeStoredHistory(entries, "u1")
	if err != nil {
		t.Fatalf("decodeStoredHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(history))
	}
	for i, sample := range history {
		if want := float64(i + 1); sample.Latitude != want {
			t.Errorf("Sample %d has latitude %f, want %f", i, sample.Latitude, want)
		}
	}
}

// TestDecodeStoredHistoryLegacyEntries verifies that entries written without
// a sequence number still sort by timestamp and precede sequenced ones.
func TestDecodeStoredHistoryLegacyEntries(t *testing.T) {
	entries := [][]byte{
		encodeStoredSample(t, 10, "2026-08-30T12:00:02.000Z", 4),
		encodeStoredSample(t, 0, "2026-08-30T12:00:01.000Z", 2),
		encodeStoredSample(t, 0, "2026-08-30T12:00:00.000Z", 1),
		encodeStoredSample(t, 9, "2026-08-30T12:00:02.000Z", 3),
	}

	history, err := decodeStoredHistory(entries, "u1")
	if err != nil {
		t.Fatalf("decodeStoredHistory failed: %v", err)
	}
	for i, sample := range history {
		if want := float64(i + 1); sample.Latitude != want {
			t.Errorf("Sample %d has latitude %f, want %f", i, sample.Latitude, want)
		}
	}
}

// TestDecodeStoredHistoryRejectsGarbage verifies that a corrupt entry
// surfaces as an error instead of a partial history.
func TestDecodeStoredHistoryRejectsGarbage(t *testing.T) {
	entries := [][]byte{[]byte("not json")}
	if _, err := decodeStoredHistory(entries, "u1"); err == nil {
		t.Error("Expected an error for a corrupt entry")
	}
}
