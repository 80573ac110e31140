// Package integration contains integration tests for the location relay.
//
// These tests verify that multiple components work together correctly by
// testing the complete system behavior with real HTTP servers, WebSocket
// connections, and end-to-end protocol flows.
package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gkaragoz/gps-tracker-server/internal/server"
	"github.com/gkaragoz/gps-tracker-server/test/testhelpers"
	"github.com/gorilla/websocket"
)

// relay bundles one fully wired relay instance for a test: its store, hub,
// and HTTP test server.
type relay struct {
	store      *server.MemoryStore
	hub        *server.Hub
	testServer *httptest.Server
	wsURL      string
}

func configureServerForTest(t *testing.T, baseURL string, customize func(cfg *server.Config)) {
	t.Helper()
	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{baseURL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})
}

func buildWebSocketURL(t *testing.T, baseURL string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// startRelay wires a complete relay backed by an in-memory store and tears
// it down when the test finishes.
func startRelay(t *testing.T, customize func(cfg *server.Config)) *relay {
	t.Helper()

	store := server.NewMemoryStore()
	hub := server.NewHub(store)
	server.StartHub(hub)

	mux := server.SetupRoutes(hub, store)
	testServer := httptest.NewServer(mux)

	t.Cleanup(func() {
		testServer.Close()
		if err := hub.Shutdown(2 * time.Second); err != nil {
			t.Logf("Hub shutdown: %v", err)
		}
	})

	configureServerForTest(t, testServer.URL, customize)

	return &relay{
		store:      store,
		hub:        hub,
		testServer: testServer,
		wsURL:      buildWebSocketURL(t, testServer.URL),
	}
}

// dial opens a session against the relay and drains the join envelopes so
// the caller only sees subsequent broadcasts.
func (r *relay) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, err := testhelpers.ConnectWebSocket(r.wsURL, r.testServer.URL)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	testhelpers.DrainJoinEnvelopes(t, conn)
	return conn
}

// TestWebSocketEndpointIntegration tests the WebSocket endpoint with full
// server integration: handshake, join envelopes, and method validation.
func TestWebSocketEndpointIntegration(t *testing.T) {
	r := startRelay(t, nil)

	t.Run("Successful connection receives join envelopes", func(t *testing.T) {
		conn, err := testhelpers.ConnectWebSocket(r.wsURL, r.testServer.URL)
		if err != nil {
			t.Fatalf("Failed to connect to WebSocket: %v", err)
		}
		defer func() { _ = conn.Close() }()

		first := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if first.Type != "initialData" {
			t.Errorf("Expected initialData first, got %s", first.Type)
		}
		if locations := testhelpers.DecodeLocationMap(t, first.Data); len(locations) != 0 {
			t.Errorf("Expected empty initial snapshot, got %v", locations)
		}

		second := testhelpers.ReadEnvelope(t, conn, 2*time.Second)
		if second.Type != "updateOnlineUsers" {
			t.Errorf("Expected updateOnlineUsers second, got %s", second.Type)
		}
		if users := testhelpers.DecodeUserList(t, second.Data); len(users) != 0 {
			t.Errorf("Expected no online users yet, got %v", users)
		}
	})

	t.Run("Invalid HTTP method", func(t *testing.T) {
		resp, err := http.Post(r.testServer.URL+"/ws", "text/plain", strings.NewReader("test"))
		if err != nil {
			t.Fatalf("Failed to make POST request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
	})

	t.Run("GET without WebSocket headers", func(t *testing.T) {
		resp, err := http.Get(r.testServer.URL + "/ws")
		if err != nil {
			t.Fatalf("Failed to make GET request: %v", err)
		}
		defer func() { _ = resp.Body.Close() }()

		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
	})
}

// TestLocationUpdateFlow runs the canonical scenario: one client sends a
// position, the presence list and the full aggregate are broadcast, and the
// store retains the sample with a server-assigned timestamp.
func TestLocationUpdateFlow(t *testing.T) {
	r := startRelay(t, nil)
	conn := r.dial(t)

	if err := testhelpers.SendLocation(conn, "u1", 37.7, -122.4); err != nil {
		t.Fatalf("Failed to send location: %v", err)
	}

	presence := testhelpers.WaitForEnvelope(t, conn, "updateOnlineUsers", 2*time.Second)
	if users := testhelpers.DecodeUserList(t, presence.Data); len(users) != 1 || users[0] != "u1" {
		t.Errorf("Online users = %v, want [u1]", users)
	}

	update := testhelpers.WaitForEnvelope(t, conn, "updateMap", 2*time.Second)
	locations := testhelpers.DecodeLocationMap(t, update.Data)
	history := locations["u1"]
	if len(history) != 1 {
		t.Fatalf("Expected one sample for u1, got %d", len(history))
	}
	if history[0]["latitude"] != 37.7 || history[0]["longitude"] != -122.4 {
		t.Errorf("Broadcast sample does not match input: %v", history[0])
	}
	if ts, _ := history[0]["timestamp"].(string); ts == "" {
		t.Error("Broadcast sample is missing a server-assigned timestamp")
	}

	stored, err := r.store.GetAllLocations(context.Background())
	if err != nil {
		t.Fatalf("GetAllLocations failed: %v", err)
	}
	if len(stored["u1"]) != 1 {
		t.Errorf("Store has %d samples for u1, want 1", len(stored["u1"]))
	}
}

// TestInvalidMessagesDropped verifies the silent-drop contract: malformed
// JSON and updates missing required fields change nothing and broadcast
// nothing.
func TestInvalidMessagesDropped(t *testing.T) {
	r := startRelay(t, nil)
	conn := r.dial(t)

	payloads := [][]byte{
		[]byte(`{bad`),
		[]byte(`{"latitude":37.7,"longitude":-122.4}`),
		[]byte(`{"userId":"","latitude":37.7,"longitude":-122.4}`),
		[]byte(`{"userId":"u1","longitude":-122.4}`),
	}
	for _, payload := range payloads {
		if err := testhelpers.SendRawMessage(conn, websocket.TextMessage, payload); err != nil {
			t.Fatalf("Failed to send payload %s: %v", payload, err)
		}
	}

	testhelpers.ExpectNoEnvelope(t, conn, 300*time.Millisecond)

	stored, err := r.store.GetAllLocations(context.Background())
	if err != nil {
		t.Fatalf("GetAllLocations failed: %v", err)
	}
	if len(stored) != 0 {
		t.Errorf("Store should be untouched by invalid messages, got %v", stored)
	}
	if users := r.hub.Presence().Snapshot(); len(users) != 0 {
		t.Errorf("Presence should be untouched by invalid messages, got %v", users)
	}
}

// TestZeroCoordinatesAccepted verifies that latitude/longitude 0 is treated
// as a real position, not a missing field.
func TestZeroCoordinatesAccepted(t *testing.T) {
	r := startRelay(t, nil)
	conn := r.dial(t)

	if err := testhelpers.SendLocation(conn, "null-island", 0, 0); err != nil {
		t.Fatalf("Failed to send location: %v", err)
	}

	update := testhelpers.WaitForEnvelope(t, conn, "updateMap", 2*time.Second)
	locations := testhelpers.DecodeLocationMap(t, update.Data)
	if len(locations["null-island"]) != 1 {
		t.Fatalf("Expected zero-coordinate update to be stored and broadcast, got %v", locations)
	}
}

// TestInitialDataIncludesExistingHistories verifies that a late joiner
// receives everything stored so far plus the current online list.
func TestInitialDataIncludesExistingHistories(t *testing.T) {
	r := startRelay(t, nil)

	first := r.dial(t)
	if err := testhelpers.SendLocation(first, "u1", 37.7, -122.4); err != nil {
		t.Fatalf("Failed to send location: %v", err)
	}
	testhelpers.WaitForEnvelope(t, first, "updateMap", 2*time.Second)

	late, err := testhelpers.ConnectWebSocket(r.wsURL, r.testServer.URL)
	if err != nil {
		t.Fatalf("Failed to connect late client: %v", err)
	}
	defer func() { _ = late.Close() }()

	snapshot := testhelpers.ReadEnvelope(t, late, 2*time.Second)
	if snapshot.Type != "initialData" {
		t.Fatalf("Expected initialData, got %s", snapshot.Type)
	}
	locations := testhelpers.DecodeLocationMap(t, snapshot.Data)
	if len(locations["u1"]) != 1 {
		t.Errorf("Late joiner snapshot missing u1 history: %v", locations)
	}

	online := testhelpers.ReadEnvelope(t, late, 2*time.Second)
	if online.Type != "updateOnlineUsers" {
		t.Fatalf("Expected updateOnlineUsers, got %s", online.Type)
	}
	if users := testhelpers.DecodeUserList(t, online.Data); len(users) != 1 || users[0] != "u1" {
		t.Errorf("Late joiner online list = %v, want [u1]", users)
	}
}

// TestRepeatedUpdatesAccumulateHistory verifies that N accepted updates from
// one user produce exactly N stored samples in arrival order.
func TestRepeatedUpdatesAccumulateHistory(t *testing.T) {
	r := startRelay(t, nil)
	conn := r.dial(t)

	const n = 4
	for i := 0; i < n; i++ {
		if err := testhelpers.SendLocation(conn, "u1", float64(i), float64(-i)); err != nil {
			t.Fatalf("Failed to send location %d: %v", i, err)
		}
		testhelpers.WaitForEnvelope(t, conn, "updateMap", 2*time.Second)
	}

	stored, err := r.store.GetAllLocations(context.Background())
	if err != nil {
		t.Fatalf("GetAllLocations failed: %v", err)
	}
	history := stored["u1"]
	if len(history) != n {
		t.Fatalf("Expected %d samples, got %d", n, len(history))
	}
	for i, sample := range history {
		if sample.Latitude != float64(i) {
			t.Errorf("Sample %d out of arrival order: %+v", i, sample)
		}
	}
}
