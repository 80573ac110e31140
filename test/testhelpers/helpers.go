// Package testhelpers provides common utilities and helper functions for
// testing the location relay server.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: creating test servers, dialing WebSocket sessions,
// sending location updates, and reading the tagged envelopes the server
// broadcasts.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope mirrors the outbound message format for assertions without
// depending on the server's concrete data types.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket creates a WebSocket connection to the specified URL using
// the given origin header. It returns the connection or an error.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendLocation sends a location update for userID over the connection.
func SendLocation(conn *websocket.Conn, userID string, latitude, longitude float64) error {
	update := map[string]any{
		"userId":    userID,
		"latitude":  latitude,
		"longitude": longitude,
	}
	return conn.WriteJSON(update)
}

// SendRawMessage sends a raw byte message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// ReadEnvelope reads the next outbound envelope from the connection,
// failing the test if nothing arrives before the timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}

	var envelope Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	return envelope
}

// WaitForEnvelope reads envelopes until one with the wanted type arrives,
// failing the test if it does not show up before the timeout.
func WaitForEnvelope(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) Envelope {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %s envelope", wantType)
		}
		envelope := ReadEnvelope(t, conn, remaining)
		if envelope.Type == wantType {
			return envelope
		}
	}
}

// DrainJoinEnvelopes consumes the initialData and updateOnlineUsers
// envelopes every session receives on connect, so tests can assert on the
// broadcasts that follow.
func DrainJoinEnvelopes(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	first := ReadEnvelope(t, conn, 2*time.Second)
	if first.Type != "initialData" {
		t.Fatalf("Expected initialData as first envelope, got %s", first.Type)
	}
	second := ReadEnvelope(t, conn, 2*time.Second)
	if second.Type != "updateOnlineUsers" {
		t.Fatalf("Expected updateOnlineUsers after initialData, got %s", second.Type)
	}
}

// DecodeLocationMap decodes envelope data shaped as userId -> samples.
func DecodeLocationMap(t *testing.T, data json.RawMessage) map[string][]map[string]any {
	t.Helper()

	var decoded map[string][]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode location map: %v", err)
	}
	return decoded
}

// DecodeUserList decodes envelope data shaped as a list of userIds.
func DecodeUserList(t *testing.T, data json.RawMessage) []string {
	t.Helper()

	var decoded []string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode user list: %v", err)
	}
	return decoded
}

// ExpectNoEnvelope asserts that nothing arrives on the connection before the
// timeout elapses.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no envelope, but received: %s", payload)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// CreateLocationJSON builds a raw location update payload.
func CreateLocationJSON(userID string, latitude, longitude float64) []byte {
	return fmt.Appendf(nil, `{"userId":%q,"latitude":%g,"longitude":%g}`, userID, latitude, longitude)
}
