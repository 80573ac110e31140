// Package server defines the wire-level message types shared by the client
// and hub logic: inbound location updates and outbound broadcast envelopes.
package server

import "strings"

// LocationSample is a single stored position for a user. The timestamp is
// assigned by the server at append time (ISO-8601, UTC); client-supplied
// timestamps are ignored. Samples are immutable once stored and a user's
// history is ordered by append time.
type LocationSample struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Timestamp         string  `json:"timestamp"`
	SearchingAreaName string  `json:"searchingAreaName,omitempty"`
}

// LocationUpdate represents the V1 JSON message clients send over the
// WebSocket. Latitude and longitude are pointers so that an absent field can
// be told apart from a genuine zero coordinate: 0/0 is a valid position and
// must not be rejected.
type LocationUpdate struct {
	UserID            string   `json:"userId"`
	Latitude          *float64 `json:"latitude"`
	Longitude         *float64 `json:"longitude"`
	SearchingAreaName string   `json:"searchingAreaName,omitempty"`
}

// Valid reports whether the update carries every required field: a non-empty
// userId and both coordinates present.
func (u *LocationUpdate) Valid() bool {
	return u.UserID != "" && u.Latitude != nil && u.Longitude != nil
}

// Envelope type tags for outbound messages.
const (
	// EnvelopeInitialData carries the full aggregate snapshot sent to a
	// client when it connects.
	EnvelopeInitialData = "initialData"
	// EnvelopeUpdateMap carries the full aggregate snapshot broadcast to
	// every client after an accepted update.
	EnvelopeUpdateMap = "updateMap"
	// EnvelopeUpdateOnlineUsers carries the sorted list of userIds that are
	// currently online, broadcast whenever presence membership changes.
	EnvelopeUpdateOnlineUsers = "updateOnlineUsers"
)

// Envelope is the tagged outbound message format. Data is one of
// map[string][]LocationSample (initialData, updateMap) or []string
// (updateOnlineUsers).
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
