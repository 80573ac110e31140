// Package server implements the core WebSocket relay for real-time location
// sharing: session management, presence tracking, durable location history,
// and broadcast fan-out.
//
// The implementation is organized into specialized files for configuration,
// the hub, sessions, presence, store backends, routing, and HTTP handlers to
// keep the codebase maintainable and testable as the project grows.
package server
