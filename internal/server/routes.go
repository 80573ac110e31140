// Package server wires HTTP handlers into a ServeMux for the location relay
// via routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, stored-location dump, and the
// test page. Handlers that need the hub or store are bound here.
func SetupRoutes(hub *Hub, store LocationStore) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", NewWebSocketHandler(hub))
	mux.HandleFunc("/locations", NewLocationsHandler(store))
	mux.HandleFunc("/test", TestPageHandler)
	return mux
}
