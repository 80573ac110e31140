// Package server coordinates session registration, location persistence, and
// broadcast fan-out for the location relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// SessionUpdate carries a validated location update from a client's read
// pump into the hub loop, together with the session it arrived on.
type SessionUpdate struct {
	Sender *Client
	Update LocationUpdate
}

// Hub owns the set of live sessions, the connection-to-user bindings, and
// the broadcast protocol. All session and presence mutation happens inside
// the Run loop, so a store append and the aggregate read-back that follows
// it are atomic with respect to every other update.
type Hub struct {
	clients    map[*Client]bool
	updates    chan SessionUpdate
	register   chan *Client
	unregister chan *Client
	store      LocationStore
	presence   *PresenceTracker
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub backed by the given location store. The returned Hub
// is ready to manage WebSocket sessions once Run is started.
func NewHub(store LocationStore) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		updates:    make(chan SessionUpdate),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		store:      store,
		presence:   NewPresenceTracker(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for admitting new sessions.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for removing sessions.
// This channel is write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// GetUpdatesChan returns the channel that feeds validated location updates
// into the hub loop. This channel is write-only from the caller's perspective.
func (h *Hub) GetUpdatesChan() chan<- SessionUpdate {
	return h.updates
}

// Presence returns the hub's presence tracker.
func (h *Hub) Presence() *PresenceTracker {
	return h.presence
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	// Try to send the message (channel might be closed, so we need to recover from panic)
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session admission, removal,
// and location update processing. This method should be called in a separate
// goroutine as it runs indefinitely.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.admitClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case update := <-h.updates:
			h.handleUpdate(update)
		}
	}
}

// admitClient registers a new session, launches its pump goroutines, and
// pushes the current aggregate snapshot and presence list to it.
func (h *Hub) admitClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	log.Printf("Client registered from %s. Total clients: %d", client.addr, clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	h.sendInitialData(client)
}

// sendInitialData sends the full stored aggregate plus the current online
// list to a newly admitted session. A store failure here is logged and the
// session stays connected; it will catch up on the next broadcast.
func (h *Hub) sendInitialData(client *Client) {
	snapshot, err := h.store.GetAllLocations(h.ctx)
	if err != nil {
		log.Printf("Error fetching initial data for %s: %v", client.addr, err)
		return
	}

	h.sendEnvelope(client, Envelope{Type: EnvelopeInitialData, Data: snapshot})
	h.sendEnvelope(client, Envelope{Type: EnvelopeUpdateOnlineUsers, Data: h.presence.Snapshot()})
}

// removeClient deregisters a session and releases its presence binding. If
// this was the user's last session, the updated online list is broadcast.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	// Close the channel after releasing the lock
	close(client.send)
	log.Printf("Client unregistered from %s. Total clients: %d", client.addr, clientCount)

	if client.userID != "" && h.presence.MarkOffline(client.userID) {
		h.broadcastPresence()
	}
}

// handleUpdate runs the accepted-message protocol for one validated update:
// bind the session, append the sample, refresh presence, and broadcast the
// updated aggregate to every open session.
func (h *Hub) handleUpdate(update SessionUpdate) {
	client := update.Sender
	if client == nil {
		log.Printf("Received update with nil sender; skipping")
		return
	}

	h.mutex.RLock()
	_, registered := h.clients[client]
	h.mutex.RUnlock()
	if !registered {
		// The session was reaped while this update was in flight; accepting
		// it now would leave a presence entry nothing ever releases.
		log.Printf("Dropping update from removed session %s", client.addr)
		return
	}

	userID := update.Update.UserID
	if client.userID != "" && client.userID != userID {
		// A session speaks for exactly one user; the first valid message wins.
		log.Printf("Dropping update from %s: session is bound to %q, got %q", client.addr, client.userID, userID)
		return
	}

	// Presence follows the binding, not individual updates: one session
	// counts once, from its first valid message until it closes.
	if client.userID == "" {
		client.userID = userID
		if h.presence.MarkOnline(userID) {
			h.broadcastPresence()
		}
	}

	sample := LocationSample{
		Latitude:          *update.Update.Latitude,
		Longitude:         *update.Update.Longitude,
		Timestamp:         serverTimestamp(),
		SearchingAreaName: update.Update.SearchingAreaName,
	}

	if err := h.store.AppendLocation(h.ctx, userID, sample); err != nil {
		log.Printf("Error storing location for %s: %v", userID, err)
		return
	}

	log.Printf("Location from %s: %f, %f", userID, sample.Latitude, sample.Longitude)

	snapshot, err := h.store.GetAllLocations(h.ctx)
	if err != nil {
		log.Printf("Error reading aggregate after update from %s: %v", userID, err)
		return
	}

	h.broadcastEnvelope(Envelope{Type: EnvelopeUpdateMap, Data: snapshot})
}

// broadcastPresence sends the current online list to every open session.
func (h *Hub) broadcastPresence() {
	h.broadcastEnvelope(Envelope{Type: EnvelopeUpdateOnlineUsers, Data: h.presence.Snapshot()})
}

// sendEnvelope delivers an envelope to a single session, removing it on failure.
func (h *Hub) sendEnvelope(client *Client, envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Error encoding %s envelope: %v", envelope.Type, err)
		return
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
	}
}

// broadcastEnvelope serializes an envelope once and fans it out to every
// open session. Sessions that cannot accept the payload are reaped.
func (h *Hub) broadcastEnvelope(envelope Envelope) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Error encoding %s envelope: %v", envelope.Type, err)
		return
	}

	clients := h.getClientSnapshot()
	log.Printf("Broadcasting %s to %d clients", envelope.Type, len(clients))

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

// getClientSnapshot returns a thread-safe snapshot of all current sessions.
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes sessions whose sends failed and releases their
// presence bindings. A send failure is an implicit disconnect for that
// session only; the broadcast to the remaining sessions is unaffected.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var removed []*Client
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			removed = append(removed, client)
			channelsToClose = append(channelsToClose, client.send)
			log.Printf("Client from %s removed due to full send buffer", client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}

	presenceChanged := false
	for _, client := range removed {
		if client.userID != "" && h.presence.MarkOffline(client.userID) {
			presenceChanged = true
		}
	}
	if presenceChanged {
		h.broadcastPresence()
	}
}

// shutdownClients gracefully closes all active client connections and their
// send channels so both pump goroutines can exit promptly.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		client.closed = true
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
		close(client.send)
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
