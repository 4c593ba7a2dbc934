// Package realtime delivers events to connected websocket clients, scoped
// to a chat room or broadcast to everyone.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"consy/events"
)

// ConnObserver is told when clients come and go
type ConnObserver interface {
	ClientConnected()
	ClientDisconnected()
}

type delivery struct {
	room    string
	data    []byte
	exclude *Client
}

type signalKind int

const (
	joinRoom signalKind = iota
	leaveRoom
	startTyping
	stopTyping
	markDelivered
	rejectFrame
)

// signal is a room operation requested by a client frame.
type signal struct {
	kind      signalKind
	client    *Client
	room      string
	userID    string
	messageID string
	message   string
}

// Hub maintains the set of active clients and their rooms. All maps are
// mutated only by Run; mu lets other goroutines read presence.
type Hub struct {
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool
	online  map[string]int
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	signals    chan signal
	broadcast  chan delivery
	done       chan struct{}

	log      logrus.FieldLogger
	observer ConnObserver
}

// NewHub creates a hub. Call Run before publishing.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		online:     make(map[string]int),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		signals:    make(chan signal),
		broadcast:  make(chan delivery, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// SetObserver registers a connection observer. Must be called before Run.
func (h *Hub) SetObserver(o ConnObserver) {
	h.observer = o
}

// Run serves the hub until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			h.drop(c)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}
			h.log.WithField("user_id", c.userID).Debug("client connected")
			if c.userID != "" {
				h.markOnline(c.userID, true)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			known := h.clients[c]
			var wentOffline string
			if known {
				if c.userID != "" && h.online[c.userID] == 1 {
					wentOffline = c.userID
				}
				h.drop(c)
			}
			h.mu.Unlock()
			if known {
				h.log.WithField("user_id", c.userID).Debug("client disconnected")
			}
			if wentOffline != "" {
				h.deliver(delivery{data: h.encode(presence(wentOffline, false))})
			}

		case sig := <-h.signals:
			h.applySignal(sig)

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// drop removes c from every index. Callers hold mu.
func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	if c.userID != "" {
		if h.online[c.userID]--; h.online[c.userID] <= 0 {
			delete(h.online, c.userID)
		}
	}
	close(c.send)
	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) markOnline(userID string, announce bool) {
	h.mu.Lock()
	h.online[userID]++
	first := h.online[userID] == 1
	h.mu.Unlock()
	if first && announce {
		h.deliver(delivery{data: h.encode(presence(userID, true))})
	}
}

func presence(userID string, online bool) events.Event {
	return events.Event{
		Type: events.PresenceChanged,
		Payload: map[string]interface{}{
			"userId": userID,
			"online": online,
		},
	}
}

func (h *Hub) applySignal(sig signal) {
	c := sig.client
	if !h.clients[c] {
		return
	}

	var typ string
	switch sig.kind {
	case rejectFrame:
		h.sendError(c, sig.message)
		return

	case joinRoom:
		if c.userID == "" && sig.userID != "" {
			// Unauthenticated sockets take the identity of their first join.
			c.userID = sig.userID
			h.markOnline(sig.userID, true)
		}
		h.mu.Lock()
		if h.rooms[sig.room] == nil {
			h.rooms[sig.room] = make(map[*Client]bool)
		}
		h.rooms[sig.room][c] = true
		c.rooms[sig.room] = true
		h.mu.Unlock()
		typ = events.UserJoined

	case leaveRoom:
		if !c.rooms[sig.room] {
			return
		}
		h.mu.Lock()
		h.leaveLocked(c, sig.room)
		h.mu.Unlock()
		typ = events.UserLeft

	case startTyping, stopTyping:
		if !c.rooms[sig.room] {
			h.sendError(c, "Join the chat first")
			return
		}
		typ = events.FriendTyping
		if sig.kind == stopTyping {
			typ = events.FriendStoppedTyping
		}

	case markDelivered:
		// Delivery receipts are relayed to the room and never stored.
		if !c.rooms[sig.room] {
			h.sendError(c, "Join the chat first")
			return
		}
		h.deliver(delivery{
			room:    sig.room,
			exclude: c,
			data: h.encode(events.Event{
				Type: events.MessageDelivered,
				Room: sig.room,
				Payload: map[string]string{
					"messageId": sig.messageID,
					"roomId":    sig.room,
				},
			}),
		})
		return
	}

	h.deliver(delivery{
		room:    sig.room,
		exclude: c,
		data:    h.encode(roomSignal(typ, sig.room, sig.userID)),
	})
}

// sendError queues an error frame for one client. Run goroutine only.
func (h *Hub) sendError(c *Client, msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	data := h.encode(errorEvent(msg))
	select {
	case c.send <- data:
	default:
		h.drop(c)
	}
}

func errorEvent(msg string) events.Event {
	return events.Event{Type: events.Error, Payload: map[string]string{"message": msg}}
}

func roomSignal(typ, room, userID string) events.Event {
	return events.Event{
		Type: typ,
		Room: room,
		Payload: map[string]string{
			"roomId": room,
			"userId": userID,
		},
	}
}

// deliver queues data on every target client. A client whose queue is full
// is too slow to keep up and gets disconnected.
func (h *Hub) deliver(d delivery) {
	if d.data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := h.clients
	if d.room != "" {
		targets = h.rooms[d.room]
	}
	for c := range targets {
		if c == d.exclude {
			continue
		}
		select {
		case c.send <- d.data:
		default:
			h.log.WithField("user_id", c.userID).Warn("dropping slow client")
			h.drop(c)
		}
	}
}

func (h *Hub) encode(ev events.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).WithField("type", ev.Type).Error("failed to encode event")
		return nil
	}
	return data
}

// Publish delivers ev to the clients in its room, or to every client when
// the event is global.
func (h *Hub) Publish(ctx context.Context, ev events.Event) {
	h.send(ctx, delivery{room: ev.Room, data: h.encode(ev)})
}

func (h *Hub) send(ctx context.Context, d delivery) {
	if d.data == nil {
		return
	}
	select {
	case h.broadcast <- d:
	case <-h.done:
	case <-ctx.Done():
		h.log.WithError(ctx.Err()).Warn("event not delivered")
	}
}

// IsOnline reports whether userID has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online[userID] > 0
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Attach registers an upgraded connection and starts its pumps. userID is
// the authenticated identity of the socket, or empty.
func (h *Hub) Attach(conn *websocket.Conn, userID string) {
	c := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		identity: userID,
		userID:   userID,
		rooms:    make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
