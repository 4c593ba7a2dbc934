package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"consy/middleware"
	"consy/realtime"
)

// WebSocketHandler upgrades /ws connections and hands them to the hub
type WebSocketHandler struct {
	hub *realtime.Hub
	log logrus.FieldLogger
}

// NewWebSocketHandler creates the websocket endpoint
func NewWebSocketHandler(hub *realtime.Hub, log logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, log: log}
}

// ServeHTTP upgrades the request. The socket carries the authenticated
// identity when there is one; otherwise it takes the user of its first
// join-chat frame.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := realtime.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	userID := middleware.GetUserFromContext(r)
	h.log.WithField("user_id", userID).Debug("websocket connected")
	h.hub.Attach(conn, userID)
}
