package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"consy/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Client frame types.
const (
	FrameJoinChat         = "join-chat"
	FrameLeaveChat        = "leave-chat"
	FrameTyping           = "typing"
	FrameStopTyping       = "stop-typing"
	FrameMessageDelivered = "message-delivered"
)

// Upgrader accepts websocket connections from any origin; the HTTP layer
// authenticates the request before upgrading.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is a message sent by a client
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type roomPayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	FriendID  string `json:"friendId"`
	MessageID string `json:"messageId"`
}

// Client is one websocket connection. identity is fixed at attach time;
// userID and rooms belong to the hub goroutine.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity string
	userID   string
	rooms    map[string]bool
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("user_id", c.identity).Debug("websocket read failed")
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.reject("Malformed frame")
			continue
		}
		sig, errMsg := c.parse(frame)
		if errMsg != "" {
			c.reject(errMsg)
			continue
		}

		select {
		case c.hub.signals <- sig:
		case <-c.hub.done:
			return
		}
	}
}

// parse validates a frame and turns it into a hub signal.
func (c *Client) parse(frame Frame) (signal, string) {
	var kind signalKind
	switch frame.Type {
	case FrameJoinChat:
		kind = joinRoom
	case FrameLeaveChat:
		kind = leaveRoom
	case FrameTyping:
		kind = startTyping
	case FrameStopTyping:
		kind = stopTyping
	case FrameMessageDelivered:
		kind = markDelivered
	default:
		return signal{}, "Unknown frame type"
	}

	var p roomPayload
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return signal{}, "Malformed payload"
		}
	}
	if p.RoomID == "" || p.UserID == "" {
		return signal{}, "Missing roomId or userId"
	}
	if c.identity != "" && p.UserID != c.identity {
		return signal{}, "Forbidden"
	}
	if kind == joinRoom && (p.FriendID == "" || chat.RoomID(p.UserID, p.FriendID) != p.RoomID) {
		return signal{}, "Room does not match participants"
	}
	if kind == markDelivered && p.MessageID == "" {
		return signal{}, "Missing messageId"
	}
	return signal{kind: kind, client: c, room: p.RoomID, userID: p.UserID, messageID: p.MessageID}, ""
}

// reject reports a bad frame to the client. It goes through the hub so
// that only Run writes to c.send.
func (c *Client) reject(msg string) {
	select {
	case c.hub.signals <- signal{kind: rejectFrame, client: c, message: msg}:
	case <-c.hub.done:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
