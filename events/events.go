// Package events defines the notifications emitted after a successful write
// and the interface components use to publish them.
package events

import (
	"context"
	"sync"
)

// Persisted state changes.
const (
	FriendRequestAccepted = "friend-request-accepted"
	FriendRequestRejected = "friend-request-rejected"
	FriendRemoved         = "friend-removed"
	NewPost               = "new-post"
	NewComment            = "new-comment"
	NewReply              = "new-reply"
	PostLiked             = "post-liked"
	CommentLiked          = "comment-liked"
	ReplyLiked            = "reply-liked"
	ReceiveMessage        = "receive-message"
	MessageEdited         = "message-edited"
	MessageDeleted        = "message-deleted"
	MessageRead           = "message-read"
)

// Ephemeral presence signals. These are never persisted.
const (
	UserJoined          = "user-joined"
	UserLeft            = "user-left"
	FriendTyping        = "friend-typing"
	FriendStoppedTyping = "friend-stopped-typing"
	MessageDelivered    = "message-delivered"
	PresenceChanged     = "online-status"
	Error               = "error"
)

// Event is the envelope delivered to connected clients. An empty Room means
// the event is broadcast to every client.
type Event struct {
	Type    string      `json:"type"`
	Room    string      `json:"room,omitempty"`
	Payload interface{} `json:"payload"`
}

// Global reports whether the event is delivered to every client.
func (e Event) Global() bool {
	return e.Room == ""
}

// Publisher delivers events to connected clients
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event)

func (f PublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) {})

// Recorder keeps every published event in memory. It is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
