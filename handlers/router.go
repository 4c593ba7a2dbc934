package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"consy/chat"
	"consy/feed"
	"consy/friends"
	"consy/metrics"
	"consy/middleware"
	"consy/reactions"
	"consy/realtime"
)

// Deps are the collaborators the HTTP surface is built from. Metrics,
// Identity and RateLimiter are optional.
type Deps struct {
	Friends     *friends.Service
	Chat        *chat.Service
	Feed        *feed.Service
	Reactions   *reactions.Engine
	Users       UserStore
	Hub         *realtime.Hub
	Metrics     *metrics.Metrics
	Identity    *middleware.Identity
	RateLimiter *middleware.RateLimiter
	Health      func(ctx context.Context) error
	Log         logrus.FieldLogger
}

// NewRouter wires every route behind the instrumentation, identity and rate
// limiting middleware, in that order.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	if d.Metrics != nil {
		r.Use(middleware.Instrument(d.Metrics, d.Log))
	}
	if d.Identity != nil {
		r.Use(d.Identity.Handler)
	}
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Handler)
	}

	r.HandleFunc("/healthz", healthz(d.Health)).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()

	fh := NewFriendsHandler(d.Friends)
	contact := api.PathPrefix("/contact").Subrouter()
	contact.HandleFunc("/send-request", fh.SendRequest).Methods(http.MethodPost)
	contact.HandleFunc("/accept-request", fh.AcceptRequest).Methods(http.MethodPost)
	contact.HandleFunc("/reject-request", fh.RejectRequest).Methods(http.MethodPost)
	contact.HandleFunc("/remove-friend", fh.RemoveFriend).Methods(http.MethodPost)
	contact.HandleFunc("/get-requests", fh.GetRequests).Methods(http.MethodPost)
	contact.HandleFunc("/sent-requests", fh.SentRequests).Methods(http.MethodPost)
	contact.HandleFunc("/friends", fh.GetFriends).Methods(http.MethodPost)
	contact.HandleFunc("/users-list", fh.UsersList).Methods(http.MethodPost)

	mh := NewMessagesHandler(d.Chat)
	messages := api.PathPrefix("/messages").Subrouter()
	messages.HandleFunc("/send-message", mh.SendMessage).Methods(http.MethodPost)
	messages.HandleFunc("/edit-message", mh.EditMessage).Methods(http.MethodPost)
	messages.HandleFunc("/delete-message", mh.DeleteMessage).Methods(http.MethodPost)
	messages.HandleFunc("/mark-read", mh.MarkRead).Methods(http.MethodPost)
	messages.HandleFunc("/mark-all-read", mh.MarkAllRead).Methods(http.MethodPost)
	messages.HandleFunc("/get-messages", mh.GetMessages).Methods(http.MethodPost)
	messages.HandleFunc("/get-last-message", mh.GetLastMessage).Methods(http.MethodPost)
	messages.HandleFunc("/get-unread-count", mh.GetUnreadCount).Methods(http.MethodPost)

	ph := NewPostsHandler(d.Feed, d.Reactions)
	api.HandleFunc("/posts", ph.CreatePost).Methods(http.MethodPost)
	api.HandleFunc("/posts", ph.ListPosts).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/comments", ph.CreateComment).Methods(http.MethodPost)
	api.HandleFunc("/posts/{id}/comments", ph.ListComments).Methods(http.MethodGet)
	api.HandleFunc("/comments/{id}/replies", ph.CreateReply).Methods(http.MethodPost)
	api.HandleFunc("/comments/{id}/replies", ph.ListReplies).Methods(http.MethodGet)
	api.HandleFunc("/react/like", ph.ToggleLike).Methods(http.MethodPost)

	var presence Presence
	if d.Hub != nil {
		presence = d.Hub
	}
	uh := NewUsersHandler(d.Users, presence, d.Log)
	api.HandleFunc("/users/{id}", uh.GetUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", uh.PutUser).Methods(http.MethodPut)

	if d.Hub != nil {
		r.Handle("/ws", NewWebSocketHandler(d.Hub, d.Log)).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"message": "Not found",
		})
	})
	return r
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
