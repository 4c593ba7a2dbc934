package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consy/chat"
	"consy/database"
	"consy/events"
	"consy/feed"
	"consy/friends"
	"consy/metrics"
	"consy/middleware"
	"consy/models"
	"consy/reactions"
)

const secret = "handler-secret"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db     *database.DB
	rec    *events.Recorder
	router *mux.Router
}

func newFixture(t *testing.T, authSecret string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, db.UpsertUser(ctx, models.Profile{ID: id, Username: id, CreatedAt: t0}))
	}

	logger, _ := test.NewNullLogger()
	rec := &events.Recorder{}

	var targets []reactions.Likeable
	for _, kind := range []models.TargetKind{models.TargetPost, models.TargetComment, models.TargetReply} {
		lt, ok := db.Likeable(kind)
		require.True(t, ok)
		targets = append(targets, lt)
	}

	router := NewRouter(Deps{
		Friends:   friends.NewService(db, rec, logger),
		Chat:      chat.NewService(db, rec, logger),
		Feed:      feed.NewService(db, rec, logger),
		Reactions: reactions.NewEngine(rec, logger, targets...),
		Users:     db,
		Metrics:   metrics.New(),
		Identity:  middleware.NewIdentity(authSecret, logger, "/healthz", "/metrics"),
		Health:    db.Ping,
		Log:       logger,
	})
	return &fixture{db: db, rec: rec, router: router}
}

func token(t *testing.T, subject string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, bearer string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)

	var out map[string]interface{}
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr.Code, out
}

func (f *fixture) list(t *testing.T, path string, body interface{}) []models.Profile {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, &buf))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out []models.Profile
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestFriendRequestFlow(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/contact/send-request",
		map[string]string{"senderId": "alice", "receiverId": "bob"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, body = f.do(t, http.MethodPost, "/api/contact/send-request",
		map[string]string{"senderId": "alice", "receiverId": "bob"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Request already sent", body["message"])

	assert.Len(t, f.list(t, "/api/contact/get-requests", map[string]string{"uid": "bob"}), 1)
	assert.Len(t, f.list(t, "/api/contact/sent-requests", map[string]string{"uid": "alice"}), 1)

	code, body = f.do(t, http.MethodPost, "/api/contact/accept-request",
		map[string]string{"userId": "bob", "requestId": "alice"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	newFriend, ok := body["newFriend"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", newFriend["id"])

	friendsOfAlice := f.list(t, "/api/contact/friends", map[string]string{"uid": "alice"})
	require.Len(t, friendsOfAlice, 1)
	assert.Equal(t, "bob", friendsOfAlice[0].ID)

	discoverable := f.list(t, "/api/contact/users-list", map[string]string{"mainUserId": "alice"})
	require.Len(t, discoverable, 1)
	assert.Equal(t, "carol", discoverable[0].ID)

	code, body = f.do(t, http.MethodPost, "/api/contact/remove-friend",
		map[string]string{"userId": "alice", "friendId": "bob"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Len(t, f.rec.OfType(events.FriendRemoved), 1)
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t, "")

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		msg    string
	}{
		{"missing field", "/api/contact/send-request", map[string]string{"senderId": "alice"}, 400, ""},
		{"unknown user", "/api/contact/send-request", map[string]string{"senderId": "alice", "receiverId": "nobody"}, 404, ""},
		{"no pending request", "/api/contact/accept-request", map[string]string{"userId": "bob", "requestId": "alice"}, 404, "Friend request not found"},
		{"unknown message", "/api/messages/edit-message", map[string]string{"messageId": "m0", "userId": "alice", "newText": "x"}, 404, ""},
		{"bad target kind", "/api/react/like", map[string]string{"userId": "alice", "targetId": "p", "targetKind": "story"}, 400, "Unknown target kind"},
		{"malformed body", "/api/messages/get-messages", "not an object", 400, "Invalid request body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, tc.path, tc.body, "")
			assert.Equal(t, tc.status, code)
			assert.Equal(t, false, body["success"])
			if tc.msg != "" {
				assert.Equal(t, tc.msg, body["message"])
			}
		})
	}
}

func TestMessageLifecycle(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/messages/send-message", map[string]string{
		"senderId": "alice", "receiverId": "bob", "roomId": chat.RoomID("alice", "bob"), "message": "hi bob",
	}, "")
	require.Equal(t, http.StatusOK, code)
	id, _ := body["messageId"].(string)
	require.NotEmpty(t, id)

	_, body = f.do(t, http.MethodPost, "/api/messages/get-unread-count",
		map[string]string{"userId": "bob", "friendId": "alice"}, "")
	assert.EqualValues(t, 1, body["unreadCount"])

	code, _ = f.do(t, http.MethodPost, "/api/messages/edit-message",
		map[string]string{"messageId": id, "userId": "bob", "newText": "hijack"}, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPost, "/api/messages/edit-message",
		map[string]string{"messageId": id, "userId": "alice", "newText": "hi bob!"}, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/messages/mark-read",
		map[string]string{"messageId": id, "userId": "bob"}, "")
	assert.Equal(t, http.StatusOK, code)

	_, body = f.do(t, http.MethodPost, "/api/messages/get-last-message",
		map[string]string{"userId": "bob", "friendId": "alice"}, "")
	last, ok := body["lastMessage"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi bob!", last["message"])
	assert.Equal(t, true, last["isEdited"])

	code, _ = f.do(t, http.MethodPost, "/api/messages/delete-message",
		map[string]string{"messageId": id, "userId": "alice"}, "")
	assert.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodPost, "/api/messages/edit-message",
		map[string]string{"messageId": id, "userId": "alice", "newText": "again"}, "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["success"])

	_, body = f.do(t, http.MethodPost, "/api/messages/get-messages",
		map[string]string{"userId": "alice", "friendId": "bob"}, "")
	assert.Empty(t, body["messages"])
	_, body = f.do(t, http.MethodPost, "/api/messages/get-last-message",
		map[string]string{"userId": "alice", "friendId": "bob"}, "")
	assert.Nil(t, body["lastMessage"])
}

func TestPostsAndLikes(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPost, "/api/posts",
		map[string]interface{}{"authorId": "alice", "text": "first"}, "")
	require.Equal(t, http.StatusCreated, code)
	post := body["post"].(map[string]interface{})
	postID := post["id"].(string)

	code, body = f.do(t, http.MethodPost, "/api/posts/"+postID+"/comments",
		map[string]string{"authorId": "bob", "text": "nice"}, "")
	require.Equal(t, http.StatusCreated, code)
	commentID := body["comment"].(map[string]interface{})["id"].(string)

	code, _ = f.do(t, http.MethodPost, "/api/comments/"+commentID+"/replies",
		map[string]string{"authorId": "alice", "text": "thanks"}, "")
	require.Equal(t, http.StatusCreated, code)

	code, body = f.do(t, http.MethodPost, "/api/react/like",
		map[string]string{"userId": "bob", "targetId": postID, "targetKind": "post"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["liked"])
	assert.EqualValues(t, 1, body["likeCount"])

	_, body = f.do(t, http.MethodPost, "/api/react/like",
		map[string]string{"userId": "bob", "targetId": postID, "targetKind": "post"}, "")
	assert.Equal(t, false, body["liked"])
	assert.EqualValues(t, 0, body["likeCount"])

	code, body = f.do(t, http.MethodGet, "/api/posts", nil, "")
	require.Equal(t, http.StatusOK, code)
	posts := body["posts"].([]interface{})
	require.Len(t, posts, 1)
	tree := posts[0].(map[string]interface{})
	assert.EqualValues(t, 1, tree["commentCount"])
	comments := tree["comments"].([]interface{})
	require.Len(t, comments, 1)
	assert.Len(t, comments[0].(map[string]interface{})["replies"], 1)

	code, body = f.do(t, http.MethodGet, "/api/comments/"+commentID+"/replies", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["replies"], 1)

	code, _ = f.do(t, http.MethodGet, "/api/posts/missing/comments", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUsersRoutes(t *testing.T) {
	f := newFixture(t, "")

	code, body := f.do(t, http.MethodPut, "/api/users/dave",
		map[string]string{"username": "dave", "name": "Dave"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Dave", body["name"])

	code, body = f.do(t, http.MethodGet, "/api/users/dave", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "dave", body["username"])
	assert.Equal(t, false, body["online"])

	code, _ = f.do(t, http.MethodGet, "/api/users/nobody", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPut, "/api/users/erin", map[string]string{"name": "Erin"}, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestActingUserMustMatchToken(t *testing.T) {
	f := newFixture(t, secret)
	req := map[string]string{"senderId": "alice", "receiverId": "bob"}

	code, _ := f.do(t, http.MethodPost, "/api/contact/send-request", req, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := f.do(t, http.MethodPost, "/api/contact/send-request", req, token(t, "carol"))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Forbidden", body["message"])

	code, body = f.do(t, http.MethodPost, "/api/contact/send-request", req, token(t, "alice"))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _ = f.do(t, http.MethodPut, "/api/users/alice", map[string]string{"username": "al"}, token(t, "bob"))
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestStoreFailureIsGeneric(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.db.Close())

	code, body := f.do(t, http.MethodPost, "/api/contact/send-request",
		map[string]string{"senderId": "alice", "receiverId": "bob"}, "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Server error", body["message"])

	code, body = f.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestHealthzPing(t *testing.T) {
	calls := 0
	h := healthz(func(context.Context) error {
		calls++
		if calls > 1 {
			return errors.New("down")
		}
		return nil
	})

	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, "")
	code, body := f.do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Not found", body["message"])
}
