package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"consy/feed"
	"consy/models"
	"consy/reactions"
)

// PostsHandler serves the post tree and like routes
type PostsHandler struct {
	feed      *feed.Service
	reactions *reactions.Engine
}

// NewPostsHandler creates the feed routes handler
func NewPostsHandler(f *feed.Service, e *reactions.Engine) *PostsHandler {
	return &PostsHandler{feed: f, reactions: e}
}

type createPostBody struct {
	AuthorID string   `json:"authorId"`
	Text     string   `json:"text"`
	Media    []string `json:"media"`
}

type createEntryBody struct {
	AuthorID string `json:"authorId"`
	Text     string `json:"text"`
}

type likeBody struct {
	UserID     string            `json:"userId"`
	TargetID   string            `json:"targetId"`
	TargetKind models.TargetKind `json:"targetKind"`
}

// CreatePost publishes a new post
func (h *PostsHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.AuthorID); err != nil {
		writeError(w, err)
		return
	}

	post, err := h.feed.CreatePost(r.Context(), req.AuthorID, req.Text, req.Media)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"post":    post,
	})
}

// ListPosts returns every post, newest first, with comments and replies
// nested
func (h *PostsHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.feed.ListPosts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"posts":   posts,
	})
}

// CreateComment adds a comment to the post in the path
func (h *PostsHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req createEntryBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.AuthorID); err != nil {
		writeError(w, err)
		return
	}

	comment, err := h.feed.CreateComment(r.Context(), mux.Vars(r)["id"], req.AuthorID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"comment": comment,
	})
}

// ListComments returns the comments of the post in the path
func (h *PostsHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.feed.ListComments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"comments": comments,
	})
}

// CreateReply adds a reply to the comment in the path
func (h *PostsHandler) CreateReply(w http.ResponseWriter, r *http.Request) {
	var req createEntryBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.AuthorID); err != nil {
		writeError(w, err)
		return
	}

	reply, err := h.feed.CreateReply(r.Context(), mux.Vars(r)["id"], req.AuthorID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"reply":   reply,
	})
}

// ListReplies returns the replies of the comment in the path
func (h *PostsHandler) ListReplies(w http.ResponseWriter, r *http.Request) {
	replies, err := h.feed.ListReplies(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"replies": replies,
	})
}

// ToggleLike likes or unlikes a post, comment or reply
func (h *PostsHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	var req likeBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.reactions.Toggle(r.Context(), req.TargetKind, req.TargetID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"liked":     res.Liked,
		"likeCount": res.LikeCount,
	})
}
