package models

import "time"

// TargetKind identifies which likeable collection a target lives in
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
	TargetReply   TargetKind = "reply"
)

// Valid reports whether k is one of the known target kinds.
func (k TargetKind) Valid() bool {
	switch k {
	case TargetPost, TargetComment, TargetReply:
		return true
	}
	return false
}

// Post is the root of a post/comment/reply tree
type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"authorId"`
	Text         string    `json:"text"`
	Media        []string  `json:"mediaFiles"`
	CreatedAt    time.Time `json:"timestamp"`
	Likes        []string  `json:"likes"`
	LikeCount    int       `json:"likeCount"`
	CommentCount int       `json:"commentCount"`
	Comments     []Comment `json:"comments,omitempty"`
}

// Comment belongs to a post
type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"postId"`
	AuthorID   string    `json:"authorId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"timestamp"`
	Likes      []string  `json:"likes"`
	LikeCount  int       `json:"likeCount"`
	ReplyCount int       `json:"replyCount"`
	Replies    []Reply   `json:"replies,omitempty"`
}

// Reply belongs to a comment
type Reply struct {
	ID        string    `json:"id"`
	CommentID string    `json:"commentId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"timestamp"`
	Likes     []string  `json:"likes"`
	LikeCount int       `json:"likeCount"`
}

// LikeResult is the state of a target after a like toggle
type LikeResult struct {
	TargetID  string     `json:"targetId"`
	Kind      TargetKind `json:"targetKind"`
	Liked     bool       `json:"liked"`
	LikeCount int        `json:"likeCount"`
}
