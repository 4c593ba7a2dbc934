// Package feed manages the post, comment and reply tree.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"consy/apperr"
	"consy/events"
	"consy/models"
)

// Store is the content persistence the service needs
type Store interface {
	InsertPost(ctx context.Context, p *models.Post) error
	InsertComment(ctx context.Context, c *models.Comment) error
	InsertReply(ctx context.Context, r *models.Reply) error
	IncrementCommentCount(ctx context.Context, postID string) error
	IncrementReplyCount(ctx context.Context, commentID string) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListPosts(ctx context.Context) ([]models.Post, error)
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
	ListReplies(ctx context.Context, commentID string) ([]models.Reply, error)
}

// Service creates and reads feed content
type Service struct {
	store Store
	pub   events.Publisher
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewService creates a feed service
func NewService(store Store, pub events.Publisher, log logrus.FieldLogger) *Service {
	return &Service{store: store, pub: pub, log: log, now: time.Now}
}

// SetClock replaces time.Now. Used by tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", apperr.Wrap(apperr.StoreFailure, "generate id", err)
	}
	return id.String(), nil
}

// CreatePost publishes a new post by authorID
func (s *Service) CreatePost(ctx context.Context, authorID, text string, media []string) (*models.Post, error) {
	if authorID == "" || strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing authorId or text")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if media == nil {
		media = []string{}
	}

	p := &models.Post{
		ID:        id,
		AuthorID:  authorID,
		Text:      text,
		Media:     media,
		CreatedAt: s.now().UTC(),
		Likes:     []string{},
	}
	if err := s.store.InsertPost(ctx, p); err != nil {
		s.logFailure(err, "create post", authorID)
		return nil, err
	}

	s.pub.Publish(ctx, events.Event{Type: events.NewPost, Payload: p})
	return p, nil
}

// CreateComment adds a comment to a post. The post's comment counter is
// bumped afterwards; a failure there is logged and does not fail the call.
func (s *Service) CreateComment(ctx context.Context, postID, authorID, text string) (*models.Comment, error) {
	if postID == "" || authorID == "" || strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing postId, authorId or text")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	c := &models.Comment{
		ID:        id,
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.now().UTC(),
		Likes:     []string{},
	}
	if err := s.store.InsertComment(ctx, c); err != nil {
		s.logFailure(err, "create comment", authorID)
		return nil, err
	}
	if err := s.store.IncrementCommentCount(ctx, postID); err != nil {
		s.log.WithError(err).WithField("target_id", postID).Warn("failed to bump comment count")
	}

	s.pub.Publish(ctx, events.Event{Type: events.NewComment, Payload: c})
	return c, nil
}

// CreateReply adds a reply to a comment and bumps the comment's reply
// counter on a best-effort basis
func (s *Service) CreateReply(ctx context.Context, commentID, authorID, text string) (*models.Reply, error) {
	if commentID == "" || authorID == "" || strings.TrimSpace(text) == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing commentId, authorId or text")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	r := &models.Reply{
		ID:        id,
		CommentID: commentID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: s.now().UTC(),
		Likes:     []string{},
	}
	if err := s.store.InsertReply(ctx, r); err != nil {
		s.logFailure(err, "create reply", authorID)
		return nil, err
	}
	if err := s.store.IncrementReplyCount(ctx, commentID); err != nil {
		s.log.WithError(err).WithField("target_id", commentID).Warn("failed to bump reply count")
	}

	s.pub.Publish(ctx, events.Event{Type: events.NewReply, Payload: r})
	return r, nil
}

// ListPosts returns every post newest first, with comments and replies
// nested oldest first
func (s *Service) ListPosts(ctx context.Context) ([]models.Post, error) {
	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		s.logFailure(err, "list posts", "")
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, "")
	if err != nil {
		s.logFailure(err, "list comments", "")
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, "")
	if err != nil {
		s.logFailure(err, "list replies", "")
		return nil, err
	}

	byComment := make(map[string][]models.Reply)
	for _, r := range replies {
		byComment[r.CommentID] = append(byComment[r.CommentID], r)
	}
	byPost := make(map[string][]models.Comment)
	for _, c := range comments {
		c.Replies = orEmpty(byComment[c.ID])
		byPost[c.PostID] = append(byPost[c.PostID], c)
	}
	for i := range posts {
		posts[i].Comments = byPost[posts[i].ID]
		if posts[i].Comments == nil {
			posts[i].Comments = []models.Comment{}
		}
	}
	return posts, nil
}

func orEmpty(r []models.Reply) []models.Reply {
	if r == nil {
		return []models.Reply{}
	}
	return r
}

// ListComments returns the comments of one post, oldest first
func (s *Service) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	if postID == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing postId")
	}
	if _, err := s.store.GetPost(ctx, postID); err != nil {
		s.logFailure(err, "get post", "")
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, postID)
	if err != nil {
		s.logFailure(err, "list comments", "")
		return nil, err
	}
	return comments, nil
}

// ListReplies returns the replies of one comment, oldest first
func (s *Service) ListReplies(ctx context.Context, commentID string) ([]models.Reply, error) {
	if commentID == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing commentId")
	}
	if _, err := s.store.GetComment(ctx, commentID); err != nil {
		s.logFailure(err, "get comment", "")
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, commentID)
	if err != nil {
		s.logFailure(err, "list replies", "")
		return nil, err
	}
	return replies, nil
}

func (s *Service) logFailure(err error, op, userID string) {
	if apperr.KindOf(err) != apperr.StoreFailure {
		return
	}
	entry := s.log.WithError(err)
	if userID != "" {
		entry = entry.WithField("user_id", userID)
	}
	entry.Errorf("failed to %s", op)
}
