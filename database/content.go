package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"consy/apperr"
	"consy/models"
)

type postRow struct {
	ID           string `db:"id"`
	AuthorID     string `db:"author_id"`
	Text         string `db:"text"`
	Media        string `db:"media"`
	CreatedAt    int64  `db:"created_at"`
	LikeCount    int    `db:"like_count"`
	CommentCount int    `db:"comment_count"`
}

type commentRow struct {
	ID         string `db:"id"`
	PostID     string `db:"post_id"`
	AuthorID   string `db:"author_id"`
	Text       string `db:"text"`
	CreatedAt  int64  `db:"created_at"`
	LikeCount  int    `db:"like_count"`
	ReplyCount int    `db:"reply_count"`
}

type replyRow struct {
	ID        string `db:"id"`
	CommentID string `db:"comment_id"`
	AuthorID  string `db:"author_id"`
	Text      string `db:"text"`
	CreatedAt int64  `db:"created_at"`
	LikeCount int    `db:"like_count"`
}

func (r postRow) post(likes []string) models.Post {
	media := []string{}
	if r.Media != "" {
		// Rows are only written by InsertPost, which always stores a JSON array.
		_ = json.Unmarshal([]byte(r.Media), &media)
	}
	return models.Post{
		ID:           r.ID,
		AuthorID:     r.AuthorID,
		Text:         r.Text,
		Media:        media,
		CreatedAt:    fromMillis(r.CreatedAt),
		Likes:        orEmpty(likes),
		LikeCount:    r.LikeCount,
		CommentCount: r.CommentCount,
	}
}

func (r commentRow) comment(likes []string) models.Comment {
	return models.Comment{
		ID:         r.ID,
		PostID:     r.PostID,
		AuthorID:   r.AuthorID,
		Text:       r.Text,
		CreatedAt:  fromMillis(r.CreatedAt),
		Likes:      orEmpty(likes),
		LikeCount:  r.LikeCount,
		ReplyCount: r.ReplyCount,
	}
}

func (r replyRow) reply(likes []string) models.Reply {
	return models.Reply{
		ID:        r.ID,
		CommentID: r.CommentID,
		AuthorID:  r.AuthorID,
		Text:      r.Text,
		CreatedAt: fromMillis(r.CreatedAt),
		Likes:     orEmpty(likes),
		LikeCount: r.LikeCount,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (db *DB) exists(ctx context.Context, q sqlx.QueryerContext, table, id string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, db.q(`SELECT COUNT(*) FROM `+table+` WHERE id = ?`), id)
	if err != nil {
		return false, apperr.Store("check "+table, err)
	}
	return n > 0, nil
}

// InsertPost persists a new post. The author must exist.
func (db *DB) InsertPost(ctx context.Context, p *models.Post) error {
	media, err := json.Marshal(orEmpty(p.Media))
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "Invalid media list", err)
	}
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		ok, err := db.exists(ctx, tx, "users", p.AuthorID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.NotFound, "User not found")
		}
		_, err = tx.ExecContext(ctx, db.q(`
			INSERT INTO posts (id, author_id, text, media, created_at, like_count, comment_count)
			VALUES (?, ?, ?, ?, ?, 0, 0)`),
			p.ID, p.AuthorID, p.Text, string(media), millis(p.CreatedAt),
		)
		if err != nil {
			return apperr.Store("insert post", err)
		}
		return nil
	})
}

// InsertComment persists a new comment under an existing post
func (db *DB) InsertComment(ctx context.Context, c *models.Comment) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.requireParent(ctx, tx, "posts", c.PostID, "Post not found", c.AuthorID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, db.q(`
			INSERT INTO comments (id, post_id, author_id, text, created_at, like_count, reply_count)
			VALUES (?, ?, ?, ?, ?, 0, 0)`),
			c.ID, c.PostID, c.AuthorID, c.Text, millis(c.CreatedAt),
		)
		if err != nil {
			return apperr.Store("insert comment", err)
		}
		return nil
	})
}

// InsertReply persists a new reply under an existing comment
func (db *DB) InsertReply(ctx context.Context, r *models.Reply) error {
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.requireParent(ctx, tx, "comments", r.CommentID, "Comment not found", r.AuthorID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, db.q(`
			INSERT INTO replies (id, comment_id, author_id, text, created_at, like_count)
			VALUES (?, ?, ?, ?, ?, 0)`),
			r.ID, r.CommentID, r.AuthorID, r.Text, millis(r.CreatedAt),
		)
		if err != nil {
			return apperr.Store("insert reply", err)
		}
		return nil
	})
}

func (db *DB) requireParent(ctx context.Context, tx *sqlx.Tx, table, id, missing, authorID string) error {
	ok, err := db.exists(ctx, tx, table, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotFound, missing)
	}
	ok, err = db.exists(ctx, tx, "users", authorID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.NotFound, "User not found")
	}
	return nil
}

// IncrementCommentCount bumps the denormalized comment counter of a post
func (db *DB) IncrementCommentCount(ctx context.Context, postID string) error {
	_, err := db.conn.ExecContext(ctx, db.q(
		`UPDATE posts SET comment_count = comment_count + 1 WHERE id = ?`), postID)
	if err != nil {
		return apperr.Store("increment comment count", err)
	}
	return nil
}

// IncrementReplyCount bumps the denormalized reply counter of a comment
func (db *DB) IncrementReplyCount(ctx context.Context, commentID string) error {
	_, err := db.conn.ExecContext(ctx, db.q(
		`UPDATE comments SET reply_count = reply_count + 1 WHERE id = ?`), commentID)
	if err != nil {
		return apperr.Store("increment reply count", err)
	}
	return nil
}

// likesByTarget returns the liker ids of every target of one kind
func (db *DB) likesByTarget(ctx context.Context, kind models.TargetKind) (map[string][]string, error) {
	var rows []struct {
		TargetID string `db:"target_id"`
		UserID   string `db:"user_id"`
	}
	if err := db.conn.SelectContext(ctx, &rows, db.q(
		`SELECT target_id, user_id FROM likes WHERE target_kind = ? ORDER BY created_at, user_id`), string(kind)); err != nil {
		return nil, apperr.Store("get likes", err)
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.TargetID] = append(out[r.TargetID], r.UserID)
	}
	return out, nil
}

func (db *DB) targetLikes(ctx context.Context, kind models.TargetKind, id string) ([]string, error) {
	var users []string
	if err := db.conn.SelectContext(ctx, &users, db.q(
		`SELECT user_id FROM likes WHERE target_kind = ? AND target_id = ? ORDER BY created_at, user_id`),
		string(kind), id); err != nil {
		return nil, apperr.Store("get likes", err)
	}
	return users, nil
}

// GetPost retrieves a single post without its comments
func (db *DB) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var row postRow
	err := db.conn.GetContext(ctx, &row, db.q(
		`SELECT id, author_id, text, media, created_at, like_count, comment_count FROM posts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "Post not found")
	}
	if err != nil {
		return nil, apperr.Store("get post", err)
	}
	likes, err := db.targetLikes(ctx, models.TargetPost, id)
	if err != nil {
		return nil, err
	}
	p := row.post(likes)
	return &p, nil
}

// GetComment retrieves a single comment without its replies
func (db *DB) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	var row commentRow
	err := db.conn.GetContext(ctx, &row, db.q(
		`SELECT id, post_id, author_id, text, created_at, like_count, reply_count FROM comments WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "Comment not found")
	}
	if err != nil {
		return nil, apperr.Store("get comment", err)
	}
	likes, err := db.targetLikes(ctx, models.TargetComment, id)
	if err != nil {
		return nil, err
	}
	c := row.comment(likes)
	return &c, nil
}

// GetReply retrieves a single reply
func (db *DB) GetReply(ctx context.Context, id string) (*models.Reply, error) {
	var row replyRow
	err := db.conn.GetContext(ctx, &row, db.q(
		`SELECT id, comment_id, author_id, text, created_at, like_count FROM replies WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "Reply not found")
	}
	if err != nil {
		return nil, apperr.Store("get reply", err)
	}
	likes, err := db.targetLikes(ctx, models.TargetReply, id)
	if err != nil {
		return nil, err
	}
	r := row.reply(likes)
	return &r, nil
}

// ListPosts returns every post, newest first
func (db *DB) ListPosts(ctx context.Context) ([]models.Post, error) {
	var rows []postRow
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT id, author_id, text, media, created_at, like_count, comment_count FROM posts ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, apperr.Store("list posts", err)
	}
	likes, err := db.likesByTarget(ctx, models.TargetPost)
	if err != nil {
		return nil, err
	}
	out := make([]models.Post, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.post(likes[r.ID]))
	}
	return out, nil
}

// ListComments returns the comments of a post, oldest first. An empty
// postID lists every comment.
func (db *DB) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	query := `SELECT id, post_id, author_id, text, created_at, like_count, reply_count FROM comments`
	var args []interface{}
	if postID != "" {
		query += ` WHERE post_id = ?`
		args = append(args, postID)
	}
	query += ` ORDER BY created_at, id`

	var rows []commentRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, apperr.Store("list comments", err)
	}
	likes, err := db.likesByTarget(ctx, models.TargetComment)
	if err != nil {
		return nil, err
	}
	out := make([]models.Comment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.comment(likes[r.ID]))
	}
	return out, nil
}

// ListReplies returns the replies of a comment, oldest first. An empty
// commentID lists every reply.
func (db *DB) ListReplies(ctx context.Context, commentID string) ([]models.Reply, error) {
	query := `SELECT id, comment_id, author_id, text, created_at, like_count FROM replies`
	var args []interface{}
	if commentID != "" {
		query += ` WHERE comment_id = ?`
		args = append(args, commentID)
	}
	query += ` ORDER BY created_at, id`

	var rows []replyRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, apperr.Store("list replies", err)
	}
	likes, err := db.likesByTarget(ctx, models.TargetReply)
	if err != nil {
		return nil, err
	}
	out := make([]models.Reply, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.reply(likes[r.ID]))
	}
	return out, nil
}
