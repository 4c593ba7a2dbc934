package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"consy/apperr"
	"consy/models"
)

var likeTables = map[models.TargetKind]struct {
	table   string
	missing string
}{
	models.TargetPost:    {"posts", "Post not found"},
	models.TargetComment: {"comments", "Comment not found"},
	models.TargetReply:   {"replies", "Reply not found"},
}

// LikeTable is the likeable view of one content collection
type LikeTable struct {
	db      *DB
	kind    models.TargetKind
	table   string
	missing string
}

// Likeable returns the likeable view for kind, or false for unknown kinds.
func (db *DB) Likeable(kind models.TargetKind) (*LikeTable, bool) {
	t, ok := likeTables[kind]
	if !ok {
		return nil, false
	}
	return &LikeTable{db: db, kind: kind, table: t.table, missing: t.missing}, true
}

// Kind reports which collection the table serves
func (t *LikeTable) Kind() models.TargetKind {
	return t.kind
}

// ToggleLike adds userID to the target's likes or removes it when already
// present, and stores like_count as the size of the resulting set. The read
// and both writes run in one transaction with the target row locked, so
// concurrent toggles on the same target never lose an update.
func (t *LikeTable) ToggleLike(ctx context.Context, targetID, userID string, at time.Time) (models.LikeResult, error) {
	db := t.db
	res := models.LikeResult{TargetID: targetID, Kind: t.kind}

	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var current int
		err := tx.GetContext(ctx, &current, db.q(
			`SELECT like_count FROM `+t.table+` WHERE id = ?`+db.forUpdate()), targetID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.New(apperr.NotFound, t.missing)
		}
		if err != nil {
			return apperr.Store("lock "+t.table, err)
		}

		del, err := tx.ExecContext(ctx, db.q(
			`DELETE FROM likes WHERE target_kind = ? AND target_id = ? AND user_id = ?`),
			string(t.kind), targetID, userID)
		if err != nil {
			return apperr.Store("remove like", err)
		}
		removed, err := del.RowsAffected()
		if err != nil {
			return apperr.Store("remove like", err)
		}

		res.Liked = removed == 0
		if res.Liked {
			if _, err := tx.ExecContext(ctx, db.q(
				`INSERT INTO likes (target_kind, target_id, user_id, created_at) VALUES (?, ?, ?, ?)`),
				string(t.kind), targetID, userID, millis(at)); err != nil {
				return apperr.Store("add like", err)
			}
		}

		if err := tx.GetContext(ctx, &res.LikeCount, db.q(
			`SELECT COUNT(*) FROM likes WHERE target_kind = ? AND target_id = ?`),
			string(t.kind), targetID); err != nil {
			return apperr.Store("count likes", err)
		}
		if _, err := tx.ExecContext(ctx, db.q(
			`UPDATE `+t.table+` SET like_count = ? WHERE id = ?`), res.LikeCount, targetID); err != nil {
			return apperr.Store("update like count", err)
		}
		return nil
	})
	if err != nil {
		return models.LikeResult{}, err
	}
	return res, nil
}
