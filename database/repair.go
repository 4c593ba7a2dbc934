package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"consy/apperr"
	"consy/models"
)

// RepairFriendEdges adds the missing side of every one-sided friendship and
// returns how many rows were added.
func (db *DB) RepairFriendEdges(ctx context.Context, at time.Time) (int, error) {
	return db.completeEdges(ctx, models.RelationFriend, models.RelationFriend, at)
}

// RepairPendingEdges adds the missing side of every one-sided pending
// request, in both directions. A pair left pending both ways keeps only
// its older request.
func (db *DB) RepairPendingEdges(ctx context.Context, at time.Time) (int, error) {
	dropped, err := db.dropCrossedPending(ctx)
	if err != nil {
		return 0, err
	}
	a, err := db.completeEdges(ctx, models.RelationOutgoing, models.RelationIncoming, at)
	if err != nil {
		return dropped, err
	}
	b, err := db.completeEdges(ctx, models.RelationIncoming, models.RelationOutgoing, at)
	if err != nil {
		return dropped + a, err
	}
	return dropped + a + b, nil
}

type pendingRow struct {
	OwnerID   string `db:"owner_id"`
	OtherID   string `db:"other_id"`
	Kind      string `db:"kind"`
	CreatedAt int64  `db:"created_at"`
}

// sender is the user who made the request the row belongs to.
func (r pendingRow) sender() string {
	if models.RelationKind(r.Kind) == models.RelationOutgoing {
		return r.OwnerID
	}
	return r.OtherID
}

// dropCrossedPending finds pairs holding pending rows for requests in both
// directions and deletes the rows of the newer request. Ties keep the
// request sent by the lower user id.
func (db *DB) dropCrossedPending(ctx context.Context) (int, error) {
	dropped := 0
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []pendingRow
		if err := tx.SelectContext(ctx, &rows, db.q(`
			SELECT owner_id, other_id, kind, created_at FROM relations
			WHERE kind IN (?, ?)`),
			string(models.RelationOutgoing), string(models.RelationIncoming)); err != nil {
			return apperr.Store("list pending edges", err)
		}

		type pairKey struct{ lo, hi string }
		pairs := make(map[pairKey]map[string][]pendingRow)
		for _, r := range rows {
			k := pairKey{r.OwnerID, r.OtherID}
			if k.hi < k.lo {
				k.lo, k.hi = k.hi, k.lo
			}
			if pairs[k] == nil {
				pairs[k] = make(map[string][]pendingRow)
			}
			pairs[k][r.sender()] = append(pairs[k][r.sender()], r)
		}

		for k, bySender := range pairs {
			fromLo, fromHi := bySender[k.lo], bySender[k.hi]
			if len(fromLo) == 0 || len(fromHi) == 0 {
				continue
			}
			drop := fromHi
			if oldest(fromHi) < oldest(fromLo) {
				drop = fromLo
			}
			for _, r := range drop {
				ok, err := db.deleteRelation(ctx, tx, r.OwnerID, r.OtherID, models.RelationKind(r.Kind))
				if err != nil {
					return err
				}
				if ok {
					dropped++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dropped, nil
}

func oldest(rows []pendingRow) int64 {
	first := rows[0].CreatedAt
	for _, r := range rows[1:] {
		if r.CreatedAt < first {
			first = r.CreatedAt
		}
	}
	return first
}

func (db *DB) completeEdges(ctx context.Context, have, want models.RelationKind, at time.Time) (int, error) {
	fixed := 0
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []relationRow
		if err := tx.SelectContext(ctx, &rows, db.q(`
			SELECT a.owner_id, a.other_id, a.kind FROM relations a
			WHERE a.kind = ? AND NOT EXISTS (
				SELECT 1 FROM relations b
				WHERE b.owner_id = a.other_id AND b.other_id = a.owner_id AND b.kind = ?
			)`), string(have), string(want)); err != nil {
			return apperr.Store("find one-sided "+string(have)+" edges", err)
		}
		for _, r := range rows {
			if err := db.insertRelation(ctx, tx, r.OtherID, r.OwnerID, want, at); err != nil {
				return err
			}
		}
		fixed = len(rows)
		return nil
	})
	return fixed, err
}

// DropPendingForFriends removes pending edges for pairs that are already
// confirmed friends.
func (db *DB) DropPendingForFriends(ctx context.Context) (int, error) {
	res, err := db.conn.ExecContext(ctx, db.q(`
		DELETE FROM relations
		WHERE kind IN (?, ?) AND EXISTS (
			SELECT 1 FROM relations f
			WHERE f.owner_id = relations.owner_id AND f.other_id = relations.other_id AND f.kind = ?
		)`), string(models.RelationIncoming), string(models.RelationOutgoing), string(models.RelationFriend))
	if err != nil {
		return 0, apperr.Store("drop pending for friends", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Store("drop pending for friends", err)
	}
	return int(n), nil
}

// RecountLikes rewrites like_count wherever it differs from the size of the
// likes set, for one kind of target.
func (db *DB) RecountLikes(ctx context.Context, kind models.TargetKind) (int, error) {
	t, ok := likeTables[kind]
	if !ok {
		return 0, apperr.New(apperr.InvalidInput, "Unknown target kind")
	}
	sub := `(SELECT COUNT(*) FROM likes l WHERE l.target_kind = ? AND l.target_id = ` + t.table + `.id)`
	return db.execCount(ctx, "recount "+t.table+" likes",
		`UPDATE `+t.table+` SET like_count = `+sub+` WHERE like_count <> `+sub,
		string(kind), string(kind))
}

// RecountComments rewrites posts.comment_count from the comments table
func (db *DB) RecountComments(ctx context.Context) (int, error) {
	sub := `(SELECT COUNT(*) FROM comments c WHERE c.post_id = posts.id)`
	return db.execCount(ctx, "recount comments",
		`UPDATE posts SET comment_count = `+sub+` WHERE comment_count <> `+sub)
}

// RecountReplies rewrites comments.reply_count from the replies table
func (db *DB) RecountReplies(ctx context.Context) (int, error) {
	sub := `(SELECT COUNT(*) FROM replies r WHERE r.comment_id = comments.id)`
	return db.execCount(ctx, "recount replies",
		`UPDATE comments SET reply_count = `+sub+` WHERE reply_count <> `+sub)
}

func (db *DB) execCount(ctx context.Context, op, query string, args ...interface{}) (int, error) {
	res, err := db.conn.ExecContext(ctx, db.q(query), args...)
	if err != nil {
		return 0, apperr.Store(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Store(op, err)
	}
	return int(n), nil
}
