package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"consy/apperr"
	"consy/models"
)

// lockPair verifies that both users exist and, on PostgreSQL, row-locks them
// in id order so concurrent transitions on the same pair serialize.
func (db *DB) lockPair(ctx context.Context, tx *sqlx.Tx, a, b string) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	var ids []string
	err := tx.SelectContext(ctx, &ids, db.q(
		`SELECT id FROM users WHERE id IN (?, ?) ORDER BY id`+db.forUpdate()), first, second)
	if err != nil {
		return apperr.Store("lock users", err)
	}
	if len(ids) != 2 {
		return apperr.New(apperr.NotFound, "User not found")
	}
	return nil
}

func (db *DB) insertRelation(ctx context.Context, tx *sqlx.Tx, owner, other string, kind models.RelationKind, at time.Time) error {
	_, err := tx.ExecContext(ctx, db.q(`
		INSERT INTO relations (owner_id, other_id, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		owner, other, string(kind), millis(at),
	)
	if err != nil {
		return apperr.Store("insert relation", err)
	}
	return nil
}

func (db *DB) deleteRelation(ctx context.Context, tx *sqlx.Tx, owner, other string, kind models.RelationKind) (bool, error) {
	res, err := tx.ExecContext(ctx, db.q(
		`DELETE FROM relations WHERE owner_id = ? AND other_id = ? AND kind = ?`),
		owner, other, string(kind),
	)
	if err != nil {
		return false, apperr.Store("delete relation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Store("delete relation", err)
	}
	return n > 0, nil
}

// AddPendingRequest records a pending edge sender -> receiver on both
// sides. It returns false without writing when the pair already has any
// relation in either direction.
func (db *DB) AddPendingRequest(ctx context.Context, sender, receiver string, at time.Time) (bool, error) {
	created := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.lockPair(ctx, tx, sender, receiver); err != nil {
			return err
		}

		var n int
		err := tx.GetContext(ctx, &n, db.q(`
			SELECT COUNT(*) FROM relations
			WHERE (owner_id = ? AND other_id = ?) OR (owner_id = ? AND other_id = ?)`),
			sender, receiver, receiver, sender,
		)
		if err != nil {
			return apperr.Store("check relation", err)
		}
		if n > 0 {
			return nil
		}

		if err := db.insertRelation(ctx, tx, sender, receiver, models.RelationOutgoing, at); err != nil {
			return err
		}
		if err := db.insertRelation(ctx, tx, receiver, sender, models.RelationIncoming, at); err != nil {
			return err
		}
		created = true
		return nil
	})
	return created, err
}

// ConfirmRequest turns the pending edge requester -> accepter into a
// confirmed friendship on both sides. It returns false when accepter has no
// pending request from requester.
func (db *DB) ConfirmRequest(ctx context.Context, accepter, requester string, at time.Time) (bool, error) {
	confirmed := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.lockPair(ctx, tx, accepter, requester); err != nil {
			return err
		}

		ok, err := db.deleteRelation(ctx, tx, accepter, requester, models.RelationIncoming)
		if err != nil || !ok {
			return err
		}
		if _, err := db.deleteRelation(ctx, tx, requester, accepter, models.RelationOutgoing); err != nil {
			return err
		}
		if err := db.insertRelation(ctx, tx, accepter, requester, models.RelationFriend, at); err != nil {
			return err
		}
		if err := db.insertRelation(ctx, tx, requester, accepter, models.RelationFriend, at); err != nil {
			return err
		}
		confirmed = true
		return nil
	})
	return confirmed, err
}

// DropRequest removes the pending edge requester -> rejecter from both
// sides. It returns false when there was no such edge.
func (db *DB) DropRequest(ctx context.Context, rejecter, requester string) (bool, error) {
	dropped := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.lockPair(ctx, tx, rejecter, requester); err != nil {
			return err
		}

		ok, err := db.deleteRelation(ctx, tx, rejecter, requester, models.RelationIncoming)
		if err != nil || !ok {
			return err
		}
		if _, err := db.deleteRelation(ctx, tx, requester, rejecter, models.RelationOutgoing); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	return dropped, err
}

// RemoveFriend removes a confirmed friendship from both sides
func (db *DB) RemoveFriend(ctx context.Context, userID, friendID string) (bool, error) {
	removed := false
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.lockPair(ctx, tx, userID, friendID); err != nil {
			return err
		}

		a, err := db.deleteRelation(ctx, tx, userID, friendID, models.RelationFriend)
		if err != nil {
			return err
		}
		b, err := db.deleteRelation(ctx, tx, friendID, userID, models.RelationFriend)
		if err != nil {
			return err
		}
		removed = a || b
		return nil
	})
	return removed, err
}
