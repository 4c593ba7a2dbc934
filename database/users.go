package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"consy/apperr"
	"consy/models"
)

type userRow struct {
	ID        string `db:"id"`
	Username  string `db:"username"`
	Name      string `db:"name"`
	Avatar    string `db:"avatar"`
	CreatedAt int64  `db:"created_at"`
}

func (r userRow) user() *models.User {
	return &models.User{
		ID:                     r.ID,
		Username:               r.Username,
		Name:                   r.Name,
		Avatar:                 r.Avatar,
		CreatedAt:              fromMillis(r.CreatedAt),
		FriendRequestsIncoming: []string{},
		FriendRequestsOutgoing: []string{},
		Friends:                []string{},
	}
}

type relationRow struct {
	OwnerID string `db:"owner_id"`
	OtherID string `db:"other_id"`
	Kind    string `db:"kind"`
}

func addRelation(u *models.User, kind, other string) {
	switch models.RelationKind(kind) {
	case models.RelationIncoming:
		u.FriendRequestsIncoming = append(u.FriendRequestsIncoming, other)
	case models.RelationOutgoing:
		u.FriendRequestsOutgoing = append(u.FriendRequestsOutgoing, other)
	case models.RelationFriend:
		u.Friends = append(u.Friends, other)
	}
}

// UpsertUser creates or refreshes the profile mirror of a user. Relation
// sets are left untouched.
func (db *DB) UpsertUser(ctx context.Context, p models.Profile) error {
	if p.ID == "" {
		return apperr.New(apperr.InvalidInput, "Missing user ID")
	}
	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO users (id, username, name, avatar, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			avatar = excluded.avatar`),
		p.ID, p.Username, p.Name, p.Avatar, millis(p.CreatedAt),
	)
	if err != nil {
		return apperr.Store("upsert user", err)
	}
	return nil
}

// GetUser retrieves a user with its incoming, outgoing and friend sets
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	return getUser(ctx, db, db.conn, id)
}

func getUser(ctx context.Context, db *DB, q sqlx.QueryerContext, id string) (*models.User, error) {
	var row userRow
	err := sqlx.GetContext(ctx, q, &row, db.q(
		`SELECT id, username, name, avatar, created_at FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	if err != nil {
		return nil, apperr.Store("get user", err)
	}

	var rels []relationRow
	err = sqlx.SelectContext(ctx, q, &rels, db.q(`
		SELECT owner_id, other_id, kind FROM relations
		WHERE owner_id = ?
		ORDER BY created_at, other_id`), id)
	if err != nil {
		return nil, apperr.Store("get relations", err)
	}

	u := row.user()
	for _, r := range rels {
		addRelation(u, r.Kind, r.OtherID)
	}
	return u, nil
}

// ListUsers returns every user with relation sets loaded
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT id, username, name, avatar, created_at FROM users ORDER BY created_at, id`); err != nil {
		return nil, apperr.Store("list users", err)
	}

	var rels []relationRow
	if err := db.conn.SelectContext(ctx, &rels,
		`SELECT owner_id, other_id, kind FROM relations ORDER BY created_at, other_id`); err != nil {
		return nil, apperr.Store("list relations", err)
	}

	users := make([]models.User, len(rows))
	index := make(map[string]int, len(rows))
	for i, r := range rows {
		users[i] = *r.user()
		index[r.ID] = i
	}
	for _, r := range rels {
		if i, ok := index[r.OwnerID]; ok {
			addRelation(&users[i], r.Kind, r.OtherID)
		}
	}
	return users, nil
}

// Profiles resolves ids to profile summaries, preserving the order of ids.
// Unknown ids are skipped.
func (db *DB) Profiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	out := []models.Profile{}
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, username, name, avatar, created_at FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, apperr.Store("build profile query", err)
	}
	var rows []userRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, apperr.Store("get profiles", err)
	}

	byID := make(map[string]userRow, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r.user().ToProfile())
		}
	}
	return out, nil
}
