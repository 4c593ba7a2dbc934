// Package database is the persistent store behind the friend graph, chat
// messages and the post/comment/reply tree. It runs on SQLite (default) or
// PostgreSQL through database/sql.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"consy/apperr"
)

// DB wraps the connection pool and the dialect details the queries need
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to the database, applies connection pool settings and
// creates the tables when missing.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite allows a single writer; one connection serializes every
		// transaction instead of surfacing SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
		conn.SetConnMaxIdleTime(1 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.createTables(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a private in-memory SQLite database. Used by tests and
// local tooling.
func OpenMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, "sqlite3", ":memory:")
}

// New wraps an existing connection without touching the schema.
func New(conn *sqlx.DB) *DB {
	return &DB{conn: conn, driver: conn.DriverName()}
}

// Close closes the underlying pool
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		owner_id TEXT NOT NULL,
		other_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (owner_id, other_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'sent',
		read_at BIGINT,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at BIGINT,
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at BIGINT,
		reply_to_id TEXT,
		reply_to_snippet TEXT,
		reply_to_sender TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS message_reads (
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		read_at BIGINT NOT NULL,
		PRIMARY KEY (message_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message_edits (
		message_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		text TEXT NOT NULL,
		edited_at BIGINT NOT NULL,
		PRIMARY KEY (message_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		text TEXT NOT NULL,
		media TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0,
		reply_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS replies (
		id TEXT PRIMARY KEY,
		comment_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		like_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS likes (
		target_kind TEXT NOT NULL,
		target_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (target_kind, target_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_other ON relations(other_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id)`,
	`CREATE INDEX IF NOT EXISTS idx_replies_comment ON replies(comment_id)`,
}

func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// q rebinds a query written with ? placeholders for the active driver.
func (db *DB) q(query string) string {
	return db.conn.Rebind(query)
}

// forUpdate returns the row-locking suffix for SELECTs inside a transaction.
// SQLite has no row locks; its single connection already serializes writers.
func (db *DB) forUpdate() string {
	if db.driver == "postgres" {
		return " FOR UPDATE"
	}
	return ""
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Store("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Store("commit transaction", err)
	}
	return nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
