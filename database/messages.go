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

const messageColumns = `id, sender_id, receiver_id, room_id, body, created_at, status, read_at,
	deleted, deleted_at, is_edited, edited_at, reply_to_id, reply_to_snippet, reply_to_sender`

type messageRow struct {
	ID             string         `db:"id"`
	SenderID       string         `db:"sender_id"`
	ReceiverID     string         `db:"receiver_id"`
	RoomID         string         `db:"room_id"`
	Body           string         `db:"body"`
	CreatedAt      int64          `db:"created_at"`
	Status         string         `db:"status"`
	ReadAt         sql.NullInt64  `db:"read_at"`
	Deleted        bool           `db:"deleted"`
	DeletedAt      sql.NullInt64  `db:"deleted_at"`
	IsEdited       bool           `db:"is_edited"`
	EditedAt       sql.NullInt64  `db:"edited_at"`
	ReplyToID      sql.NullString `db:"reply_to_id"`
	ReplyToSnippet sql.NullString `db:"reply_to_snippet"`
	ReplyToSender  sql.NullString `db:"reply_to_sender"`
}

func (r messageRow) message() *models.Message {
	m := &models.Message{
		ID:          r.ID,
		SenderID:    r.SenderID,
		ReceiverID:  r.ReceiverID,
		RoomID:      r.RoomID,
		Body:        r.Body,
		CreatedAt:   fromMillis(r.CreatedAt),
		Status:      models.MessageStatus(r.Status),
		ReadBy:      []string{},
		ReadAt:      timePtr(r.ReadAt),
		Deleted:     r.Deleted,
		DeletedAt:   timePtr(r.DeletedAt),
		IsEdited:    r.IsEdited,
		EditedAt:    timePtr(r.EditedAt),
		EditHistory: []models.EditEntry{},
	}
	if r.ReplyToID.Valid {
		m.ReplyTo = &models.ReplyRef{
			ID:       r.ReplyToID.String,
			Snippet:  r.ReplyToSnippet.String,
			SenderID: r.ReplyToSender.String,
		}
	}
	return m
}

type readRow struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
}

type editRow struct {
	MessageID string `db:"message_id"`
	Seq       int    `db:"seq"`
	Text      string `db:"text"`
	EditedAt  int64  `db:"edited_at"`
}

// InsertMessage persists a new message
func (db *DB) InsertMessage(ctx context.Context, m *models.Message) error {
	var replyID, replySnippet, replySender sql.NullString
	if m.ReplyTo != nil {
		replyID = sql.NullString{String: m.ReplyTo.ID, Valid: true}
		replySnippet = sql.NullString{String: m.ReplyTo.Snippet, Valid: true}
		replySender = sql.NullString{String: m.ReplyTo.SenderID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, db.q(`
		INSERT INTO messages (id, sender_id, receiver_id, room_id, body, created_at, status,
			deleted, is_edited, reply_to_id, reply_to_snippet, reply_to_sender)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SenderID, m.ReceiverID, m.RoomID, m.Body, millis(m.CreatedAt), string(m.Status),
		m.Deleted, m.IsEdited, replyID, replySnippet, replySender,
	)
	if err != nil {
		return apperr.Store("insert message", err)
	}
	return nil
}

// GetMessage retrieves a message with its readers and edit history
func (db *DB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return db.getMessage(ctx, db.conn, id, "")
}

func (db *DB) getMessage(ctx context.Context, q sqlx.QueryerContext, id, suffix string) (*models.Message, error) {
	var row messageRow
	err := sqlx.GetContext(ctx, q, &row, db.q(`SELECT `+messageColumns+` FROM messages WHERE id = ?`+suffix), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "Message not found")
	}
	if err != nil {
		return nil, apperr.Store("get message", err)
	}

	var reads []readRow
	if err := sqlx.SelectContext(ctx, q, &reads, db.q(
		`SELECT message_id, user_id FROM message_reads WHERE message_id = ? ORDER BY read_at, user_id`), id); err != nil {
		return nil, apperr.Store("get message readers", err)
	}
	var edits []editRow
	if err := sqlx.SelectContext(ctx, q, &edits, db.q(
		`SELECT message_id, seq, text, edited_at FROM message_edits WHERE message_id = ? ORDER BY seq`), id); err != nil {
		return nil, apperr.Store("get message edits", err)
	}

	m := row.message()
	for _, r := range reads {
		m.ReadBy = append(m.ReadBy, r.UserID)
	}
	for _, e := range edits {
		m.EditHistory = append(m.EditHistory, models.EditEntry{Text: e.Text, EditedAt: fromMillis(e.EditedAt)})
	}
	return m, nil
}

// RoomMessages returns every message stored for a room, deleted ones
// included. No ordering is guaranteed.
func (db *DB) RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	var rows []messageRow
	if err := db.conn.SelectContext(ctx, &rows, db.q(
		`SELECT `+messageColumns+` FROM messages WHERE room_id = ?`), roomID); err != nil {
		return nil, apperr.Store("get room messages", err)
	}
	if len(rows) == 0 {
		return []*models.Message{}, nil
	}

	var reads []readRow
	if err := db.conn.SelectContext(ctx, &reads, db.q(`
		SELECT r.message_id, r.user_id FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.room_id = ?
		ORDER BY r.read_at, r.user_id`), roomID); err != nil {
		return nil, apperr.Store("get room readers", err)
	}
	var edits []editRow
	if err := db.conn.SelectContext(ctx, &edits, db.q(`
		SELECT e.message_id, e.seq, e.text, e.edited_at FROM message_edits e
		JOIN messages m ON m.id = e.message_id
		WHERE m.room_id = ?
		ORDER BY e.seq`), roomID); err != nil {
		return nil, apperr.Store("get room edits", err)
	}

	out := make([]*models.Message, len(rows))
	byID := make(map[string]*models.Message, len(rows))
	for i, r := range rows {
		out[i] = r.message()
		byID[r.ID] = out[i]
	}
	for _, r := range reads {
		if m, ok := byID[r.MessageID]; ok {
			m.ReadBy = append(m.ReadBy, r.UserID)
		}
	}
	for _, e := range edits {
		if m, ok := byID[e.MessageID]; ok {
			m.EditHistory = append(m.EditHistory, models.EditEntry{Text: e.Text, EditedAt: fromMillis(e.EditedAt)})
		}
	}
	return out, nil
}

// UpdateMessage loads a message inside a transaction, lets fn mutate it and
// persists the result. Edit history entries and readers added by fn are
// appended; existing ones are never rewritten. If fn returns an error
// nothing is written and the error is returned unchanged.
func (db *DB) UpdateMessage(ctx context.Context, id string, fn func(m *models.Message) error) (*models.Message, error) {
	var out *models.Message
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		m, err := db.getMessage(ctx, tx, id, db.forUpdate())
		if err != nil {
			return err
		}
		prevEdits := len(m.EditHistory)
		prevReaders := make(map[string]bool, len(m.ReadBy))
		for _, r := range m.ReadBy {
			prevReaders[r] = true
		}

		if err := fn(m); err != nil {
			return err
		}
		if len(m.EditHistory) < prevEdits {
			return apperr.New(apperr.InvalidState, "Edit history is append-only")
		}

		_, err = tx.ExecContext(ctx, db.q(`
			UPDATE messages SET body = ?, status = ?, read_at = ?, deleted = ?, deleted_at = ?,
				is_edited = ?, edited_at = ?
			WHERE id = ?`),
			m.Body, string(m.Status), nullMillis(m.ReadAt), m.Deleted, nullMillis(m.DeletedAt),
			m.IsEdited, nullMillis(m.EditedAt), m.ID,
		)
		if err != nil {
			return apperr.Store("update message", err)
		}

		for i := prevEdits; i < len(m.EditHistory); i++ {
			e := m.EditHistory[i]
			if _, err := tx.ExecContext(ctx, db.q(
				`INSERT INTO message_edits (message_id, seq, text, edited_at) VALUES (?, ?, ?, ?)`),
				m.ID, i+1, e.Text, millis(e.EditedAt)); err != nil {
				return apperr.Store("append edit history", err)
			}
		}

		readAt := time.Now()
		if m.ReadAt != nil {
			readAt = *m.ReadAt
		}
		for _, r := range m.ReadBy {
			if prevReaders[r] {
				continue
			}
			if _, err := tx.ExecContext(ctx, db.q(
				`INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
				m.ID, r, millis(readAt)); err != nil {
				return apperr.Store("add reader", err)
			}
		}

		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRoomRead marks every visible unread message from sender to reader as
// read and returns the ids that changed.
func (db *DB) MarkRoomRead(ctx context.Context, reader, sender string, at time.Time) ([]string, error) {
	var ids []string
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &ids, db.q(`
			SELECT id FROM messages
			WHERE sender_id = ? AND receiver_id = ? AND status <> ? AND deleted = ?
			ORDER BY created_at, id`+db.forUpdate()),
			sender, reader, string(models.MessageRead), false); err != nil {
			return apperr.Store("select unread", err)
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, db.q(
				`UPDATE messages SET status = ?, read_at = ? WHERE id = ?`),
				string(models.MessageRead), millis(at), id); err != nil {
				return apperr.Store("mark read", err)
			}
			if _, err := tx.ExecContext(ctx, db.q(
				`INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`),
				id, reader, millis(at)); err != nil {
				return apperr.Store("add reader", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CountUnread counts visible messages from sender to recipient that are
// not read yet
func (db *DB) CountUnread(ctx context.Context, recipient, sender string) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, db.q(`
		SELECT COUNT(*) FROM messages
		WHERE receiver_id = ? AND sender_id = ? AND status <> ? AND deleted = ?`),
		recipient, sender, string(models.MessageRead), false,
	)
	if err != nil {
		return 0, apperr.Store("count unread", err)
	}
	return n, nil
}
