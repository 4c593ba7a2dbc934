// Package chat implements the direct-message lifecycle: send, edit, soft
// delete, read receipts and history retrieval.
package chat

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"consy/apperr"
	"consy/events"
	"consy/models"
)

const (
	// DefaultHistoryLimit bounds History when no limit is configured.
	DefaultHistoryLimit = 100
	snippetLength       = 100
)

// Store is the message persistence the service needs
type Store interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	RoomMessages(ctx context.Context, roomID string) ([]*models.Message, error)
	UpdateMessage(ctx context.Context, id string, fn func(m *models.Message) error) (*models.Message, error)
	MarkRoomRead(ctx context.Context, reader, sender string, at time.Time) ([]string, error)
	CountUnread(ctx context.Context, recipient, sender string) (int, error)
}

// Service enforces message state transitions
type Service struct {
	store        Store
	pub          events.Publisher
	log          logrus.FieldLogger
	now          func() time.Time
	historyLimit int
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHistoryLimit sets the default and maximum History size.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// NewService creates a chat service
func NewService(store Store, pub events.Publisher, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		pub:          pub,
		log:          log,
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendInput is the request to send a message
type SendInput struct {
	SenderID   string
	ReceiverID string
	RoomID     string
	Body       string
	ReplyToID  string
}

// Send stores a new message and notifies the room
func (s *Service) Send(ctx context.Context, in SendInput) (*models.Message, error) {
	if in.SenderID == "" || in.ReceiverID == "" || strings.TrimSpace(in.Body) == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing required fields")
	}
	if in.SenderID == in.ReceiverID {
		return nil, apperr.New(apperr.InvalidInput, "Cannot message yourself")
	}
	room := RoomID(in.SenderID, in.ReceiverID)
	if in.RoomID != "" && in.RoomID != room {
		return nil, apperr.New(apperr.InvalidInput, "Room does not match participants")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreFailure, "generate message id", err)
	}
	msg := &models.Message{
		ID:          id.String(),
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		RoomID:      room,
		Body:        in.Body,
		CreatedAt:   s.now().UTC(),
		Status:      models.MessageSent,
		ReadBy:      []string{},
		EditHistory: []models.EditEntry{},
	}

	if in.ReplyToID != "" {
		ref, err := s.replyRef(ctx, in.ReplyToID, room)
		if err != nil {
			return nil, err
		}
		msg.ReplyTo = ref
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.log.WithError(err).WithField("room_id", room).Error("failed to store message")
		return nil, err
	}

	s.pub.Publish(ctx, events.Event{
		Type:    events.ReceiveMessage,
		Room:    room,
		Payload: msg,
	})
	return msg, nil
}

func (s *Service) replyRef(ctx context.Context, id, room string) (*models.ReplyRef, error) {
	target, err := s.store.GetMessage(ctx, id)
	if apperr.Is(err, apperr.NotFound) {
		return nil, apperr.New(apperr.InvalidInput, "Reply target not found")
	}
	if err != nil {
		return nil, err
	}
	if target.Deleted || target.RoomID != room {
		return nil, apperr.New(apperr.InvalidInput, "Reply target not found")
	}
	return &models.ReplyRef{
		ID:       target.ID,
		Snippet:  snippet(target.Body),
		SenderID: target.SenderID,
	}, nil
}

func snippet(body string) string {
	r := []rune(body)
	if len(r) <= snippetLength {
		return body
	}
	return string(r[:snippetLength])
}

// Edit replaces the body of a message owned by userID, keeping the previous
// text in the edit history
func (s *Service) Edit(ctx context.Context, messageID, userID, newText string) (*models.Message, error) {
	if messageID == "" || userID == "" || strings.TrimSpace(newText) == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing required fields")
	}

	now := s.now().UTC()
	msg, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) error {
		if m.SenderID != userID {
			return apperr.New(apperr.Forbidden, "Unauthorized")
		}
		if m.Deleted {
			return apperr.New(apperr.InvalidState, "Message was deleted")
		}
		m.EditHistory = append(m.EditHistory, models.EditEntry{Text: m.Body, EditedAt: now})
		m.Body = newText
		m.IsEdited = true
		m.EditedAt = &now
		return nil
	})
	if err != nil {
		s.logFailure(err, "edit", messageID)
		return nil, err
	}

	s.pub.Publish(ctx, events.Event{
		Type: events.MessageEdited,
		Room: msg.RoomID,
		Payload: map[string]interface{}{
			"messageId": msg.ID,
			"roomId":    msg.RoomID,
			"message":   msg.Body,
			"editedAt":  now,
		},
	})
	return msg, nil
}

// Delete soft-deletes a message owned by userID. Deleting an already
// deleted message succeeds without changes.
func (s *Service) Delete(ctx context.Context, messageID, userID string) error {
	if messageID == "" || userID == "" {
		return apperr.New(apperr.InvalidInput, "Missing messageId or userId")
	}

	now := s.now().UTC()
	changed := false
	msg, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) error {
		if m.SenderID != userID {
			return apperr.New(apperr.Forbidden, "Unauthorized")
		}
		if m.Deleted {
			return nil
		}
		m.Deleted = true
		m.DeletedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		s.logFailure(err, "delete", messageID)
		return err
	}

	if changed {
		s.pub.Publish(ctx, events.Event{
			Type: events.MessageDeleted,
			Room: msg.RoomID,
			Payload: map[string]interface{}{
				"messageId": msg.ID,
				"roomId":    msg.RoomID,
			},
		})
	}
	return nil
}

// MarkRead records that reader has read the message. Repeated calls and
// calls by the message's own sender leave the message unchanged.
func (s *Service) MarkRead(ctx context.Context, messageID, reader string) (*models.Message, error) {
	if messageID == "" || reader == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing messageId or userId")
	}

	now := s.now().UTC()
	changed := false
	msg, err := s.store.UpdateMessage(ctx, messageID, func(m *models.Message) error {
		if m.SenderID == reader || m.IsReadBy(reader) {
			return nil
		}
		m.ReadBy = append(m.ReadBy, reader)
		m.Status = models.MessageRead
		m.ReadAt = &now
		changed = true
		return nil
	})
	if err != nil {
		s.logFailure(err, "mark read", messageID)
		return nil, err
	}

	if changed {
		s.pub.Publish(ctx, events.Event{
			Type: events.MessageRead,
			Room: msg.RoomID,
			Payload: map[string]interface{}{
				"messageId": msg.ID,
				"roomId":    msg.RoomID,
				"userId":    reader,
			},
		})
	}
	return msg, nil
}

// MarkAllRead marks every unread message from sender to reader as read and
// returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, reader, sender string) (int, error) {
	if reader == "" || sender == "" {
		return 0, apperr.New(apperr.InvalidInput, "Missing userId or friendId")
	}

	ids, err := s.store.MarkRoomRead(ctx, reader, sender, s.now().UTC())
	if err != nil {
		s.log.WithError(err).WithField("user_id", reader).Error("failed to mark room read")
		return 0, err
	}

	room := RoomID(reader, sender)
	for _, id := range ids {
		s.pub.Publish(ctx, events.Event{
			Type: events.MessageRead,
			Room: room,
			Payload: map[string]interface{}{
				"messageId": id,
				"roomId":    room,
				"userId":    reader,
			},
		})
	}
	return len(ids), nil
}

// History returns up to limit of the most recent visible messages between
// two users, oldest first. A non-positive limit, or one above the configured
// maximum, uses the configured maximum.
func (s *Service) History(ctx context.Context, userA, userB string, limit int) ([]*models.Message, error) {
	if userA == "" || userB == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing userId or friendId")
	}
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	all, err := s.store.RoomMessages(ctx, RoomID(userA, userB))
	if err != nil {
		s.log.WithError(err).WithField("user_id", userA).Error("failed to load history")
		return nil, err
	}

	visible := make([]*models.Message, 0, len(all))
	for _, m := range all {
		if !m.Deleted {
			visible = append(visible, m)
		}
	}
	sortMessages(visible)

	if len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible, nil
}

// LastMessage returns the most recent visible message between two users,
// or nil when there is none
func (s *Service) LastMessage(ctx context.Context, userA, userB string) (*models.Message, error) {
	msgs, err := s.History(ctx, userA, userB, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// UnreadCount counts visible messages from sender to recipient that are not
// read
func (s *Service) UnreadCount(ctx context.Context, recipient, sender string) (int, error) {
	if recipient == "" || sender == "" {
		return 0, apperr.New(apperr.InvalidInput, "Missing userId or friendId")
	}
	n, err := s.store.CountUnread(ctx, recipient, sender)
	if err != nil {
		s.log.WithError(err).WithField("user_id", recipient).Error("failed to count unread")
		return 0, err
	}
	return n, nil
}

// sortMessages orders by creation time. Ids are UUIDv7 and break ties in
// creation order.
func sortMessages(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func (s *Service) logFailure(err error, op, messageID string) {
	if apperr.KindOf(err) != apperr.StoreFailure {
		return
	}
	s.log.WithError(err).WithField("message_id", messageID).Errorf("failed to %s message", op)
}
