package models

import "time"

// MessageStatus is the delivery state of a chat message
type MessageStatus string

const (
	MessageSent MessageStatus = "sent"
	MessageRead MessageStatus = "read"
)

// Message represents a chat message between two users
type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId"`
	RoomID      string        `json:"roomId"`
	Body        string        `json:"message"`
	CreatedAt   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	ReadBy      []string      `json:"readBy"`
	ReadAt      *time.Time    `json:"readAt,omitempty"`
	Deleted     bool          `json:"deleted"`
	DeletedAt   *time.Time    `json:"deletedAt,omitempty"`
	IsEdited    bool          `json:"isEdited"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	EditHistory []EditEntry   `json:"editHistory"`
	ReplyTo     *ReplyRef     `json:"replyTo,omitempty"`
}

// EditEntry records the text a message had before an edit
type EditEntry struct {
	Text     string    `json:"text"`
	EditedAt time.Time `json:"editedAt"`
}

// ReplyRef is the denormalized view of the message being replied to
type ReplyRef struct {
	ID       string `json:"id"`
	Snippet  string `json:"snippet"`
	SenderID string `json:"senderId"`
}

// IsReadBy reports whether userID already read the message.
func (m *Message) IsReadBy(userID string) bool {
	return contains(m.ReadBy, userID)
}
