package handlers

import (
	"net/http"

	"consy/chat"
)

// MessagesHandler serves the /api/messages routes
type MessagesHandler struct {
	svc *chat.Service
}

// NewMessagesHandler creates the chat routes handler
func NewMessagesHandler(svc *chat.Service) *MessagesHandler {
	return &MessagesHandler{svc: svc}
}

type sendMessageBody struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	RoomID     string `json:"roomId"`
	Message    string `json:"message"`
	ReplyTo    string `json:"replyTo"`
}

type editMessageBody struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	NewText   string `json:"newText"`
}

type messageActionBody struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type conversationBody struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
	Limit    int    `json:"limit"`
}

// SendMessage stores a message and delivers it to the room
func (h *MessagesHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.SenderID); err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.svc.Send(r.Context(), chat.SendInput{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		RoomID:     req.RoomID,
		Body:       req.Message,
		ReplyToID:  req.ReplyTo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"messageId": msg.ID,
	})
}

// EditMessage replaces the text of a message owned by userId
func (h *MessagesHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.svc.Edit(r.Context(), req.MessageID, req.UserID, req.NewText); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeleteMessage soft-deletes a message owned by userId
func (h *MessagesHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req messageActionBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Delete(r.Context(), req.MessageID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// MarkRead records that userId read a message
func (h *MessagesHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req messageActionBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.svc.MarkRead(r.Context(), req.MessageID, req.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// MarkAllRead marks every message friendId sent to userId as read
func (h *MessagesHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	req, ok := h.conversation(w, r)
	if !ok {
		return
	}

	n, err := h.svc.MarkAllRead(r.Context(), req.UserID, req.FriendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": n,
	})
}

// GetMessages returns the visible history of the conversation
func (h *MessagesHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := h.conversation(w, r)
	if !ok {
		return
	}

	msgs, err := h.svc.History(r.Context(), req.UserID, req.FriendID, req.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": msgs,
	})
}

// GetLastMessage returns the newest visible message, or null
func (h *MessagesHandler) GetLastMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.conversation(w, r)
	if !ok {
		return
	}

	msg, err := h.svc.LastMessage(r.Context(), req.UserID, req.FriendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"lastMessage": msg,
	})
}

// GetUnreadCount counts the messages from friendId that userId has not read
func (h *MessagesHandler) GetUnreadCount(w http.ResponseWriter, r *http.Request) {
	req, ok := h.conversation(w, r)
	if !ok {
		return
	}

	n, err := h.svc.UnreadCount(r.Context(), req.UserID, req.FriendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"unreadCount": n,
	})
}

func (h *MessagesHandler) conversation(w http.ResponseWriter, r *http.Request) (conversationBody, bool) {
	var req conversationBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return req, false
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return req, false
	}
	return req, true
}
