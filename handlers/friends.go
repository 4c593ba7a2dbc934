package handlers

import (
	"context"
	"net/http"

	"consy/friends"
	"consy/models"
)

// FriendsHandler serves the /api/contact routes
type FriendsHandler struct {
	svc *friends.Service
}

// NewFriendsHandler creates the contact routes handler
func NewFriendsHandler(svc *friends.Service) *FriendsHandler {
	return &FriendsHandler{svc: svc}
}

type sendRequestBody struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

type respondRequestBody struct {
	UserID    string `json:"userId"`
	RequestID string `json:"requestId"`
}

type removeFriendBody struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
}

type uidBody struct {
	UID string `json:"uid"`
}

type usersListBody struct {
	MainUserID string `json:"mainUserId"`
}

type outcomeResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	NewFriend *models.Profile `json:"newFriend,omitempty"`
}

func writeOutcome(w http.ResponseWriter, out friends.Outcome) {
	writeJSON(w, http.StatusOK, outcomeResponse{
		Success:   out.Changed,
		Message:   out.Message,
		NewFriend: out.Friend,
	})
}

// SendRequest sends a friend request from senderId to receiverId
func (h *FriendsHandler) SendRequest(w http.ResponseWriter, r *http.Request) {
	var req sendRequestBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.SenderID); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.SendRequest(r.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

// AcceptRequest confirms the pending request requestId sent to userId
func (h *FriendsHandler) AcceptRequest(w http.ResponseWriter, r *http.Request) {
	var req respondRequestBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.AcceptRequest(r.Context(), req.UserID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

// RejectRequest drops the pending request requestId sent to userId
func (h *FriendsHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var req respondRequestBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.RejectRequest(r.Context(), req.UserID, req.RequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

// RemoveFriend removes a confirmed friendship
func (h *FriendsHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	var req removeFriendBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UserID); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.svc.RemoveFriend(r.Context(), req.UserID, req.FriendID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOutcome(w, out)
}

// GetRequests lists the users with a pending request towards uid
func (h *FriendsHandler) GetRequests(w http.ResponseWriter, r *http.Request) {
	h.listByUID(w, r, h.svc.ListIncomingRequests)
}

// SentRequests lists the users uid has a pending request towards
func (h *FriendsHandler) SentRequests(w http.ResponseWriter, r *http.Request) {
	h.listByUID(w, r, h.svc.ListOutgoingRequests)
}

// GetFriends lists the confirmed friends of uid
func (h *FriendsHandler) GetFriends(w http.ResponseWriter, r *http.Request) {
	h.listByUID(w, r, h.svc.ListFriends)
}

type profileLister func(ctx context.Context, userID string) ([]models.Profile, error)

func (h *FriendsHandler) listByUID(w http.ResponseWriter, r *http.Request, list profileLister) {
	var req uidBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.UID); err != nil {
		writeError(w, err)
		return
	}

	profiles, err := list(r.Context(), req.UID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// UsersList lists the users mainUserId could send a request to
func (h *FriendsHandler) UsersList(w http.ResponseWriter, r *http.Request) {
	var req usersListBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, req.MainUserID); err != nil {
		writeError(w, err)
		return
	}

	profiles, err := h.svc.ListDiscoverable(r.Context(), req.MainUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}
