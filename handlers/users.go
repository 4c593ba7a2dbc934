package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"consy/apperr"
	"consy/models"
)

// UserStore is the profile mirror the identity collaborator writes to
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, p models.Profile) error
}

// Presence reports whether a user has a live socket
type Presence interface {
	IsOnline(userID string) bool
}

// UsersHandler serves /api/users/{id}
type UsersHandler struct {
	store    UserStore
	presence Presence
	log      logrus.FieldLogger
}

// NewUsersHandler creates the profile routes handler. presence may be nil.
func NewUsersHandler(store UserStore, presence Presence, log logrus.FieldLogger) *UsersHandler {
	return &UsersHandler{store: store, presence: presence, log: log}
}

type profileBody struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
}

// GetUser returns the public profile of the user in the path
func (h *UsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.logFailure(err, "get user")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.profile(u))
}

// PutUser creates or refreshes the profile of the user in the path. Only
// the user themselves may write it.
func (h *UsersHandler) PutUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req profileBody
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorize(r, id); err != nil {
		writeError(w, err)
		return
	}
	if req.Username == "" {
		writeError(w, apperr.New(apperr.InvalidInput, "Missing username"))
		return
	}

	err := h.store.UpsertUser(r.Context(), models.Profile{
		ID:        id,
		Username:  req.Username,
		Name:      req.Name,
		Avatar:    req.Avatar,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logFailure(err, "upsert user")
		writeError(w, err)
		return
	}

	u, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.logFailure(err, "get user")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.profile(u))
}

func (h *UsersHandler) profile(u *models.User) models.Profile {
	p := u.ToProfile()
	if h.presence != nil {
		p.Online = h.presence.IsOnline(u.ID)
	}
	return p
}

func (h *UsersHandler) logFailure(err error, op string) {
	if apperr.KindOf(err) != apperr.StoreFailure {
		return
	}
	h.log.WithError(err).Errorf("failed to %s", op)
}
