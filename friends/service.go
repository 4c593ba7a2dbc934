// Package friends implements the friend request state machine on top of the
// relationship store.
package friends

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"consy/apperr"
	"consy/events"
	"consy/models"
)

// Store is the relationship persistence the service needs
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	Profiles(ctx context.Context, ids []string) ([]models.Profile, error)
	AddPendingRequest(ctx context.Context, sender, receiver string, at time.Time) (bool, error)
	ConfirmRequest(ctx context.Context, accepter, requester string, at time.Time) (bool, error)
	DropRequest(ctx context.Context, rejecter, requester string) (bool, error)
	RemoveFriend(ctx context.Context, userID, friendID string) (bool, error)
}

// Presence reports whether a user currently has a live connection
type Presence interface {
	IsOnline(userID string) bool
}

// Outcome is the result of a transition. Changed is false when the pair was
// already in the requested state; Message explains why.
type Outcome struct {
	Changed bool
	Message string
	Friend  *models.Profile
}

// Service governs transitions of the friend graph
type Service struct {
	store    Store
	pub      events.Publisher
	log      logrus.FieldLogger
	presence Presence
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPresence fills Profile.Online in listings.
func WithPresence(p Presence) Option {
	return func(s *Service) { s.presence = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a friends service
func NewService(store Store, pub events.Publisher, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{store: store, pub: pub, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func conflictMessage(state models.FriendState) string {
	switch state {
	case models.FriendStatePendingOut:
		return "Request already sent"
	case models.FriendStatePendingIn:
		return "Request already received"
	case models.FriendStateConfirmed:
		return "Already friends"
	}
	return ""
}

// SendRequest creates a pending request from sender to receiver. No event is
// published; the receiver discovers it by listing incoming requests.
func (s *Service) SendRequest(ctx context.Context, sender, receiver string) (Outcome, error) {
	if sender == "" || receiver == "" {
		return Outcome{}, apperr.New(apperr.InvalidInput, "Missing senderId or receiverId")
	}
	if sender == receiver {
		return Outcome{}, apperr.New(apperr.InvalidInput, "Cannot send a request to yourself")
	}

	from, to, err := s.loadPair(ctx, sender, receiver)
	if err != nil {
		return Outcome{}, err
	}
	if state := pairState(from, to); state != models.FriendStateNone {
		return Outcome{Message: conflictMessage(state)}, nil
	}

	created, err := s.store.AddPendingRequest(ctx, sender, receiver, s.now().UTC())
	if err != nil {
		s.logFailure(err, "send request", sender, receiver)
		return Outcome{}, err
	}
	if !created {
		// Lost a race with another transition on the same pair.
		return s.currentConflict(ctx, sender, receiver)
	}

	s.log.WithFields(logrus.Fields{"user_id": sender, "friend_id": receiver}).Debug("friend request sent")
	return Outcome{Changed: true, Message: "Friend request sent"}, nil
}

// AcceptRequest confirms the pending request from requester to accepter
func (s *Service) AcceptRequest(ctx context.Context, accepter, requester string) (Outcome, error) {
	if accepter == "" || requester == "" {
		return Outcome{}, apperr.New(apperr.InvalidInput, "Missing userId or requestId")
	}

	me, _, err := s.loadPair(ctx, accepter, requester)
	if err != nil {
		return Outcome{}, err
	}
	if me.IsFriend(requester) {
		return Outcome{Message: "Already friends"}, nil
	}
	if !me.HasIncoming(requester) {
		return Outcome{}, apperr.New(apperr.NotFound, "Friend request not found")
	}

	ok, err := s.store.ConfirmRequest(ctx, accepter, requester, s.now().UTC())
	if err != nil {
		s.logFailure(err, "accept request", accepter, requester)
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, apperr.New(apperr.NotFound, "Friend request not found")
	}

	out := Outcome{Changed: true, Message: "Friend request accepted"}
	profiles, err := s.store.Profiles(ctx, []string{requester})
	if err != nil {
		s.log.WithError(err).WithField("user_id", requester).Warn("failed to load new friend profile")
	} else if len(profiles) == 1 {
		p := s.withPresence(profiles)[0]
		out.Friend = &p
	}

	s.pub.Publish(ctx, events.Event{
		Type: events.FriendRequestAccepted,
		Payload: map[string]string{
			"userId":   accepter,
			"friendId": requester,
		},
	})
	return out, nil
}

// RejectRequest drops the pending request from requester to rejecter
func (s *Service) RejectRequest(ctx context.Context, rejecter, requester string) (Outcome, error) {
	if rejecter == "" || requester == "" {
		return Outcome{}, apperr.New(apperr.InvalidInput, "Missing userId or requestId")
	}

	me, _, err := s.loadPair(ctx, rejecter, requester)
	if err != nil {
		return Outcome{}, err
	}
	if !me.HasIncoming(requester) {
		return Outcome{}, apperr.New(apperr.NotFound, "Friend request not found")
	}

	ok, err := s.store.DropRequest(ctx, rejecter, requester)
	if err != nil {
		s.logFailure(err, "reject request", rejecter, requester)
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, apperr.New(apperr.NotFound, "Friend request not found")
	}

	s.pub.Publish(ctx, events.Event{
		Type: events.FriendRequestRejected,
		Payload: map[string]string{
			"userId":   rejecter,
			"friendId": requester,
		},
	})
	return Outcome{Changed: true, Message: "Friend request rejected"}, nil
}

// RemoveFriend ends a confirmed friendship
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) (Outcome, error) {
	if userID == "" || friendID == "" {
		return Outcome{}, apperr.New(apperr.InvalidInput, "Missing userId or friendId")
	}

	me, _, err := s.loadPair(ctx, userID, friendID)
	if err != nil {
		return Outcome{}, err
	}
	if !me.IsFriend(friendID) {
		return Outcome{}, apperr.New(apperr.NotFound, "Not friends")
	}

	ok, err := s.store.RemoveFriend(ctx, userID, friendID)
	if err != nil {
		s.logFailure(err, "remove friend", userID, friendID)
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, apperr.New(apperr.NotFound, "Not friends")
	}

	s.pub.Publish(ctx, events.Event{
		Type: events.FriendRemoved,
		Payload: map[string]string{
			"userId":   userID,
			"friendId": friendID,
		},
	})
	return Outcome{Changed: true, Message: "Friend removed"}, nil
}

// ListIncomingRequests returns the profiles of users with a pending request
// towards userID
func (s *Service) ListIncomingRequests(ctx context.Context, userID string) ([]models.Profile, error) {
	return s.listRelation(ctx, userID, func(u *models.User) []string { return u.FriendRequestsIncoming })
}

// ListOutgoingRequests returns the profiles userID has sent requests to
func (s *Service) ListOutgoingRequests(ctx context.Context, userID string) ([]models.Profile, error) {
	return s.listRelation(ctx, userID, func(u *models.User) []string { return u.FriendRequestsOutgoing })
}

// ListFriends returns the confirmed friends of userID
func (s *Service) ListFriends(ctx context.Context, userID string) ([]models.Profile, error) {
	return s.listRelation(ctx, userID, func(u *models.User) []string { return u.Friends })
}

func (s *Service) listRelation(ctx context.Context, userID string, set func(*models.User) []string) ([]models.Profile, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing uid")
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logFailure(err, "load user", userID, "")
		return nil, err
	}
	profiles, err := s.store.Profiles(ctx, set(u))
	if err != nil {
		s.logFailure(err, "load profiles", userID, "")
		return nil, err
	}
	return s.withPresence(profiles), nil
}

// ListDiscoverable returns every other user that has no relation with
// userID, checked from both ends of the pair.
func (s *Service) ListDiscoverable(ctx context.Context, userID string) ([]models.Profile, error) {
	if userID == "" {
		return nil, apperr.New(apperr.InvalidInput, "Missing mainUserId")
	}
	me, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logFailure(err, "load user", userID, "")
		return nil, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		s.logFailure(err, "list users", userID, "")
		return nil, err
	}

	out := make([]models.Profile, 0, len(users))
	for i := range users {
		other := &users[i]
		if other.ID == userID || me.References(other.ID) || other.References(userID) {
			continue
		}
		out = append(out, other.ToProfile())
	}
	return s.withPresence(out), nil
}

func (s *Service) loadPair(ctx context.Context, a, b string) (*models.User, *models.User, error) {
	ua, err := s.store.GetUser(ctx, a)
	if err != nil {
		s.logFailure(err, "load user", a, b)
		return nil, nil, err
	}
	ub, err := s.store.GetUser(ctx, b)
	if err != nil {
		s.logFailure(err, "load user", b, a)
		return nil, nil, err
	}
	return ua, ub, nil
}

// pairState derives the state of (a, b) from both users' sets, so a
// relation recorded on only one side still counts.
func pairState(a, b *models.User) models.FriendState {
	if state := a.StateWith(b.ID); state != models.FriendStateNone {
		return state
	}
	switch b.StateWith(a.ID) {
	case models.FriendStateConfirmed:
		return models.FriendStateConfirmed
	case models.FriendStatePendingOut:
		return models.FriendStatePendingIn
	case models.FriendStatePendingIn:
		return models.FriendStatePendingOut
	}
	return models.FriendStateNone
}

func (s *Service) currentConflict(ctx context.Context, sender, receiver string) (Outcome, error) {
	from, to, err := s.loadPair(ctx, sender, receiver)
	if err != nil {
		return Outcome{}, err
	}
	msg := conflictMessage(pairState(from, to))
	if msg == "" {
		msg = "Request already sent"
	}
	return Outcome{Message: msg}, nil
}

func (s *Service) withPresence(profiles []models.Profile) []models.Profile {
	if s.presence == nil {
		return profiles
	}
	for i := range profiles {
		profiles[i].Online = s.presence.IsOnline(profiles[i].ID)
	}
	return profiles
}

func (s *Service) logFailure(err error, op, userID, friendID string) {
	if apperr.KindOf(err) != apperr.StoreFailure {
		return
	}
	s.log.WithError(err).WithFields(logrus.Fields{
		"user_id":   userID,
		"friend_id": friendID,
	}).Errorf("failed to %s", op)
}
