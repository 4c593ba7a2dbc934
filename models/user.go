package models

import "time"

// User represents a user together with the three relation sets that back the
// friend graph. The profile fields are owned by the identity subsystem.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`

	FriendRequestsIncoming []string `json:"friend_requests_incoming"`
	FriendRequestsOutgoing []string `json:"friend_requests_outgoing"`
	Friends                []string `json:"friends"`
}

// Profile is the safe version of User for API responses
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	Online    bool      `json:"online"`
}

// ToProfile converts User to Profile
func (u *User) ToProfile() Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

// HasIncoming reports whether other has a pending request towards u.
func (u *User) HasIncoming(other string) bool {
	return contains(u.FriendRequestsIncoming, other)
}

// HasOutgoing reports whether u has a pending request towards other.
func (u *User) HasOutgoing(other string) bool {
	return contains(u.FriendRequestsOutgoing, other)
}

// IsFriend reports whether other is in u's confirmed set.
func (u *User) IsFriend(other string) bool {
	return contains(u.Friends, other)
}

// References reports whether any of u's relation sets mentions other.
func (u *User) References(other string) bool {
	return u.HasIncoming(other) || u.HasOutgoing(other) || u.IsFriend(other)
}

// StateWith derives the relationship state of the pair (u, other) as seen
// from u's own relation sets.
func (u *User) StateWith(other string) FriendState {
	switch {
	case u.IsFriend(other):
		return FriendStateConfirmed
	case u.HasOutgoing(other):
		return FriendStatePendingOut
	case u.HasIncoming(other):
		return FriendStatePendingIn
	default:
		return FriendStateNone
	}
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
