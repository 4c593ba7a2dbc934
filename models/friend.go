package models

// RelationKind names one of the per-user relation sets
type RelationKind string

const (
	RelationIncoming RelationKind = "incoming"
	RelationOutgoing RelationKind = "outgoing"
	RelationFriend   RelationKind = "friend"
)

// FriendState represents the state of an ordered pair of users
type FriendState string

const (
	FriendStateNone       FriendState = "none"
	FriendStatePendingOut FriendState = "pending_out"
	FriendStatePendingIn  FriendState = "pending_in"
	FriendStateConfirmed  FriendState = "confirmed"
)
