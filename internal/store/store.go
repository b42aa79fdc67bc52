package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User is a minimal public profile, enough for the incoming-call UI.
type User struct {
	ID        string
	Name      string
	Email     string
	AvatarURL string
	CreatedAt time.Time
}

// UserStore handles user directory lookups.
type UserStore interface {
	// CreateUser creates a new user and returns it with a generated ID.
	CreateUser(ctx context.Context, name, email, avatarURL string) (*User, error)

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// FriendStore handles the persisted friend list. Friendship is symmetric:
// adding either direction makes both users friends.
type FriendStore interface {
	// AddFriend records a friendship between two users.
	AddFriend(ctx context.Context, userID, friendID string) error

	// RemoveFriend deletes a friendship in either direction.
	RemoveFriend(ctx context.Context, userID, friendID string) error

	// ListFriends returns the users the given user may call.
	ListFriends(ctx context.Context, userID string) ([]*User, error)

	// IsFriend reports whether two users are friends.
	IsFriend(ctx context.Context, userID, friendID string) (bool, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	FriendStore

	// Close closes the underlying database connection.
	Close() error
}
