package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cliptube/signal-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friends (
	user_id    TEXT NOT NULL,
	friend_id  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, friend_id),
	FOREIGN KEY (user_id) REFERENCES users(id),
	FOREIGN KEY (friend_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_friends_friend ON friends(friend_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user with a generated ID.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, avatarURL string) (*store.User, error) {
	user := &store.User{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		AvatarURL: avatarURL,
	}

	const q = `INSERT INTO users (id, name, email, avatar_url) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, user.ID, user.Name, user.Email, user.AvatarURL); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	const q = `SELECT id, name, email, avatar_url, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, q, id))
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	const q = `SELECT id, name, email, avatar_url, created_at FROM users WHERE email = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, q, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// AddFriend records a friendship. The pair is stored once, in insertion
// direction; lookups check both directions.
func (s *SQLiteStore) AddFriend(ctx context.Context, userID, friendID string) error {
	if userID == friendID {
		return fmt.Errorf("cannot friend self")
	}

	if _, err := s.GetUser(ctx, friendID); err != nil {
		return fmt.Errorf("target user: %w", err)
	}

	already, err := s.IsFriend(ctx, userID, friendID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	const q = `INSERT INTO friends (user_id, friend_id) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, q, userID, friendID); err != nil {
		return fmt.Errorf("insert friendship: %w", err)
	}
	return nil
}

// RemoveFriend deletes a friendship in either direction.
func (s *SQLiteStore) RemoveFriend(ctx context.Context, userID, friendID string) error {
	const q = `DELETE FROM friends
		WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`
	res, err := s.db.ExecContext(ctx, q, userID, friendID, friendID, userID)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListFriends returns the users the given user may call.
func (s *SQLiteStore) ListFriends(ctx context.Context, userID string) ([]*store.User, error) {
	const q = `SELECT u.id, u.name, u.email, u.avatar_url, u.created_at
		FROM users u
		JOIN friends f ON (f.friend_id = u.id AND f.user_id = ?)
			OR (f.user_id = u.id AND f.friend_id = ?)
		ORDER BY u.name`
	rows, err := s.db.QueryContext(ctx, q, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, &u)
	}
	return friends, rows.Err()
}

// IsFriend reports whether two users are friends.
func (s *SQLiteStore) IsFriend(ctx context.Context, userID, friendID string) (bool, error) {
	const q = `SELECT COUNT(1) FROM friends
		WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`
	var n int
	if err := s.db.QueryRowContext(ctx, q, userID, friendID, friendID, userID).Scan(&n); err != nil {
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return n > 0, nil
}
