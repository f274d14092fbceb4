package core

import (
	"context"
	"errors"
	"time"
)

type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type UserWithoutSecrets struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity returns the relay identity of the user.
func (u UserWithoutSecrets) Identity() *Identity {
	return &Identity{UserID: u.ID, Username: u.Username, Avatar: u.Avatar}
}

// Profile is the public view of a user. It never carries the email.
type Profile struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u UserWithoutSecrets) Profile() Profile {
	return Profile{ID: u.ID, Username: u.Username, Avatar: u.Avatar, CreatedAt: u.CreatedAt}
}

var (
	// ErrConflictedUser is returned when the username or email is taken.
	ErrConflictedUser = errors.New("user already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, user User) (*UserWithoutSecrets, error)

	// GetUserByID returns nil without error when the user does not exist.
	GetUserByID(ctx context.Context, id string) (*UserWithoutSecrets, error)

	GetUserByEmail(ctx context.Context, email string) (*UserWithoutSecrets, error)

	GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error)

	GetUsersByIDs(ctx context.Context, ids ...string) ([]UserWithoutSecrets, error)

	ComparePassword(ctx context.Context, email, password string) (bool, error)
}
