package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{
		db: db,
	}
}

const userColumns = "id, username, email, avatar, created_at"

func scanUser(row interface{ Scan(...any) error }) (*UserWithoutSecrets, error) {
	user := new(UserWithoutSecrets)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.Avatar, &user.CreatedAt); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, user User) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = @username OR email = @email",
		sql.Named("username", user.Username), sql.Named("email", user.Email))
	var count int
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("checking if user exists: %w", err)
	}
	if count > 0 {
		return nil, ErrConflictedUser
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	created := &UserWithoutSecrets{
		ID:        uuid.NewString(),
		Username:  user.Username,
		Email:     user.Email,
		Avatar:    user.Avatar,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password, avatar, created_at) VALUES (@id, @username, @email, @password, @avatar, @created_at)",
		sql.Named("id", created.ID), sql.Named("username", created.Username),
		sql.Named("email", created.Email), sql.Named("password", string(hashed)),
		sql.Named("avatar", created.Avatar), sql.Named("created_at", created.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return created, nil
}

func (s *SQLiteUserStore) GetUserByID(ctx context.Context, id string) (*UserWithoutSecrets, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *SQLiteUserStore) GetUserByEmail(ctx context.Context, email string) (*UserWithoutSecrets, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *SQLiteUserStore) GetUserByUsername(ctx context.Context, username string) (*UserWithoutSecrets, error) {
	return s.getUserBy(ctx, "username", username)
}

// getUserBy looks a user up by a unique column.
func (s *SQLiteUserStore) getUserBy(ctx context.Context, column, value string) (*UserWithoutSecrets, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ? LIMIT 1", value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return user, nil
}

func (s *SQLiteUserStore) GetUsersByIDs(ctx context.Context, ids ...string) ([]UserWithoutSecrets, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id IN ("+strings.Repeat("?,", len(ids)-1)+"?)", values...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var users []UserWithoutSecrets
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

func (s *SQLiteUserStore) ComparePassword(ctx context.Context, email, password string) (bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT password FROM users WHERE email = ? LIMIT 1", email)

	var storedPassword string
	if err := row.Scan(&storedPassword); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("scanning password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedPassword), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}
