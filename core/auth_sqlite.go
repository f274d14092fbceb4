package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type SQLiteAuthStore struct {
	tokenExp  time.Duration
	secret    []byte
	userStore UserStore
	db        *sql.DB
}

type AuthOption func(*SQLiteAuthStore)

func WithTokenExp(exp time.Duration) AuthOption {
	return func(a *SQLiteAuthStore) {
		a.tokenExp = exp
	}
}

func NewSQLiteAuthStore(db *sql.DB, userStore UserStore, secret []byte, opts ...AuthOption) *SQLiteAuthStore {
	auth := &SQLiteAuthStore{
		tokenExp:  time.Hour * 24,
		secret:    secret,
		userStore: userStore,
		db:        db,
	}
	for _, opt := range opts {
		opt(auth)
	}
	return auth
}

func (a *SQLiteAuthStore) NewSession(ctx context.Context, email, password string) (*Session, error) {
	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if user == nil {
		return nil, ErrBadCredentials
	}

	ok, err := a.userStore.ComparePassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return nil, ErrBadCredentials
	}

	token, exp, err := NewToken(*user, a.tokenExp, a.secret)
	if err != nil {
		return nil, fmt.Errorf("creating token: %w", err)
	}

	return &Session{
		UserID:    user.ID,
		Username:  user.Username,
		Avatar:    user.Avatar,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

func (a *SQLiteAuthStore) DestroySession(ctx context.Context, session Session) error {
	_, err := a.db.ExecContext(ctx, "INSERT OR IGNORE INTO blacklists (token) VALUES (@token)", sql.Named("token", session.Token))
	if err != nil {
		return fmt.Errorf("blacklisting token: %w", err)
	}
	return nil
}

func (a *SQLiteAuthStore) isBlacklisted(ctx context.Context, token string) (bool, error) {
	row := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blacklists WHERE token = @token", sql.Named("token", token))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("scanning count: %w", err)
	}
	return count > 0, nil
}

func (a *SQLiteAuthStore) Session(ctx context.Context, token string) (*Session, error) {
	claims, err := VerifyToken(token, a.secret)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrUnrecognizedToken) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("verifying token: %w", err)
	}

	blacklisted, err := a.isBlacklisted(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("checking blacklist: %w", err)
	}
	if blacklisted {
		return nil, ErrUnauthenticated
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return &Session{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Avatar:    claims.Avatar,
		Token:     token,
		ExpiresAt: exp,
	}, nil
}

// Authenticate resolves the identity of a websocket upgrade request from the
// auth cookie or the token query parameter.
func (a *SQLiteAuthStore) Authenticate(r *http.Request) (*Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	session, err := a.Session(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return session.Identity(), nil
}
