package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type UserFixture struct {
	*BaseFixture
	userStore UserStore
}

func NewUserFixture(t *testing.T) *UserFixture {
	base := NewBaseFixture(t)
	return &UserFixture{
		BaseFixture: base,
		userStore:   NewSQLiteUserStore(base.db),
	}
}

func TestCreateUser(t *testing.T) {
	t.Run("creates user", func(t *testing.T) {
		f := NewUserFixture(t)
		defer f.tearDown()

		created, err := f.userStore.CreateUser(f.ctx, alice)
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)

		got, err := f.userStore.GetUserByID(f.ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, alice.Username, got.Username)
		assert.Equal(t, alice.Email, got.Email)
		assert.Equal(t, alice.Avatar, got.Avatar)
	})

	t.Run("conflicting username", func(t *testing.T) {
		f := NewUserFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice)

		_, err := f.userStore.CreateUser(f.ctx, User{Username: alice.Username, Email: "other@example.com", Password: "password"})
		assert.ErrorIs(t, err, ErrConflictedUser)
	})

	t.Run("conflicting email", func(t *testing.T) {
		f := NewUserFixture(t)
		defer f.tearDown()
		seedUsers(f.ctx, t, f.userStore, alice)

		_, err := f.userStore.CreateUser(f.ctx, User{Username: "other", Email: alice.Email, Password: "password"})
		assert.ErrorIs(t, err, ErrConflictedUser)
	})
}

func TestGetUser(t *testing.T) {
	f := NewUserFixture(t)
	defer f.tearDown()
	users := seedUsers(f.ctx, t, f.userStore, alice, bob)

	got, err := f.userStore.GetUserByEmail(f.ctx, bob.Email)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, users[1].ID, got.ID)

	got, err = f.userStore.GetUserByUsername(f.ctx, alice.Username)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, users[0].ID, got.ID)
	assert.Equal(t, Profile{ID: users[0].ID, Username: "alice", Avatar: "a.png", CreatedAt: users[0].CreatedAt}, users[0].Profile())

	missing, err := f.userStore.GetUserByUsername(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = f.userStore.GetUserByID(f.ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	many, err := f.userStore.GetUsersByIDs(f.ctx, users[0].ID, users[1].ID, "missing")
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestComparePassword(t *testing.T) {
	f := NewUserFixture(t)
	defer f.tearDown()
	seedUsers(f.ctx, t, f.userStore, alice)

	ok, err := f.userStore.ComparePassword(f.ctx, alice.Email, alice.Password)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, alice.Email, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.userStore.ComparePassword(f.ctx, "nobody@example.com", "password")
	require.NoError(t, err)
	assert.False(t, ok)
}
