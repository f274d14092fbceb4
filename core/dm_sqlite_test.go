package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type DMFixture struct {
	*BaseFixture
	dmStore *SQLiteDMStore
	users   []UserWithoutSecrets
	clock   time.Time
}

func NewDMFixture(t *testing.T) *DMFixture {
	base := NewBaseFixture(t)
	userStore := NewSQLiteUserStore(base.db)
	f := &DMFixture{
		BaseFixture: base,
		dmStore:     NewSQLiteDMStore(base.db, userStore),
		clock:       time.Date(2024, 12, 1, 18, 0, 0, 0, time.UTC),
	}
	f.dmStore.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.users = seedUsers(base.ctx, t, userStore, alice, bob, carol)
	return f
}

func TestOpenConversation(t *testing.T) {
	t.Run("create or get", func(t *testing.T) {
		f := NewDMFixture(t)
		defer f.tearDown()
		a, b := f.users[0], f.users[1]

		conv, err := f.dmStore.OpenConversation(f.ctx, a.ID, b.ID)
		require.NoError(t, err)
		require.Len(t, conv.Participants, 1)
		assert.Equal(t, b.ID, conv.Participants[0].ID)

		again, err := f.dmStore.OpenConversation(f.ctx, b.ID, a.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)
		assert.Equal(t, a.ID, again.Participants[0].ID)
	})

	t.Run("with yourself", func(t *testing.T) {
		f := NewDMFixture(t)
		defer f.tearDown()
		_, err := f.dmStore.OpenConversation(f.ctx, f.users[0].ID, f.users[0].ID)
		assert.ErrorIs(t, err, ErrSelfConversation)
	})

	t.Run("unknown target", func(t *testing.T) {
		f := NewDMFixture(t)
		defer f.tearDown()
		_, err := f.dmStore.OpenConversation(f.ctx, f.users[0].ID, "missing")
		assert.ErrorIs(t, err, ErrInvalidUser)
	})
}

func TestDirectMessages(t *testing.T) {
	f := NewDMFixture(t)
	defer f.tearDown()
	a, b, c := f.users[0], f.users[1], f.users[2]

	ab, err := f.dmStore.OpenConversation(f.ctx, a.ID, b.ID)
	require.NoError(t, err)
	ac, err := f.dmStore.OpenConversation(f.ctx, a.ID, c.ID)
	require.NoError(t, err)

	_, err = f.dmStore.SendDirectMessage(f.ctx, ab.ID, senderOf(a), "hi bob")
	require.NoError(t, err)
	_, err = f.dmStore.SendDirectMessage(f.ctx, ab.ID, senderOf(a), "you there?")
	require.NoError(t, err)
	_, err = f.dmStore.SendDirectMessage(f.ctx, ac.ID, senderOf(c), strings.Repeat("x", 150))
	require.NoError(t, err)

	t.Run("non participant cannot send", func(t *testing.T) {
		_, err := f.dmStore.SendDirectMessage(f.ctx, ab.ID, senderOf(c), "intrude")
		assert.ErrorIs(t, err, ErrInvalidConversation)
	})

	t.Run("conversations most recent first with unread counts", func(t *testing.T) {
		convs, err := f.dmStore.Conversations(f.ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, convs, 2)
		assert.Equal(t, ac.ID, convs[0].ID)
		assert.Equal(t, 1, convs[0].UnreadCount)
		assert.Len(t, []rune(convs[0].LastMessage), previewLength)
		assert.Equal(t, c.ID, convs[0].LastSenderID)
		assert.Equal(t, ab.ID, convs[1].ID)
		assert.Equal(t, 0, convs[1].UnreadCount)
		assert.Equal(t, "you there?", convs[1].LastMessage)

		convs, err = f.dmStore.Conversations(f.ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, 2, convs[0].UnreadCount)
	})

	t.Run("reading marks messages read", func(t *testing.T) {
		page, err := f.dmStore.Messages(f.ctx, ab.ID, b.ID, PageQuery{Limit: 1})
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "you there?", page.Messages[0].Content)
		assert.True(t, page.HasMore)

		convs, err := f.dmStore.Conversations(f.ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, convs[0].UnreadCount)

		page, err = f.dmStore.Messages(f.ctx, ab.ID, b.ID, PageQuery{})
		require.NoError(t, err)
		require.Len(t, page.Messages, 2)
		assert.Equal(t, "hi bob", page.Messages[0].Content)
		assert.True(t, page.Messages[0].Read)
	})

	t.Run("non participant cannot read", func(t *testing.T) {
		_, err := f.dmStore.Messages(f.ctx, ab.ID, c.ID, PageQuery{})
		assert.ErrorIs(t, err, ErrInvalidConversation)
	})
}
