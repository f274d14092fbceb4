package gamebloc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/putto11262002/gamebloc/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appFixture struct {
	t      *testing.T
	app    *App
	server *httptest.Server
	cancel context.CancelFunc
}

func newAppFixture(t *testing.T) *appFixture {
	config, err := (&DefaultConfigLoader{}).Load()
	require.NoError(t, err)
	// every test gets its own in-memory database
	config.SQLite.File = strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	config.SQLite.Mode = "memory"
	config.SQLite.JournalMode = ""
	require.NoError(t, config.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	app, err := newApp(ctx, config, logger)
	require.NoError(t, err)

	return &appFixture{
		t:      t,
		app:    app,
		server: httptest.NewServer(app.Handler()),
		cancel: cancel,
	}
}

func (f *appFixture) tearDown() {
	f.server.Close()
	f.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(f.t, f.app.Shutdown(ctx))
}

func (f *appFixture) client() *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(f.t, err)
	return &http.Client{Jar: jar}
}

// do sends body as JSON and decodes the JSON response into out when out is not nil.
func (f *appFixture) do(client *http.Client, method, path string, body any, out any) int {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	require.NoError(f.t, err)
	defer res.Body.Close()
	if out != nil && res.StatusCode < 300 {
		require.NoError(f.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (f *appFixture) signup(client *http.Client, username string) core.UserWithoutSecrets {
	f.t.Helper()
	var user core.UserWithoutSecrets
	status := f.do(client, http.MethodPost, "/api/auth/signup", SignupPayload{
		Username: username,
		Email:    username + "@example.com",
		Password: "password",
	}, &user)
	require.Equal(f.t, http.StatusCreated, status)
	return user
}

func (f *appFixture) signin(client *http.Client, username string) core.Session {
	f.t.Helper()
	var session core.Session
	status := f.do(client, http.MethodPost, "/api/auth/signin", SigninPayload{
		Email:    username + "@example.com",
		Password: "password",
	}, &session)
	require.Equal(f.t, http.StatusOK, status)
	return session
}

func (f *appFixture) token(client *http.Client) string {
	f.t.Helper()
	u, err := http.NewRequest(http.MethodGet, f.server.URL, nil)
	require.NoError(f.t, err)
	for _, c := range client.Jar.Cookies(u.URL) {
		if c.Name == core.AuthCookieName {
			return c.Value
		}
	}
	f.t.Fatal("no auth cookie")
	return ""
}

func TestAuthRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	client := f.client()

	alice := f.signup(client, "alice")
	assert.NotEmpty(t, alice.ID)

	status := f.do(client, http.MethodPost, "/api/auth/signup", SignupPayload{
		Username: "alice", Email: "alice@example.com", Password: "password",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	status = f.do(client, http.MethodPost, "/api/auth/signup", SignupPayload{
		Username: "al", Email: "not-an-email", Password: "password",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = f.do(client, http.MethodGet, "/api/users/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = f.do(client, http.MethodPost, "/api/auth/signin", SigninPayload{
		Email: "alice@example.com", Password: "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	session := f.signin(client, "alice")
	assert.Equal(t, alice.ID, session.UserID)

	var me core.UserWithoutSecrets
	require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/users/me", nil, &me))
	assert.Equal(t, alice.ID, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)

	// a revoked token stays revoked even when presented again
	token := f.token(client)
	require.Equal(t, http.StatusNoContent, f.do(client, http.MethodPost, "/api/auth/signout", nil, nil))
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/users/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestMessageRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	client := f.client()
	f.signup(client, "alice")

	status := f.do(client, http.MethodPost, "/api/messages/g1", SendMessagePayload{Content: "goal"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	f.signin(client, "alice")

	var msg core.ChatMessage
	require.Equal(t, http.StatusCreated, f.do(client, http.MethodPost, "/api/messages/g1",
		SendMessagePayload{Content: "  goal  "}, &msg))
	assert.Equal(t, "goal", msg.Content)
	assert.Equal(t, core.TextMessage, msg.Type)
	assert.Equal(t, "alice", msg.User.Username)

	require.Equal(t, http.StatusCreated, f.do(client, http.MethodPost, "/api/messages/g1",
		SendMessagePayload{Content: "🔥", Type: core.ReactionMessage}, nil))

	for _, payload := range []SendMessagePayload{
		{Content: "   "},
		{Content: strings.Repeat("a", 501)},
		{Content: "hi", Type: "gif"},
	} {
		status := f.do(client, http.MethodPost, "/api/messages/g1", payload, nil)
		assert.Equal(t, http.StatusBadRequest, status, "payload %+v", payload)
	}

	var page core.MessagePage
	require.Equal(t, http.StatusOK, f.do(f.client(), http.MethodGet, "/api/messages/g1?limit=1", nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "🔥", page.Messages[0].Content)
	assert.True(t, page.HasMore)
	assert.Equal(t, 2, page.Total)

	before := page.Messages[0].CreatedAt.Format(time.RFC3339Nano)
	require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/messages/g1?before="+before, nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "goal", page.Messages[0].Content)
	assert.False(t, page.HasMore)

	assert.Equal(t, http.StatusBadRequest, f.do(client, http.MethodGet, "/api/messages/g1?limit=x", nil, nil))
	assert.Equal(t, http.StatusBadRequest, f.do(client, http.MethodGet, "/api/messages/g1?before=yesterday", nil, nil))
}

func TestDMRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	aliceClient, bobClient, carolClient := f.client(), f.client(), f.client()
	alice := f.signup(aliceClient, "alice")
	bob := f.signup(bobClient, "bob")
	f.signup(carolClient, "carol")
	f.signin(aliceClient, "alice")
	f.signin(bobClient, "bob")
	f.signin(carolClient, "carol")

	var conv core.Conversation
	require.Equal(t, http.StatusOK, f.do(aliceClient, http.MethodPost, "/api/dm/conversations",
		OpenConversationPayload{TargetUserID: bob.ID}, &conv))
	require.Len(t, conv.Participants, 1)
	assert.Equal(t, bob.ID, conv.Participants[0].ID)

	var again core.Conversation
	require.Equal(t, http.StatusOK, f.do(bobClient, http.MethodPost, "/api/dm/conversations",
		OpenConversationPayload{TargetUserID: alice.ID}, &again))
	assert.Equal(t, conv.ID, again.ID)

	assert.Equal(t, http.StatusBadRequest, f.do(aliceClient, http.MethodPost, "/api/dm/conversations",
		OpenConversationPayload{TargetUserID: alice.ID}, nil))
	assert.Equal(t, http.StatusNotFound, f.do(aliceClient, http.MethodPost, "/api/dm/conversations",
		OpenConversationPayload{TargetUserID: "nobody"}, nil))

	path := fmt.Sprintf("/api/dm/%s/messages", conv.ID)
	var dm core.DirectMessage
	require.Equal(t, http.StatusCreated, f.do(aliceClient, http.MethodPost, path,
		SendDirectMessagePayload{Content: "watching the derby?"}, &dm))
	assert.Equal(t, alice.ID, dm.Sender.ID)

	assert.Equal(t, http.StatusBadRequest, f.do(aliceClient, http.MethodPost, path,
		SendDirectMessagePayload{Content: strings.Repeat("a", 1001)}, nil))
	assert.Equal(t, http.StatusNotFound, f.do(carolClient, http.MethodPost, path,
		SendDirectMessagePayload{Content: "let me in"}, nil))
	assert.Equal(t, http.StatusNotFound, f.do(carolClient, http.MethodGet, path, nil, nil))

	var convs []core.Conversation
	require.Equal(t, http.StatusOK, f.do(bobClient, http.MethodGet, "/api/dm/conversations", nil, &convs))
	require.Len(t, convs, 1)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, "watching the derby?", convs[0].LastMessage)

	var page core.DirectMessagePage
	require.Equal(t, http.StatusOK, f.do(bobClient, http.MethodGet, path, nil, &page))
	require.Len(t, page.Messages, 1)

	require.Equal(t, http.StatusOK, f.do(bobClient, http.MethodGet, "/api/dm/conversations", nil, &convs))
	assert.Equal(t, 0, convs[0].UnreadCount)

	require.Equal(t, http.StatusOK, f.do(carolClient, http.MethodGet, "/api/dm/conversations", nil, &convs))
	assert.Empty(t, convs)
}

func TestUserProfileRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	client := f.client()
	alice := f.signup(client, "alice")

	t.Run("by id", func(t *testing.T) {
		var body map[string]any
		require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/users/"+alice.ID, nil, &body))
		assert.Equal(t, alice.ID, body["_id"])
		assert.Equal(t, "alice", body["username"])
		assert.NotContains(t, body, "email")
		assert.NotContains(t, body, "password")
	})

	t.Run("by username", func(t *testing.T) {
		var profile core.Profile
		require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/users/by-username/alice", nil, &profile))
		assert.Equal(t, alice.ID, profile.ID)
	})

	t.Run("unknown user", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, f.do(client, http.MethodGet, "/api/users/missing", nil, nil))
		assert.Equal(t, http.StatusNotFound, f.do(client, http.MethodGet, "/api/users/by-username/nobody", nil, nil))
	})
}

func TestPresenceRoutes(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	client := f.client()
	alice := f.signup(client, "alice")
	f.signin(client, "alice")

	var presence core.RoomPresence
	require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/games/g1/presence", nil, &presence))
	assert.Equal(t, 0, presence.Count)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=" + f.token(client)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the verified identity wins over the payload
	e, err := core.NewEvent(core.JoinRoomEvent, map[string]any{"gameId": "g1", "user": map[string]any{"username": "mallory"}})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(e))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply core.Event
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, core.RoomUsersEvent, reply.Type)

	require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/games/g1/presence", nil, &presence))
	require.Equal(t, 1, presence.Count)
	assert.Equal(t, "alice", presence.Users[0].Username)

	var online OnlineResponse
	require.Equal(t, http.StatusOK, f.do(client, http.MethodGet, "/api/users/"+alice.ID+"/online", nil, &online))
	assert.False(t, online.Online)

	e, err = core.NewEvent(core.RegisterUserEvent, map[string]any{"userId": alice.ID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(e))
	require.Eventually(t, func() bool {
		f.do(client, http.MethodGet, "/api/users/"+alice.ID+"/online", nil, &online)
		return online.Online
	}, 2*time.Second, 50*time.Millisecond)
}

func TestWSRejectsForeignOrigin(t *testing.T) {
	f := newAppFixture(t)
	defer f.tearDown()
	f.app.config.AllowedOrigins = []string{"https://gamebloc.example"}

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, res, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://gamebloc.example"}})
	require.NoError(t, err)
	conn.Close()
}
