package core

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
)

type BaseFixture struct {
	ctx      context.Context
	db       *sql.DB
	t        *testing.T
	tearDown func()
}

func NewBaseFixture(t *testing.T) *BaseFixture {
	ctx, cancel := context.WithCancel(context.Background())

	// every test gets its own in-memory database
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatal(err)
	}

	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	return &BaseFixture{
		ctx: ctx,
		db:  db,
		t:   t,
		tearDown: func() {
			cancel()
			db.Close()
		},
	}
}

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, users ...User) []UserWithoutSecrets {
	created := make([]UserWithoutSecrets, 0, len(users))
	for _, u := range users {
		c, err := userStore.CreateUser(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		created = append(created, *c)
	}
	return created
}

var (
	alice = User{Username: "alice", Email: "alice@example.com", Password: "password", Avatar: "a.png"}
	bob   = User{Username: "bob", Email: "bob@example.com", Password: "password"}
	carol = User{Username: "carol", Email: "carol@example.com", Password: "password"}
)
