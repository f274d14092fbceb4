package gamebloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/putto11262002/gamebloc/core"
	"github.com/putto11262002/gamebloc/pkg/router"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *Config
	db        *core.SQLiteDB
	context   context.Context
	server    *http.Server
	logger    *slog.Logger
	router    *router.Router
	hub       *core.Hub
	wsManager *core.ConnManager

	exit chan int

	userStore core.UserStore
	chatStore core.ChatStore
	dmStore   core.DMStore
	authStore *core.SQLiteAuthStore

	userHandler *UserHandler
	chatHandler *ChatHandler
	dmHandler   *DMHandler
	authHandler *AuthHandler

	cleanupFuncs []func(context.Context)
}

// New builds the app from config, loading it from config.yaml and the environment when nil.
// It exits the process on invalid configuration or when the database cannot be opened.
func New(ctx context.Context, config *Config) *App {
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}

	app, err := newApp(ctx, config, newLogger(config.Log.Level))
	if err != nil {
		failed(1, "%v\n", err)
	}
	return app
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))
}

// newApp wires the stores, the relay hub and the routes. config must be valid.
func newApp(ctx context.Context, config *Config, logger *slog.Logger) (*App, error) {
	var err error
	app := &App{
		exit:    make(chan int, 1),
		context: ctx,
		config:  config,
		logger:  logger,
	}

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        config.SQLite.Mode,
		Cache:       "shared",
		JournalMode: config.SQLite.JournalMode,
	}
	app.db, err = core.NewSQLiteDB(config.SQLite.File, sqliteOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		app.db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	app.authStore = core.NewSQLiteAuthStore(app.db.DB, app.userStore, []byte(config.Auth.Secret),
		core.WithTokenExp(config.Auth.TokenExp))
	app.chatStore = core.NewSQLiteChatStore(app.db.DB)
	app.dmStore = core.NewSQLiteDMStore(app.db.DB, app.userStore)

	relayOpts := []core.RelayOption{
		core.WithRelayLogger(logger.With(slog.String("component", "relay"))),
		core.WithPayloadIdentity(config.Relay.TrustPayloadIdentity),
	}
	if config.Relay.TypingTimeout > 0 {
		relayOpts = append(relayOpts, core.WithTypingTimeout(config.Relay.TypingTimeout))
	}
	app.hub = core.NewHub(core.NewRelay(relayOpts...), core.WithHubLogger(logger))
	app.hub.Start()

	app.wsManager = core.NewConnManager(app.context, app.hub,
		core.WithLogger(logger),
		core.WithAuthenticator(app.authStore),
		core.WithWSConfig(config.wsConfig()),
		core.WithCheckOrigin(func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || config.allowsOrigin(origin)
		}),
	)
	app.AddCleanupFunc(func(ctx context.Context) {
		if err := app.wsManager.Wait(ctx); err != nil {
			app.logger.Warn("websocket connections still open", slog.String("err", err.Error()))
		}
	})
	app.AddCleanupFunc(func(ctx context.Context) {
		app.hub.Close()
	})

	secure := config.Mode == ProdMode
	app.userHandler = NewUserHandler(app.userStore, app.hub)
	app.chatHandler = NewChatHandler(app.chatStore, app.hub)
	app.dmHandler = NewDMHandler(app.dmStore)
	app.authHandler = NewAuthHandler(app.authStore, app.userStore, secure)

	app.routes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		Handler: app.router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}
	if config.Mode == ProdMode {
		app.server.TLSConfig = tlsConfig()
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})

	return app, nil
}

func (app *App) routes() {
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))
	app.router.MapStatus(core.ErrConflictedUser, http.StatusConflict)
	app.router.MapStatus(core.ErrBadCredentials, http.StatusUnauthorized)
	app.router.MapStatus(core.ErrUnauthenticated, http.StatusUnauthorized)
	app.router.MapStatus(core.ErrUnauthorized, http.StatusForbidden)
	app.router.MapStatus(core.ErrInvalidUser, http.StatusNotFound)
	app.router.MapStatus(core.ErrInvalidConversation, http.StatusNotFound)
	app.router.MapStatus(core.ErrSelfConversation, http.StatusBadRequest)
	app.router.MapStatus(core.ErrHubClosed, http.StatusServiceUnavailable)

	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// invalid or missing tokens connect anonymously
	app.router.Router.Handle("/ws", app.wsManager)

	app.router.Route("/api", func(api *router.Router) {
		api.Route("/auth", func(r *router.Router) {
			r.Post("/signup", app.authHandler.SignupHandler)
			r.Post("/signin", app.authHandler.SigninHandler)
			r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
		})

		api.With(authMiddleware).Get("/users/me", app.userHandler.MeHandler)
		api.Get("/users/by-username/{username}", app.userHandler.GetUserByUsernameHandler)
		api.Get("/users/{userID}", app.userHandler.GetUserHandler)
		api.Get("/users/{userID}/online", app.userHandler.OnlineHandler)

		api.Get("/games/{gameID}/presence", app.chatHandler.PresenceHandler)
		api.Get("/messages/{gameID}", app.chatHandler.GetMessagesHandler)
		api.With(authMiddleware).Post("/messages/{gameID}", app.chatHandler.SendMessageHandler)

		api.Group(func(r *router.Router) {
			r.Use(authMiddleware)
			r.Get("/dm/conversations", app.dmHandler.ConversationsHandler)
			r.Post("/dm/conversations", app.dmHandler.OpenConversationHandler)
			r.Get("/dm/{conversationID}/messages", app.dmHandler.MessagesHandler)
			r.Post("/dm/{conversationID}/messages", app.dmHandler.SendMessageHandler)
		})
	})
}

// Handler returns the root HTTP handler.
func (app *App) Handler() http.Handler {
	return app.router
}

func (app *App) Start() {
	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()

		if err := app.Shutdown(closeCtx); err != nil {
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
			return
		}
		app.logger.Info("app shutdown gracefully")
		app.exit <- 0
	}()

	app.logger.Info(fmt.Sprintf("app running in %s mode on: %s:%d",
		app.config.Mode, app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	}
	os.Exit(code)
}

// Shutdown runs the cleanup functions in reverse registration order: the http server
// stops first, then the hub closes every websocket and finally the database closes.
func (app *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, f := range slices.Backward(app.cleanupFuncs) {
			f(ctx)
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
