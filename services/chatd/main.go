// chatd is the real-time messaging service: websocket sessions, the
// REST chat surface and Web Push for offline caregivers. Messages live
// in Postgres; change events travel over Redis pub/sub so every
// instance sees every write.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/famlink/messaging/internal/config"
	"github.com/famlink/messaging/internal/handler"
	"github.com/famlink/messaging/internal/logger"
	"github.com/famlink/messaging/internal/middleware"
	"github.com/famlink/messaging/internal/push"
	"github.com/famlink/messaging/internal/startup"
	"github.com/famlink/messaging/internal/store"
	"github.com/famlink/messaging/internal/store/localfeed"
	"github.com/famlink/messaging/internal/store/postgres"
	"github.com/famlink/messaging/internal/store/redisfeed"
	"github.com/famlink/messaging/internal/ws"
	"github.com/famlink/messaging/migrations"
)

func main() {
	logger.SetPrefix("chatd")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and an in-process change feed (no external services required)")
	flag.Parse()

	logger.Info("starting chatd")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	// One Redis channel carries every change event between instances;
	// -dev runs a single instance, so an in-process feed is enough.
	var bus store.Bus
	if *dev {
		bus = localfeed.New()
	} else {
		rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer rdb.Close()
		bus = redisfeed.New(rdb)
		logger.Info("redis connected")
	}

	st := postgres.New(pool, bus)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(st, st, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	keys, err := cfg.VAPIDKeys()
	if err != nil {
		logger.Errorf("VAPID keys: %v (push notifications disabled)", err)
		keys = nil
	}
	notifier := push.NewNotifier(st, cfg.Push.Subscriber, keys)
	bridge := push.NewBridge(st, st, notifier, hub)
	if notifier.Enabled() {
		startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bridge.Start(startCtx); err != nil {
			logger.Errorf("push bridge: %v (push notifications disabled)", err)
		}
		startCancel()
		defer bridge.Close()
	}

	chatH := handler.NewChatHandler(st, st)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	var vapidPublic string
	if keys != nil {
		vapidPublic = keys.PublicKey
	}
	pushH := handler.NewPushHandler(st, vapidPublic)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket responses: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity)
		r.Get("/ws", wsH.ServeWS)
		r.Get("/api/conversations", chatH.ListConversations)
		r.Get("/api/unread", chatH.UnreadIndex)
		r.Post("/api/conversations/read", chatH.MarkRead)
		r.Get("/api/conversations/direct/{userID}/messages", chatH.DirectHistory)
		r.Post("/api/conversations/direct/{userID}/messages", chatH.SendDirect)
		r.Get("/api/conversations/group/{memberID}/messages", chatH.GroupHistory)
		r.Post("/api/conversations/group/{memberID}/messages", chatH.SendGroup)
		r.Get("/api/push/key", pushH.VAPIDPublicKey)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("chatd listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server: %v", err)
		}
	case sig := <-stop:
		logger.Infof("received %v, shutting down...", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}

	hubCancel()
	hubWg.Wait()
	logger.Info("chatd stopped")
}

// runMigrations applies the embedded migrations in filename order,
// tracking applied files in schema_migrations so re-runs are cheap.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		logger.Errorf("create schema_migrations: %v", err)
		os.Exit(1)
	}

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, name,
		).Scan(&applied); err != nil {
			logger.Errorf("check migration %s: %v", name, err)
			os.Exit(1)
		}
		if applied {
			continue
		}
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			logger.Errorf("record migration %s: %v", name, err)
			os.Exit(1)
		}
		logger.Infof("applied migration %s", name)
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "famlink"
		password = "famlink_secret"
		database = "famlink"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
