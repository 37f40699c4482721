// Auth-сервис платформы персональных книг: регистрация, логин,
// сессионные токены, CORS allow-list.
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

	"github.com/bookforge/internal/config"
	"github.com/bookforge/internal/email"
	"github.com/bookforge/internal/handler"
	"github.com/bookforge/internal/logger"
	"github.com/bookforge/internal/middleware"
	"github.com/bookforge/internal/repository"
	"github.com/bookforge/internal/service"
	"github.com/bookforge/internal/startup"
	"github.com/bookforge/internal/storage"
	"github.com/bookforge/internal/storage/devstore"
	"github.com/bookforge/migrations"
)

const sweepInterval = time.Hour

func main() {
	logger.SetPrefix("auth")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and without Redis")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	logger.Info("starting auth service")
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

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "auth: ")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	accountRepo := repository.NewAccountRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)

	var store storage.TokenStore
	if *dev {
		logger.Info("auth -dev: токены читаются из БД (сессии сохраняются после перезапуска)")
		store = devstore.New(sessionRepo)
	} else {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "auth: ")
		defer redisClient.Close()
		store = redisClient
	}

	var mailer *email.Sender
	if email.Configured(&cfg.SMTP) {
		logger.Infof("SMTP: %s (host %s:%d)", cfg.SMTP.Username, cfg.SMTP.Host, cfg.SMTP.Port)
		mailer = email.NewSender(&cfg.SMTP)
	} else {
		logger.Info("SMTP не настроен — приветственные письма отключены")
	}

	authSvc := service.NewAuthService(accountRepo, sessionRepo, store, mailer, service.Options{
		SessionTTL:          cfg.Session.TTL,
		Sliding:             cfg.Session.Sliding,
		MinCredentialLength: cfg.MinCredentialLength,
		StoreTimeout:        cfg.StoreTimeout,
	})
	authH := handler.NewAuthHandler(authSvc, cfg.Session)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWg sync.WaitGroup
	sweepWg.Add(1)
	go func() {
		defer sweepWg.Done()
		authSvc.RunSweeper(sweepCtx, sweepInterval)
	}()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	// Origin отражается в ответ только если он в явном allow-list;
	// wildcard при credentialed-запросах не отдаётся никогда.
	// CORS стоит раньше лимитера: 429 тоже должен нести CORS-заголовки,
	// иначе браузер не отдаст фронту ни статус, ни тело.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimitAuth)

	r.Post("/api/register", authH.Register)
	r.Post("/api/login", authH.Login)
	r.Post("/api/logout", authH.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(authSvc, cfg.Session))
		r.Get("/api/whoami", authH.Whoami)
		r.Get("/api/sessions", authH.GetSessions)
		r.Post("/api/logout-all", authH.LogoutAllSessions)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/validate", handler.ValidateToken(authSvc))
		r.Delete("/internal/accounts/{identity}", handler.DeleteAccount(authSvc))
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("auth server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("auth server: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("auth server shutdown: %v", err)
	}
	sweepCancel()
	sweepWg.Wait()
	srvWg.Wait()
	logger.Info("auth server stopped")
}

// runMigrations применяет встроенные SQL-миграции в лексикографическом порядке.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "bookforge"
		password = "bookforge_secret"
		database = "bookforge"
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
