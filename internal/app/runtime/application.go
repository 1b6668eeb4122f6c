// Package runtime wires configuration, storage, services and the HTTP server
// into a runnable process.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	app "github.com/jtekt/approval-flow/internal/app"
	"github.com/jtekt/approval-flow/internal/app/httpapi"
	"github.com/jtekt/approval-flow/internal/app/metrics"
	"github.com/jtekt/approval-flow/internal/app/services/files"
	"github.com/jtekt/approval-flow/internal/app/storage/postgres"
	"github.com/jtekt/approval-flow/internal/config"
	"github.com/jtekt/approval-flow/internal/identity"
	"github.com/jtekt/approval-flow/internal/middleware"
	"github.com/jtekt/approval-flow/pkg/logger"
)

// Application manages the process lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	httpServer *http.Server
	db         *sql.DB
	sweeper    *files.Sweeper

	App *app.Application
}

// NewApplication constructs a fully wired application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs an application from explicit config.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	var (
		stores app.Stores
		db     *sql.DB
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = openDatabase(cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := postgres.Migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{Users: store, Applications: store, Templates: store}
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(stores, app.Options{
		EnforceFlowOrder: cfg.Policy.EnforceFlowOrder,
		BlobBaseURL:      cfg.Files.BaseURL,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}

	var verifier middleware.TokenVerifier
	if cfg.Auth.IdentityURL != "" {
		verifier = identity.NewClient(identity.Config{
			BaseURL: cfg.Auth.IdentityURL,
			Timeout: cfg.Auth.IdentityTimeout,
		})
	} else {
		verifier = middleware.NewLocalVerifier([]byte(cfg.Auth.JWTSecret))
	}

	router := httpapi.NewHandler(application, log)
	router.HandleFunc("/healthz", healthHandler(db)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	router.Use(middleware.Metrics())
	router.Use(middleware.Logging(log))
	router.Use(middleware.NewAuth(verifier, log, []string{"/healthz", "/metrics"}).Handler)
	router.Use(middleware.NewRateLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst, log).Handler)

	// CORS wraps the router so preflight requests are answered even when no
	// route matches the OPTIONS method.
	handler := middleware.NewCORS(cfg.Server.AllowedOrigins).Handler(router)

	var sweeper *files.Sweeper
	if cfg.Files.SweepCron != "" {
		sweeper, err = files.NewSweeper(application.Files, cfg.Files.SweepCron, log)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, fmt.Errorf("configure file sweeper: %w", err)
		}
	}

	return &Application{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		db:      db,
		sweeper: sweeper,
		App:     application,
	}, nil
}

// Run starts the HTTP server and blocks until the context is cancelled or the
// server fails.
func (a *Application) Run(ctx context.Context) error {
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the server and closes resources.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

// openDatabase connects and pings, retrying forever with a fixed delay. The
// service prefers waiting for the database over failing fast at boot.
func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}
		log.WithError(err).Warnf("database not reachable; retrying in %s", interval)
		time.Sleep(interval)
	}
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
