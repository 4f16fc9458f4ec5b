// Copyright 2025 Gatewise
// SPDX-License-Identifier: BUSL-1.1

package meterd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"gatewise/platform/audit"
	"gatewise/platform/cost"
	"gatewise/platform/gate"
	"gatewise/platform/incident"
	"gatewise/platform/ledger"
	"gatewise/platform/ops"
	"gatewise/platform/quota"
	"gatewise/platform/shared/logger"
	"gatewise/platform/tenant"
)

// App is the wired service
type App struct {
	cfg      *Config
	db       *sql.DB
	rdb      *redis.Client
	auditQ   *audit.Queue
	gate     *gate.Gate
	pipeline *gate.Pipeline
	opsAPI   *ops.Server
	actions  *ActionAPI
	log      *logger.Logger
}

// NewApp connects the backing stores and wires every component. Without
// DATABASE_URL the app runs fully in memory, which is only useful for
// local development.
func NewApp(cfg *Config) (*App, error) {
	log := logger.New("Meterd")

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("", "", "database connected", nil)

		migCtx, migCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer migCancel()
		if err := Migrate(migCtx, db); err != nil {
			return nil, err
		}
	} else {
		log.Warn("", "", "no DATABASE_URL set, running in memory mode", nil)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("", "", "redis connected", nil)
	} else {
		log.Warn("", "", "no REDIS_URL set, usage counters are in-process only", nil)
	}

	auditQ, err := audit.NewQueue(audit.QueueConfig{
		DB:           db,
		QueueSize:    cfg.AuditQueueSize,
		Workers:      cfg.AuditWorkers,
		FallbackPath: cfg.AuditFallbackPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start audit queue: %w", err)
	}

	incidents := incident.NewLog(incident.LogConfig{DB: db})
	tracker := quota.NewTracker(quota.TrackerConfig{
		Redis:  rdb,
		Limits: quota.LoadPlanLimitsFromEnv(),
	})
	rates := cost.LoadRatesFromEnv()

	var tenants tenant.Store
	var money *ledger.Service
	if db != nil {
		tenants = tenant.NewPostgresStore(db, time.Duration(cfg.TenantCacheTTL))
		money = ledger.NewService(ledger.NewPostgresRepository(db), incidents, auditQ)
	} else {
		tenants = tenant.NewMemoryStore()
		money = ledger.NewService(ledger.NewMemoryRepository(), incidents, auditQ)
	}

	flags := newFlagStore(db)

	g := gate.New(gate.GateConfig{
		Flags:     flags,
		Tenants:   tenants,
		Incidents: incidents,
		Quota:     tracker,
		Rates:     rates,
		Balances:  money,
		Audit:     auditQ,
	})

	pipeline := gate.NewPipeline(gate.PipelineConfig{
		Gate:  g,
		Rates: rates,
		Usage: tracker,
		Money: money,
		Audit: auditQ,
	})

	app := &App{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		auditQ:   auditQ,
		gate:     g,
		pipeline: pipeline,
		log:      log,
	}

	app.opsAPI = ops.NewServer(ops.ServerConfig{
		Flags:     flags,
		Gate:      g,
		Money:     money,
		Incidents: incidents,
		Usage:     tracker,
		Audit:     auditQ,
		JWTSecret: []byte(cfg.JWTSecret),
	})
	app.actions = NewActionAPI(pipeline, []byte(cfg.JWTSecret))

	return app, nil
}

func newFlagStore(db *sql.DB) gate.FlagStore {
	if db != nil {
		return gate.NewPostgresFlagStore(db)
	}
	return gate.NewMemoryFlagStore()
}

// Run starts the HTTP server and blocks until SIGINT or SIGTERM, then
// shuts down in order: stop accepting requests, drain the audit queue,
// close the stores.
func (a *App) Run() error {
	mux := http.NewServeMux()
	mux.Handle("/v1/actions/", a.actions.Handler())
	mux.Handle("/", a.opsAPI.Router())

	server := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("", "", "meterd listening", map[string]interface{}{"port": a.cfg.Port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		a.log.Info("", "", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.log.ErrorWithErr("", "", "server shutdown failed", err, nil)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := a.auditQ.Shutdown(drainCtx); err != nil {
		a.log.ErrorWithErr("", "", "audit queue shutdown failed", err, nil)
	}

	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}

	a.log.Info("", "", "meterd stopped", nil)
	return nil
}

// Run loads configuration, wires the app and serves until terminated
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meterd: %v\n", err)
		os.Exit(1)
	}

	app, err := NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meterd: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "meterd: %v\n", err)
		os.Exit(1)
	}
}
