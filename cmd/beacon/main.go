package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/beacon-ops/beacon/internal/audit"
	"github.com/beacon-ops/beacon/internal/auth"
	"github.com/beacon-ops/beacon/internal/broadcast"
	"github.com/beacon-ops/beacon/internal/config"
	"github.com/beacon-ops/beacon/internal/events"
	"github.com/beacon-ops/beacon/internal/incident"
	"github.com/beacon-ops/beacon/internal/notify"
	"github.com/beacon-ops/beacon/internal/ratelimit"
	"github.com/beacon-ops/beacon/internal/server"
	"github.com/beacon-ops/beacon/internal/storage"
	"github.com/beacon-ops/beacon/internal/storage/memstore"
	"github.com/beacon-ops/beacon/internal/telemetry"
	"github.com/beacon-ops/beacon/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// store is everything the running service needs from persistence. Both the
// Postgres store and the in-memory store satisfy it.
type store interface {
	incident.Repository
	incident.Directory
	audit.Store
	notify.Directory
	notify.Store
	server.Store
}

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// The level is read early so config errors are logged; run applies the
	// validated value.
	level := new(slog.LevelVar)
	level.Set(parseLevel(os.Getenv("BEACON_LOG_LEVEL")))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, level); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, level *slog.LevelVar) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level.Set(parseLevel(cfg.LogLevel))

	slog.Info("beacon starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	var st store
	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(ctx, cfg.DatabaseURL, int32(cfg.DatabaseMaxConns), logger) //nolint:gosec // validated in config
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		// Migrations are tracked in schema_migrations, so a failure here is
		// a real failure and not a re-run.
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return fmt.Errorf("migrations: %w", err)
		}
		st = db
	} else {
		logger.Warn("storage: DATABASE_URL not set, using in-memory store (data is lost on restart)")
		st = memstore.New()
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Audit runs inline so every committed transition has its record before
	// the response is written. Fan-out is asynchronous.
	recorder := audit.NewRecorder(st, logger)
	sessions := broadcast.New(logger, cfg.SessionBuffer)
	bus := events.NewBus(logger, cfg.EventHandlerTimeout)
	bus.Subscribe("audit", recorder)
	bus.SubscribeAsync("broadcast", sessions)

	pushers := []notify.Pusher{notify.NewToastPusher(sessions)}
	if cfg.PushWebhookURL != "" {
		pushers = append(pushers, notify.NewWebhookPusher(cfg.PushWebhookURL, cfg.PushWebhookToken, cfg.PushWebhookTimeout))
		logger.Info("push: webhook enabled")
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rdb = redis.NewClient(opts)
		pushers = append(pushers, notify.NewRedisStreamPusher(rdb, cfg.PushStream, int64(cfg.PushStreamMaxLen)))
		logger.Info("push: redis stream enabled", "stream", cfg.PushStream)
	}
	dispatcher := notify.NewDispatcher(st, st, pushers, logger, notify.Config{
		Concurrency: cfg.NotifyConcurrency,
		RetryDelay:  cfg.NotifyRetryDelay,
	})
	bus.SubscribeAsync("notify", dispatcher)

	engine := incident.New(incident.Deps{
		Repo:             st,
		Directory:        st,
		Publisher:        bus,
		Auditor:          recorder,
		Logger:           logger,
		MinResolutionLen: cfg.MinResolutionLen,
	})

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	logger.Info("rate limiting: memory (in-process token bucket)",
		"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)

	ws := broadcast.NewHandler(sessions, jwtMgr, broadcast.HandlerConfig{
		OriginPatterns: cfg.WSAllowedOrigins,
		AuthTimeout:    cfg.WSAuthTimeout,
	}, logger)

	srv := server.New(server.ServerConfig{
		Engine:              engine,
		Store:               st,
		JWTMgr:              jwtMgr,
		Sessions:            sessions,
		Logger:              logger,
		Limiter:             limiter,
		Auditor:             recorder,
		WS:                  ws,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		InvitationTTL:       cfg.InvitationExpiration,
		InMemory:            db == nil,
		Development:         cfg.IsDevelopment(),
	})

	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		slog.Warn("admin seed failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	// Graceful shutdown. Each phase gets its own timeout so early completion
	// doesn't steal budget from later phases.
	// Order: (1) stop accepting requests and drain in-flight ones (they may
	// still publish events), (2) let async subscribers finish, (3) close the
	// sockets the HTTP server no longer tracks, (4) flush telemetry, then
	// release storage.
	slog.Info("beacon shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	busCtx, busCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := bus.Drain(busCtx); err != nil {
		slog.Warn("event bus drain incomplete", "error", err)
	}
	busCancel()

	sessions.CloseAll()
	_ = limiter.Close()

	otelCtx, otelCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := otelShutdown(otelCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}
	otelCancel()

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		db.Close()
	}

	slog.Info("beacon stopped")
	return runErr
}
