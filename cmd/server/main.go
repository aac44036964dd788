package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"tracksync.app/sync-server/common/id"
	"tracksync.app/sync-server/common/logger"
	"tracksync.app/sync-server/common/otel"
	"tracksync.app/sync-server/core/config"
	"tracksync.app/sync-server/internal/http/handler"
	"tracksync.app/sync-server/internal/http/middleware"
	httprouter "tracksync.app/sync-server/internal/http/router"
	"tracksync.app/sync-server/internal/remote/postgres"
	"tracksync.app/sync-server/internal/remote/trackerrest"
	"tracksync.app/sync-server/internal/settings"
	"tracksync.app/sync-server/internal/sync"
	"tracksync.app/sync-server/internal/translate"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg)
	if err != nil {
		// Can't use slog yet, OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "sync server starting", "env", cfg.Environment, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.SnowflakeNodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to record store database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		slog.ErrorContext(ctx, "record store database unreachable", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "record store connected")

	profiles, err := settings.Load(cfg.MappingFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load sync settings", "error", err)
		os.Exit(1)
	}

	factory := func(ctx context.Context) (*sync.Clients, error) {
		tracker, err := trackerrest.NewClient(trackerrest.Config{
			BaseURL:  cfg.TrackerBaseURL,
			Token:    cfg.TrackerToken,
			Username: cfg.TrackerUsername,
			APIKey:   cfg.TrackerAPIKey,
		})
		if err != nil {
			return nil, err
		}
		return &sync.Clients{
			Records: postgres.New(pool, postgres.Config{BaseURL: cfg.RecordBaseURL}),
			Tracker: tracker,
		}, nil
	}

	bridge := sync.NewBridge()
	for _, p := range profiles {
		translator, err := translate.NewDefault(p.CommentTemplate)
		if err != nil {
			slog.ErrorContext(ctx, "invalid comment template", "error", err, "profile", p.Name)
			os.Exit(1)
		}
		if err := bridge.AddProfile(ctx, p, translator, factory); err != nil {
			slog.ErrorContext(ctx, "failed to register sync profile", "error", err, "profile", p.Name)
			os.Exit(1)
		}
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, bridge)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, bridge *sync.Bridge) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	syncHandler := handler.NewSyncHandler(bridge, cfg.WebhookToken)
	httprouter.SetupRoutes(router, syncHandler)

	return router
}

const banner = `
████████╗██████╗  █████╗  ██████╗██╗  ██╗███████╗██╗   ██╗███╗   ██╗ ██████╗
╚══██╔══╝██╔══██╗██╔══██╗██╔════╝██║ ██╔╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
   ██║   ██████╔╝███████║██║     █████╔╝ ███████╗ ╚████╔╝ ██╔██╗ ██║██║
   ██║   ██╔══██╗██╔══██║██║     ██╔═██╗ ╚════██║  ╚██╔╝  ██║╚██╗██║██║
   ██║   ██║  ██║██║  ██║╚██████╗██║  ██╗███████║   ██║   ██║ ╚████║╚██████╗
   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`
