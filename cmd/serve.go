package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civictrack/auth"
	"civictrack/config"
	"civictrack/controllers"
	"civictrack/logger"
	"civictrack/models"
	"civictrack/ratelimit"
	"civictrack/routes"
	"civictrack/services"
	"civictrack/storage"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Log, cfg.Server.Mode == gin.DebugMode); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithComponent("server")
	log.Info("starting civictrack", "config", cfg.String())
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	checks := map[string]controllers.HealthCheck{"store": st.Ping}

	rdb, err := config.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	var limiter ratelimit.Limiter
	switch {
	case cfg.Limits.IssuesPerDay <= 0:
		log.Warn("issue rate limiting disabled")
	case rdb != nil:
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.Redis.IssueLimitPrefix, cfg.Limits.IssuesPerDay, ratelimit.DefaultWindow)
	default:
		log.Warn("redis not configured, issue rate limits are per process")
		limiter = ratelimit.NewMemoryLimiter(cfg.Limits.IssuesPerDay, ratelimit.DefaultWindow)
	}

	maxUpload := cfg.Storage.MaxUploadMB << 20
	blobs, err := storage.NewLocalDisk(cfg.Storage.UploadDir, cfg.Storage.PublicBaseURL, maxUpload)
	if err != nil {
		return err
	}

	gate, err := auth.NewGate()
	if err != nil {
		return err
	}
	tokens := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	router := routes.SetupRouter(routes.Deps{
		Identity:       services.NewIdentityService(st, tokens),
		Lifecycle:      services.NewLifecycleEngine(st, st, blobs, gate, services.WithMaxRetries(cfg.Lifecycle.MaxRetries)),
		Query:          services.NewQueryService(st, st, st, gate),
		Tokens:         tokens,
		Gate:           gate,
		IssueLimiter:   limiter,
		HealthChecks:   checks,
		Logger:         logger.Get(),
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxUploadBytes: maxUpload * models.MaxPhotos,
		UploadDir:      cfg.Storage.UploadDir,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr, "mode", cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}
