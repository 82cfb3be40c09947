package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mr1hm/go-rockfall-alerts/internal/alerting"
	"github.com/mr1hm/go-rockfall-alerts/internal/api"
	"github.com/mr1hm/go-rockfall-alerts/internal/config"
	"github.com/mr1hm/go-rockfall-alerts/internal/fusion"
	internalgrpc "github.com/mr1hm/go-rockfall-alerts/internal/grpc"
	"github.com/mr1hm/go-rockfall-alerts/internal/ingestion"
	"github.com/mr1hm/go-rockfall-alerts/internal/logging"
	"github.com/mr1hm/go-rockfall-alerts/internal/notify"
	"github.com/mr1hm/go-rockfall-alerts/internal/repository"
	"github.com/mr1hm/go-rockfall-alerts/internal/scheduler"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "db_driver", cfg.DB.Driver)

	store, err := repository.Open(cfg.DB.Driver, cfg.DB.Source())
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher, err := notify.FromConfig(cfg)
	if err != nil {
		logging.Fatalf("Failed to initialize notifications: %v", err)
	}

	// Broadcaster feeds both the gRPC and websocket streams
	broadcaster := internalgrpc.NewBroadcaster()

	alerts := alerting.NewManager(
		alerting.WithRepository(store),
		alerting.WithNotifier(dispatcher),
		alerting.WithPublisher(broadcaster),
	)
	if err := alerts.Restore(ctx); err != nil {
		logging.Fatalf("Failed to restore alerts: %v", err)
	}

	ingest, err := ingestion.NewManager(cfg, store, alerts)
	if err != nil {
		logging.Fatalf("Failed to initialize ingestion: %v", err)
	}
	if err := ingest.Start(ctx); err != nil {
		logging.Fatalf("Failed to start ingestion: %v", err)
	}

	sched, err := scheduler.New(cfg.Escalation.SweepSchedule, alerts)
	if err != nil {
		logging.Fatalf("Failed to schedule escalation sweep: %v", err)
	}
	if cfg.Retention.Days > 0 {
		if err := sched.ScheduleRetention(cfg.Retention.Schedule, cfg.Retention.Window(), alerts); err != nil {
			logging.Fatalf("Failed to schedule retention purge: %v", err)
		}
	}
	sched.Start()

	grpcServer := internalgrpc.NewServer(alerts, broadcaster)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.RequestIDMiddleware())
	router.Use(api.LoggingMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	handler := api.NewHandler(alerts,
		api.WithIngestion(ingest),
		api.WithAssessments(store),
		api.WithBroadcaster(broadcaster),
		api.WithFusionWeights(fusion.Weights{Sensor: cfg.Fusion.SensorWeight, Drone: cfg.Fusion.DroneWeight}),
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		sched.Stop()
		ingest.Stop()
		broadcaster.Close() // Close all streams gracefully
		grpcServer.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("service stopped with error", "error", err)
		store.Close()
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}
