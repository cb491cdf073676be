package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"parking-booking-backend/config"
	"parking-booking-backend/internal/api"
	"parking-booking-backend/internal/booking"
	"parking-booking-backend/internal/broadcast"
	"parking-booking-backend/internal/db"
	"parking-booking-backend/internal/ledger"
	"parking-booking-backend/internal/logx"
	"parking-booking-backend/internal/notification"
	"parking-booking-backend/internal/session"
	"parking-booking-backend/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}

	logger, err := logx.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger.Named("db"))
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	var events broadcast.Broadcaster = broadcast.NewLogBroadcaster(logger.Named("events"))
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, events will be retried per publish", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		events = broadcast.NewRedisBroadcaster(client, cfg.Redis.Channel)
		logger.Info("broadcasting events over redis", zap.String("channel", cfg.Redis.Channel))
	}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn("VAPID keys are not configured, notifications are logged only")
	}
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions, logger)
	pool.Start(ctx)

	scheduler := session.NewScheduler(time.Now, logger)
	bookings := booking.NewService(cfg.Booking, appStore, ledger.New(events, logger), scheduler, events, pool, logger)

	restored, err := bookings.RestoreTimers(ctx)
	if err != nil {
		logger.Error("failed to restore session timers", zap.Error(err))
	}
	logger.Info("session timers restored", zap.Int("count", restored))

	if cfg.Sweeper.Enabled {
		sweeper := session.NewSweeper(bookings, cfg.Sweeper.Interval, time.Now, logger)
		go sweeper.Run(ctx)
	}

	responses := api.NewResponseCache(cfg.Server)
	handler := api.NewHandler(bookings, appStore, webpushOptions, responses, cfg.Booking.Location, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(cfg.Server, handler, responses),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server ListenAndServe", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received, stopping services")
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	logger.Info("server gracefully stopped")
}
