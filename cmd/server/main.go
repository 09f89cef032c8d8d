package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"roomsync/internal/api"
	"roomsync/internal/exec"
	"roomsync/internal/metrics"
	"roomsync/internal/presence"
	"roomsync/internal/registry"
	"roomsync/internal/routers"
	"roomsync/internal/session"
	"roomsync/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	var roomStore store.RoomStore
	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI != "" {
		dbName := os.Getenv("ROOMS_DB_NAME")
		if dbName == "" {
			dbName = "roomsync"
		}
		rooms, err := store.NewRooms(ctx, mongoURI, dbName)
		if err != nil {
			logger.Fatal("failed to connect to mongo", zap.Error(err))
		}
		roomStore = rooms
	} else {
		logger.Warn("MONGO_URI not set, rooms will not survive a restart")
		roomStore = store.NewMemory()
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "redis:6379"
	}
	tracker := presence.NewFromAddr(redisAddr)

	compileTimeout := envSeconds("COMPILE_TIMEOUT_SECONDS", 12)
	dispatcher := exec.NewRunner(exec.DefaultLimits())

	reg := registry.New()
	router := session.NewRouter(reg)
	hub := session.NewHub(reg, router, roomStore, tracker, dispatcher, logger, compileTimeout)

	handlers := api.NewHandlers(logger, hub, reg, router, dispatcher)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
	)
	r.Mount("/", routers.New(handlers))

	// sweep rooms idle past the TTL; history stays, isActive flips
	roomTTL := envHours("ROOM_TTL_HOURS", 24)
	sweeper := cron.New()
	_, err := sweeper.AddFunc("@every 10m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := roomStore.DeactivateIdle(ctx, time.Now().UTC().Add(-roomTTL))
		if err != nil {
			logger.Warn("idle room sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("deactivated idle rooms", zap.Int64("count", n))
		}
	})
	if err != nil {
		logger.Fatal("failed to schedule room sweep", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	// no ReadTimeout: websocket connections are long-lived
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("roomsync listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exited")
}

func envSeconds(name string, def int) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(def) * time.Second
}

func envHours(name string, def int) time.Duration {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Hour
		}
	}
	return time.Duration(def) * time.Hour
}
