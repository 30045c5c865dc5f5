package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/loadout/internal/adapter/handler"
	"github.com/rl1809/loadout/internal/adapter/storage"
	"github.com/rl1809/loadout/internal/config"
	"github.com/rl1809/loadout/internal/core/service"
	"github.com/rl1809/loadout/internal/logger"
	"github.com/rl1809/loadout/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	store, err := storage.Open(ctx, storage.DBConfig{
		Dialect:         storage.Dialect(cfg.DBDriver),
		DSN:             cfg.DBDSN,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		zapLogger.Fatal("failed to open build store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	zapLogger.Info("build store ready", zap.String("driver", cfg.DBDriver))

	// Initialize Redis
	var (
		rdb   *redis.Client
		guard port.InteractionGuard
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			// the guard fails open per call, so keep going
			zapLogger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		} else {
			zapLogger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		}
		guard = storage.NewRedisAdapter(rdb, cfg.CommandRateLimit, cfg.CommandRateWindow)
	} else {
		zapLogger.Info("REDIS_ADDR not set, interactions are not deduplicated")
	}

	images, err := storage.NewDiskImageStore(cfg.UploadDir, cfg.UploadURLPrefix)
	if err != nil {
		zapLogger.Fatal("failed to prepare upload dir", zap.String("dir", cfg.UploadDir), zap.Error(err))
	}

	// Initialize service
	buildService := service.NewBuildService(store, zapLogger)

	// Initialize gRPC health server
	grpcServer := grpc.NewServer()
	healthServer := handler.NewHealthServer(buildService, cfg.HealthInterval, zapLogger)
	healthServer.Register(grpcServer)
	go healthServer.Run(ctx)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		zapLogger.Fatal("failed to listen", zap.String("addr", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		zapLogger.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			zapLogger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	gin.SetMode(gin.ReleaseMode)
	adminHandler := handler.NewAdminHandler(buildService, images, cfg.MaxUploadBytes, zapLogger)
	router, err := handler.NewRouter(adminHandler, handler.RouterConfig{
		UploadDir:       cfg.UploadDir,
		UploadURLPrefix: cfg.UploadURLPrefix,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to build router", zap.Error(err))
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Initialize Discord bot
	var bot *handler.DiscordBot
	if cfg.DiscordToken != "" {
		lookupHandler := handler.NewLookupHandler(buildService, guard, cfg.PublicBaseURL, zapLogger)
		bot, err = handler.NewDiscordBot(cfg.DiscordToken, cfg.DiscordGuildID, lookupHandler, zapLogger)
		if err != nil {
			zapLogger.Fatal("failed to create discord bot", zap.Error(err))
		}
		if err := bot.Start(); err != nil {
			zapLogger.Fatal("failed to start discord bot", zap.Error(err))
		}
	} else {
		zapLogger.Info("DISCORD_TOKEN not set, discord bot disabled")
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down...")
	cancel()

	if bot != nil {
		if err := bot.Stop(); err != nil {
			zapLogger.Warn("failed to close discord session", zap.Error(err))
		}
		zapLogger.Info("discord bot stopped")
	}

	// Stop HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	zapLogger.Info("HTTP server stopped")

	// Stop gRPC server
	healthServer.Shutdown()
	grpcServer.GracefulStop()
	zapLogger.Info("gRPC server stopped")

	// Close connections
	if rdb != nil {
		rdb.Close()
	}
	store.Close()
	zapLogger.Info("connections closed")
}
