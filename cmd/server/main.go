// @title livepost API
// @version 1.0
// @description 帖子增删改查，变更通过 websocket 实时推送
// @host localhost:4000
// @BasePath /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/config"
	"github.com/d60-Lab/livepost/internal/api"
	"github.com/d60-Lab/livepost/internal/api/handler"
	"github.com/d60-Lab/livepost/internal/broadcast"
	"github.com/d60-Lab/livepost/internal/cache"
	"github.com/d60-Lab/livepost/internal/repository"
	"github.com/d60-Lab/livepost/internal/service"
	"github.com/d60-Lab/livepost/pkg/database"
	"github.com/d60-Lab/livepost/pkg/logger"
	"github.com/d60-Lab/livepost/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Options{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: cfg.Log.OutputPaths,
	}); err != nil {
		return err
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			EnableTracing:    cfg.Sentry.TracesSampleRate > 0,
			TracesSampleRate: cfg.Sentry.TracesSampleRate,
		}); err != nil {
			return err
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := repository.InitSchema(db); err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := broadcast.NewHub(cfg.Broadcast.QueueSize, cfg.Broadcast.ClientBuffer)
	go hub.Run(hubCtx)

	var rdb *redis.Client
	if cfg.Broadcast.Backend == "redis" || cfg.Cache.Enabled {
		rdb, err = database.InitRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	var broadcaster broadcast.Broadcaster = hub
	if cfg.Broadcast.Backend == "redis" {
		relay := broadcast.NewRedisRelay(rdb, cfg.Broadcast.Channel, hub, cfg.Broadcast.QueueSize)
		stopRelay, err := relay.Start(ctx)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := stopRelay(sctx); err != nil {
				logger.Warn("relay stop", zap.Error(err))
			}
		}()
		broadcaster = relay
	}

	var listCache *cache.PostListCache
	if cfg.Cache.Enabled {
		listCache = cache.NewPostListCache(rdb, cfg.Cache.TTL)
	}

	postService := service.NewPostService(repository.NewPostRepository(db), broadcaster, listCache)
	h := handler.NewHandler(postService, hub, cfg.Server.CORSOrigin)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(cfg, h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("db", cfg.Database.Driver),
			zap.String("broadcast", cfg.Broadcast.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 先停 hub 关闭 websocket 连接，Shutdown 不会等待被劫持的连接
	stopHub()
	return srv.Shutdown(sctx)
}
