package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datalake/config"
	"datalake/internal/cache"
	"datalake/internal/handler"
	"datalake/internal/mq"
	"datalake/internal/repo"
	"datalake/internal/service"
	"datalake/internal/storage"
	"datalake/router"
	"datalake/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// main initializes services and starts the HTTP server.
func main() {
	if err := config.InitConfig(); err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	cfg := config.AppConfig

	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("datalake stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := repo.Open(cfg.DBURL, logger)
	if err != nil {
		return err
	}
	retry := repo.DefaultRetryOptions
	retry.Retries = cfg.DBRetries
	blobs := repo.NewBlobDB(repo.NewGormBlobDB(db), retry, logger)

	buckets, err := storage.DialBuckets(ctx, cfg.Buckets, logger)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Cache.Enabled && cfg.Cache.Backend == "redis" {
		rdb, err = repo.NewRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}
	blobCache, err := cache.New(cfg.Cache, rdb, logger)
	if err != nil {
		return err
	}

	var events mq.Producer = mq.NoopProducer{}
	if cfg.EventsEnabled {
		producer := mq.NewRabbitProducer(cfg.RabbitMQURL)
		defer producer.Close()
		events = producer
	} else {
		logger.Info("blob events disabled")
	}

	dl := service.New(blobs, buckets, blobCache, events, service.Options{CacheControl: cfg.CacheControl}, logger)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.InitRouter(handler.New(dl, logger), cfg.JWTSecret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("datalake listening", zap.String("addr", cfg.HTTPAddr), zap.Any("locations", buckets.Locations()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
