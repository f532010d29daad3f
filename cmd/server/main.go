package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/canteen/internal/adapter/handler"
	"github.com/rl1809/canteen/internal/adapter/messaging"
	"github.com/rl1809/canteen/internal/adapter/storage"
	"github.com/rl1809/canteen/internal/config"
	"github.com/rl1809/canteen/internal/core/service"
	"github.com/rl1809/canteen/internal/platform/observability"
	"github.com/rl1809/canteen/internal/port"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "canteen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tp, shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return err
	}
	shutdownLogging, err := observability.SetupLogging(ctx, cfg)
	if err != nil {
		return err
	}
	shutdownTelemetry := observability.Join(shutdownTracing, shutdownLogging)

	logger := observability.NewLogger(cfg.OtelEndpoint != "")
	defer logger.Sync()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	idempotency, closeIdempotency, err := openIdempotency(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closeIdempotency)

	publisher, err := openPublisher(cfg, tp, logger)
	if err != nil {
		return err
	}
	closers = append(closers, publisher.Close)

	dispatcher := service.NewDispatcher(publisher, cfg.EventBuffer, logger)
	queue := service.NewFulfillmentQueue(service.QueueConfig{
		Capacity:     cfg.QueueCapacity,
		BlockOnFull:  cfg.QueueBlockOnFull,
		BlockTimeout: cfg.QueueBlockTimeout,
	})
	orderService := service.NewOrderService(store, queue,
		service.WithLogger(logger),
		service.WithIdempotency(idempotency),
		service.WithDispatcher(dispatcher),
		service.WithStationWait(cfg.StationWait),
	)

	if cfg.SeedMenu {
		if err := seedMenu(ctx, orderService.Catalog(), logger); err != nil {
			return err
		}
	}
	if err := orderService.Recover(ctx); err != nil {
		return err
	}

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(orderService).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(orderService, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		logger.Info("servers stopped")
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("events dispatched", zap.Int64("dropped", dispatcher.Dropped()))
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, func() error, error) {
	if cfg.MySQLDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), func() error { return nil }, nil
	}

	dsn, err := storage.NormalizeMySQLDSN(cfg.MySQLDSN)
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	store := storage.NewMySQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("connected to mysql")
	return store, db.Close, nil
}

func openIdempotency(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.IdempotencyRepository, func() error, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory idempotency keys")
		return storage.NewMemoryIdempotency(), func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis")
	return storage.NewRedisIdempotency(rdb), rdb.Close, nil
}

func openPublisher(cfg *config.Config, tp trace.TracerProvider, logger *zap.Logger) (port.EventPublisher, error) {
	brokers := messaging.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		logger.Info("no kafka brokers configured, logging events")
		return messaging.NewLogPublisher(logger), nil
	}

	producer, err := messaging.NewKafkaProducer(brokers, cfg.KafkaTopic, tp)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing events to kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaTopic))
	return messaging.NewKafkaPublisher(producer), nil
}
