package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog"
	sagalogsqlite "github.com/jcmexdev/ecommerce-orders/internal/coordinator/sagalog/sqlite"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/adapters/httpx"
	"github.com/jcmexdev/ecommerce-orders/internal/order-service/app"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/cache"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/config"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
	entitymongo "github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore/mongo"
	entitysqlite "github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore/sqlite"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/interceptors"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/queue/kafka"
	"github.com/jcmexdev/ecommerce-orders/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.InitLogger("info")
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("order service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Error("close failed", "error", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)
	store = entitystore.Instrument(store, cfg.StoreTimeout)

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, publisher)

	placementLog, err := openPlacementLog(cfg)
	if err != nil {
		return err
	}
	if c, ok := placementLog.(io.Closer); ok {
		closers = append(closers, c)
	}

	var idempotency cache.Cache
	if cfg.RedisAddr != "" {
		idempotency = cache.NewRedisCache(cfg.RedisAddr, cfg.ServiceName)
		closers = append(closers, idempotency)
		if err := cache.Ping(ctx, idempotency); err != nil {
			slog.Warn("redis unreachable, idempotency keys degrade to no-ops until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
	}

	tables := app.Tables{Order: cfg.TableOrder, Product: cfg.TableProduct, Customer: cfg.TableCustomer}
	if cfg.SeedCatalogPath != "" {
		if err := seedCatalog(ctx, store, tables, cfg.SeedCatalogPath); err != nil {
			return err
		}
	}

	orders := app.NewOrderService(store, publisher, placementLog, app.Config{
		Tables: tables,
		Topics: app.Topics{
			OrderNotifications: cfg.TopicOrderNotifications,
			StockUpdates:       cfg.TopicStockUpdates,
		},
		MissingCustomer:   app.MissingCustomerPolicy(cfg.MissingCustomerPolicy),
		StrictTransitions: cfg.StrictStatusTransitions,
		PublishTimeout:    cfg.PublishTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpx.NewRouter(httpx.NewHandler(orders, idempotency, cfg.IdempotencyTTL)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryServerInterceptor(),
			interceptors.TraceServerInterceptor(),
		),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("order service HTTP running", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "queue", cfg.QueueDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		slog.Info("order service gRPC health running", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	reconcilerDone := make(chan struct{})
	if cfg.ReconcileInterval > 0 {
		reconciler := app.NewReconciler(store, placementLog, app.ReconcilerConfig{
			Tables: tables,
			Grace:  cfg.ReconcileGrace,
		})
		go func() {
			defer close(reconcilerDone)
			reconciler.RunEvery(reconcileCtx, cfg.ReconcileInterval)
		}()
	} else {
		close(reconcilerDone)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	healthServer.Shutdown()
	stopReconciler()
	<-reconcilerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	grpcStopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcStopped)
	}()
	select {
	case <-grpcStopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	slog.Info("order service stopped")
	return serveErr
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg config.Config) (entitystore.Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, nil, err
		}
		s, err := entitysqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.StoreMongo:
		connectCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
		defer cancel()
		s, client, err := entitymongo.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, closerFunc(func() error {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(disconnectCtx)
		}), nil
	}
	return entitystore.NewMemory(), closerFunc(func() error { return nil }), nil
}

func openPublisher(cfg config.Config) (queue.Publisher, error) {
	if cfg.QueueDriver == config.QueueKafka {
		return kafka.New(kafka.Config{
			Brokers:  cfg.KafkaBrokers,
			ClientID: cfg.ServiceName,
		})
	}
	return queue.NewMemory(), nil
}

// openPlacementLog keeps the log in memory when no path is configured.
func openPlacementLog(cfg config.Config) (sagalog.Repository, error) {
	if cfg.SagaLogPath == "" {
		return sagalog.NewMemoryRepository(), nil
	}
	if err := ensureDir(cfg.SagaLogPath); err != nil {
		return nil, err
	}
	return sagalogsqlite.Open(cfg.SagaLogPath)
}

func seedCatalog(ctx context.Context, store entitystore.Store, tables app.Tables, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed catalog: %w", err)
	}
	defer f.Close()

	created, err := app.SeedCatalog(ctx, store, tables, f)
	if err != nil {
		return err
	}
	slog.Info("catalog seeded", "path", path, "created", created)
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
