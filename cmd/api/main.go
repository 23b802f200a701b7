package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/config"
	"github.com/ariefcatur/marketplace-orders/internal/history"
	"github.com/ariefcatur/marketplace-orders/internal/httpx"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/memstore"
	"github.com/ariefcatur/marketplace-orders/internal/metrics"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/outbox"
	"github.com/ariefcatur/marketplace-orders/internal/postgres"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	m := metrics.New("orders")

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers)
	defer func() { _ = prod.Close() }()

	g, ctx := errgroup.WithContext(ctx)

	var (
		store  orders.Store
		source outbox.Source
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := memstore.New()
		store, source = mem, mem

		// nothing else reads the in-process store, so project history here
		projector := &history.Service{Writer: mem, Redis: rdb, Logger: logger.Named("history"), Metrics: m}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.HistoryGroup, history.Topics(), cfg.HistoryWorkers, logger)
		g.Go(func() error { return cons.Start(ctx, projector.Handle) })
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		store, source = &orders.Repo{DB: db}, &outbox.Repo{DB: db}
	}
	logger.Info("store selected", zap.String("driver", cfg.StoreDriver))

	svc := orders.NewService(orders.ServiceDeps{
		Store:       store,
		Producer:    cfg.ServiceName,
		MaxQuantity: cfg.MaxOrderQuantity,
		Metrics:     m,
	})

	router := httpx.NewRouter(logger, m)
	(&httpx.OrdersHandler{
		Service:     svc,
		Auth:        auth.NewAuthenticator(cfg.JWTSecret),
		Idempotency: &redisx.Idempotency{RDB: rdb, TTL: cfg.IdempotencyTTL},
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	relay := &outbox.Relay{
		Source:    source,
		Publisher: prod,
		Interval:  cfg.RelayInterval,
		BatchSize: cfg.RelayBatchSize,
		Logger:    logger.Named("relay"),
	}
	g.Go(func() error { return relay.Run(ctx) })

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
