package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/libs/grpcx"
	"github.com/clinicbook/clinicbook/libs/httpx"
	"github.com/clinicbook/clinicbook/libs/kafkax"
	otelx "github.com/clinicbook/clinicbook/libs/otel"
	"github.com/clinicbook/clinicbook/libs/runtime"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/cache"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/config"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/consumer"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/handlers"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/inbox"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/reminders"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/storage"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/storage/memstore"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func serveCmd(envFile *string) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile, store)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "storage backend: postgres or memory (overrides STORE)")
	return cmd
}

// backend is the storage side of the engine plus whatever it needs to stay
// healthy and shut down cleanly.
type backend struct {
	store  scheduling.Store
	dir    scheduling.Directory
	slots  scheduling.SlotSource
	checks []runtime.ReadyCheck
	close  func()
}

func runServer(parent context.Context, cfg *config.Config) error {
	logger, err := runtime.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := runtime.SignalContext(parent)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Error("otel setup failed", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var be backend
	switch cfg.Store {
	case config.StoreMemory:
		be = memoryBackend(cfg, logger)
	default:
		be, err = postgresBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}
	defer be.close()

	var (
		invalidator scheduling.Invalidator = cache.Noop{}
		limiter     echo.MiddlewareFunc
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		invalidator = cache.NewRedisInvalidator(rdb)
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
		if cfg.RateLimitPerMinute > 0 {
			limiter = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, cfg.ServiceName).Middleware(logger, true)
		}
	}

	svc := scheduling.NewService(scheduling.Options{
		Store:     be.store,
		Directory: be.dir,
		Slots:     be.slots,
		Cache:     invalidator,
		Reminders: reminders.NewPlanner(reminders.OffsetsFromMinutes(cfg.ReminderOffsets), logger),
		Location:  cfg.Location,
		Logger:    logger,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	stackOpts := httpx.StackOptions{CORSOrigins: cfg.CORSOrigins}
	if limiter == nil {
		stackOpts.PerMinute = cfg.RateLimitPerMinute
	}
	e.Use(httpx.Stack(stackOpts)...)
	e.Use(httpx.AccessLog(logger))
	if limiter != nil {
		e.Use(limiter)
	}
	runtime.RegisterHealth(e, be.checks...)
	handlers.NewHandler(svc, logger, scheduling.DefaultRetryPolicy).RegisterRoutes(e.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(e, cfg.ServiceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer, health := grpcx.NewServer(logger)
	go func() {
		logger.Info("grpc server starting", zap.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server starting",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store),
			zap.Stringer("clinic_timezone", cfg.Location),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	grpcx.SetServing(health, cfg.ServiceName, true)

	<-ctx.Done()
	grpcx.SetServing(health, cfg.ServiceName, false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("servers stopped")
	return nil
}

// postgresBackend opens the pool and starts the outbox publisher, the
// reminder dispatcher and the delivery-status consumer.
func postgresBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, error) {
	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return backend{}, fmt.Errorf("db connect: %w", err)
	}

	outboxRepo := outbox.NewRepository()
	pgStore := storage.NewStore(pool, outboxRepo, cfg.BookingLockTimeout)
	be := backend{
		store: pgStore,
		dir:   storage.NewDirectory(pool),
		slots: &scheduling.FallbackSource{
			Primary:  storage.NewSlotFunction(pool),
			Fallback: scheduling.RowScanSource{Store: pgStore},
			Logger:   logger,
		},
		checks: []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}},
	}

	workers := runtime.NewWorkers(ctx)
	remindersRepo := reminders.NewRepository()
	workers.Go(reminders.NewDispatcher(pool, remindersRepo, outboxRepo, logger, reminders.DispatcherConfig{}).Run)

	closers := []func() error{}
	if cfg.KafkaEnabled() {
		writer := kafkax.NewWriter(cfg.KafkaBrokers)
		closers = append(closers, writer.Close)
		workers.Go(outbox.NewPublisher(pool, outboxRepo, writer, logger, outbox.PublisherConfig{}).Run)

		topics := cfg.KafkaConsumeTopics
		if len(topics) == 0 {
			topics = reminders.DeliveryTopics
		}
		delivery := reminders.NewDeliveryHandler(pool, remindersRepo, inbox.NewRepository(), logger)
		reader := kafkax.NewReader(cfg.KafkaBrokers, cfg.KafkaGroupID, topics)
		workers.Go(consumer.New(reader, logger, delivery.Handle, consumer.Config{}).Run)

		be.checks = append(be.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished and delivery reports are not consumed")
	}

	// Workers stop before the writer and pool they use are closed.
	be.close = func() {
		workers.Stop()
		for _, c := range closers {
			_ = c()
		}
		pool.Close()
	}
	return be, nil
}

// memoryBackend runs the engine without Postgres. It is seeded with a small
// directory so the API is usable for local development.
func memoryBackend(cfg *config.Config, logger *zap.Logger) backend {
	store := memstore.New(cfg.BookingLockTimeout)
	store.AddDoctor(model.Party{ID: "doctor-1", DisplayName: "Dr. Maria Reyes", Email: "reyes@clinic.local", Active: true})
	store.AddDoctor(model.Party{ID: "doctor-2", DisplayName: "Dr. Jose Santos", Email: "santos@clinic.local", Active: true})
	store.AddPatient(model.Party{ID: "patient-1", DisplayName: "Ana Cruz", Phone: "+639170000001", Active: true})
	store.AddPatient(model.Party{ID: "patient-2", DisplayName: "Ben Lim", Email: "ben@example.com", Active: true})
	logger.Warn("using in-memory store; data is lost on exit")
	return backend{
		store: store,
		dir:   store,
		slots: scheduling.SweepSource{Store: store},
		close: func() {},
	}
}
