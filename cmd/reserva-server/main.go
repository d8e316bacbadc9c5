package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"reserva/backend/internal/config"
	"reserva/backend/internal/events"
	"reserva/backend/internal/idempotency"
	"reserva/backend/internal/payment"
	"reserva/backend/internal/service/availability"
	"reserva/backend/internal/service/bookings"
	"reserva/backend/internal/store/postgres"
	"reserva/backend/internal/telemetry"
	grpcTransport "reserva/backend/internal/transport/grpc"
)

const serviceName = "reserva-server"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	log.Info("starting", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("log_level", cfg.LogLevel))

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   serviceName,
		Endpoint:      cfg.OTel.Endpoint,
		SamplingRatio: cfg.OTel.SamplingRatio,
	})
	if err != nil {
		log.Error("tracing setup failed", slog.Any("err", err), slog.String("otel_endpoint", cfg.OTel.Endpoint))
		os.Exit(1)
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}

	catalog := postgres.NewCatalogRepo(db)
	engine := availability.NewEngine(catalog, postgres.NewCalendarReader(db), availability.Options{
		DefaultIntervalMinutes: cfg.Schedule.IntervalMinutes,
		DefaultTimezone:        cfg.Schedule.Timezone,
		SearchDays:             cfg.Schedule.SearchDays,
		ResultDays:             cfg.Schedule.ResultDays,
	}, log)

	var guard idempotency.Guard = idempotency.Noop{}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		guard = idempotency.NewRedisGuard(rdb, cfg.Idempotency.TTL, "")
		log.Info("idempotency guard enabled", slog.String("redis_addr", cfg.Redis.Addr))
	} else {
		log.Info("idempotency guard disabled; relying on storage dedup")
	}

	var publisher events.Publisher = events.Noop{}
	if brokers := events.SplitBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.Kafka.Topic)
		log.Info("event publishing enabled", slog.Int("brokers", len(brokers)), slog.String("topic", cfg.Kafka.Topic))
	}

	var gateway payment.Gateway = payment.Disabled{}
	if cfg.Payment.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(payment.StripeConfig{
			SecretKey: cfg.Payment.StripeSecretKey,
			Currency:  cfg.Payment.Currency,
			Timeout:   cfg.Payment.Timeout,
		})
	} else {
		log.Warn("stripe not configured; only on-site payments will be accepted")
	}

	svc := bookings.NewService(bookings.Deps{
		Engine:   engine,
		Catalog:  catalog,
		Bookings: postgres.NewBookingRepo(db),
		Packages: postgres.NewPackageRepo(db),
		Payments: gateway,
		Guard:    guard,
		Events:   publisher,
	}, log)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcTransport.RegisterBookingServiceServer(grpcServer, grpcTransport.NewBookingServer(engine, svc, log))
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcTransport.BookingServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()

	log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		healthServer.Shutdown()
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	if err := publisher.Close(); err != nil {
		log.Warn("event publisher close failed", slog.Any("err", err))
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn("redis close failed", slog.Any("err", err))
		}
	}
	if err := postgres.Close(db); err != nil {
		log.Warn("database close failed", slog.Any("err", err))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := shutdownTracing(flushCtx); err != nil {
		log.Warn("tracer shutdown failed", slog.Any("err", err))
	}
	cancel()

	os.Exit(exitCode)
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
