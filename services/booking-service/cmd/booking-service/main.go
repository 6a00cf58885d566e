package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/salonsync/libs/auth"
	"github.com/md-rashed-zaman/salonsync/libs/config"
	"github.com/md-rashed-zaman/salonsync/libs/httpx"
	"github.com/md-rashed-zaman/salonsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonsync/libs/otel"
	"github.com/md-rashed-zaman/salonsync/libs/runtime"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/integrations"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/tools"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		panic(err)
	}
	defer store.close()

	checks := []runtime.ReadyCheck{{Name: "db", Check: store.ready}}

	brokers := config.String("KAFKA_BROKERS", "")
	if store.pool != nil {
		publisher := outbox.NewPublisher(store.pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
		if brokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
		}
	}

	createLimit, err := config.Int("RATE_LIMIT_CREATE", 5)
	if err != nil {
		panic(err)
	}
	createWindow, err := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		panic(err)
	}
	var limiter httpx.Limiter
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		limiter = httpx.NewRedisRateLimiter(rdb, createLimit, createWindow, "salonsync:ratelimit:")
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		rl := httpx.NewRateLimiter(createLimit, createWindow)
		go rl.Run(ctx, createWindow, logger)
		limiter = rl
	}

	coord, err := newCoordinator(store.store, logger)
	if err != nil {
		panic(err)
	}
	readTimeout, err := config.Duration("AVAILABILITY_TIMEOUT", 3*time.Second)
	if err != nil {
		panic(err)
	}
	engine := booking.NewEngine(store.store, logger,
		booking.WithSyncer(coord),
		booking.WithReadTimeout(readTimeout),
	)
	registry := tools.NewRegistry(engine, limiter, logger)
	bookingHandler := handlers.NewBookingHandler(engine, registry, limiter, logger)

	grpcHealth, err := startGrpcServer(ctx, service, logger, checks)
	if err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/api/", auth.RequireHS256(config.String("AUTH_JWT_SECRET", ""))(bookingHandler.Routes()))
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}
	if err := coord.Wait(shutdownCtx); err != nil {
		logger.Warn("pending calendar syncs abandoned", "err", err)
	}
	logger.Info("http server stopped")
}

func newCoordinator(store storage.Store, logger *slog.Logger) (*integrations.Coordinator, error) {
	callTimeout, err := config.Duration("INTEGRATION_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, err
	}
	coord := integrations.NewCoordinator(store, logger, integrations.Config{CallTimeout: callTimeout})
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	var googleRefresher integrations.TokenRefresher
	if id := config.String("GOOGLE_CLIENT_ID", ""); id != "" {
		googleRefresher = integrations.NewOAuthRefresher(id, config.String("GOOGLE_CLIENT_SECRET", ""),
			config.String("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"), client)
	}
	coord.Register(integrations.NewGoogleCalendar(config.String("GOOGLE_API_BASE", ""), client), googleRefresher)

	var calendlyRefresher integrations.TokenRefresher
	if id := config.String("CALENDLY_CLIENT_ID", ""); id != "" {
		calendlyRefresher = integrations.NewOAuthRefresher(id, config.String("CALENDLY_CLIENT_SECRET", ""),
			config.String("CALENDLY_TOKEN_URL", "https://auth.calendly.com/oauth/token"), client)
	}
	coord.Register(integrations.NewCalendly(config.String("CALENDLY_API_BASE", ""), client), calendlyRefresher)
	return coord, nil
}
