package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/conscious-checkout/internal/checkout"
	"github.com/xenking/conscious-checkout/internal/domain/auth"
	"github.com/xenking/conscious-checkout/internal/domain/cart"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/order"
	"github.com/xenking/conscious-checkout/internal/domain/otp"
	"github.com/xenking/conscious-checkout/internal/events"
	"github.com/xenking/conscious-checkout/internal/handler"
	"github.com/xenking/conscious-checkout/internal/mail"
	"github.com/xenking/conscious-checkout/internal/payment/razorpay"
	"github.com/xenking/conscious-checkout/internal/reminder"
	"github.com/xenking/conscious-checkout/internal/storage/postgres"
	"github.com/xenking/conscious-checkout/internal/storage/redisx"
	"github.com/xenking/conscious-checkout/pkg/health"
	"github.com/xenking/conscious-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := redisx.New(ctx, cfg.RedisURL)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("redis", 2*time.Second, redisPing(rdb), health.WithThresholds(2, 1))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	pub, closePublisher := newPublisher(ctx, lg, cfg.Kafka)
	defer closePublisher()

	// Repositories.
	programRepo := postgres.NewProgramRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	sender, err := mail.NewSender(cfg.SMTP, cfg.OTP.TTL)
	if err != nil {
		return errors.Wrap(err, "create mail sender")
	}
	otpService := otp.NewService(redisx.NewOTPStore(rdb), sender, cfg.OTP.TTL)
	couponValidator := coupon.NewRepoValidator(couponRepo)
	orderService := order.NewService(orderRepo, couponValidator, pub)

	metrics, err := checkout.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create checkout metrics")
	}
	gateway := razorpay.NewClient(cfg.Razorpay,
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)
	orchestrator := checkout.New(checkout.Deps{
		Orders:  orderService,
		Gateway: gateway,
		Catalog: programRepo,
		Coupons: couponRepo,
		OTP:     otpService,
		Metrics: metrics,
		Tracer:  m.TracerProvider(),
	})

	switch {
	case cfg.runReminder():
		job := reminder.New(cfg.Reminder, orderRepo, pub, lg.Named("reminder"))
		if err := job.Start(ctx); err != nil {
			return errors.Wrap(err, "start reminder")
		}
	case cfg.Reminder.Enabled:
		lg.Info("Kafka brokers not configured, reminder job not started")
	}

	h := handler.New(handler.Deps{
		Orders:   orderService,
		Coupons:  coupon.NewService(couponRepo),
		Quotes:   couponValidator,
		Programs: programRepo,
		Checkout: orchestrator,
		Sessions: cart.NewManager(redisx.NewSessionStore(rdb, cfg.Session.TTL)),
		Auth:     auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper)),
	})

	// Mux: health endpoints + API routes on one server.
	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-API-Key", "api_key", "Idempotency-Key", httpmiddleware.HeaderRequestID},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
				Skip:   isHealthCheck,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("checkout-api", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newPublisher returns the Kafka producer, or a publisher that drops events
// when no broker is configured. Published events carry the request ID.
func newPublisher(ctx context.Context, lg *zap.Logger, cfg KafkaConfig) (events.Publisher, func()) {
	var (
		next    events.Publisher = events.Discard{}
		closeFn                  = func() {}
	)
	if len(cfg.Brokers) > 0 {
		p := events.NewKafkaProducer(events.KafkaConfig{Brokers: cfg.Brokers, Buffer: cfg.Buffer}, lg.Named("events"))
		p.Start(ctx)
		next = p
		closeFn = func() {
			p.Close()
			p.WaitClosed()
		}
	} else {
		lg.Info("Kafka brokers not configured, events are discarded")
	}
	return events.RequestIDPublisher{Next: next, RequestID: httpmiddleware.RequestIDFromContext}, closeFn
}

func redisPing(rdb *redis.Client) health.CheckFunc {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func isHealthCheck(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}
