package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/checkout-api/internal/domain/auth"
	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/order"
	"github.com/xenking/checkout-api/internal/domain/summary"
	"github.com/xenking/checkout-api/internal/gateway/razorpay"
	"github.com/xenking/checkout-api/internal/handler"
	"github.com/xenking/checkout-api/internal/notify/kafka"
	"github.com/xenking/checkout-api/internal/notify/smtp"
	"github.com/xenking/checkout-api/internal/storage/postgres"
	"github.com/xenking/checkout-api/pkg/health"
	"github.com/xenking/checkout-api/pkg/httpmiddleware"
)

const healthInterval = 10 * time.Second

// Run creates all dependencies of the API server, starts it, and handles
// graceful shutdown. It is the single wiring point for the API.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return errors.Wrap(err, "auth tokens")
	}

	pool, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	writer := kafka.NewWriter(cfg.Kafka.Brokers)
	defer closeLogged(lg, writer, zap.String("writer", "notifications"))

	healthSvc := newHealth(pool, cfg.Kafka.Brokers)
	healthSvc.Start(ctx, healthInterval)

	// Repositories.
	reference := postgres.NewReferenceRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Domain services.
	couponSvc, err := coupon.NewService(couponRepo, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "coupon service")
	}
	orderSvc, err := order.NewService(order.Config{
		Currency:          cfg.Razorpay.Currency,
		GatewayTimeout:    cfg.Razorpay.Timeout,
		SideEffectTimeout: cfg.SideEffectTimeout,
		Fallback: order.Credentials{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
		},
	}, order.Deps{
		Orders:      orderRepo,
		Customers:   postgres.NewCustomerRepository(pool),
		Products:    postgres.NewProductRepository(pool),
		Credentials: reference,
		Gateway: razorpay.New(razorpay.Options{
			BaseURL:        cfg.Razorpay.BaseURL,
			Timeout:        cfg.Razorpay.Timeout,
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		}),
		Notifier: kafka.NewPublisher(writer, kafkaTopics(cfg.Kafka)),

		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "order service")
	}

	h := handler.New(handler.Config{WebhookSecret: cfg.Razorpay.WebhookSecret}, handler.Deps{
		Summary: summary.NewResolver(reference),
		Coupons: couponSvc,
		Orders:  orderSvc,
		Carts:   postgres.NewCartRepository(pool),
		Tokens:  tokens,
	})

	// Route-aware middlewares run inside chi so the matched pattern is known.
	r := chi.NewRouter()
	r.Use(httpmiddleware.Labeler(), httpmiddleware.LogRequests())
	mountProbes(r, healthSvc)
	h.Mount(r)

	server := newServer(ctx, cfg.Addr, httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("checkout-api", m.TracerProvider(), m.MeterProvider()),
	))

	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

// RunNotifier consumes notification topics until ctx is cancelled,
// persisting in-app notifications and delivering email.
func RunNotifier(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing notifier",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("group", cfg.Kafka.GroupID),
	)

	pool, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	topics := kafkaTopics(cfg.Kafka)
	var readers []kafka.MessageReader
	for _, topic := range []string{topics.Notifications, topics.Emails} {
		rd := kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.GroupID, topic)
		defer closeLogged(lg, rd, zap.String("reader", topic))
		readers = append(readers, rd)
	}
	dlq := kafka.NewWriter(cfg.Kafka.Brokers)
	defer closeLogged(lg, dlq, zap.String("writer", topics.DeadLetter))

	worker, err := kafka.NewWorker(kafka.WorkerConfig{
		Topics:      topics,
		MaxAttempts: cfg.Kafka.MaxAttempts,
		Backoff:     cfg.Kafka.Backoff,
	}, readers, dlq, postgres.NewNotificationRepository(pool), smtp.New(smtp.Config{
		Addr:     cfg.SMTP.Addr,
		From:     cfg.SMTP.From,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		Timeout:  cfg.SMTP.Timeout,
	}), m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create worker")
	}

	healthSvc := newHealth(pool, cfg.Kafka.Brokers)
	healthSvc.Start(ctx, healthInterval)

	r := chi.NewRouter()
	mountProbes(r, healthSvc)
	server := newServer(ctx, cfg.Notifier.Addr, httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
	))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	g.Go(func() error {
		return serve(ctx, lg, server, healthSvc, cfg.Graceful)
	})
	return g.Wait()
}

func closeLogged(lg *zap.Logger, c io.Closer, fields ...zap.Field) {
	if err := c.Close(); err != nil {
		lg.Warn("Close failed", append(fields, zap.Error(err))...)
	}
}

func openDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return pool, nil
}

func kafkaTopics(cfg KafkaConfig) kafka.Topics {
	return kafka.Topics{
		Notifications: cfg.NotificationsTopic,
		Emails:        cfg.EmailsTopic,
		DeadLetter:    cfg.DeadLetterTopic,
	}
}

func newHealth(db health.Pinger, brokers []string) *health.Health {
	h := health.New()
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(db))
	h.AddReadinessCheck("kafka", 5*time.Second, func(ctx context.Context) error {
		return kafka.Ping(ctx, brokers)
	}, health.WithFailureThreshold(2))
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	h.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))
	return h
}

func mountProbes(r chi.Router, h *health.Health) {
	r.Get("/livez", h.LiveEndpoint)
	r.Get("/readyz", h.ReadyEndpoint)
}

func newServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	base := context.WithoutCancel(ctx)
	return &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              addr,
		Handler:           h,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// serve runs server until ctx is cancelled, then flips readiness, waits for
// load balancers to notice and drains in-flight requests.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, h *health.Health, cfg GracefulConfig) error {
	h.SetReady(true)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		h.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.ReadinessDelay))
		time.Sleep(cfg.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		h.Stop()
	}()

	lg.Info("Server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
