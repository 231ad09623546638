package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vendora/bazaar/internal/domain/cart"
	"github.com/vendora/bazaar/internal/domain/coupon"
	"github.com/vendora/bazaar/internal/domain/order"
	"github.com/vendora/bazaar/internal/domain/payment"
	"github.com/vendora/bazaar/internal/events"
	"github.com/vendora/bazaar/internal/gateway/easepay"
	"github.com/vendora/bazaar/internal/handler"
	"github.com/vendora/bazaar/internal/postgres"
	"github.com/vendora/bazaar/internal/shipping/shipquick"
	"github.com/vendora/bazaar/pkg/health"
	"github.com/vendora/bazaar/pkg/httpmiddleware"
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

	// Optional Redis for the shipping token cache.
	var redisClient redis.UniversalClient
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			_ = redisClient.Close()
		}()
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Storage.
	variantRepo := postgres.NewCatalogRepository(pool)
	cartStore := postgres.NewCartStore(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	couponStore := postgres.NewCouponStore(pool)
	paymentStore := postgres.NewPaymentStore(pool)
	notifications := postgres.NewNotificationStore(pool)

	// External clients.
	gateway := easepay.NewClient(easepay.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		Key:         cfg.Gateway.Key,
		Salt:        cfg.Gateway.Salt,
		StatusPaths: cfg.Gateway.StatusPaths,
	}, nil)
	rates := shipquick.NewClient(shipquick.Config{
		BaseURL:        cfg.Shipping.BaseURL,
		Email:          cfg.Shipping.Email,
		Password:       cfg.Shipping.Password,
		PickupPostcode: cfg.Shipping.PickupPostcode,
		Currency:       cfg.Currency,
	}, nil, redisClient)

	var publisher payment.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			_ = kafkaPublisher.Close()
		}()
		publisher = kafkaPublisher
	}

	// Domain services.
	cartSvc := cart.NewService(cartStore, variantRepo)
	snapshotter := order.NewSnapshotter(orderRepo, variantRepo)
	engine := coupon.NewEngine(couponStore, coupon.Policy{
		SingleCouponPerOrder:  cfg.Coupons.SinglePerOrder,
		SingleCouponPerVendor: cfg.Coupons.SinglePerVendor,
	})
	reconciler := payment.NewReconciler(orderRepo, paymentStore, gateway, notifications, publisher)

	// HTTP surface.
	h := handler.New(cartSvc, orderRepo, snapshotter, engine, reconciler, rates, handler.Config{
		Currency:         cfg.Currency,
		PreferredCourier: cfg.Shipping.PreferredCourier,
		ThankYouURL:      cfg.Payments.ThankYouURL,
		FailedURL:        cfg.Payments.FailedURL,
		ReturnURL:        cfg.Payments.ReturnURL,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-User-ID", "X-Session-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("bazaar-api", m),
			httpmiddleware.LogRequests(),
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
