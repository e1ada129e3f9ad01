package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/asaas"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/handler"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/notify"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/repository"
	"github.com/felipeacampelo/Gestao-AreaMais/pkg/health"
	"github.com/felipeacampelo/Gestao-AreaMais/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabasePingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Payment gateway client.
	gateway := asaas.NewPaymentGateway(asaas.NewClient(asaas.Config{
		APIKey:  cfg.Asaas.APIKey,
		BaseURL: cfg.Asaas.BaseURL,
		Env:     cfg.Asaas.Env,
		Timeout: cfg.Asaas.Timeout,
	}))

	// Repositories.
	batchRepo := repository.NewBatchRepository(pool)
	couponRepo := repository.NewCouponRepository(pool)
	enrollmentRepo := repository.NewEnrollmentRepository(pool)
	customerRepo := repository.NewCustomerRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// Domain services.
	couponValidator := coupon.NewRepoValidator(couponRepo)
	paymentService := payment.NewService(
		gateway,
		paymentRepo,
		enrollmentRepo,
		customerRepo,
		batchRepo,
		couponRepo,
		txRunner,
		notify.NewLogNotifier(lg),
		lg,
	)

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{WebhookToken: cfg.Asaas.WebhookToken},
		paymentService,
		paymentRepo,
		couponValidator,
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
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
