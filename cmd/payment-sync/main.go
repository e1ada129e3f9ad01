// Command payment-sync reconciles local payment statuses against the Asaas
// gateway by polling, covering webhook deliveries that never arrived. It
// syncs one payment with --payment-id, or every open payment with --all.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/asaas"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/payment"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/notify"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/repository"
)

func main() {
	var (
		databaseURL string
		apiKey      string
		env         string
		baseURL     string
		paymentID   string
		syncAll     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "Asaas API key (or AREAMAIS_ASAAS_API_KEY env)")
	flag.StringVar(&env, "env", "sandbox", "Asaas environment: sandbox or production")
	flag.StringVar(&baseURL, "base-url", "", "Asaas base URL override")
	flag.StringVar(&paymentID, "payment-id", "", "sync a single payment by its local ID")
	flag.BoolVar(&syncAll, "all", false, "sync every open payment")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("AREAMAIS_ASAAS_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Asaas API key is required: set --api-key or AREAMAIS_ASAAS_API_KEY")
		os.Exit(1)
	}
	if paymentID == "" && !syncAll {
		slog.Error("nothing to do: pass --payment-id or --all")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, env, baseURL, paymentID, syncAll); err != nil {
		slog.Error("payment sync failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("payment sync completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, env, baseURL, paymentID string, syncAll bool) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	gateway := asaas.NewPaymentGateway(asaas.NewClient(asaas.Config{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Env:     env,
		Timeout: 30 * time.Second,
	}))

	svc := payment.NewService(
		gateway,
		repository.NewPaymentRepository(pool),
		repository.NewEnrollmentRepository(pool),
		repository.NewCustomerRepository(pool),
		repository.NewBatchRepository(pool),
		repository.NewCouponRepository(pool),
		repository.NewTxRunner(pool),
		notify.NewLogNotifier(lg),
		lg,
	)

	if paymentID != "" {
		res, err := svc.SyncPayment(ctx, paymentID)
		if err != nil {
			return errors.Wrapf(err, "sync payment %s", paymentID)
		}
		if res == nil {
			slog.Info("payment skipped", slog.String("payment_id", paymentID))
			return nil
		}
		slog.Info("payment synced",
			slog.String("payment_id", paymentID),
			slog.String("status", string(res.Payment.Status)),
			slog.Bool("status_changed", res.StatusChanged),
			slog.Bool("enrollment_paid", res.EnrollmentPaid),
		)
		return nil
	}

	return svc.SyncAll(ctx)
}
