// Command seed-db loads the product catalog, pricing batches and launch
// coupons from a JSON file into the database, running migrations first.
// Inserts are upserts, so reseeding an environment is safe.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/felipeacampelo/Gestao-AreaMais/internal/domain/coupon"
	"github.com/felipeacampelo/Gestao-AreaMais/internal/repository"
)

type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	BasePrice       decimal.Decimal `json:"base_price"`
	MaxInstallments int             `json:"max_installments"`
	Active          bool            `json:"active"`
	EventDate       *time.Time      `json:"event_date"`
}

type batchJSON struct {
	ID                    string          `json:"id"`
	ProductID             string          `json:"product_id"`
	Name                  string          `json:"name"`
	Price                 decimal.Decimal `json:"price"`
	PixDiscountPercentage decimal.Decimal `json:"pix_discount_percentage"`
	MaxEnrollments        *int            `json:"max_enrollments"`
	Status                string          `json:"status"`
	StartDate             time.Time       `json:"start_date"`
	EndDate               time.Time       `json:"end_date"`
}

type couponJSON struct {
	Code          string           `json:"code"`
	DiscountType  string           `json:"discount_type"`
	DiscountValue decimal.Decimal  `json:"discount_value"`
	MaxDiscount   *decimal.Decimal `json:"max_discount"`
	MinPurchase   decimal.Decimal  `json:"min_purchase"`
	MaxUses       int              `json:"max_uses"`
	ProductIDs    []string         `json:"product_ids"`
	ValidFrom     *time.Time       `json:"valid_from"`
	ValidUntil    *time.Time       `json:"valid_until"`
	Active        bool             `json:"active"`
	Enable12x     bool             `json:"enable_12x"`
	Description   string           `json:"description"`
}

type enrollmentJSON struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	ProductID string            `json:"product_id"`
	BatchID   string            `json:"batch_id"`
	Status    string            `json:"status"`
	FormData  map[string]string `json:"form_data"`
}

type catalogJSON struct {
	Products []productJSON `json:"products"`
	Batches  []batchJSON   `json:"batches"`
	Coupons  []couponJSON  `json:"coupons"`
	// Enrollments are demo rows for local development and integration tests.
	Enrollments []enrollmentJSON `json:"enrollments"`
}

const upsertProductSQL = `INSERT INTO products (id, name, description, base_price, max_installments, active, event_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		description = EXCLUDED.description,
		base_price = EXCLUDED.base_price,
		max_installments = EXCLUDED.max_installments,
		active = EXCLUDED.active,
		event_date = EXCLUDED.event_date`

const upsertBatchSQL = `INSERT INTO batches (id, product_id, name, price, pix_discount_percentage,
		max_enrollments, status, start_date, end_date)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		price = EXCLUDED.price,
		pix_discount_percentage = EXCLUDED.pix_discount_percentage,
		max_enrollments = EXCLUDED.max_enrollments,
		status = EXCLUDED.status,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date`

const upsertEnrollmentSQL = `INSERT INTO enrollments (id, user_id, product_id, batch_id, status, form_data)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		form_data = EXCLUDED.form_data`

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, catalog.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedBatches(ctx, pool, catalog.Batches); err != nil {
		return errors.Wrap(err, "seed batches")
	}
	if err := seedCoupons(ctx, pool, catalog.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedEnrollments(ctx, pool, catalog.Enrollments); err != nil {
		return errors.Wrap(err, "seed enrollments")
	}

	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, products []productJSON) error {
	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Description, p.BasePrice, p.MaxInstallments, p.Active, p.EventDate,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}
	slog.Info("products seeded", slog.Int("count", len(products)))
	return nil
}

func seedBatches(ctx context.Context, pool *pgxpool.Pool, batches []batchJSON) error {
	for _, b := range batches {
		if _, err := pool.Exec(ctx, upsertBatchSQL,
			b.ID, b.ProductID, b.Name, b.Price, b.PixDiscountPercentage,
			b.MaxEnrollments, b.Status, b.StartDate, b.EndDate,
		); err != nil {
			return errors.Wrapf(err, "upsert batch %s", b.ID)
		}
	}
	slog.Info("batches seeded", slog.Int("count", len(batches)))
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, coupons []couponJSON) error {
	repo := repository.NewCouponRepository(pool)
	for _, c := range coupons {
		if err := repo.Upsert(ctx, &coupon.Coupon{
			Code:          c.Code,
			DiscountType:  coupon.DiscountType(c.DiscountType),
			DiscountValue: c.DiscountValue,
			MaxDiscount:   c.MaxDiscount,
			MinPurchase:   c.MinPurchase,
			MaxUses:       c.MaxUses,
			ProductIDs:    c.ProductIDs,
			ValidFrom:     c.ValidFrom,
			ValidUntil:    c.ValidUntil,
			Active:        c.Active,
			Enable12x:     c.Enable12x,
			Description:   c.Description,
		}); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}
	}
	slog.Info("coupons seeded", slog.Int("count", len(coupons)))
	return nil
}

func seedEnrollments(ctx context.Context, pool *pgxpool.Pool, enrollments []enrollmentJSON) error {
	for _, e := range enrollments {
		formData := e.FormData
		if formData == nil {
			formData = map[string]string{}
		}
		if _, err := pool.Exec(ctx, upsertEnrollmentSQL,
			e.ID, e.UserID, e.ProductID, e.BatchID, e.Status, formData,
		); err != nil {
			return errors.Wrapf(err, "upsert enrollment %s", e.ID)
		}
	}
	slog.Info("enrollments seeded", slog.Int("count", len(enrollments)))
	return nil
}
