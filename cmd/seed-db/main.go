// Command seed-db loads users, product variants, and coupons from a JSON
// catalog file into the database. Rows are upserted by id, so re-running the
// tool is safe.
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

	"github.com/vendora/bazaar/internal/postgres"
)

type seedFile struct {
	Users    []userJSON    `json:"users"`
	Variants []variantJSON `json:"variants"`
	Coupons  []couponJSON  `json:"coupons"`
}

type userJSON struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	IsVendor bool   `json:"is_vendor"`
}

type variantJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	VendorID string          `json:"vendor_id"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Active   bool            `json:"active"`
}

type couponJSON struct {
	ID                string           `json:"id"`
	Code              string           `json:"code"`
	VendorID          string           `json:"vendor_id"`
	Title             string           `json:"title"`
	DiscountType      string           `json:"discount_type"`
	PercentOff        decimal.Decimal  `json:"percent_off"`
	AmountOff         decimal.Decimal  `json:"amount_off"`
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount"`
	MinOrderAmount    decimal.Decimal  `json:"min_order_amount"`
	StartsAt          *time.Time       `json:"starts_at"`
	EndsAt            *time.Time       `json:"ends_at"`
	UsageLimitTotal   int              `json:"usage_limit_total"`
	UsageLimitPerUser int              `json:"usage_limit_per_user"`
	Active            bool             `json:"active"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/catalog.json", "path to seed catalog JSON file")
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

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	if err := seedUsers(ctx, pool, seed.Users); err != nil {
		return errors.Wrap(err, "seed users")
	}
	if err := seedVariants(ctx, pool, seed.Variants); err != nil {
		return errors.Wrap(err, "seed variants")
	}
	if err := seedCoupons(ctx, pool, seed.Coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	return nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, users []userJSON) error {
	const q = `INSERT INTO users (id, email, full_name, phone, is_vendor)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone, is_vendor = EXCLUDED.is_vendor`
	for _, u := range users {
		if _, err := pool.Exec(ctx, q, u.ID, u.Email, u.FullName, u.Phone, u.IsVendor); err != nil {
			return errors.Wrapf(err, "user %s", u.ID)
		}
	}
	slog.Info("seeded users", slog.Int("count", len(users)))
	return nil
}

func seedVariants(ctx context.Context, pool *pgxpool.Pool, variants []variantJSON) error {
	const q = `INSERT INTO product_variants (id, name, vendor_id, price, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, vendor_id = EXCLUDED.vendor_id,
			price = EXCLUDED.price, stock = EXCLUDED.stock, active = EXCLUDED.active`
	for _, v := range variants {
		if _, err := pool.Exec(ctx, q, v.ID, v.Name, v.VendorID, v.Price, v.Stock, v.Active); err != nil {
			return errors.Wrapf(err, "variant %s", v.ID)
		}
	}
	slog.Info("seeded variants", slog.Int("count", len(variants)))
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, coupons []couponJSON) error {
	const q = `INSERT INTO coupons (id, code, vendor_id, title, discount_type,
			percent_off, amount_off, max_discount_amount, min_order_amount,
			starts_at, ends_at, usage_limit_total, usage_limit_per_user, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, title = EXCLUDED.title,
			discount_type = EXCLUDED.discount_type,
			percent_off = EXCLUDED.percent_off, amount_off = EXCLUDED.amount_off,
			max_discount_amount = EXCLUDED.max_discount_amount,
			min_order_amount = EXCLUDED.min_order_amount,
			starts_at = EXCLUDED.starts_at, ends_at = EXCLUDED.ends_at,
			usage_limit_total = EXCLUDED.usage_limit_total,
			usage_limit_per_user = EXCLUDED.usage_limit_per_user,
			active = EXCLUDED.active`
	for _, c := range coupons {
		if _, err := pool.Exec(ctx, q,
			c.ID, c.Code, c.VendorID, c.Title, c.DiscountType,
			c.PercentOff, c.AmountOff, c.MaxDiscountAmount, c.MinOrderAmount,
			c.StartsAt, c.EndsAt, c.UsageLimitTotal, c.UsageLimitPerUser, c.Active,
		); err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}
	}
	slog.Info("seeded coupons", slog.Int("count", len(coupons)))
	return nil
}
