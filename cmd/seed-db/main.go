// Command seed-db loads reference data and demo accounts for local
// development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/checkout-api/internal/domain/auth"
	"github.com/xenking/checkout-api/internal/storage/postgres"
)

// Fixed ids keep the seed idempotent.
var (
	adminID    = uuid.MustParse("00000000-0000-4000-8000-000000000001")
	shopperID  = uuid.MustParse("00000000-0000-4000-8000-000000000002")
	addressID  = uuid.MustParse("00000000-0000-4000-8000-000000000101")
	teaID      = uuid.MustParse("00000000-0000-4000-8000-000000000201")
	kettleID   = uuid.MustParse("00000000-0000-4000-8000-000000000202")
	teaLargeID = uuid.MustParse("00000000-0000-4000-8000-000000000301")
)

func main() {
	var (
		databaseURL string
		jwtSecret   string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "secret used to print demo tokens (or CHECKOUT_AUTH_JWT_SECRET env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("CHECKOUT_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, jwtSecret); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, jwtSecret string) error {
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

	if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, step := range []struct {
			name string
			fn   func(context.Context, pgx.Tx) error
		}{
			{"reference data", seedReference},
			{"users", seedUsers},
			{"catalog", seedCatalog},
			{"coupons", seedCoupons},
		} {
			if err := step.fn(ctx, tx); err != nil {
				return errors.Wrapf(err, "seed %s", step.name)
			}
			slog.Info("seeded", slog.String("step", step.name))
		}
		return nil
	}); err != nil {
		return err
	}

	return printTokens(ctx, pool, jwtSecret)
}

func seedReference(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, `INSERT INTO company_settings (id, state, is_tax_inclusive)
		VALUES (1, 'Karnataka', FALSE)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`); err != nil {
		return errors.Wrap(err, "company settings")
	}

	// Taxes and shipping rates have no natural key; replace them wholesale.
	if _, err := tx.Exec(ctx, `DELETE FROM taxes`); err != nil {
		return errors.Wrap(err, "clear taxes")
	}
	for name, pct := range map[string]int64{"CGST": 9, "SGST": 9, "IGST": 18} {
		if _, err := tx.Exec(ctx, `INSERT INTO taxes (name, percentage) VALUES ($1, $2)`,
			name, decimal.NewFromInt(pct)); err != nil {
			return errors.Wrapf(err, "tax %s", name)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM shipping_rates`); err != nil {
		return errors.Wrap(err, "clear shipping rates")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO shipping_rates (state, intra_state_rate, inter_state_rate)
		VALUES ('Karnataka', $1, $2)`,
		decimal.NewFromInt(40), decimal.NewFromInt(80)); err != nil {
		return errors.Wrap(err, "shipping rate")
	}

	for _, p := range []struct {
		zipcode, state, city string
		days                 int
	}{
		{"560001", "Karnataka", "Bengaluru", 2},
		{"570001", "Karnataka", "Mysuru", 3},
		{"600001", "Tamil Nadu", "Chennai", 4},
		{"110001", "Delhi", "New Delhi", 5},
	} {
		if _, err := tx.Exec(ctx, `INSERT INTO pincodes (zipcode, state, city, estimated_delivery_days)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (zipcode) DO UPDATE SET state = EXCLUDED.state, city = EXCLUDED.city,
				estimated_delivery_days = EXCLUDED.estimated_delivery_days`,
			p.zipcode, p.state, p.city, p.days); err != nil {
			return errors.Wrapf(err, "pincode %s", p.zipcode)
		}
	}
	return nil
}

func seedUsers(ctx context.Context, tx pgx.Tx) error {
	for _, u := range []struct {
		id          uuid.UUID
		name, email string
		role        auth.Role
	}{
		{adminID, "Store Admin", "admin@checkout.local", auth.RoleAdmin},
		{shopperID, "Asha Rao", "asha@checkout.local", auth.RoleUser},
	} {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, fullname, email, role) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET fullname = EXCLUDED.fullname, email = EXCLUDED.email, role = EXCLUDED.role`,
			u.id, u.name, u.email, string(u.role)); err != nil {
			return errors.Wrapf(err, "user %s", u.email)
		}
	}

	if _, err := tx.Exec(ctx, `INSERT INTO addresses (id, user_id, fullname, phone, line1, city, state, pincode)
		VALUES ($1, $2, 'Asha Rao', '+91 98450 00000', '1 MG Road', 'Bengaluru', 'Karnataka', '560001')
		ON CONFLICT (id) DO NOTHING`, addressID, shopperID); err != nil {
		return errors.Wrap(err, "address")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		shopperID); err != nil {
		return errors.Wrap(err, "cart")
	}
	return nil
}

func seedCatalog(ctx context.Context, tx pgx.Tx) error {
	for _, p := range []struct {
		id    uuid.UUID
		name  string
		price string
	}{
		{teaID, "Assam Tea 250g", "249.00"},
		{kettleID, "Steel Kettle", "899.00"},
	} {
		if _, err := tx.Exec(ctx, `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`,
			p.id, p.name, decimal.RequireFromString(p.price)); err != nil {
			return errors.Wrapf(err, "product %s", p.name)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO product_variants (id, product_id, name, price) VALUES ($1, $2, '1kg', $3)
		ON CONFLICT (id) DO UPDATE SET price = EXCLUDED.price`,
		teaLargeID, teaID, decimal.RequireFromString("899.00")); err != nil {
		return errors.Wrap(err, "variant")
	}
	return nil
}

func seedCoupons(ctx context.Context, tx pgx.Tx) error {
	expires := time.Now().AddDate(1, 0, 0)
	for _, c := range []struct {
		code     string
		discount int64
		max      int
		homepage bool
	}{
		{"SAVE10", 10, 5, true},
		{"WELCOME20", 20, 100, false},
	} {
		if _, err := tx.Exec(ctx, `INSERT INTO coupon_codes (code, discount, expires_at, max_redeem_count, show_on_homepage)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (code) DO UPDATE SET expires_at = EXCLUDED.expires_at, is_active = TRUE, updated_at = now()`,
			c.code, decimal.NewFromInt(c.discount), expires, c.max, c.homepage); err != nil {
			return errors.Wrapf(err, "coupon %s", c.code)
		}
	}
	return nil
}

// printTokens logs bearer tokens for the demo accounts.
func printTokens(ctx context.Context, pool *pgxpool.Pool, secret string) error {
	if secret == "" {
		slog.Info("no JWT secret given, skipping demo tokens")
		return nil
	}
	tokens, err := auth.NewTokens(secret, 30*24*time.Hour)
	if err != nil {
		return errors.Wrap(err, "tokens")
	}

	var cartID uuid.UUID
	if err := pool.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1`, shopperID).Scan(&cartID); err != nil {
		return errors.Wrap(err, "load cart")
	}

	for _, u := range []struct {
		id   uuid.UUID
		role auth.Role
	}{
		{adminID, auth.RoleAdmin},
		{shopperID, auth.RoleUser},
	} {
		tok, err := tokens.Issue(u.id, u.role)
		if err != nil {
			return errors.Wrap(err, "issue token")
		}
		slog.Info("demo token", slog.String("role", string(u.role)), slog.String("user_id", u.id.String()), slog.String("token", tok))
	}
	slog.Info("demo shopper",
		slog.String("address_id", addressID.String()),
		slog.String("cart_id", cartID.String()),
	)
	return nil
}
