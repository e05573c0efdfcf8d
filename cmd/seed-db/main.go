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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/conscious-checkout/db"
	"github.com/xenking/conscious-checkout/internal/domain/auth"
	"github.com/xenking/conscious-checkout/internal/domain/coupon"
	"github.com/xenking/conscious-checkout/internal/domain/program"
	"github.com/xenking/conscious-checkout/internal/storage/postgres"
)

type programJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Duration    string          `json:"duration"`
	Category    string          `json:"category"`
	ImageURL    string          `json:"imageUrl"`
}

func main() {
	var (
		databaseURL  string
		programsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&programsFile, "programs-file", "", "path to programs JSON file (defaults to the embedded catalog)")
	flag.StringVar(&apiKey, "api-key", "", "admin API key to seed (or CHECKOUT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("CHECKOUT_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("CHECKOUT_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, programsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, programsFile, apiKey, pepper string) error {
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

	if err := seedPrograms(ctx, postgres.NewProgramRepository(pool), programsFile); err != nil {
		return errors.Wrap(err, "seed programs")
	}
	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if apiKey == "" {
		slog.Warn("no API key given, admin routes stay locked")
		return nil
	}
	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedPrograms(ctx context.Context, repo *postgres.ProgramRepository, path string) error {
	data := db.Programs
	if path != "" {
		slog.Info("reading programs file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return errors.Wrap(err, "read programs file")
		}
	}

	var raw []programJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "parse programs JSON")
	}

	programs := make([]program.Program, len(raw))
	for i, p := range raw {
		programs[i] = program.Program(p)
	}

	slog.Info("upserting programs", slog.Int("count", len(programs)))
	if err := repo.Upsert(ctx, programs); err != nil {
		return err
	}
	for _, p := range programs {
		slog.Info("upserted program", slog.String("id", p.ID), slog.String("price", p.Price.String()))
	}
	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding sample coupons")

	now := time.Now().UTC()
	coupons := []coupon.Coupon{
		{
			ID:           uuid.NewString(),
			Code:         "WELCOME10",
			DiscountType: coupon.DiscountPercentage,
			Discount:     decimal.NewFromInt(10),
			OwnerName:    "Conscious Namaz",
			City:         "Mumbai",
			Phone:        "9000000001",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		{
			ID:           uuid.NewString(),
			Code:         "FLAT100",
			DiscountType: coupon.DiscountFixed,
			Discount:     decimal.NewFromInt(100),
			OwnerName:    "Conscious Namaz",
			City:         "Mumbai",
			Phone:        "9000000002",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	if err := repo.Upsert(ctx, coupons); err != nil {
		return err
	}
	for _, c := range coupons {
		slog.Info("upserted coupon",
			slog.String("code", c.Code),
			slog.String("type", string(c.DiscountType)),
			slog.String("discount", c.Discount.String()),
		)
	}
	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding admin API key")

	info := auth.APIKeyInfo{
		ID:      uuid.NewString(),
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Admin dashboard",
		Scopes:  []string{"admin"},
	}
	if err := repo.Insert(ctx, info); err != nil {
		return err
	}

	slog.Info("inserted API key", slog.String("name", info.Name))
	return nil
}
