package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/conscious-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch", 500, "coupons per upsert batch")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and report without writing")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: coupon-import [flags] partners1.csv.gz [partners2.csv.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, batchSize, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, batchSize int, dryRun bool) error {
	slog.Info("pass 1: parsing files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	slog.Info("pass 2: checking codes across files")

	dups, err := crossFileDuplicates(ctx, parsed)
	if err != nil {
		return errors.Wrap(err, "check duplicates")
	}
	for code, n := range dups {
		slog.Warn("code listed in several files, skipped", slog.String("code", code), slog.Int("files", n))
	}

	coupons := merge(parsed, dups)
	slog.Info("coupons ready", slog.Int("count", len(coupons)), slog.Int("conflicts", len(dups)))

	if dryRun || len(coupons) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	for _, b := range batches(coupons, batchSize) {
		if err := repo.Upsert(ctx, b); err != nil {
			return errors.Wrap(err, "write coupons to database")
		}
		slog.Info("write progress", slog.Int("written", len(b)))
	}
	return nil
}
