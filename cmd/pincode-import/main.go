// Command pincode-import loads gzipped pincode directory dumps into the
// pincodes table.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/checkout-api/internal/storage/postgres"
)

func main() {
	var (
		dataDir      string
		databaseURL  string
		deliveryDays int
	)

	flag.StringVar(&dataDir, "data-dir", "data/pincodes", "directory containing *.csv.gz pincode dumps")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&deliveryDays, "delivery-days", 5, "estimated delivery days when the dump has no such column")
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

	if err := run(ctx, dataDir, databaseURL, deliveryDays); err != nil {
		slog.Error("pincode import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("pincode import completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, deliveryDays int) error {
	files, err := listDumps(dataDir)
	if err != nil {
		return err
	}

	slog.Info("parsing dumps", slog.Int("files", len(files)))

	perFile, err := parseFiles(ctx, files, deliveryDays)
	if err != nil {
		return errors.Wrap(err, "parse dumps")
	}
	records := merge(perFile)

	slog.Info("unique pincodes found", slog.Int("count", len(records)))

	if len(records) == 0 {
		slog.Info("no pincodes to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	existing, err := loadExisting(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "load existing pincodes")
	}
	fresh, known := partition(records, existing)

	slog.Info("writing pincodes",
		slog.Int("fresh", len(fresh)),
		slog.Int("upsert", len(known)),
	)

	if err := write(ctx, pool, fresh, known); err != nil {
		return errors.Wrap(err, "write pincodes")
	}
	return nil
}
