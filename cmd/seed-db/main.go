package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/flashsale-engine/db"
	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
	"github.com/xenking/flashsale-engine/internal/seed"
	"github.com/xenking/flashsale-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		salesFile    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file (embedded demo catalog when empty)")
	flag.StringVar(&salesFile, "sales-file", "", "path to sales JSON file (embedded demo sales when empty)")
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

	if err := run(ctx, databaseURL, productsFile, salesFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

// readOr returns the file contents, or fallback when path is empty.
func readOr(path string, fallback []byte) ([]byte, error) {
	if path == "" {
		return fallback, nil
	}
	slog.Info("reading seed file", slog.String("path", path))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func run(ctx context.Context, databaseURL, productsFile, salesFile string) error {
	products, err := readOr(productsFile, db.Products)
	if err != nil {
		return err
	}
	sales, err := readOr(salesFile, db.Sales)
	if err != nil {
		return err
	}

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

	catalog := postgres.NewProductRepository(pool)
	manager := sale.NewManager(
		postgres.NewSaleRepository(pool),
		catalog,
		ledger.New(postgres.NewCounterStore(pool)),
	)

	r, err := seed.LoadJSON(ctx, catalog, manager, products, sales)
	if err != nil {
		return errors.Wrap(err, "seed")
	}

	slog.Info("seeded",
		slog.Int("products", r.Products),
		slog.Int("sales_created", r.Sales),
		slog.Int("sales_existing", r.Existing),
	)
	return nil
}
