// Command sale-ingest bulk-loads sale definitions from gzip-compressed NDJSON
// feeds and reports products that ended up in overlapping sales.
//
//	sale-ingest --database-url postgres://... feeds/spring.ndjson.gz feeds/partners.ndjson.gz
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
	"github.com/xenking/flashsale-engine/internal/seed"
	"github.com/xenking/flashsale-engine/internal/storage/postgres"
	"github.com/xenking/flashsale-engine/internal/wire"
)

const (
	bloomCapacity = 5_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxLineBytes  = 1 << 20
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("at least one feed file is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, flag.Args()); err != nil {
		slog.Error("sale ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("sale ingest completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
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

	manager := sale.NewManager(
		postgres.NewSaleRepository(pool),
		postgres.NewProductRepository(pool),
		ledger.New(postgres.NewCounterStore(pool)),
	)

	in := newIngester(manager)

	// Pass 1: create sales and mark products seen more than once.
	slog.Info("pass 1: ingesting sales", slog.Int("files", len(files)))
	if err := in.ingest(ctx, files, openGz); err != nil {
		return errors.Wrap(err, "ingest")
	}
	slog.Info("pass 1 complete",
		slog.Int64("created", in.created.Load()),
		slog.Int64("existing", in.existing.Load()),
		slog.Int64("rejected", in.rejected.Load()),
		slog.Int("suspect_products", len(in.suspects)),
	)

	if len(in.suspects) == 0 {
		return nil
	}

	// Pass 2: resolve suspects exactly.
	slog.Info("pass 2: checking overlapping sales")
	overlaps, err := findOverlaps(ctx, files, openGz, in.suspects)
	if err != nil {
		return errors.Wrap(err, "find overlaps")
	}
	for _, o := range overlaps {
		slog.Warn("product is in overlapping sales, the best discount wins",
			slog.String("product_id", o.productID),
			slog.String("sale_ids", strings.Join(o.saleIDs, ",")),
		)
	}
	slog.Info("pass 2 complete", slog.Int("overlapping_products", len(overlaps)))
	return nil
}

type opener func(path string) (io.ReadCloser, error)

// ingester creates sales from feed lines. A shared bloom filter remembers
// every product ID; a product that tests positive is a suspect for the
// exact overlap check of pass 2.
type ingester struct {
	sales seed.SaleCreator

	mu       sync.Mutex
	seen     *bloom.BloomFilter
	suspects map[string]struct{}

	created  atomic.Int64
	existing atomic.Int64
	rejected atomic.Int64
}

func newIngester(sales seed.SaleCreator) *ingester {
	return &ingester{
		sales:    sales,
		seen:     bloom.NewWithEstimates(bloomCapacity, bloomFPR),
		suspects: make(map[string]struct{}),
	}
}

func (in *ingester) observe(productIDs []string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, id := range productIDs {
		if in.seen.TestAndAddString(id) {
			in.suspects[id] = struct{}{}
		}
	}
}

func (in *ingester) ingest(ctx context.Context, files []string, open opener) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return in.ingestFile(ctx, path, open)
		})
	}
	return g.Wait()
}

func (in *ingester) ingestFile(ctx context.Context, path string, open opener) error {
	var count int
	err := streamSales(ctx, path, open, func(line int, p sale.Params) error {
		count++
		if count%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.String("file", path), slog.Int("sales", count))
		}
		if p.ID == "" {
			in.rejected.Add(1)
			slog.Warn("sale without id skipped", slog.String("file", path), slog.Int("line", line))
			return nil
		}

		_, err := in.sales.Create(ctx, p)
		var verr *sale.ValidationError
		switch {
		case err == nil:
			in.created.Add(1)
		case errors.Is(err, sale.ErrDuplicate):
			in.existing.Add(1)
		case errors.As(err, &verr):
			in.rejected.Add(1)
			slog.Warn("invalid sale skipped",
				slog.String("file", path),
				slog.Int("line", line),
				slog.String("sale_id", p.ID),
				slog.String("error", verr.Error()),
			)
			return nil
		default:
			return errors.Wrapf(err, "%s:%d: create sale %q", path, line, p.ID)
		}
		in.observe(p.ProductIDs)
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("file ingested", slog.String("file", path), slog.Int("sales", count))
	return nil
}

type window struct {
	saleID     string
	start, end time.Time
}

type overlap struct {
	productID string
	saleIDs   []string
}

// findOverlaps re-reads the feeds and reports suspects that are in two or
// more valid feed sales with intersecting windows. Both window bounds are
// inclusive.
func findOverlaps(ctx context.Context, files []string, open opener, suspects map[string]struct{}) ([]overlap, error) {
	var (
		mu      sync.Mutex
		windows = make(map[string][]window, len(suspects))
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamSales(ctx, path, open, func(_ int, p sale.Params) error {
				if p.ID == "" {
					return nil
				}
				if _, err := sale.New(p, time.Now()); err != nil {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				for _, id := range p.ProductIDs {
					if _, ok := suspects[id]; !ok {
						continue
					}
					w := window{saleID: p.ID, start: p.StartDate, end: p.EndDate}
					if !slices.ContainsFunc(windows[id], func(o window) bool { return o.saleID == w.saleID }) {
						windows[id] = append(windows[id], w)
					}
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []overlap
	for productID, ws := range windows {
		if ids := overlapping(ws); len(ids) > 0 {
			out = append(out, overlap{productID: productID, saleIDs: ids})
		}
	}
	slices.SortFunc(out, func(a, b overlap) int { return strings.Compare(a.productID, b.productID) })
	return out, nil
}

// overlapping returns the sorted IDs of sales whose windows intersect another
// window in ws.
func overlapping(ws []window) []string {
	slices.SortFunc(ws, func(a, b window) int { return a.start.Compare(b.start) })

	hit := make(map[string]struct{})
	for i := range ws {
		for j := i + 1; j < len(ws) && !ws[j].start.After(ws[i].end); j++ {
			hit[ws[i].saleID] = struct{}{}
			hit[ws[j].saleID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(hit))
	for id := range hit {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func openGz(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	return gzFile{Reader: gz, f: f}, nil
}

type gzFile struct {
	*pgzip.Reader
	f *os.File
}

func (g gzFile) Close() error {
	_ = g.Reader.Close()
	return g.f.Close()
}

// streamSales decodes one sale definition per non-empty line of path.
func streamSales(ctx context.Context, path string, open opener, fn func(line int, p sale.Params) error) error {
	r, err := open(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		b := scanner.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		p, err := wire.DecodeSale(jx.DecodeBytes(b))
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, line)
		}
		if err := fn(line, p); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
