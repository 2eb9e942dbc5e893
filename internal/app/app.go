package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/db"
	"github.com/xenking/flashsale-engine/internal/domain/availability"
	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
	"github.com/xenking/flashsale-engine/internal/handler"
	"github.com/xenking/flashsale-engine/internal/seed"
	"github.com/xenking/flashsale-engine/internal/storage/memory"
	"github.com/xenking/flashsale-engine/internal/storage/postgres"
	redisstore "github.com/xenking/flashsale-engine/internal/storage/redis"
	"github.com/xenking/flashsale-engine/pkg/health"
	"github.com/xenking/flashsale-engine/pkg/httpmiddleware"
)

// deps are the storage components selected by configuration.
type deps struct {
	sales    sale.Repository
	catalog  product.Catalog
	counters ledger.Store
	closers  []io.Closer
	checks   []health.Probe
	// external is set when counters live outside the sale store and must be
	// adopted from it on start.
	external bool
	// seed is set for memory storage, which starts empty.
	seed func(ctx context.Context, m *sale.Manager) (seed.Report, error)
}

// Close releases connections in reverse order and returns the first error.
func (d *deps) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func openStorage(ctx context.Context, cfg *Config) (_ *deps, rerr error) {
	d := &deps{}
	defer func() {
		if rerr != nil {
			_ = d.Close()
		}
	}()

	switch cfg.Storage {
	case StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		d.closers = append(d.closers, closerFunc(pool.Close))
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}

		d.sales = postgres.NewSaleRepository(pool)
		d.catalog = postgres.NewProductRepository(pool)
		d.counters = postgres.NewCounterStore(pool)
		d.checks = append(d.checks, health.Probe{
			Name:    "postgres",
			Timeout: 5 * time.Second,
			Check:   health.PingCheck("postgres", pool),
		})
	case StorageMemory:
		catalog := memory.NewCatalog()
		d.sales = memory.NewSaleRepository()
		d.catalog = catalog
		d.counters = ledger.NewMemoryStore()
		d.seed = func(ctx context.Context, m *sale.Manager) (seed.Report, error) {
			return seed.LoadJSON(ctx, catalog, m, db.Products, db.Sales)
		}
	default:
		return nil, errors.Errorf("unknown storage %q", cfg.Storage)
	}

	if cfg.Ledger.Backend == LedgerRedis {
		opts, err := redisOptions(cfg.Redis)
		if err != nil {
			return nil, err
		}
		client, err := redisstore.NewClient(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		d.closers = append(d.closers, client)

		store := redisstore.NewCounterStore(client)
		d.counters = store
		d.external = true
		d.checks = append(d.checks, health.Probe{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Check:   health.PingCheck("redis", store),
		})
	}
	return d, nil
}

func redisOptions(cfg RedisConfig) (*goredis.Options, error) {
	if cfg.URL != "" {
		opts, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}
	return &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// adoptCounters creates missing external counters from the sold and total
// quantities stored with each sale.
func adoptCounters(ctx context.Context, lg *zap.Logger, sales sale.Repository, l *ledger.Ledger) error {
	all, err := sales.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list sales")
	}
	adopted := 0
	for _, s := range all {
		created, err := l.Adopt(ctx, s.ID, ledger.Counter{Sold: s.SoldQuantity, Total: s.TotalQuantity})
		if err != nil {
			return errors.Wrapf(err, "adopt counter of %q", s.ID)
		}
		if created {
			adopted++
		}
	}
	lg.Info("Counters adopted", zap.Int("sales", len(all)), zap.Int("created", adopted))
	return nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("ledger", cfg.Ledger.Backend),
	)

	d, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			lg.Error("Close storage", zap.Error(err))
		}
	}()

	counters := ledger.New(d.counters, ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts))
	manager := sale.NewManager(d.sales, d.catalog, counters)
	lookup := sale.NewLookup(d.sales, d.catalog)

	if d.seed != nil {
		r, err := d.seed(ctx, manager)
		if err != nil {
			return errors.Wrap(err, "seed memory storage")
		}
		lg.Info("Demo data loaded", zap.Int("products", r.Products), zap.Int("sales", r.Sales))
	}
	if d.external {
		if err := adoptCounters(ctx, lg, d.sales, counters); err != nil {
			return err
		}
	}

	svc, err := availability.NewService(d.sales, d.catalog, counters,
		availability.WithMeterProvider(m.MeterProvider()),
		availability.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create availability service")
	}

	// Health check service.
	healthSvc := health.New(lg)
	for _, p := range d.checks {
		healthSvc.AddReadiness(p)
	}
	healthSvc.AddLiveness(health.Probe{
		Name:    "goroutines",
		Timeout: time.Second,
		Check:   health.GoroutineCountCheck(10000),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.New(
		handler.Config{
			MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
			RetryAfter:   cfg.HTTP.RetryAfter,
		},
		manager,
		svc,
		lookup,
		d.catalog,
	)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				MaxAge:       cfg.CORS.MaxAge,
			}),
			httpmiddleware.Instrument("flashsale-api", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.Route(),
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
