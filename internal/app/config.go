package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage backends for sales and products.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Ledger counter backends.
const (
	// LedgerStore keeps counters next to the sales: the sales table for
	// postgres storage, a process-local map for memory storage.
	LedgerStore = "store"
	// LedgerRedis keeps counters in Redis hashes.
	LedgerRedis = "redis"
)

// Config holds the complete application configuration, loadable from
// environment variables (FLASHSALE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Sale and product storage: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (FLASHSALE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Ledger      LedgerConfig
	Redis       RedisConfig
	HTTP        HTTPConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// LedgerConfig controls the quantity ledger.
type LedgerConfig struct {
	Backend     string `default:"store" usage:"Counter backend: store or redis"`
	MaxAttempts int    `default:"5" usage:"Compare-and-swap attempts per reservation" flag:"ledger-max-attempts"`
}

// RedisConfig locates the Redis server used by the redis ledger backend.
type RedisConfig struct {
	URL      string `usage:"Redis URL (FLASHSALE_REDIS_URL or REDIS_URL); overrides Addr" flag:"redis-url"`
	Addr     string `default:"localhost:6379" usage:"Redis address" flag:"redis-addr"`
	Password string `usage:"Redis password" flag:"redis-password"`
	DB       int    `default:"0" usage:"Redis database number" flag:"redis-db"`
}

// HTTPConfig controls request handling.
type HTTPConfig struct {
	MaxBodyBytes int64         `default:"65536" usage:"Maximum request body size" flag:"max-body-bytes"`
	RetryAfter   time.Duration `default:"1s" usage:"Retry-After advertised on reservation contention" flag:"retry-after"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing for storefront pages.
type CORSConfig struct {
	Origins []string      `default:"*" usage:"Allowed CORS origins"`
	MaxAge  time.Duration `default:"24h" usage:"Preflight cache duration" flag:"cors-max-age"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "FLASHSALE",
		Files:     []string{"config.yaml", "/etc/flashsale/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's FLASHSALE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set FLASHSALE_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q: want %s or %s", c.Storage, StoragePostgres, StorageMemory)
	}

	switch c.Ledger.Backend {
	case LedgerStore, LedgerRedis:
	default:
		return errors.Errorf("unknown ledger backend %q: want %s or %s", c.Ledger.Backend, LedgerStore, LedgerRedis)
	}
	if c.Ledger.MaxAttempts < 1 {
		return errors.Errorf("ledger max attempts must be at least 1, got %d", c.Ledger.MaxAttempts)
	}
	if c.RateLimit.Max < 1 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}
