package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
)

// CORSConfig configures cross-origin access for storefront pages that read
// price views and countdowns straight from the browser.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin.
	AllowOrigins []string
	// MaxAge is how long browsers may cache a preflight result.
	MaxAge time.Duration
}

// CORS answers preflight requests and sets Access-Control-* headers on
// requests from allowed origins.
func CORS(cfg CORSConfig) Middleware {
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{
			"Retry-After",
			"X-Request-ID",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
		},
		MaxAge: int(cfg.MaxAge / time.Second),
	})
}
