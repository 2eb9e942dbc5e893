package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	mw := CORS(CORSConfig{
		AllowOrigins: []string{"https://shop.example"},
		MaxAge:       5 * time.Minute,
	})

	var served int
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	}))

	for _, tt := range []struct {
		name      string
		method    string
		origin    string
		preflight bool
		allow     string
		served    bool
	}{
		{name: "Preflight", method: http.MethodOptions, origin: "https://shop.example", preflight: true, allow: "https://shop.example"},
		{name: "PreflightForeign", method: http.MethodOptions, origin: "https://evil.example", preflight: true},
		{name: "Simple", method: http.MethodGet, origin: "https://shop.example", allow: "https://shop.example", served: true},
		{name: "SimpleForeign", method: http.MethodGet, origin: "https://evil.example", served: true},
		{name: "NoOrigin", method: http.MethodGet, served: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			served = 0
			req := httptest.NewRequest(tt.method, "/api/products/p1/sale", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.served, served == 1)
			if tt.preflight && tt.allow != "" {
				assert.Equal(t, "300", w.Header().Get("Access-Control-Max-Age"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
			}
		})
	}
}
