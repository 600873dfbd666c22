package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

var (
	corsMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	}
	corsHeaders = []string{
		"Accept", "Accept-Version", "Authorization", "Content-Length", "Content-MD5",
		"Content-Type", "Date", "X-Api-Version", "X-CSRF-Token", "X-Requested-With",
	}
)

// CORS allows every origin. Preflights fall through to Preflight so that
// any OPTIONS request, preflight or not, is answered the same way.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     corsMethods,
		AllowedHeaders:     corsHeaders,
		ExposedHeaders:     []string{"X-Request-Id"},
		AllowCredentials:   true,
		OptionsPassthrough: true,
		MaxAge:             300,
	})
}

// Preflight answers every OPTIONS request with 200 and an empty body. Requests
// without an Origin header get no headers from CORS, so the wildcard set is
// filled in here.
func Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		if h.Get("Access-Control-Allow-Origin") == "" {
			h.Set("Access-Control-Allow-Origin", "*")
		}
		if h.Get("Access-Control-Allow-Methods") == "" {
			h.Set("Access-Control-Allow-Methods", strings.Join(corsMethods, ", "))
		}
		if h.Get("Access-Control-Allow-Headers") == "" {
			h.Set("Access-Control-Allow-Headers", strings.Join(corsHeaders, ", "))
		}
		w.WriteHeader(http.StatusOK)
	})
}
