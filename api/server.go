/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request log (method, path, status, bytes, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the explorer frontend
  5. Rate limit: POST /api/transactions and the /api/faucet routes only

ROUTE GROUPS:
  /api/accounts/*       Account state
  /api/transactions/*   Submission and pending block
  /api/blocks/*         Commit, discard, revert, lookup
  /api/faucet/*         Genesis funding and new accounts (dev only)
  /api/scenarios/*      Demo supply chains
  /metrics              Prometheus exposition (when enabled)

SECURITY NOTE:
  No authentication middleware. Signatures are verified upstream of the
  ledger; SenderID is trusted as the signer.

SEE ALSO:
  - handlers.go: Handler implementations
  - ../cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fitmarket/custody-ledger/config"
)

// NewRouter creates a new router with all routes configured. metrics may be
// nil to leave /metrics unmounted.
func NewRouter(h *Handler, cfg config.APIConfig, metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	limit := rateLimit(cfg.SubmitRate, cfg.SubmitBurst)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", h.ListAccounts)
			r.Get("/{address}", h.GetAccount)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.With(limit).Post("/", h.SubmitTransaction)
			r.Get("/pending", h.ListPending)
		})

		r.Route("/blocks", func(r chi.Router) {
			r.Post("/", h.CommitBlock)
			r.Get("/latest", h.GetLatestBlock)
			r.Post("/latest/revert", h.RevertLatestBlock)
			r.Delete("/pending", h.DiscardPending)
			r.Get("/{height}", h.GetBlock)
		})

		r.With(limit).Post("/faucet", h.FaucetTransfer)
		r.With(limit).Post("/faucet/accounts", h.FaucetNewAccount)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// rateLimit shares one token bucket across all callers of the wrapped
// routes. A non-positive rate disables limiting.
func rateLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
