/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK (outermost first):
  1. RequestID:  Unique ID per request, echoed in logs
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     zap request log (method, path, status, latency)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend
  6. Secure:     Security headers (unrolled/secure)
  7. Rate limit: Per-IP request budget per minute (go-chi/httprate)

ROUTE GROUPS:
  /api/trips/*          Trips, transitions, settlement
  /api/drivers/*        Drivers, ledgers, manual entries
  /api/expenses/*       Expenses
  /api/invoices/*       Invoices and payments
  /api/trucks/*         Trucks and availability
  /api/bank-accounts/*  Accounts and their transactions
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness + store ping
  /metrics              Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/secure"
	"go.uber.org/zap"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	Logger      *zap.Logger
	CORSOrigins []string
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit  int
	Production bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))
	r.Use(secureHeaders(opts.Production, logger))
	if opts.RateLimit > 0 {
		r.Use(httprate.Limit(opts.RateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, "Too many requests", nil)
			}),
		))
	}

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.CreateTrip)
			r.Get("/invoiceable", h.ListInvoiceableTrips)
			r.Get("/settlement", h.GetFleetSettlement)
			r.Get("/{id}", h.GetTrip)
			r.Put("/{id}", h.UpdateTrip)
			r.Delete("/{id}", h.DeleteTrip)
			r.Post("/{id}/transition", h.TransitionTrip)
			r.Get("/{id}/settlement", h.GetTripSettlement)
		})

		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", h.ListDrivers)
			r.Post("/", h.CreateDriver)
			r.Get("/available", h.ListAvailableDrivers)
			r.Get("/{id}", h.GetDriver)
			r.Put("/{id}", h.UpdateDriver)
			r.Delete("/{id}", h.DeleteDriver)
			r.Get("/{id}/ledger", h.GetDriverLedger)
			r.Post("/{id}/transactions", h.AddManualTransaction)
			r.Delete("/{id}/transactions/{txId}", h.DeleteManualTransaction)
		})

		r.Route("/expenses", func(r chi.Router) {
			r.Get("/", h.ListExpenses)
			r.Post("/", h.CreateExpense)
			r.Put("/{id}", h.UpdateExpense)
			r.Delete("/{id}", h.DeleteExpense)
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", h.ListInvoices)
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Put("/{id}", h.UpdateInvoice)
			r.Delete("/{id}", h.DeleteInvoice)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		r.Route("/trucks", func(r chi.Router) {
			r.Get("/", h.ListTrucks)
			r.Post("/", h.CreateTruck)
			r.Get("/available", h.ListAvailableTrucks)
			r.Put("/{id}", h.UpdateTruck)
			r.Delete("/{id}", h.DeleteTruck)
		})

		r.Route("/bank-accounts", func(r chi.Router) {
			r.Get("/", h.ListBankAccounts)
			r.Post("/", h.CreateBankAccount)
			r.Get("/{id}", h.GetBankAccount)
			r.Put("/{id}", h.UpdateBankAccount)
			r.Delete("/{id}", h.DeleteBankAccount)
			r.Post("/{id}/transactions", h.CreateBankTransaction)
			r.Delete("/{id}/transactions/{txId}", h.DeleteBankTransaction)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func secureHeaders(production bool, logger *zap.Logger) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !production,
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sm.Process(w, r); err != nil {
				logger.Warn("secure headers blocked request", zap.Error(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// HEALTH
// =============================================================================

// pinger is implemented by stores backed by a connection.
type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness and, when the store supports it, reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.svc.Store().(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
