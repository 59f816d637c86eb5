/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. requestLog: Structured request logging (logrus)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*       Registration and login (public)
  /api/medicines/*  Stock intake, batch edits, catalog queries
  /api/receipts/*   Dispensing receipts
  /api/sales/*      Counter sales and stats
  /api/patients/*   Patient registry
  /api/dashboard    Operational rollup
  /healthz          Liveness probe (public)

AUTH:
  Everything under /api except /api/auth requires a bearer token.
  Batch deletion additionally requires the admin or pharmacist role.

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token issuing and middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Auth, log *logrus.Logger) *chi.Mux {
	if log == nil {
		log = logrus.New()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLog(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Public: account registration and login
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", auth.Register)
			r.Post("/login", auth.Login)
		})

		// Everything else requires a verified token
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Route("/medicines", func(r chi.Router) {
				r.Get("/", h.ListMedicines)
				r.Post("/", h.Intake)
				r.Get("/low-stock", h.LowStockMedicines)
				r.Get("/expired", h.ExpiredMedicines)
				r.Get("/{id}", h.GetMedicine)
				r.Put("/{name}/batches/{batch}", h.UpdateBatch)
				r.With(RequireRole("admin", "pharmacist")).
					Delete("/{name}/batches/{batch}", h.DeleteBatch)
			})

			r.Route("/receipts", func(r chi.Router) {
				r.Get("/", h.ListReceipts)
				r.Post("/", h.CreateReceipt)
				r.Get("/{id}", h.GetReceipt)
				r.Put("/{id}", h.UpdateReceipt)
				r.Delete("/{id}", h.DeleteReceipt)
			})

			r.Route("/sales", func(r chi.Router) {
				r.Get("/", h.ListSales)
				r.Post("/", h.CreateSale)
				r.Get("/stats", h.SalesStats)
				r.Get("/{id}", h.GetSale)
			})

			r.Route("/patients", func(r chi.Router) {
				r.Get("/", h.ListPatients)
				r.Post("/", h.RegisterPatient)
				r.Get("/{id}", h.GetPatient)
				r.Delete("/{id}", h.DeletePatient)
			})

			r.Get("/dashboard", h.Dashboard)
		})
	})

	return r
}

// requestLog logs one structured line per request.
func requestLog(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request")
		})
	}
}
