/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend

ROUTE GROUPS:
  /api/sponsors/*       Sponsors and pledges
  /api/guardians/*      Guardians (veuves)
  /api/beneficiaries/*  Orphans
  /api/sponsorships/*   Sponsorship lifecycle and schedules
  /api/payments/*       Payments, allocation preview
  /api/receipts/*       Receipts
  /api/transfers/*      Transfers to guardians
  /api/dashboard        Reporting
  /api/admin/*          Maintenance jobs
  /api/scenarios/*      Demo scenarios
  /*                    Static files (frontend)

STATIC FILE SERVING:
  Serves the built frontend from StaticDir when it exists, falling back to
  index.html for client-side routing.

SECURITY NOTE:
  No authentication middleware. Put the server behind an authenticating
  proxy in production.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	StaticDir      string
	// AccessLog enables chi's request logger.
	AccessLog bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Cache-Control", "no-store"))

		r.Route("/sponsors", func(r chi.Router) {
			r.Get("/", h.ListSponsors)
			r.Post("/", h.CreateSponsor)
			r.Get("/{id}", h.GetSponsor)
			r.Put("/{id}/pledge", h.UpdateSponsorPledge)
		})

		r.Route("/guardians", func(r chi.Router) {
			r.Get("/", h.ListGuardians)
			r.Post("/", h.CreateGuardian)
			r.Get("/{id}", h.GetGuardian)
		})

		r.Route("/beneficiaries", func(r chi.Router) {
			r.Get("/", h.ListBeneficiaries)
			r.Post("/", h.CreateBeneficiary)
			r.Get("/{id}", h.GetBeneficiary)
			r.Put("/{id}/birth-date", h.UpdateBirthDate)
		})

		r.Route("/sponsorships", func(r chi.Router) {
			r.Get("/", h.ListSponsorships)
			r.Post("/", h.CreateSponsorship)
			r.Get("/{id}", h.GetSponsorship)
			r.Put("/{id}", h.UpdateSponsorship)
			r.Post("/{id}/close", h.CloseSponsorship)
			r.Delete("/{id}", h.DeleteSponsorship)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePayment)
			r.Post("/preview", h.PreviewAllocation)
			r.Get("/{id}", h.GetPayment)
			r.Delete("/{id}", h.DeletePayment)
		})

		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", h.ListReceipts)
			r.Post("/", h.CreateReceipt)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/", h.CreateTransfer)
		})

		r.Get("/dashboard", h.GetDashboard)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/extend-schedules", h.ExtendSchedules)
			r.Post("/refresh-ages", h.RefreshAges)
			r.Get("/jobs", h.ListJobRuns)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Serve static files (frontend build)
	if opts.StaticDir != "" {
		if _, err := os.Stat(opts.StaticDir); err == nil {
			r.Get("/*", spaHandler(opts.StaticDir))
			return r
		}
	}
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Kafala Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Kafala Engine API</h1>
<p>No frontend build found.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/sponsors">/api/sponsors</a> - List sponsors</li>
<li><a href="/api/sponsorships">/api/sponsorships</a> - List sponsorships</li>
<li><a href="/api/payments">/api/payments</a> - List payments</li>
<li><a href="/api/dashboard">/api/dashboard</a> - Dashboard</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}

// spaHandler serves files from dir, and index.html for unknown paths.
func spaHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		fullPath := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}
