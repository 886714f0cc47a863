package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/domain"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/cache"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/infra/observability"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/port"
	"github.com/Fabrice-Mokfembam/viralboost-bfa/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Inbox holds notifications until the UI reads them.
type Inbox interface {
	Drain(userID string) []port.Notification
	Forget(userID string)
}

// LedgerProbe reports the state of the connection to the ledger.
type LedgerProbe interface {
	CircuitState() string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(sessions *service.SessionManager, inbox Inbox, probe LedgerProbe, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.AccessLog(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(probe, sessions))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/cache", cacheMetricsHandler(metrics))

		if sessions == nil {
			r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusServiceUnavailable, "wallet service unavailable")
			}))
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(SessionMiddleware(sessions, logger))

			// Account
			r.Get("/account", getAccountHandler(logger))
			r.Patch("/account", patchAccountHandler(logger))
			r.Get("/dashboard", dashboardHandler(logger))

			// Memberships
			r.Get("/memberships", listMembershipsHandler(logger))
			r.Get("/memberships/my-membership", myMembershipHandler(logger))
			r.Get("/memberships/{membershipId}/affordability", affordabilityHandler(logger))
			r.Post("/memberships/{membershipId}/purchase", purchaseHandler(logger))

			// Money movements
			r.Post("/withdrawals/check", withdrawalCheckHandler(logger))
			r.Post("/withdrawals", withdrawHandler(logger))
			r.Post("/recharges", rechargeHandler(logger))

			// Session
			r.Get("/notifications", notificationsHandler(inbox))
			r.Delete("/session", endSessionHandler(sessions, inbox, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(probe LedgerProbe, sessions *service.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "wallet-bfa", Status: "healthy", LastChecked: now},
		}
		if sessions != nil {
			services[0].Detail = sessionsDetail(sessions.Len())
		}

		if probe != nil {
			state := probe.CircuitState()
			status := "healthy"
			switch state {
			case "open":
				status = "unhealthy"
			case "half-open":
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "ledger", Status: status, Detail: "circuit " + state, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overallStatus, Services: services})
	}
}

func sessionsDetail(n int) string {
	return fmt.Sprintf("%d active session(s)", n)
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func cacheMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.CacheSnapshot(
			string(cache.KeyAccount),
			string(cache.KeyMemberships),
			string(cache.KeyMyMembership),
		))
	}
}
