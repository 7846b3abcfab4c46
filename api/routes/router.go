package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernandofuc/tistis-platform-sub016/api/controllers"
	webhookcontrollers "github.com/fernandofuc/tistis-platform-sub016/api/controllers/webhooks"
	"github.com/fernandofuc/tistis-platform-sub016/api/middleware"
	"github.com/fernandofuc/tistis-platform-sub016/internal/breaker"
	"github.com/fernandofuc/tistis-platform-sub016/internal/orchestration"
	"github.com/fernandofuc/tistis-platform-sub016/internal/security"
	"github.com/fernandofuc/tistis-platform-sub016/internal/usage"
	pkgauth "github.com/fernandofuc/tistis-platform-sub016/pkg/auth"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

// RouterParams carries everything the HTTP surface needs. The gateway
// exposes three groups: the telephony webhook, the admin API, and the
// operational endpoints (health, metrics).
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     controllers.Pinger
	Gate      *security.Gate
	Meter     *usage.Meter
	Circuits  *breaker.Service
	Engine    orchestration.Engine
	Fallbacks *orchestration.FallbackProvider
	UsageRepo usage.Repository
	Gatherer  prometheus.Gatherer
}

func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, p.DB, p.Redis))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/voice/{tenantId}", webhookcontrollers.VoiceWebhook(
			p.Gate, p.Meter, p.Circuits, p.Engine, p.Fallbacks, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(pkgauth.RoleAdmin, logg))

		r.Route("/tenants/{tenantId}", func(r chi.Router) {
			r.Get("/usage", controllers.AdminUsageSummary(p.Meter, logg))
			r.Put("/overage-policy", controllers.AdminUpdateOveragePolicy(p.Meter, logg))
			r.Get("/limits", controllers.AdminGetMinuteLimit(p.UsageRepo, logg))
			r.Put("/limits", controllers.AdminPutMinuteLimit(p.UsageRepo, logg))
		})
	})

	return r
}
