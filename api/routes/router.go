package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/materialflow/api/controllers"
	"github.com/angelmondragon/materialflow/api/middleware"
	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/internal/checkpoints"
	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/orders"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/config"
	"github.com/angelmondragon/materialflow/pkg/logger"
	pkgredis "github.com/angelmondragon/materialflow/pkg/redis"
)

// Params carries everything the router wires into handlers.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Readiness   []controllers.Dependency
	Idempotency pkgredis.IdempotencyStore
	Metrics     http.Handler

	Lines       lifecycle.Service
	Ledger      ledger.Service
	Spawner     spawn.Service
	Approvals   approval.Service
	Orders      orders.Service
	Checkpoints checkpoints.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness...))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Actor(logg))
		r.Use(middleware.Idempotency(p.Idempotency, cfg.Eventing.IdempotencyTTL, logg))

		r.Post("/orders", controllers.RaisePurchaseOrder(p.Orders, logg))
		r.Get("/checkpoints", controllers.CheckpointsForMPN(p.Checkpoints, logg))

		r.Route("/lines", func(r chi.Router) {
			r.Get("/", controllers.ListOpenLines(p.Lines, logg))
			r.Route("/{orderNumber}/{mpn}/{lineageId}", func(r chi.Router) {
				r.Get("/", controllers.GetLine(p.Lines, logg))
				r.Get("/lineage", controllers.ListLineage(p.Lines, logg))
				r.Get("/spawns", controllers.ListSpawns(p.Spawner, logg))
				r.Get("/movements", controllers.ListMovements(p.Lines, p.Ledger, logg))
				r.Get("/checkpoints", controllers.CheckpointsForLine(p.Checkpoints, logg))
				r.Post("/deliveries", controllers.RecordDelivery(p.Lines, logg))
				r.Post("/quality", controllers.RecordQualityResult(p.Lines, logg))
				r.Post("/transitions", controllers.Transition(p.Lines, logg))
				r.Post("/write-offs", controllers.WriteOff(p.Lines, logg))
				r.Post("/close", controllers.CloseLine(p.Lines, logg))
				r.Post("/backorders", controllers.RequestBackorder(p.Spawner, logg))
				r.Post("/returns", controllers.RequestReturn(p.Spawner, logg))
				r.Post("/complete-return", controllers.CompleteReturn(p.Spawner, logg))
			})
		})

		r.Route("/direct-pos", func(r chi.Router) {
			r.Post("/", controllers.RequestDirectPO(p.Approvals, logg))
			r.Route("/{directPoId}", func(r chi.Router) {
				r.Get("/", controllers.GetDirectPO(p.Approvals, logg))
				r.Post("/decisions", controllers.AdvanceDirectPO(p.Approvals, logg))
				r.Post("/raise", controllers.RaiseDirectPO(p.Orders, logg))
			})
		})
	})

	return r
}
