package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront/api/controllers"
	"github.com/angelmondragon/storefront/api/middleware"
	"github.com/angelmondragon/storefront/pkg/config"
	"github.com/angelmondragon/storefront/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	storage controllers.Pinger,
	basketService controllers.BasketService,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, storage))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/basket", func(r chi.Router) {
		r.Get("/", controllers.BasketGet(basketService))
		r.Delete("/", controllers.BasketAbandon(basketService, logg))
		r.Get("/stream", controllers.BasketStream(basketService, logg))
		r.Post("/refresh", controllers.BasketRefresh(basketService, logg))

		r.Route("/items", func(r chi.Router) {
			r.Post("/", controllers.BasketAddItem(basketService, logg))
			r.Delete("/{itemId}", controllers.BasketRemoveItem(basketService, logg))
			r.Post("/{itemId}/increment", controllers.BasketIncrementItem(basketService, logg))
			r.Post("/{itemId}/decrement", controllers.BasketDecrementItem(basketService, logg))
		})
	})

	return r
}
