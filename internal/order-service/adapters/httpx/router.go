package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jcmexdev/ecommerce-orders/internal/order-service/adapters/httpx/middlewares"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middlewares.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health)

	r.Route("/orders", func(r chi.Router) {
		r.Get("/", handler.ListOrders)
		r.Post("/", handler.CreateOrder)
		r.Get("/{id}", handler.GetOrderByID)
		r.Delete("/{id}", handler.DeleteOrder)
		r.Patch("/{id}/status", handler.UpdateStatus)
		r.Post("/{id}/status", handler.UpdateStatus)
		r.Put("/{id}/status", handler.UpdateStatus)
	})

	return otelhttp.NewHandler(r, "order-service",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
