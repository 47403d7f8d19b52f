package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	httphandler "github.com/vasiliy-maslov/ecommerce-storefront/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/metrics"
)

type RouterDeps struct {
	Auth           *httphandler.Authenticator
	Metrics        *metrics.Metrics
	Carts          *httphandler.CartHandler
	Orders         *httphandler.OrderHandler
	Payments       *httphandler.PaymentHandler
	Admin          *httphandler.AdminHandler
	RequestTimeout time.Duration
}

// NewRouter mounts every route. The webhook, /health and /metrics are
// public; everything else needs a bearer token.
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(NewLogFormatter(log.Logger)))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	if d.RequestTimeout > 0 {
		r.Use(middleware.Timeout(d.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	d.Payments.RegisterWebhook(r)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		d.Carts.RegisterRoutes(r)
		d.Orders.RegisterRoutes(r)
		d.Payments.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(httphandler.RequireAdmin)
			d.Admin.RegisterRoutes(r)
		})
	})

	return r
}
