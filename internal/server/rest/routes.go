package rest

import (
	"net/http"

	"github.com/dmitrijs2005/tunekeeper/internal/common"
	"github.com/dmitrijs2005/tunekeeper/internal/logging"
	"github.com/dmitrijs2005/tunekeeper/internal/server/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions carries the cross-cutting pieces of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         logging.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
}

func Routes(h *Handler, o RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(o.Logger, o.Metrics))
	r.Use(corsHandler(o.AllowedOrigins))

	r.Post(common.RegisterPath, h.Register)
	r.Post(common.LoginPath, h.Login)
	r.Post(common.RefreshPath, h.Refresh)
	r.Post(common.LogoutPath, h.Logout)
	r.Get(common.MePath, h.Me)

	r.Get("/healthz", h.Healthz)
	if o.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
