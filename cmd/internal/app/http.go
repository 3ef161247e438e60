package app

import (
	"net/http"
	"time"

	"backstage/cmd/internal/feed"
	"backstage/cmd/internal/invite/api"
	"backstage/cmd/internal/observability"
)

const readyTimeout = 2 * time.Second

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	be *backend,
	metrics *observability.Metrics,
	invites *api.Handler,
	gateway *feed.Gateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireStore && !be.Persistent() {
			http.Error(w, "store not persistent", http.StatusServiceUnavailable)
			return
		}
		if err := be.Ping(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			log.Info("readyz.store.not_ready", "store", be.kind, "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", metrics.Handler())

	invites.Register(mux)
	mux.Handle("/invites/feed", gateway)
}

// buildHandler stacks the middleware: outermost runs first.
func buildHandler(mux http.Handler, cfg Config, log Logger, metrics *observability.Metrics) http.Handler {
	var h http.Handler = mux
	h = WithCORS(h, cfg, log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, log)
	h = WithRequestLogging(h, log, metrics)
	h = WithRequestID(h)
	return h
}
