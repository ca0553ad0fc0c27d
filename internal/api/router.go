package api

import (
	"net/http"

	"github.com/Orochidara23000/Game-Downloader/internal/download"
	"github.com/Orochidara23000/Game-Downloader/internal/health"
	"github.com/Orochidara23000/Game-Downloader/internal/ws"
)

type Router struct {
	mux              *http.ServeMux
	downloadHandlers *DownloadHandlers
	statusHandlers   *StatusHandlers
	healthHandler    *health.Handler
	wsHandler        *ws.Handler
	metricsHandler   http.Handler
	publicRoot       string
}

// RouterConfig wires the handlers the router exposes. MetricsHandler is nil
// when metrics are disabled.
type RouterConfig struct {
	Downloads      *download.Service
	Status         *StatusHandlers
	Health         *health.Handler
	WS             *ws.Handler
	MetricsHandler http.Handler
	PublicRoot     string
}

func NewRouter(cfg *RouterConfig) *Router {
	r := &Router{
		mux:              http.NewServeMux(),
		downloadHandlers: NewDownloadHandlers(cfg.Downloads),
		statusHandlers:   cfg.Status,
		healthHandler:    cfg.Health,
		wsHandler:        cfg.WS,
		metricsHandler:   cfg.MetricsHandler,
		publicRoot:       cfg.PublicRoot,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	// Health and status
	r.mux.HandleFunc("GET /health", r.healthHandler.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.healthHandler.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.healthHandler.ReadinessHandler)
	r.mux.HandleFunc("GET /status", r.statusHandlers.GetStatus)

	// Download lifecycle
	r.mux.HandleFunc("POST /api/v1/downloads", r.downloadHandlers.StartDownload)
	r.mux.HandleFunc("GET /api/v1/downloads", r.downloadHandlers.ListDownloads)
	r.mux.HandleFunc("GET /api/v1/downloads/{app_id}", r.downloadHandlers.GetDownload)
	r.mux.HandleFunc("DELETE /api/v1/downloads/{app_id}", r.downloadHandlers.CancelDownload)

	// Progress stream
	r.mux.Handle("GET /ws/progress", r.wsHandler)

	// Published artifacts
	fs := http.FileServer(http.Dir(r.publicRoot))
	r.mux.Handle("GET /public/", http.StripPrefix("/public/", fs))

	if r.metricsHandler != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler)
	}
}
