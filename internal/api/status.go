package api

import (
	"net/http"
	"time"

	"github.com/Orochidara23000/Game-Downloader/internal/download"
	apperrors "github.com/Orochidara23000/Game-Downloader/internal/errors"
	"github.com/Orochidara23000/Game-Downloader/internal/ws"
)

type StatusHandlers struct {
	downloadService *download.Service
	hub             *ws.Hub
	publicURL       string
	maxDownloads    int
	version         string
	startedAt       time.Time
}

func NewStatusHandlers(svc *download.Service, hub *ws.Hub, publicURL string, maxDownloads int, version string) *StatusHandlers {
	return &StatusHandlers{
		downloadService: svc,
		hub:             hub,
		publicURL:       publicURL,
		maxDownloads:    maxDownloads,
		version:         version,
		startedAt:       time.Now(),
	}
}

// StatusResponse summarizes the running engine for dashboards.
type StatusResponse struct {
	Version         string `json:"version"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ActiveDownloads int    `json:"active_downloads"`
	MaxDownloads    int    `json:"max_downloads"`
	CanAccept       bool   `json:"can_accept"`
	ConnectedWS     int    `json:"connected_ws_clients"`
	PublicURL       string `json:"public_url,omitempty"`
}

// GetStatus handles GET /status
func (h *StatusHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	apperrors.WriteJSON(w, requestID, http.StatusOK, StatusResponse{
		Version:         h.version,
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
		ActiveDownloads: h.downloadService.Registry().ActiveCount(),
		MaxDownloads:    h.maxDownloads,
		CanAccept:       h.downloadService.CanAdmit(),
		ConnectedWS:     h.hub.ClientCount(),
		PublicURL:       h.publicURL,
	})
}
