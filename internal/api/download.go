package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Orochidara23000/Game-Downloader/internal/download"
	apperrors "github.com/Orochidara23000/Game-Downloader/internal/errors"
)

type DownloadHandlers struct {
	downloadService *download.Service
}

func NewDownloadHandlers(downloadService *download.Service) *DownloadHandlers {
	return &DownloadHandlers{
		downloadService: downloadService,
	}
}

// StartDownloadRequest represents the request body for starting a download
type StartDownloadRequest struct {
	AppID     string `json:"app_id"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	GuardCode string `json:"guard_code,omitempty"`
}

// ListDownloadsResponse wraps the job list so the shape can grow fields
// without breaking clients.
type ListDownloadsResponse struct {
	Downloads []download.Snapshot `json:"downloads"`
	Count     int                 `json:"count"`
}

// StartDownload handles POST /api/v1/downloads
func (h *DownloadHandlers) StartDownload(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid request body"))
		return
	}

	req.AppID = strings.TrimSpace(req.AppID)
	if req.AppID == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("app_id is required"))
		return
	}
	if !isNumeric(req.AppID) {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("app_id must be numeric"))
		return
	}

	snap, err := h.downloadService.Start(r.Context(), download.StartRequest{
		AppID:     req.AppID,
		Username:  req.Username,
		Password:  req.Password,
		GuardCode: req.GuardCode,
	})
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusAccepted, snap)
}

// ListDownloads handles GET /api/v1/downloads
func (h *DownloadHandlers) ListDownloads(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	jobs := h.downloadService.List()
	apperrors.WriteJSON(w, requestID, http.StatusOK, ListDownloadsResponse{
		Downloads: jobs,
		Count:     len(jobs),
	})
}

// GetDownload handles GET /api/v1/downloads/{app_id}
func (h *DownloadHandlers) GetDownload(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	appID := r.PathValue("app_id")
	snap, err := h.downloadService.Get(appID)
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, snap)
}

// CancelDownload handles DELETE /api/v1/downloads/{app_id}
func (h *DownloadHandlers) CancelDownload(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	appID := r.PathValue("app_id")
	if err := h.downloadService.Cancel(appID); err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	snap, err := h.downloadService.Get(appID)
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusAccepted, snap)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
