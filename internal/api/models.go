package api

import (
	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/models"
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string           `json:"error"`
	Type    errors.ErrorType `json:"type,omitempty"`
	Code    string           `json:"code,omitempty"`
	Details map[string]any   `json:"details,omitempty"`
	// Retryable is true when the same request may succeed later without user action.
	Retryable bool `json:"retryable,omitempty"`
}

// AddDownloadRequest is the body for POST /api/v1/downloads. Either Track or Tracks is set.
type AddDownloadRequest struct {
	Track   *models.Track  `json:"track,omitempty"`
	Tracks  []models.Track `json:"tracks,omitempty"`
	Quality string         `json:"quality,omitempty"`
}

// AdmissionItem is one entry of a batch admission response.
type AdmissionItem struct {
	TrackID string               `json:"track_id"`
	Task    *models.DownloadTask `json:"task,omitempty"`
	Error   *ErrorResponse       `json:"error,omitempty"`
}

// DownloadItem is one entry in GET /api/v1/downloads.
type DownloadItem struct {
	models.DownloadTask
	Percent         int  `json:"percent"`
	PositionInQueue *int `json:"position_in_queue,omitempty"`
}

// StorageResponse is returned by GET /api/v1/storage.
type StorageResponse struct {
	Limit          int64  `json:"limit"`
	Used           int64  `json:"used"`
	Reserved       int64  `json:"reserved"`
	Available      int64  `json:"available"`
	DiskFree       uint64 `json:"disk_free,omitempty"`
	OfflineTracks  int    `json:"offline_tracks"`
	LiveTasks      int    `json:"live_tasks"`
	LimitHuman     string `json:"limit_human"`
	UsedHuman      string `json:"used_human"`
	AvailableHuman string `json:"available_human"`
}
