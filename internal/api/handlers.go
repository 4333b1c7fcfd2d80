package api

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/manager"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/dustin/go-humanize"
)

// maxRequestBodyBytes limits JSON bodies to avoid DoS.
const maxRequestBodyBytes = 1024 * 1024 // 1 MiB

const percentComplete = 100

// statusForError maps a domain error to the HTTP status a client should act on.
func statusForError(err error) int {
	de, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch de.Type {
	case errors.ErrorTypeAdmission:
		switch de.Code {
		case errors.ErrInsufficientSpace.Code:
			return http.StatusInsufficientStorage
		case errors.ErrNetworkRequired.Code, errors.ErrWifiRequired.Code:
			return http.StatusServiceUnavailable
		case errors.ErrInvalidQuality.Code, errors.ErrInvalidTrack.Code:
			return http.StatusBadRequest
		default:
			return http.StatusConflict
		}
	case errors.ErrorTypePrecondition:
		if de.Code == errors.ErrShuttingDown.Code {
			return http.StatusServiceUnavailable
		}
		return http.StatusConflict
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(err error) *ErrorResponse {
	if de, ok := errors.As(err); ok {
		return &ErrorResponse{
			Error:     de.Message,
			Type:      de.Type,
			Code:      de.Code,
			Details:   de.Details,
			Retryable: de.IsRetryable(),
		}
	}
	return &ErrorResponse{Error: err.Error(), Type: errors.ErrorTypeInternal}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	entry := requestLog(r.Context()).WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable &&
		status != http.StatusInsufficientStorage {
		entry.Error("API request failed")
	} else {
		entry.Debug("API request rejected")
	}
	writeJSON(w, status, errorResponse(err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if stderrors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func trackIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.PathValue("trackID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "track id is required")
		return "", false
	}
	return id, true
}

// Health returns 200 and {"status":"ok"}.
func Health(w http.ResponseWriter, _ *http.Request, _ manager.Service) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func downloadItem(task models.DownloadTask, positions map[string]int) DownloadItem {
	item := DownloadItem{DownloadTask: task}
	if task.State == models.StateCompleted {
		item.Percent = percentComplete
	} else if task.TotalBytesEstimate > 0 {
		item.Percent = int(task.BytesDownloaded * percentComplete / task.TotalBytesEstimate)
	}
	if pos, ok := positions[task.TrackID]; ok {
		item.PositionInQueue = &pos
	}
	return item
}

func queuePositions(svc manager.Service) map[string]int {
	queue := svc.DownloadQueue()
	positions := make(map[string]int, len(queue))
	for i, id := range queue {
		positions[id] = i + 1
	}
	return positions
}

// ListDownloads handles GET /api/v1/downloads: every live or failed task, oldest first.
func ListDownloads(w http.ResponseWriter, _ *http.Request, svc manager.Service) {
	positions := queuePositions(svc)
	tasks := svc.ListTasks()
	items := make([]DownloadItem, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, downloadItem(task, positions))
	}
	writeJSON(w, http.StatusOK, items)
}

// GetDownload handles GET /api/v1/downloads/{trackID}.
func GetDownload(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	task, err := svc.GetTask(trackID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadItem(task, queuePositions(svc)))
}

// AddDownload handles POST /api/v1/downloads. A single track answers 201 or an error; a
// batch always answers 200 with one result per track.
func AddDownload(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	var req AddDownloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Track == nil && len(req.Tracks) == 0 {
		writeError(w, http.StatusBadRequest, "track or tracks is required")
		return
	}

	var quality models.Quality
	if strings.TrimSpace(req.Quality) != "" {
		q, err := models.ParseQuality(req.Quality)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		quality = q
	}

	if req.Track != nil {
		task, err := svc.DownloadTrack(r.Context(), *req.Track, quality)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
		return
	}

	results := svc.Enqueue(r.Context(), req.Tracks, quality)
	items := make([]AdmissionItem, 0, len(results))
	for _, res := range results {
		item := AdmissionItem{TrackID: res.TrackID, Task: res.Task}
		if res.Err != nil {
			item.Error = errorResponse(res.Err)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

// CancelDownload handles DELETE /api/v1/downloads/{trackID}. A failed task is cleared instead.
func CancelDownload(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	if task, err := svc.GetTask(trackID); err == nil && task.State == models.StateFailed {
		if err := svc.ClearFailed(trackID); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := svc.CancelDownload(trackID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAll handles DELETE /api/v1/downloads: cancels everything and empties the offline store.
func ClearAll(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	if err := svc.ClearAllDownloads(r.Context()); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func PauseDownload(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	if err := svc.PauseDownload(trackID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeTask(w, r, svc, trackID)
}

func ResumeDownload(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	if err := svc.ResumeDownload(r.Context(), trackID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeTask(w, r, svc, trackID)
}

func writeTask(w http.ResponseWriter, r *http.Request, svc manager.Service, trackID string) {
	task, err := svc.GetTask(trackID)
	if err != nil {
		// The task may already have completed.
		if stderrors.Is(err, errors.ErrTaskNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadItem(task, queuePositions(svc)))
}

// ListOffline handles GET /api/v1/offline.
func ListOffline(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	records, err := svc.ListOfflineTracks(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []models.OfflineTrack{}
	}
	writeJSON(w, http.StatusOK, records)
}

// DeleteOffline handles DELETE /api/v1/offline/{trackID}.
func DeleteOffline(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	if err := svc.DeleteDownload(r.Context(), trackID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshOffline handles POST /api/v1/offline/refresh.
func RefreshOffline(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	report, err := svc.RefreshOfflineStore(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Storage handles GET /api/v1/storage.
func Storage(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	info := svc.Storage(r.Context())
	writeJSON(w, http.StatusOK, StorageResponse{
		Limit:          info.Limit,
		Used:           info.Used,
		Reserved:       info.Reserved,
		Available:      info.Available,
		DiskFree:       info.DiskFree,
		OfflineTracks:  info.OfflineTracks,
		LiveTasks:      info.LiveTasks,
		LimitHuman:     humanize.IBytes(uint64(info.Limit)),
		UsedHuman:      humanize.IBytes(uint64(info.Used)),
		AvailableHuman: humanize.IBytes(uint64(info.Available)),
	})
}

// Metrics handles GET /api/v1/metrics.
func (s *Server) Metrics(w http.ResponseWriter, _ *http.Request, _ manager.Service) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func GetSettings(w http.ResponseWriter, _ *http.Request, svc manager.Service) {
	writeJSON(w, http.StatusOK, svc.Settings())
}

// UpdateSettings handles PUT /api/v1/settings. Omitted fields keep their current value.
func UpdateSettings(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	var patch struct {
		MaxOfflineSize     *int64  `json:"max_offline_size"`
		DownloadOnlyOnWifi *bool   `json:"download_only_on_wifi"`
		DownloadQuality    *string `json:"download_quality"`
	}
	if !decodeBody(w, r, &patch) {
		return
	}

	settings := svc.Settings()
	if patch.MaxOfflineSize != nil {
		settings.MaxOfflineSize = *patch.MaxOfflineSize
	}
	if patch.DownloadOnlyOnWifi != nil {
		settings.DownloadOnlyOnWifi = *patch.DownloadOnlyOnWifi
	}
	if patch.DownloadQuality != nil {
		q, err := models.ParseQuality(*patch.DownloadQuality)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		settings.DownloadQuality = q
	}

	updated, err := svc.UpdateSettings(r.Context(), settings)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// PlaybackURL handles GET /api/v1/tracks/{trackID}/url?file_url=...
func PlaybackURL(w http.ResponseWriter, r *http.Request, svc manager.Service) {
	trackID, ok := trackIDFrom(w, r)
	if !ok {
		return
	}
	track := models.Track{ID: trackID, FileURL: r.URL.Query().Get("file_url")}
	url, err := svc.ResolvePlaybackURL(r.Context(), track)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, url)
}
