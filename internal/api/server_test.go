package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/filesystem"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/manager"
	"github.com/Robitch/Robify-sub001/internal/metrics"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/network"
	"github.com/Robitch/Robify-sub001/internal/testutils"
)

const testKey = "secret"

func TestMain(m *testing.M) {
	logutils.InitLogger("error")
	os.Exit(m.Run())
}

type testEnv struct {
	srv    *Server
	mgr    *manager.Manager
	remote *testutils.FakeRemote
}

func newTestEnv(t *testing.T, status network.Status) *testEnv {
	t.Helper()

	cfg := testutils.TestConfig(t.TempDir())
	monitor := network.NewMonitor(network.NewStaticProber(status), time.Hour)
	monitor.Refresh(context.Background())
	remote := testutils.NewFakeRemote(t)

	mgr, err := manager.NewManager(manager.OptionsFromConfig(cfg), cfg.Settings, manager.Dependencies{
		DB:         testutils.TestDatabase(t),
		FileSystem: filesystem.NewOSFileSystem(),
		Remote:     remote,
		Network:    monitor,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(mgr.Close)

	return &testEnv{srv: NewServer(mgr, "127.0.0.1:0", testKey), mgr: mgr, remote: remote}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func trackBody(id string, duration float64) map[string]any {
	return map[string]any{"track": map[string]any{"id": id, "duration": duration}}
}

func waitOffline(t *testing.T, mgr *manager.Manager, trackID string) {
	t.Helper()
	testutils.WaitForCondition(t, func() bool {
		ok, err := mgr.IsTrackDownloaded(context.Background(), trackID)
		return err == nil && ok
	}, 5*time.Second, trackID+" to be offline")
}

func TestAPI_NoKey_LocalhostAllowed(t *testing.T) {
	srv := NewServer(nil, "127.0.0.1:0", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("localhost without API key: got status %d, want 200", rec.Code)
	}
}

func TestAPI_NoKey_NonLocalhostRejected(t *testing.T) {
	srv := NewServer(nil, "127.0.0.1:0", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.RemoteAddr = "8.8.8.8:12345"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("non-localhost without API key: got status %d, want 401", rec.Code)
	}
}

func TestAPI_NoKey_DockerPrivateIPAllowed(t *testing.T) {
	srv := NewServer(nil, "127.0.0.1:0", "")
	t.Setenv("RUNNING_IN_DOCKER", "true")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.RemoteAddr = "172.17.0.1:12345"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Docker host (private IP) without API key: got status %d, want 200", rec.Code)
	}
}

func TestAPI_Health_Auth(t *testing.T) {
	srv := NewServer(nil, "127.0.0.1:0", testKey)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{name: "no key", want: http.StatusUnauthorized},
		{name: "bearer", header: "Authorization", value: "Bearer " + testKey, want: http.StatusOK},
		{name: "x-api-key", header: "X-API-Key", value: testKey, want: http.StatusOK},
		{name: "wrong key", header: "Authorization", value: "Bearer wrong", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("X-Request-ID header missing")
			}
		})
	}
}

func TestAPI_RequestIDIsEchoed(t *testing.T) {
	srv := NewServer(nil, "127.0.0.1:0", testKey)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	req.Header.Set("X-API-Key", testKey)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}

func TestAPI_AddDownload_201ThenOffline(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.AddTrack("t1", testutils.TestData(2048))

	rec := env.do(http.MethodPost, "/api/v1/downloads", trackBody("t1", 1))
	if rec.Code != http.StatusCreated {
		t.Fatalf("AddDownload: got status %d, body %s", rec.Code, rec.Body.String())
	}
	task := decode[models.DownloadTask](t, rec)
	if task.TrackID != "t1" || task.TotalBytesEstimate != 16000 {
		t.Errorf("task = %+v", task)
	}

	waitOffline(t, env.mgr, "t1")

	rec = env.do(http.MethodGet, "/api/v1/offline", nil)
	records := decode[[]models.OfflineTrack](t, rec)
	if len(records) != 1 || records[0].SizeBytes != 2048 {
		t.Errorf("offline records = %+v", records)
	}

	rec = env.do(http.MethodPost, "/api/v1/downloads", trackBody("t1", 1))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate: got status %d, want 409", rec.Code)
	}
	if body := decode[ErrorResponse](t, rec); body.Code != errors.ErrAlreadyOffline.Code {
		t.Errorf("duplicate code = %q", body.Code)
	}

	rec = env.do(http.MethodDelete, "/api/v1/offline/t1", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("DeleteOffline: got status %d, want 204", rec.Code)
	}
	rec = env.do(http.MethodDelete, "/api/v1/offline/t1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second DeleteOffline: got status %d, want 404", rec.Code)
	}
}

func TestAPI_AddDownload_BadRequests(t *testing.T) {
	env := newTestEnv(t, network.Wifi)

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "empty", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "bad quality", body: map[string]any{"track": map[string]any{"id": "x"}, "quality": "ultra"}, want: http.StatusBadRequest},
		{name: "blank id", body: map[string]any{"track": map[string]any{"id": " "}}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/downloads", tt.body)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader("{not json"))
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON: got status %d, want 400", rec.Code)
	}
}

func TestAPI_AddDownload_413BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, network.Wifi)

	big := `{"track":{"id":"` + strings.Repeat("a", maxRequestBodyBytes+1) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/downloads", strings.NewReader(big))
	req.Header.Set("X-API-Key", testKey)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("got status %d, want 413", rec.Code)
	}
}

func TestAPI_AddDownload_503WifiRequired(t *testing.T) {
	env := newTestEnv(t, network.Cellular)

	rec := env.do(http.MethodPost, "/api/v1/downloads", trackBody("cell", 1))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", rec.Code)
	}
	body := decode[ErrorResponse](t, rec)
	if body.Code != errors.ErrWifiRequired.Code || body.Type != errors.ErrorTypeAdmission {
		t.Errorf("error body = %+v", body)
	}
	if !body.Retryable {
		t.Error("wifi_required should be reported as retryable")
	}
}

func TestAPI_AddDownload_507InsufficientSpace(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	rec := env.do(http.MethodPut, "/api/v1/settings", map[string]any{"max_offline_size": 1000})
	if rec.Code != http.StatusOK {
		t.Fatalf("UpdateSettings: got status %d", rec.Code)
	}

	rec = env.do(http.MethodPost, "/api/v1/downloads", trackBody("huge", 600))
	if rec.Code != http.StatusInsufficientStorage {
		t.Fatalf("got status %d, want 507", rec.Code)
	}
	if body := decode[ErrorResponse](t, rec); body.Retryable {
		t.Errorf("insufficient_space should not be retryable: %+v", body)
	}
}

func TestAPI_AddDownload_Batch(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.AddTrack("b1", testutils.TestData(100))

	rec := env.do(http.MethodPost, "/api/v1/downloads", map[string]any{
		"tracks": []map[string]any{
			{"id": "b1", "duration": 1},
			{"id": "b1", "duration": 1},
		},
		"quality": "HIGH",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}
	items := decode[[]AdmissionItem](t, rec)
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Task == nil || items[0].Task.Quality != models.QualityHigh || items[0].Error != nil {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Error == nil || items[1].Task != nil {
		t.Errorf("second item should be rejected as a duplicate: %+v", items[1])
	}
}

func TestAPI_PauseResumeCancel(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.AddTrack("p1", testutils.TestData(80_000))
	env.remote.Hold("p1")

	if rec := env.do(http.MethodPost, "/api/v1/downloads", trackBody("p1", 1)); rec.Code != http.StatusCreated {
		t.Fatalf("AddDownload: got status %d", rec.Code)
	}
	testutils.WaitForCondition(t, func() bool {
		p := env.mgr.GetDownloadProgress("p1")
		return p != nil && p.State == models.StateDownloading && p.BytesDownloaded > 0
	}, 5*time.Second, "p1 to transfer bytes")

	rec := env.do(http.MethodPost, "/api/v1/downloads/p1/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pause: got status %d", rec.Code)
	}
	if item := decode[DownloadItem](t, rec); item.State != models.StatePaused || item.Percent <= 0 {
		t.Errorf("paused item = %+v", item)
	}

	if rec := env.do(http.MethodPost, "/api/v1/downloads/p1/pause", nil); rec.Code != http.StatusConflict {
		t.Errorf("second pause: got status %d, want 409", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/downloads", nil)
	list := decode[[]DownloadItem](t, rec)
	if len(list) != 1 || list[0].TrackID != "p1" {
		t.Errorf("downloads = %+v", list)
	}

	rec = env.do(http.MethodDelete, "/api/v1/downloads/p1", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("cancel: got status %d, want 204", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/downloads/p1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after cancel: got status %d, want 404", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/v1/downloads/p1/resume", nil); rec.Code != http.StatusNotFound {
		t.Errorf("resume after cancel: got status %d, want 404", rec.Code)
	}
}

func TestAPI_FailedDownloadIsCleared(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.SetStatus("f1", http.StatusBadGateway)

	if rec := env.do(http.MethodPost, "/api/v1/downloads", trackBody("f1", 1)); rec.Code != http.StatusCreated {
		t.Fatalf("AddDownload: got status %d", rec.Code)
	}
	testutils.WaitForCondition(t, func() bool {
		task, err := env.mgr.GetTask("f1")
		return err == nil && task.State == models.StateFailed
	}, 5*time.Second, "f1 to fail")

	rec := env.do(http.MethodGet, "/api/v1/downloads/f1", nil)
	if item := decode[DownloadItem](t, rec); item.LastError == nil {
		t.Error("failed download should expose last_error")
	}

	if rec := env.do(http.MethodDelete, "/api/v1/downloads/f1", nil); rec.Code != http.StatusNoContent {
		t.Errorf("clear failed: got status %d, want 204", rec.Code)
	}
	if len(env.mgr.ListTasks()) != 0 {
		t.Error("failed task should be cleared")
	}
}

func TestAPI_Storage(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.AddTrack("s1", testutils.TestData(4096))
	env.do(http.MethodPost, "/api/v1/downloads", trackBody("s1", 1))
	waitOffline(t, env.mgr, "s1")

	rec := env.do(http.MethodGet, "/api/v1/storage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	storage := decode[StorageResponse](t, rec)
	if storage.Used != 4096 || storage.UsedHuman != "4.0 KiB" || storage.OfflineTracks != 1 {
		t.Errorf("storage = %+v", storage)
	}
	if storage.Available != storage.Limit-storage.Used-storage.Reserved {
		t.Errorf("available = %d inconsistent with %+v", storage.Available, storage)
	}
}

func TestAPI_Metrics(t *testing.T) {
	env := newTestEnv(t, network.Wifi)

	rec := env.do(http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without source: got status %d, want 404", rec.Code)
	}

	m := metrics.NewInMemoryMetrics()
	m.IncrementCounter(manager.MetricDownloadsAdmitted, map[string]string{"quality": "standard"})
	m.SetGauge("quota_used_bytes", 512, nil)
	env.srv.SetMetrics(m)

	rec = env.do(http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	snap := decode[metrics.Snapshot](t, rec)
	if len(snap.Counters) != 1 || snap.Counters[0].Value != 1 || snap.Counters[0].Labels["quality"] != "standard" {
		t.Errorf("counters = %+v", snap.Counters)
	}
	if len(snap.Gauges) != 1 || snap.Gauges[0].Value != 512 {
		t.Errorf("gauges = %+v", snap.Gauges)
	}
}

func TestAPI_Settings(t *testing.T) {
	env := newTestEnv(t, network.Wifi)

	rec := env.do(http.MethodGet, "/api/v1/settings", nil)
	current := decode[models.Settings](t, rec)
	if !current.DownloadOnlyOnWifi || current.DownloadQuality != models.QualityStandard {
		t.Errorf("settings = %+v", current)
	}

	rec = env.do(http.MethodPut, "/api/v1/settings", map[string]any{
		"download_only_on_wifi": false,
		"download_quality":      "lossless",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT settings: got status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[models.Settings](t, rec)
	if updated.DownloadOnlyOnWifi || updated.DownloadQuality != models.QualityLossless {
		t.Errorf("updated = %+v", updated)
	}
	if updated.MaxOfflineSize != current.MaxOfflineSize {
		t.Error("omitted max_offline_size should be unchanged")
	}

	for _, body := range []map[string]any{
		{"download_quality": "ultra"},
		{"max_offline_size": 0},
	} {
		if rec := env.do(http.MethodPut, "/api/v1/settings", body); rec.Code != http.StatusBadRequest {
			t.Errorf("PUT %v: got status %d, want 400", body, rec.Code)
		}
	}
}

func TestAPI_PlaybackURLAndRefresh(t *testing.T) {
	env := newTestEnv(t, network.Wifi)

	rec := env.do(http.MethodGet, "/api/v1/tracks/abc/url", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	url := decode[manager.PlaybackURL](t, rec)
	if url.Offline || url.URL != env.remote.Server.URL+"/tracks/abc" {
		t.Errorf("url = %+v", url)
	}

	rec = env.do(http.MethodGet, "/api/v1/tracks/abc/url?file_url=https://cdn.example.com/abc.mp3", nil)
	if url := decode[manager.PlaybackURL](t, rec); url.URL != "https://cdn.example.com/abc.mp3" {
		t.Errorf("explicit file_url = %+v", url)
	}

	rec = env.do(http.MethodPost, "/api/v1/offline/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: got status %d", rec.Code)
	}
	if report := decode[manager.ReconcileReport](t, rec); report.Repairs() != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestAPI_ClearAll(t *testing.T) {
	env := newTestEnv(t, network.Wifi)
	env.remote.AddTrack("c1", testutils.TestData(100))
	env.do(http.MethodPost, "/api/v1/downloads", trackBody("c1", 1))
	waitOffline(t, env.mgr, "c1")

	if rec := env.do(http.MethodDelete, "/api/v1/downloads", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", rec.Code)
	}
	if env.mgr.TotalOfflineSize() != 0 {
		t.Errorf("used = %d after clear", env.mgr.TotalOfflineSize())
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.ErrAlreadyOffline, http.StatusConflict},
		{errors.ErrAlreadyQueued, http.StatusConflict},
		{errors.ErrInsufficientSpace.WithDetails(map[string]any{"required": 1}), http.StatusInsufficientStorage},
		{errors.ErrNetworkRequired, http.StatusServiceUnavailable},
		{errors.ErrWifiRequired, http.StatusServiceUnavailable},
		{errors.ErrInvalidQuality, http.StatusBadRequest},
		{errors.ErrInvalidState, http.StatusConflict},
		{errors.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.ErrTaskNotFound, http.StatusNotFound},
		{errors.ErrOfflineTrackNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", errors.ErrTaskNotFound), http.StatusNotFound},
		{errors.ErrTransferFailed, http.StatusInternalServerError},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
