package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/manager"
	"github.com/Robitch/Robify-sub001/internal/metrics"
	"github.com/google/uuid"
)

const jsonContentType = "application/json"

const (
	apiV1Prefix   = "/api/v1"
	healthPath    = apiV1Prefix + "/health"
	downloadsPath = apiV1Prefix + "/downloads"
	offlinePath   = apiV1Prefix + "/offline"
	storagePath   = apiV1Prefix + "/storage"
	settingsPath  = apiV1Prefix + "/settings"
	tracksPath    = apiV1Prefix + "/tracks"
	metricsPath   = apiV1Prefix + "/metrics"
)

// Handler is an API handler that receives the download service.
type Handler func(http.ResponseWriter, *http.Request, manager.Service)

// Server exposes the download manager over HTTP.
type Server struct {
	svc     manager.Service
	apiKey  string
	srv     *http.Server
	metrics MetricsSource
}

// MetricsSource provides the snapshot served at /metrics.
type MetricsSource interface {
	Snapshot() metrics.Snapshot
}

// NewServer creates a new API server. When apiKey is empty, only requests from localhost are accepted.
func NewServer(svc manager.Service, listenAddr, apiKey string) *Server {
	s := &Server{svc: svc, apiKey: apiKey}
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, s.chain(Health))

	mux.HandleFunc("GET "+downloadsPath, s.chain(ListDownloads))
	mux.HandleFunc("POST "+downloadsPath, s.chain(AddDownload))
	mux.HandleFunc("DELETE "+downloadsPath, s.chain(ClearAll))
	mux.HandleFunc("GET "+downloadsPath+"/{trackID}", s.chain(GetDownload))
	mux.HandleFunc("DELETE "+downloadsPath+"/{trackID}", s.chain(CancelDownload))
	mux.HandleFunc("POST "+downloadsPath+"/{trackID}/pause", s.chain(PauseDownload))
	mux.HandleFunc("POST "+downloadsPath+"/{trackID}/resume", s.chain(ResumeDownload))

	mux.HandleFunc("GET "+offlinePath, s.chain(ListOffline))
	mux.HandleFunc("DELETE "+offlinePath+"/{trackID}", s.chain(DeleteOffline))
	mux.HandleFunc("POST "+offlinePath+"/refresh", s.chain(RefreshOffline))

	mux.HandleFunc("GET "+storagePath, s.chain(Storage))
	mux.HandleFunc("GET "+settingsPath, s.chain(GetSettings))
	mux.HandleFunc("PUT "+settingsPath, s.chain(UpdateSettings))
	mux.HandleFunc("GET "+tracksPath+"/{trackID}/url", s.chain(PlaybackURL))
	mux.HandleFunc("GET "+metricsPath, s.chain(s.Metrics))

	s.srv = &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// SetMetrics enables the metrics endpoint.
func (s *Server) SetMetrics(source MetricsSource) {
	s.metrics = source
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// isPrivateIP reports whether ip is in 10.0.0.0/8, 172.16.0.0/12, or 192.168.0.0/16.
func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		return ip4[0] == 10 ||
			(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
			(ip4[0] == 192 && ip4[1] == 168)
	}
	return false
}

// isLocalhostOrAllowedInDocker returns true if the request is from localhost, or from a
// private IP when RUNNING_IN_DOCKER=true (host accessing via port mapping).
func isLocalhostOrAllowedInDocker(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	if host == "127.0.0.1" || host == "::1" {
		return true
	}
	if os.Getenv("RUNNING_IN_DOCKER") != "true" {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && isPrivateIP(ip)
}

func bearerOrAPIKey(r *http.Request) string {
	if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, "Bearer ") {
		if token := strings.TrimSpace(ah[len("Bearer "):]); token != "" {
			return token
		}
	}
	return r.Header.Get("X-API-Key")
}

// chain runs requestID then auth then the handler.
func (s *Server) chain(h Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(WithRequestID(r.Context(), requestID))

		if s.apiKey != "" {
			if bearerOrAPIKey(r) != s.apiKey {
				requestLog(r.Context()).WithField("path", r.URL.Path).Warn("API request unauthorized")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		} else if !isLocalhostOrAllowedInDocker(r) {
			requestLog(r.Context()).WithFields(map[string]any{
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			}).Warn("API request rejected: non-localhost without API key")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		requestLog(r.Context()).WithFields(map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
		}).Debug("API request")
		h(w, r, s.svc)
	}
}

// Start listens and serves. Blocks until Shutdown is called.
func (s *Server) Start() error {
	logutils.Log.WithField("addr", s.srv.Addr).Info("Offline downloads API server starting")
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logutils.Log.WithError(err).Warn("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
