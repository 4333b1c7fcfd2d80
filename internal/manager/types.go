package manager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/models"
)

const (
	EventChannelSize     = 64
	SubscriberBufferSize = 32
	TrackFileExt         = ".audio"
	TracksDirName        = "tracks"

	transferBufferSize    = 32 << 10
	networkRecheckTimeout = 5 * time.Second
)

const (
	MetricDownloadsAdmitted  = "downloads_admitted_total"
	MetricDownloadsRejected  = "downloads_rejected_total"
	MetricDownloadsCompleted = "downloads_completed_total"
	MetricDownloadsFailed    = "downloads_failed_total"
	MetricDownloadsCanceled  = "downloads_canceled_total"
	MetricDownloadsPaused    = "downloads_paused_total"
	MetricBytesDownloaded    = "downloaded_bytes_total"
	MetricDownloadDuration   = "download_duration"
)

// Service is the facade consumed by the API and other callers.
type Service interface {
	DownloadTrack(ctx context.Context, track models.Track, quality models.Quality) (models.DownloadTask, error)
	Enqueue(ctx context.Context, tracks []models.Track, quality models.Quality) []AdmissionResult
	PauseDownload(trackID string) error
	ResumeDownload(ctx context.Context, trackID string) error
	CancelDownload(trackID string) error
	DeleteDownload(ctx context.Context, trackID string) error
	ClearFailed(trackID string) error
	ClearAllDownloads(ctx context.Context) error
	RefreshOfflineStore(ctx context.Context) (ReconcileReport, error)
	ProcessQueue()

	Settings() models.Settings
	UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error)
	ResolvePlaybackURL(ctx context.Context, track models.Track) (PlaybackURL, error)

	IsTrackDownloaded(ctx context.Context, trackID string) (bool, error)
	IsTrackDownloading(trackID string) bool
	GetDownloadProgress(trackID string) *models.Progress
	GetTask(trackID string) (models.DownloadTask, error)
	ListTasks() []models.DownloadTask
	DownloadQueue() []string
	ListOfflineTracks(ctx context.Context) ([]models.OfflineTrack, error)
	TotalOfflineSize() int64
	AvailableSpace() int64
	Storage(ctx context.Context) StorageInfo

	Subscribe() (<-chan models.Progress, func())
}

// Options are the process-level knobs of the manager. User preferences live in models.Settings.
type Options struct {
	TracksDir              string
	MaxConcurrentDownloads int
	ProgressUpdateInterval time.Duration
	DownloadTimeout        time.Duration
	RateLimitKbps          int
}

func OptionsFromConfig(cfg *config.Config) Options {
	ds := cfg.GetDownloadSettings()
	return Options{
		TracksDir:              TracksDir(cfg.OfflineDir),
		MaxConcurrentDownloads: ds.MaxConcurrentDownloads,
		ProgressUpdateInterval: ds.ProgressUpdateInterval,
		DownloadTimeout:        ds.DownloadTimeout,
		RateLimitKbps:          ds.RateLimitKbps,
	}
}

// AdmissionResult is the outcome of one track in a batch Enqueue.
type AdmissionResult struct {
	TrackID string               `json:"track_id"`
	Task    *models.DownloadTask `json:"task,omitempty"`
	Err     error                `json:"-"`
}

// ReconcileReport lists what RefreshOfflineStore repaired.
type ReconcileReport struct {
	OrphansRemoved []string `json:"orphans_removed"`
	RecordsPurged  []string `json:"records_purged"`
	SizesCorrected []string `json:"sizes_corrected"`
	UsedBytes      int64    `json:"used_bytes"`
}

func (r ReconcileReport) Repairs() int {
	return len(r.OrphansRemoved) + len(r.RecordsPurged) + len(r.SizesCorrected)
}

// StorageInfo combines quota counters with the host's free space.
type StorageInfo struct {
	Limit         int64  `json:"limit"`
	Used          int64  `json:"used"`
	Reserved      int64  `json:"reserved"`
	Available     int64  `json:"available"`
	DiskFree      uint64 `json:"disk_free,omitempty"`
	OfflineTracks int    `json:"offline_tracks"`
	LiveTasks     int    `json:"live_tasks"`
}

// PlaybackURL is where the player should read a track from.
type PlaybackURL struct {
	URL     string `json:"url"`
	Offline bool   `json:"offline"`
}

type task struct {
	info models.DownloadTask

	// queued is true while the track ID sits in Manager.queue.
	queued bool
	// resumeRequested marks a paused task waiting in the queue for a slot.
	resumeRequested bool
	// pausedByNetwork tasks resume on their own when eligibility returns.
	pausedByNetwork bool

	worker *workerHandle
}

// workerHandle is owned by the manager. The worker only reads it.
type workerHandle struct {
	attempt uint64
	cancel  context.CancelFunc
	discard atomic.Bool
	done    chan struct{}
}

type eventKind int

const (
	eventProgress eventKind = iota
	eventCompleted
	eventFailed
	eventStopped
)

func (k eventKind) String() string {
	switch k {
	case eventProgress:
		return "progress"
	case eventCompleted:
		return "completed"
	case eventFailed:
		return "failed"
	case eventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// workerEvent is the only way a worker reports back.
type workerEvent struct {
	kind    eventKind
	trackID string
	attempt uint64
	bytes   int64
	total   int64
	resumed bool
	err     error
	// networkChecked is set when the monitor was refreshed after the error.
	networkChecked bool
}

func (e workerEvent) terminal() bool {
	return e.kind != eventProgress
}
