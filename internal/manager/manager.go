package manager

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/core/domain"
	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/database"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/metrics"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/network"
	"github.com/Robitch/Robify-sub001/internal/notifier"
	"github.com/Robitch/Robify-sub001/internal/quota"
	"github.com/Robitch/Robify-sub001/internal/ratelimit"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Dependencies are the collaborators the manager drives.
type Dependencies struct {
	DB         database.Database
	FileSystem domain.FileSystemInterface
	Remote     domain.RemoteStorageInterface
	Network    domain.NetworkMonitorInterface
	Notifier   notifier.Notifier
	Metrics    domain.MetricsInterface
}

// Manager is the single owner of download state: registry, queue and quota decisions
// all happen under mu. Workers report through events and never touch that state.
type Manager struct {
	mu         sync.Mutex
	tasks      map[string]*task
	queue      []string
	settings   models.Settings
	closed     bool
	attempts   uint64
	lastWorker map[string]*workerHandle

	opts     Options
	db       database.Database
	fs       domain.FileSystemInterface
	remote   domain.RemoteStorageInterface
	network  domain.NetworkMonitorInterface
	notifier notifier.Notifier
	metrics  domain.MetricsInterface
	quota    *quota.Tracker
	slots    *semaphore.Weighted
	limiter  *rate.Limiter

	baseCtx    context.Context
	cancelBase context.CancelFunc
	events     chan workerEvent
	workers    sync.WaitGroup
	loopDone   chan struct{}
	closeOnce  sync.Once

	subsMu      sync.Mutex
	subscribers map[int]chan models.Progress
	nextSubID   int
}

var _ Service = (*Manager)(nil)

func NewManager(opts Options, settings models.Settings, deps Dependencies) (*Manager, error) {
	if opts.MaxConcurrentDownloads <= 0 {
		opts.MaxConcurrentDownloads = config.DefaultMaxConcurrentDownloads
	}
	if opts.ProgressUpdateInterval <= 0 {
		opts.ProgressUpdateInterval = config.DefaultProgressUpdateInterval
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOpMetrics()
	}
	if err := deps.FileSystem.CreateDir(opts.TracksDir); err != nil {
		return nil, err
	}

	used, err := deps.DB.TotalOfflineSize(context.Background())
	if err != nil {
		return nil, errors.WrapDomainError(err, errors.ErrorTypeDatabase, "load_usage_failed",
			"failed to load offline usage")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		tasks:       make(map[string]*task),
		queue:       make([]string, 0),
		settings:    settings,
		lastWorker:  make(map[string]*workerHandle),
		opts:        opts,
		db:          deps.DB,
		fs:          deps.FileSystem,
		remote:      deps.Remote,
		network:     deps.Network,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		quota:       quota.NewTracker(settings.MaxOfflineSize),
		slots:       semaphore.NewWeighted(int64(opts.MaxConcurrentDownloads)),
		limiter:     ratelimit.NewLimiter(opts.RateLimitKbps),
		baseCtx:     baseCtx,
		cancelBase:  cancel,
		events:      make(chan workerEvent, EventChannelSize),
		loopDone:    make(chan struct{}),
		subscribers: make(map[int]chan models.Progress),
	}
	m.quota.Reset(used)

	deps.Network.OnChange(m.handleNetworkChange)
	go m.eventLoop()

	logutils.Log.WithFields(map[string]any{
		"tracks_dir":      opts.TracksDir,
		"max_concurrent":  opts.MaxConcurrentDownloads,
		"max_size":        humanize.IBytes(uint64(settings.MaxOfflineSize)),
		"used":            humanize.IBytes(uint64(used)),
		"wifi_only":       settings.DownloadOnlyOnWifi,
		"default_quality": settings.DownloadQuality,
	}).Info("Download manager started")

	return m, nil
}

// admissionNetworkError distinguishes "no network" from "not on wifi".
func admissionNetworkError(status network.Status, settings models.Settings) error {
	if !status.Online {
		return errors.ErrNetworkRequired.WithDetails(map[string]any{"connection_type": status.Type})
	}
	if settings.DownloadOnlyOnWifi && status.Type != network.ConnectionWifi {
		return errors.ErrWifiRequired.WithDetails(map[string]any{"connection_type": status.Type})
	}
	return nil
}

// DownloadTrack admits track and queues it. Nothing is mutated when an error is returned.
func (m *Manager) DownloadTrack(ctx context.Context, track models.Track, quality models.Quality) (models.DownloadTask, error) {
	admitted, err := m.admit(ctx, track, quality)
	if err != nil {
		m.metrics.IncrementCounter(MetricDownloadsRejected, map[string]string{"code": errorCode(err)})
		return admitted, err
	}
	m.metrics.IncrementCounter(MetricDownloadsAdmitted, map[string]string{"quality": string(admitted.Quality)})
	return admitted, nil
}

func (m *Manager) admit(ctx context.Context, track models.Track, quality models.Quality) (models.DownloadTask, error) {
	track.ID = strings.TrimSpace(track.ID)
	if track.ID == "" {
		return models.DownloadTask{}, errors.ErrInvalidTrack
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.DownloadTask{}, errors.ErrShuttingDown
	}

	if quality == "" {
		quality = m.settings.DownloadQuality
	}
	if !quality.IsValid() {
		return models.DownloadTask{}, errors.ErrInvalidQuality.WithDetails(map[string]any{"quality": quality})
	}

	if err := admissionNetworkError(m.network.Snapshot(), m.settings); err != nil {
		return models.DownloadTask{}, err
	}

	if existing, ok := m.tasks[track.ID]; ok {
		switch existing.info.State {
		case models.StateQueued:
			return models.DownloadTask{}, errors.ErrAlreadyQueued.WithDetails(map[string]any{"track_id": track.ID})
		case models.StateDownloading, models.StatePaused:
			return models.DownloadTask{}, errors.ErrAlreadyDownloading.WithDetails(map[string]any{"track_id": track.ID})
		}
	}

	offline, err := m.db.OfflineTrackExists(ctx, track.ID)
	if err != nil {
		return models.DownloadTask{}, errors.WrapDomainError(err, errors.ErrorTypeDatabase, "lookup_failed",
			"failed to check offline tracks")
	}
	if offline {
		return models.DownloadTask{}, errors.ErrAlreadyOffline.WithDetails(map[string]any{"track_id": track.ID})
	}

	if _, err := m.remote.PublicURL(track); err != nil {
		return models.DownloadTask{}, err
	}
	localPath, err := m.finalPath(track.ID)
	if err != nil {
		return models.DownloadTask{}, err
	}

	estimate := quota.EstimateSize(track, quality)
	if err := m.checkDiskLocked(ctx, estimate); err != nil {
		return models.DownloadTask{}, err
	}
	if !m.quota.Reserve(estimate) {
		return models.DownloadTask{}, errors.ErrInsufficientSpace.WithDetails(map[string]any{
			"track_id":  track.ID,
			"required":  estimate,
			"available": m.quota.Available(),
		})
	}

	// A retained failure is replaced by the retry.
	if existing, ok := m.tasks[track.ID]; ok && existing.info.State == models.StateFailed {
		delete(m.tasks, track.ID)
	}

	now := time.Now()
	t := &task{
		info: models.DownloadTask{
			ID:                 uuid.NewString(),
			TrackID:            track.ID,
			Track:              track,
			Quality:            quality,
			State:              models.StateQueued,
			TotalBytesEstimate: estimate,
			ReservedBytes:      estimate,
			LocalPath:          localPath,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
		queued: true,
	}
	m.tasks[track.ID] = t
	m.queue = append(m.queue, track.ID)

	logutils.Log.WithFields(map[string]any{
		"track_id": track.ID,
		"task_id":  t.info.ID,
		"quality":  quality,
		"estimate": humanize.IBytes(uint64(estimate)),
		"position": len(m.queue),
	}).Info("Download admitted")

	m.notifier.OnQueued(track.ID, len(m.queue))
	m.publishLocked(t)
	m.processQueueLocked()

	return snapshot(t), nil
}

// checkDiskLocked refuses admissions the host disk cannot hold. Unknown free space is not an error.
func (m *Manager) checkDiskLocked(ctx context.Context, bytes int64) error {
	free, err := m.fs.FreeSpace(ctx, m.opts.TracksDir)
	if err != nil {
		logutils.Log.WithError(err).Debug("Free disk space unavailable, relying on quota only")
		return nil
	}
	if uint64(bytes) > free {
		return errors.ErrInsufficientSpace.WithDetails(map[string]any{
			"required":  bytes,
			"disk_free": free,
		})
	}
	return nil
}

// Enqueue admits tracks in order and reports each outcome. One rejection does not stop the batch.
func (m *Manager) Enqueue(ctx context.Context, tracks []models.Track, quality models.Quality) []AdmissionResult {
	results := make([]AdmissionResult, 0, len(tracks))
	for _, track := range tracks {
		result := AdmissionResult{TrackID: track.ID}
		admitted, err := m.DownloadTrack(ctx, track, quality)
		if err != nil {
			result.Err = err
		} else {
			result.Task = &admitted
		}
		results = append(results, result)
	}
	return results
}

func (m *Manager) PauseDownload(trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.liveTaskLocked(trackID)
	if !ok {
		return errors.ErrTaskNotFound.WithDetails(map[string]any{"track_id": trackID})
	}
	return m.pauseLocked(t, false)
}

func (m *Manager) pauseLocked(t *task, byNetwork bool) error {
	if err := m.transitionLocked(t, models.StatePaused); err != nil {
		return err
	}
	t.pausedByNetwork = byNetwork
	if t.worker != nil {
		t.worker.cancel()
	}
	reason := "user"
	if byNetwork {
		reason = "network"
	}
	m.metrics.IncrementCounter(MetricDownloadsPaused, map[string]string{"reason": reason})
	m.notifier.OnPaused(t.info.TrackID, t.info.BytesDownloaded)
	return nil
}

// ResumeDownload re-checks eligibility and puts the task at the head of the queue.
func (m *Manager) ResumeDownload(ctx context.Context, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrShuttingDown
	}

	t, ok := m.liveTaskLocked(trackID)
	if !ok {
		return errors.ErrTaskNotFound.WithDetails(map[string]any{"track_id": trackID})
	}
	if t.info.State != models.StatePaused {
		return errors.ErrInvalidState.WithDetails(map[string]any{
			"track_id": trackID,
			"state":    t.info.State,
		})
	}
	if t.resumeRequested {
		return nil
	}

	if err := admissionNetworkError(m.network.Snapshot(), m.settings); err != nil {
		return err
	}
	// The reservation is still held; the limit may have been lowered since.
	if !m.quota.CanAdmit(0) {
		return errors.ErrInsufficientSpace.WithDetails(map[string]any{
			"track_id":  trackID,
			"available": m.quota.Available(),
		})
	}
	if err := m.checkDiskLocked(ctx, t.info.TotalBytesEstimate-t.info.BytesDownloaded); err != nil {
		return err
	}

	t.pausedByNetwork = false
	m.requestResumeLocked(t)
	m.processQueueLocked()
	return nil
}

// CancelDownload discards a live task. It is a no-op when there is none.
func (m *Manager) CancelDownload(trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked(trackID)
	return nil
}

func (m *Manager) cancelLocked(trackID string) {
	t, ok := m.liveTaskLocked(trackID)
	if !ok {
		return
	}
	if err := m.transitionLocked(t, models.StateCanceled); err != nil {
		logutils.Log.WithError(err).WithField("track_id", trackID).Warn("Cannot cancel task")
		return
	}
	m.dropLocked(t)

	if t.worker != nil {
		t.worker.discard.Store(true)
		t.worker.cancel()
	} else if err := m.fs.RemoveFile(partPath(t.info.LocalPath)); err != nil {
		logutils.Log.WithError(err).WithField("track_id", trackID).Warn("Failed to remove partial file")
	}

	logutils.Log.WithField("track_id", trackID).Info("Download canceled")
	m.metrics.IncrementCounter(MetricDownloadsCanceled, nil)
	m.notifier.OnStopped(trackID)
	m.processQueueLocked()
}

// DeleteDownload removes an offline track, its file and its quota charge.
func (m *Manager) DeleteDownload(ctx context.Context, trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(ctx, trackID)
}

func (m *Manager) deleteLocked(ctx context.Context, trackID string) error {
	record, err := m.db.GetOfflineTrack(ctx, trackID)
	if err != nil {
		return err
	}
	if err := m.db.RemoveOfflineTrack(ctx, trackID); err != nil {
		return errors.WrapDomainError(err, errors.ErrorTypeDatabase, "remove_offline_track_failed",
			"failed to remove offline track").WithDetails(map[string]any{"track_id": trackID})
	}
	m.quota.Free(record.SizeBytes)

	// A file left behind here is an orphan that the next refresh removes.
	if err := m.fs.RemoveFile(record.LocalPath); err != nil {
		logutils.Log.WithError(err).WithField("track_id", trackID).Warn("Failed to remove offline file")
	}

	logutils.Log.WithFields(map[string]any{
		"track_id": trackID,
		"freed":    humanize.IBytes(uint64(record.SizeBytes)),
	}).Info("Offline track deleted")
	m.processQueueLocked()
	return nil
}

// ClearFailed forgets a retained failed task.
func (m *Manager) ClearFailed(trackID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[trackID]
	if !ok {
		return errors.ErrTaskNotFound.WithDetails(map[string]any{"track_id": trackID})
	}
	if t.info.State != models.StateFailed {
		return errors.ErrInvalidState.WithDetails(map[string]any{
			"track_id": trackID,
			"state":    t.info.State,
		})
	}
	delete(m.tasks, trackID)
	return nil
}

// ClearAllDownloads cancels every task and deletes every offline track.
func (m *Manager) ClearAllDownloads(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, trackID := range m.queue {
		if t, ok := m.tasks[trackID]; ok {
			t.queued = false
		}
	}
	m.queue = m.queue[:0]

	for trackID, t := range m.tasks {
		if t.info.State == models.StateFailed {
			delete(m.tasks, trackID)
			continue
		}
		m.cancelLocked(trackID)
	}

	records, err := m.db.ListOfflineTracks(ctx)
	if err != nil {
		return errors.WrapDomainError(err, errors.ErrorTypeDatabase, "list_offline_tracks_failed",
			"failed to list offline tracks")
	}

	if err := m.db.RemoveAllOfflineTracks(ctx); err != nil {
		return errors.WrapDomainError(err, errors.ErrorTypeDatabase, "remove_offline_tracks_failed",
			"failed to remove offline tracks")
	}
	m.quota.Reset(0)

	// Files left behind here are orphans that the next refresh removes.
	var freed int64
	for _, record := range records {
		freed += record.SizeBytes
		if err := m.fs.RemoveFile(record.LocalPath); err != nil {
			logutils.Log.WithError(err).WithField("track_id", record.TrackID).Warn("Failed to remove offline file")
		}
	}

	logutils.Log.WithFields(map[string]any{
		"deleted": len(records),
		"freed":   humanize.IBytes(uint64(freed)),
	}).Info("Cleared all downloads")
	return nil
}

func (m *Manager) Settings() models.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings persists settings and applies them to quota and eligibility at once.
func (m *Manager) UpdateSettings(ctx context.Context, settings models.Settings) (models.Settings, error) {
	if settings.MaxOfflineSize <= 0 {
		return models.Settings{}, errors.NewDomainError(errors.ErrorTypeConfig, "invalid_settings",
			"max offline size must be positive").WithDetails(map[string]any{"max_offline_size": settings.MaxOfflineSize})
	}
	if !settings.DownloadQuality.IsValid() {
		return models.Settings{}, errors.ErrInvalidQuality.WithDetails(map[string]any{"quality": settings.DownloadQuality})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.SaveSettings(ctx, &settings); err != nil {
		return models.Settings{}, errors.WrapDomainError(err, errors.ErrorTypeDatabase, "save_settings_failed",
			"failed to save settings")
	}

	m.settings = settings
	m.quota.SetLimit(settings.MaxOfflineSize)
	if m.quota.OverBudget() {
		logutils.Log.WithField("limit", humanize.IBytes(uint64(settings.MaxOfflineSize))).
			Warn("Offline storage exceeds the new limit; new downloads are blocked until space is freed")
	}

	logutils.Log.WithFields(map[string]any{
		"max_offline_size":      settings.MaxOfflineSize,
		"download_only_on_wifi": settings.DownloadOnlyOnWifi,
		"download_quality":      settings.DownloadQuality,
	}).Info("Settings updated")

	m.applyEligibilityLocked()
	return settings, nil
}

// ResolvePlaybackURL returns the local file when the track is offline, otherwise its remote URL.
func (m *Manager) ResolvePlaybackURL(ctx context.Context, track models.Track) (PlaybackURL, error) {
	record, err := m.db.GetOfflineTrack(ctx, track.ID)
	if err == nil && m.fs.Exists(record.LocalPath) {
		return PlaybackURL{URL: "file://" + record.LocalPath, Offline: true}, nil
	}
	if err != nil && !stderrors.Is(err, errors.ErrOfflineTrackNotFound) {
		return PlaybackURL{}, err
	}

	url, err := m.remote.PublicURL(track)
	if err != nil {
		return PlaybackURL{}, err
	}
	return PlaybackURL{URL: url}, nil
}

// Close stops every worker and the event loop. Live tasks are abandoned; their partial
// files are cleaned up by the next refresh.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.queue = m.queue[:0]
		m.mu.Unlock()

		m.cancelBase()
		m.workers.Wait()
		close(m.events)
		<-m.loopDone

		m.subsMu.Lock()
		for id, ch := range m.subscribers {
			close(ch)
			delete(m.subscribers, id)
		}
		m.subsMu.Unlock()

		logutils.Log.Info("Download manager stopped")
	})
}

func (*Manager) Name() string {
	return "download-manager"
}

func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
