package manager

import (
	"context"
	"sort"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/models"
)

func (m *Manager) IsTrackDownloaded(ctx context.Context, trackID string) (bool, error) {
	return m.db.OfflineTrackExists(ctx, trackID)
}

// IsTrackDownloading reports whether a live (queued, downloading or paused) task exists.
func (m *Manager) IsTrackDownloading(trackID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveTaskLocked(trackID)
	return ok
}

// GetDownloadProgress returns nil when the track has no task.
func (m *Manager) GetDownloadProgress(trackID string) *models.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[trackID]
	if !ok {
		return nil
	}
	p := progressOf(t)
	return &p
}

func (m *Manager) GetTask(trackID string) (models.DownloadTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[trackID]
	if !ok {
		return models.DownloadTask{}, errors.ErrTaskNotFound.WithDetails(map[string]any{"track_id": trackID})
	}
	return snapshot(t), nil
}

// ListTasks returns every task, failed ones included, oldest first.
func (m *Manager) ListTasks() []models.DownloadTask {
	m.mu.Lock()
	tasks := make([]models.DownloadTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, snapshot(t))
	}
	m.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// DownloadQueue returns the track IDs waiting for a worker slot, in the order they will start.
// Resumed tasks wait at the head, ahead of queued ones.
func (m *Manager) DownloadQueue() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := make([]string, len(m.queue))
	copy(queue, m.queue)
	return queue
}

func (m *Manager) ListOfflineTracks(ctx context.Context) ([]models.OfflineTrack, error) {
	return m.db.ListOfflineTracks(ctx)
}

func (m *Manager) TotalOfflineSize() int64 {
	return m.quota.Used()
}

func (m *Manager) AvailableSpace() int64 {
	return m.quota.Available()
}

func (m *Manager) Storage(ctx context.Context) StorageInfo {
	usage := m.quota.Snapshot()
	info := StorageInfo{
		Limit:     usage.Limit,
		Used:      usage.Used,
		Reserved:  usage.Reserved,
		Available: usage.Available,
	}
	if free, err := m.fs.FreeSpace(ctx, m.opts.TracksDir); err == nil {
		info.DiskFree = free
	}
	if records, err := m.db.ListOfflineTracks(ctx); err == nil {
		info.OfflineTracks = len(records)
	}

	m.mu.Lock()
	for _, t := range m.tasks {
		if !t.info.State.IsTerminal() {
			info.LiveTasks++
		}
	}
	m.mu.Unlock()
	return info
}
