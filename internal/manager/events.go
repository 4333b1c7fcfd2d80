package manager

import (
	"context"
	"time"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/dustin/go-humanize"
)

// eventLoop applies worker reports. It is the only place transfer outcomes change state.
func (m *Manager) eventLoop() {
	defer close(m.loopDone)
	for ev := range m.events {
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev workerEvent) {
	if ev.terminal() {
		m.slots.Release(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.terminal() {
		if h, ok := m.lastWorker[ev.trackID]; ok && h.attempt == ev.attempt {
			delete(m.lastWorker, ev.trackID)
		}
	}

	t, ok := m.tasks[ev.trackID]
	current := ok && t.worker != nil && t.worker.attempt == ev.attempt

	switch ev.kind {
	case eventProgress:
		if current {
			m.applyProgressLocked(t, ev)
		}
	case eventCompleted:
		if current {
			m.completeLocked(t, ev)
		} else {
			m.discardStaleCompletionLocked(ev)
		}
	case eventFailed:
		if current {
			m.handleFailureLocked(t, ev)
		}
	case eventStopped:
		if current {
			t.worker = nil
			if ev.bytes > 0 {
				m.applyProgressLocked(t, ev)
			}
		} else if !ok {
			m.discardCanceledPartLocked(ev)
		}
	}

	if ev.terminal() {
		m.processQueueLocked()
	}
}

func (m *Manager) applyProgressLocked(t *task, ev workerEvent) {
	t.info.BytesDownloaded = ev.bytes
	if ev.total > t.info.TotalBytesEstimate || ev.kind == eventProgress {
		t.info.TotalBytesEstimate = ev.total
	}
	if t.info.TotalBytesEstimate <= t.info.BytesDownloaded {
		t.info.TotalBytesEstimate = t.info.BytesDownloaded + 1
	}
	t.info.Resumed = ev.resumed
	t.info.UpdatedAt = time.Now()
	m.publishLocked(t)
}

// completeLocked turns the reservation into a durable offline record and retires the task.
func (m *Manager) completeLocked(t *task, ev workerEvent) {
	if t.info.State == models.StatePaused {
		logutils.Log.WithField("track_id", t.info.TrackID).Info("Transfer finished before pause took effect, completing")
		t.info.State = models.StateDownloading
	}

	record := &models.OfflineTrack{
		TrackID:      t.info.TrackID,
		LocalPath:    t.info.LocalPath,
		SizeBytes:    ev.bytes,
		Quality:      t.info.Quality,
		DownloadedAt: time.Now(),
	}
	if err := m.db.AddOfflineTrack(context.Background(), record); err != nil {
		if removeErr := m.fs.RemoveFile(t.info.LocalPath); removeErr != nil {
			logutils.Log.WithError(removeErr).WithField("track_id", t.info.TrackID).Warn("Failed to remove unrecorded file")
		}
		m.failLocked(t, err)
		return
	}

	m.quota.Commit(t.info.ReservedBytes, ev.bytes)
	t.info.ReservedBytes = 0
	t.info.BytesDownloaded = ev.bytes
	t.info.TotalBytesEstimate = ev.bytes
	t.worker = nil
	if err := m.transitionLocked(t, models.StateCompleted); err != nil {
		logutils.Log.WithError(err).WithField("track_id", t.info.TrackID).Error("Unexpected state on completion")
	}
	delete(m.tasks, t.info.TrackID)

	elapsed := time.Since(t.info.CreatedAt)
	labels := map[string]string{"quality": string(t.info.Quality)}
	m.metrics.AddCounter(MetricBytesDownloaded, ev.bytes, nil)
	m.metrics.RecordDuration(MetricDownloadDuration, elapsed, labels)
	m.metrics.IncrementCounter(MetricDownloadsCompleted, labels)

	logutils.Log.WithFields(map[string]any{
		"track_id": t.info.TrackID,
		"size":     humanize.IBytes(uint64(ev.bytes)),
		"elapsed":  elapsed.Round(time.Millisecond),
	}).Info("Download completed")
	m.notifier.OnCompleted(t.info.TrackID, ev.bytes)
}

// discardCanceledPartLocked removes the partial file of a task canceled while its worker
// was already stopping. A newer attempt for the same track owns the file instead.
func (m *Manager) discardCanceledPartLocked(ev workerEvent) {
	if _, newer := m.lastWorker[ev.trackID]; newer {
		return
	}
	path, err := m.finalPath(ev.trackID)
	if err != nil {
		return
	}
	if err := m.fs.RemoveFile(partPath(path)); err != nil {
		logutils.Log.WithError(err).WithField("track_id", ev.trackID).Warn("Failed to remove partial file")
	}
}

// discardStaleCompletionLocked removes a file finalized after its task was canceled.
func (m *Manager) discardStaleCompletionLocked(ev workerEvent) {
	if _, live := m.tasks[ev.trackID]; live {
		return
	}
	offline, err := m.db.OfflineTrackExists(context.Background(), ev.trackID)
	if err != nil || offline {
		return
	}
	path, err := m.finalPath(ev.trackID)
	if err != nil {
		return
	}
	if err := m.fs.RemoveFile(path); err != nil {
		logutils.Log.WithError(err).WithField("track_id", ev.trackID).Warn("Failed to remove canceled file")
	}
}

func (m *Manager) handleFailureLocked(t *task, ev workerEvent) {
	if t.info.State == models.StatePaused {
		// Paused while failing: stay paused so a resume retries.
		t.worker = nil
		if ev.bytes > 0 {
			m.applyProgressLocked(t, ev)
		}
		return
	}
	if ev.networkChecked && !m.network.CanTransfer(m.settings) {
		logutils.Log.WithError(ev.err).WithFields(map[string]any{
			"track_id":   t.info.TrackID,
			"downloaded": humanize.IBytes(uint64(ev.bytes)),
		}).Info("Transfer interrupted by network loss, pausing")
		if ev.bytes > 0 {
			m.applyProgressLocked(t, ev)
		}
		if err := m.pauseLocked(t, true); err == nil {
			t.worker = nil
			return
		}
	}
	logutils.Log.WithError(ev.err).WithFields(map[string]any{
		"track_id":   t.info.TrackID,
		"downloaded": humanize.IBytes(uint64(ev.bytes)),
	}).Warn("Transfer failed")
	m.failLocked(t, ev.err)
}
