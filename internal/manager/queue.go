package manager

import (
	"context"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
)

// ProcessQueue starts queued work while worker slots are free and transfers are allowed.
// It is safe to call at any time; without eligibility it does nothing.
func (m *Manager) ProcessQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processQueueLocked()
}

func (m *Manager) processQueueLocked() {
	if m.closed || len(m.queue) == 0 {
		return
	}
	if !m.network.CanTransfer(m.settings) {
		logutils.Log.WithField("queued", len(m.queue)).Debug("Transfers not allowed on current network, queue held")
		return
	}

	for len(m.queue) > 0 {
		if !m.slots.TryAcquire(1) {
			return
		}

		trackID := m.queue[0]
		m.queue = m.queue[1:]

		t, ok := m.tasks[trackID]
		if !ok {
			m.slots.Release(1)
			continue
		}
		t.queued = false

		if err := m.revalidateLocked(t); err != nil {
			m.slots.Release(1)
			logutils.Log.WithError(err).WithField("track_id", trackID).Warn("Queued task no longer admissible")
			if t.info.State == models.StateQueued {
				m.failLocked(t, err)
			} else {
				t.resumeRequested = false
			}
			continue
		}

		m.startWorkerLocked(t)
	}
}

// revalidateLocked repeats the admission checks that can change while a task waits.
func (m *Manager) revalidateLocked(t *task) error {
	switch {
	case t.info.State == models.StateQueued:
	case t.info.State == models.StatePaused && t.resumeRequested:
		if !m.quota.CanAdmit(0) {
			return errors.ErrInsufficientSpace.WithDetails(map[string]any{"track_id": t.info.TrackID})
		}
		return nil
	default:
		return errors.ErrInvalidState.WithDetails(map[string]any{
			"track_id": t.info.TrackID,
			"state":    t.info.State,
		})
	}

	offline, err := m.db.OfflineTrackExists(context.Background(), t.info.TrackID)
	if err != nil {
		return errors.WrapDomainError(err, errors.ErrorTypeDatabase, "lookup_failed", "failed to check offline tracks")
	}
	if offline {
		return errors.ErrAlreadyOffline.WithDetails(map[string]any{"track_id": t.info.TrackID})
	}
	return nil
}

// startWorkerLocked moves t to downloading and launches its transfer. The caller holds a slot.
func (m *Manager) startWorkerLocked(t *task) {
	trackID := t.info.TrackID
	url, err := m.remote.PublicURL(t.info.Track)
	if err != nil {
		m.slots.Release(1)
		if t.info.State == models.StateQueued {
			m.failLocked(t, err)
		}
		return
	}

	resume := t.info.State == models.StatePaused
	if err := m.transitionLocked(t, models.StateDownloading); err != nil {
		m.slots.Release(1)
		logutils.Log.WithError(err).WithField("track_id", trackID).Error("Cannot start transfer")
		return
	}

	m.attempts++
	ctx, cancel := context.WithCancel(m.baseCtx)
	handle := &workerHandle{
		attempt: m.attempts,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var prevDone <-chan struct{}
	if prev, ok := m.lastWorker[trackID]; ok {
		prevDone = prev.done
	}
	m.lastWorker[trackID] = handle

	t.worker = handle
	t.resumeRequested = false
	t.pausedByNetwork = false

	j := job{
		trackID:   trackID,
		attempt:   handle.attempt,
		url:       url,
		finalPath: t.info.LocalPath,
		partPath:  partPath(t.info.LocalPath),
		resume:    resume,
		estimate:  t.info.TotalBytesEstimate,
		handle:    handle,
		prevDone:  prevDone,
	}

	m.workers.Add(1)
	go m.runWorker(ctx, j)

	logutils.Log.WithFields(map[string]any{
		"track_id": trackID,
		"attempt":  handle.attempt,
		"resume":   resume,
	}).Info("Transfer started")
	m.notifier.OnStarted(trackID, t.info.BytesDownloaded)
}

// requestResumeLocked puts a paused task at the head of the queue.
func (m *Manager) requestResumeLocked(t *task) {
	if t.queued {
		return
	}
	t.resumeRequested = true
	t.queued = true
	m.queue = append([]string{t.info.TrackID}, m.queue...)
}

func (m *Manager) removeFromQueueLocked(trackID string) bool {
	for i, id := range m.queue {
		if id == trackID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			if t, ok := m.tasks[trackID]; ok {
				t.queued = false
			}
			return true
		}
	}
	return false
}
