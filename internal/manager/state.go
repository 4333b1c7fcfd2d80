package manager

import (
	"path/filepath"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/filesystem"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/utils"
)

// TracksDir is where offline copies live inside the offline directory.
func TracksDir(offlineDir string) string {
	return filepath.Join(offlineDir, TracksDirName)
}

func (m *Manager) finalPath(trackID string) (string, error) {
	name, err := utils.TrackFileName(trackID, TrackFileExt)
	if err != nil {
		return "", errors.ErrInvalidTrack.WithCause(err)
	}
	return filepath.Join(m.opts.TracksDir, name), nil
}

func partPath(finalPath string) string {
	return finalPath + filesystem.PartSuffix
}

// transitionLocked moves t to next if the state machine allows it.
func (m *Manager) transitionLocked(t *task, next models.TaskState) error {
	prev := t.info.State
	if !prev.CanTransitionTo(next) {
		return errors.ErrInvalidState.WithDetails(map[string]any{
			"track_id": t.info.TrackID,
			"from":     prev,
			"to":       next,
		})
	}
	t.info.State = next
	t.info.UpdatedAt = time.Now()

	logutils.Log.WithFields(map[string]any{
		"track_id": t.info.TrackID,
		"from":     prev,
		"to":       next,
	}).Debug("Task state changed")

	m.publishLocked(t)
	return nil
}

// failLocked records err on t, releases its reservation and keeps it for inspection.
func (m *Manager) failLocked(t *task, err error) {
	if transitionErr := m.transitionLocked(t, models.StateFailed); transitionErr != nil {
		logutils.Log.WithError(transitionErr).WithField("track_id", t.info.TrackID).Warn("Cannot mark task failed")
		return
	}

	msg := err.Error()
	t.info.LastError = &msg
	m.quota.Release(t.info.ReservedBytes)
	t.info.ReservedBytes = 0
	t.worker = nil
	m.removeFromQueueLocked(t.info.TrackID)

	if removeErr := m.fs.RemoveFile(partPath(t.info.LocalPath)); removeErr != nil {
		logutils.Log.WithError(removeErr).WithField("track_id", t.info.TrackID).Warn("Failed to remove partial file")
	}

	m.metrics.IncrementCounter(MetricDownloadsFailed, map[string]string{"code": errorCode(err)})
	m.notifier.OnFailed(t.info.TrackID, err)
}

// errorCode labels err by its domain code, "internal" for anything else.
func errorCode(err error) string {
	if domainErr, ok := errors.As(err); ok {
		return domainErr.Code
	}
	return "internal"
}

// dropLocked removes t from the registry and the queue, releasing any reservation.
func (m *Manager) dropLocked(t *task) {
	m.removeFromQueueLocked(t.info.TrackID)
	m.quota.Release(t.info.ReservedBytes)
	t.info.ReservedBytes = 0
	delete(m.tasks, t.info.TrackID)
}

// liveTaskLocked returns the task for trackID while it is still charged against the quota.
func (m *Manager) liveTaskLocked(trackID string) (*task, bool) {
	t, ok := m.tasks[trackID]
	if !ok || !t.info.State.HoldsReservation() {
		return nil, false
	}
	return t, true
}

func snapshot(t *task) models.DownloadTask {
	info := t.info
	if t.info.LastError != nil {
		msg := *t.info.LastError
		info.LastError = &msg
	}
	if t.info.Track.Duration != nil {
		d := *t.info.Track.Duration
		info.Track.Duration = &d
	}
	return info
}

func progressOf(t *task) models.Progress {
	return models.Progress{
		TrackID:            t.info.TrackID,
		State:              t.info.State,
		BytesDownloaded:    t.info.BytesDownloaded,
		TotalBytesEstimate: t.info.TotalBytesEstimate,
	}
}
