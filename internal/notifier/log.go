package notifier

import (
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/dustin/go-humanize"
)

// Log writes every event to the process logger.
var Log Notifier = logNotifier{}

type logNotifier struct{}

func (logNotifier) OnQueued(trackID string, position int) {
	logutils.Log.WithFields(map[string]any{"track_id": trackID, "position": position}).Info("Download queued")
}

func (logNotifier) OnStarted(trackID string, offset int64) {
	entry := logutils.Log.WithField("track_id", trackID)
	if offset > 0 {
		entry = entry.WithField("offset", humanize.IBytes(uint64(offset)))
	}
	entry.Info("Download started")
}

func (logNotifier) OnPaused(trackID string, bytesDownloaded int64) {
	logutils.Log.WithFields(map[string]any{
		"track_id":   trackID,
		"downloaded": humanize.IBytes(uint64(bytesDownloaded)),
	}).Info("Download paused")
}

func (logNotifier) OnCompleted(trackID string, sizeBytes int64) {
	logutils.Log.WithFields(map[string]any{
		"track_id": trackID,
		"size":     humanize.IBytes(uint64(sizeBytes)),
	}).Info("Track available offline")
}

func (logNotifier) OnFailed(trackID string, err error) {
	logutils.Log.WithError(err).WithField("track_id", trackID).Warn("Download failed")
}

func (logNotifier) OnStopped(trackID string) {
	logutils.Log.WithField("track_id", trackID).Info("Download canceled")
}
