package manager

import (
	"sort"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/network"
)

// handleNetworkChange runs on the monitor's listener goroutine. The arguments are only
// logged; eligibility is always taken from the current snapshot.
func (m *Manager) handleNetworkChange(prev, curr network.Status) {
	logutils.Log.WithFields(map[string]any{
		"from": prev.Type,
		"to":   curr.Type,
	}).Debug("Re-evaluating downloads after network change")

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.applyEligibilityLocked()
}

// applyEligibilityLocked pauses every transfer when the network no longer qualifies and
// resumes the ones it paused when it does again.
func (m *Manager) applyEligibilityLocked() {
	if !m.network.CanTransfer(m.settings) {
		paused := 0
		for _, t := range m.tasks {
			if t.info.State != models.StateDownloading {
				continue
			}
			if err := m.pauseLocked(t, true); err != nil {
				logutils.Log.WithError(err).WithField("track_id", t.info.TrackID).Warn("Failed to pause on network loss")
				continue
			}
			paused++
		}
		if paused > 0 {
			logutils.Log.WithField("paused", paused).Info("Network not eligible, downloads paused")
		}
		return
	}

	var resumable []*task
	for _, t := range m.tasks {
		if t.info.State == models.StatePaused && t.pausedByNetwork && !t.queued {
			resumable = append(resumable, t)
		}
	}
	// Newest first so that after prepending the oldest runs first.
	sort.Slice(resumable, func(i, j int) bool {
		return resumable[i].info.CreatedAt.After(resumable[j].info.CreatedAt)
	})
	for _, t := range resumable {
		m.requestResumeLocked(t)
	}
	if len(resumable) > 0 {
		logutils.Log.WithField("resumed", len(resumable)).Info("Network eligible again, resuming paused downloads")
	}

	m.processQueueLocked()
}
