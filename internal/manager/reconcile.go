package manager

import (
	"context"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/dustin/go-humanize"
)

// RefreshOfflineStore makes durable records and the tracks directory agree, then rebuilds
// quota usage from the records. Every repair is logged as a warning; none is fatal.
func (m *Manager) RefreshOfflineStore(ctx context.Context) (ReconcileReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := ReconcileReport{
		OrphansRemoved: []string{},
		RecordsPurged:  []string{},
		SizesCorrected: []string{},
	}

	records, err := m.db.ListOfflineTracks(ctx)
	if err != nil {
		return report, errors.WrapDomainError(err, errors.ErrorTypeDatabase, "list_offline_tracks_failed",
			"failed to list offline tracks")
	}

	known := make(map[string]struct{}, len(records))
	var used int64

	for _, record := range records {
		if !m.fs.Exists(record.LocalPath) {
			warning := errors.ErrDanglingRecord.WithDetails(map[string]any{
				"track_id": record.TrackID,
				"path":     record.LocalPath,
			})
			if err := m.db.RemoveOfflineTrack(ctx, record.TrackID); err != nil {
				logutils.Log.WithError(err).WithField("track_id", record.TrackID).Error("Failed to purge dangling record")
				continue
			}
			logutils.Log.WithError(warning).Warn("Purged offline record without file")
			report.RecordsPurged = append(report.RecordsPurged, record.TrackID)
			continue
		}

		known[record.LocalPath] = struct{}{}
		size, err := m.fs.GetFileSize(record.LocalPath)
		if err != nil {
			logutils.Log.WithError(err).WithField("track_id", record.TrackID).Warn("Failed to stat offline file")
			used += record.SizeBytes
			continue
		}
		if size != record.SizeBytes {
			warning := errors.ErrSizeDrift.WithDetails(map[string]any{
				"track_id": record.TrackID,
				"recorded": record.SizeBytes,
				"actual":   size,
			})
			if err := m.db.UpdateOfflineTrackSize(ctx, record.TrackID, size); err != nil {
				logutils.Log.WithError(err).WithField("track_id", record.TrackID).Error("Failed to correct record size")
				used += record.SizeBytes
				continue
			}
			logutils.Log.WithError(warning).Warn("Corrected offline record size")
			report.SizesCorrected = append(report.SizesCorrected, record.TrackID)
		}
		used += size
	}

	// Partial files of live tasks are not orphans.
	for _, t := range m.tasks {
		if !t.info.State.IsTerminal() {
			known[partPath(t.info.LocalPath)] = struct{}{}
			known[t.info.LocalPath] = struct{}{}
		}
	}

	files, err := m.fs.ListFiles(m.opts.TracksDir)
	if err != nil {
		return report, err
	}
	for _, path := range files {
		if _, ok := known[path]; ok {
			continue
		}
		warning := errors.ErrOrphanFile.WithDetails(map[string]any{"path": path})
		if err := m.fs.RemoveFile(path); err != nil {
			logutils.Log.WithError(err).WithField("path", path).Error("Failed to remove orphan file")
			continue
		}
		logutils.Log.WithError(warning).Warn("Removed file without offline record")
		report.OrphansRemoved = append(report.OrphansRemoved, path)
	}

	m.quota.Reset(used)
	report.UsedBytes = used

	logutils.Log.WithFields(map[string]any{
		"records": len(records) - len(report.RecordsPurged),
		"used":    humanize.IBytes(uint64(used)),
		"repairs": report.Repairs(),
	}).Info("Offline store refreshed")

	m.processQueueLocked()
	return report, nil
}
