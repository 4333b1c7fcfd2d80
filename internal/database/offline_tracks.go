package database

import (
	"context"
	"errors"

	domainerrors "github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddOfflineTrack inserts the record or replaces an existing one for the same track.
func (s *SQLiteDatabase) AddOfflineTrack(ctx context.Context, track *models.OfflineTrack) error {
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(track)
	if result.Error != nil {
		return domainerrors.WrapDomainError(result.Error, domainerrors.ErrorTypeDatabase,
			"add_offline_track_failed", "failed to save offline track").
			WithDetails(map[string]any{"track_id": track.TrackID})
	}
	return nil
}

func (s *SQLiteDatabase) GetOfflineTrack(ctx context.Context, trackID string) (models.OfflineTrack, error) {
	var track models.OfflineTrack
	result := s.db.WithContext(ctx).Where("track_id = ?", trackID).First(&track)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return models.OfflineTrack{}, domainerrors.ErrOfflineTrackNotFound.WithDetails(map[string]any{
				"track_id": trackID,
			})
		}
		return models.OfflineTrack{}, result.Error
	}
	return track, nil
}

func (s *SQLiteDatabase) OfflineTrackExists(ctx context.Context, trackID string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&models.OfflineTrack{}).Where("track_id = ?", trackID).Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

func (s *SQLiteDatabase) ListOfflineTracks(ctx context.Context) ([]models.OfflineTrack, error) {
	var tracks []models.OfflineTrack
	result := s.db.WithContext(ctx).Order("downloaded_at ASC").Find(&tracks)
	if result.Error != nil {
		return nil, result.Error
	}
	return tracks, nil
}

func (s *SQLiteDatabase) TotalOfflineSize(ctx context.Context) (int64, error) {
	var total int64
	result := s.db.WithContext(ctx).Model(&models.OfflineTrack{}).
		Select("COALESCE(SUM(size_bytes), 0)").Scan(&total)
	if result.Error != nil {
		return 0, result.Error
	}
	return total, nil
}

func (s *SQLiteDatabase) UpdateOfflineTrackSize(ctx context.Context, trackID string, sizeBytes int64) error {
	result := s.db.WithContext(ctx).Model(&models.OfflineTrack{}).
		Where("track_id = ?", trackID).Update("size_bytes", sizeBytes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrOfflineTrackNotFound.WithDetails(map[string]any{"track_id": trackID})
	}
	return nil
}

// RemoveOfflineTrack is a no-op when no record exists.
func (s *SQLiteDatabase) RemoveOfflineTrack(ctx context.Context, trackID string) error {
	result := s.db.WithContext(ctx).Where("track_id = ?", trackID).Delete(&models.OfflineTrack{})
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (s *SQLiteDatabase) RemoveAllOfflineTracks(ctx context.Context) error {
	result := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.OfflineTrack{})
	if result.Error != nil {
		return result.Error
	}
	return nil
}
