package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
	"gorm.io/gorm"
)

const settingsRowID = 1

func (s *SQLiteDatabase) LoadSettings(ctx context.Context, defaults models.Settings) (models.Settings, error) {
	var settings models.Settings
	result := s.db.WithContext(ctx).First(&settings, settingsRowID)
	if result.Error == nil {
		return settings, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.Settings{}, fmt.Errorf("failed to load settings: %w", result.Error)
	}

	settings = defaults
	settings.ID = settingsRowID
	if err := s.db.WithContext(ctx).Create(&settings).Error; err != nil {
		return models.Settings{}, fmt.Errorf("failed to seed settings: %w", err)
	}

	logutils.Log.WithFields(map[string]any{
		"max_offline_size":      settings.MaxOfflineSize,
		"download_only_on_wifi": settings.DownloadOnlyOnWifi,
		"download_quality":      settings.DownloadQuality,
	}).Info("Seeded default settings")
	return settings, nil
}

// SaveSettings writes every column, including false and zero values.
func (s *SQLiteDatabase) SaveSettings(ctx context.Context, settings *models.Settings) error {
	settings.ID = settingsRowID
	if err := s.db.WithContext(ctx).Save(settings).Error; err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
