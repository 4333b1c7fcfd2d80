package database

import (
	"context"

	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
)

// OfflineTrackReader is the read-only subset of offline track data. Use in queries and the API.
type OfflineTrackReader interface {
	GetOfflineTrack(ctx context.Context, trackID string) (models.OfflineTrack, error)
	OfflineTrackExists(ctx context.Context, trackID string) (bool, error)
	ListOfflineTracks(ctx context.Context) ([]models.OfflineTrack, error)
	TotalOfflineSize(ctx context.Context) (int64, error)
}

// OfflineTrackWriter is the write subset for offline tracks.
type OfflineTrackWriter interface {
	AddOfflineTrack(ctx context.Context, track *models.OfflineTrack) error
	UpdateOfflineTrackSize(ctx context.Context, trackID string, sizeBytes int64) error
	RemoveOfflineTrack(ctx context.Context, trackID string) error
	RemoveAllOfflineTracks(ctx context.Context) error
}

// SettingsStore persists the single settings row.
type SettingsStore interface {
	// LoadSettings returns the stored row, seeding it from defaults on first use.
	LoadSettings(ctx context.Context, defaults models.Settings) (models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
}

// Database is the full storage interface.
type Database interface {
	Init(cfg *config.Config) error
	Close() error
	OfflineTrackReader
	OfflineTrackWriter
	SettingsStore
}

func NewDatabase(cfg *config.Config) (Database, error) {
	database := NewSQLiteDatabase()
	if err := database.Init(cfg); err != nil {
		logutils.Log.WithError(err).Error("Failed to initialize the database")
		return nil, err
	}

	logutils.Log.WithField("path", cfg.DBPath).Info("Database initialized successfully")
	return database, nil
}
