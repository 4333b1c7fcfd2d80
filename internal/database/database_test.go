package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Robitch/Robify-sub001/internal/config"
	domainerrors "github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	s, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func offlineTrack(id string, size int64) *models.OfflineTrack {
	return &models.OfflineTrack{
		TrackID:      id,
		LocalPath:    "/offline/" + id + ".audio",
		SizeBytes:    size,
		Quality:      models.QualityHigh,
		DownloadedAt: time.Now(),
	}
}

func TestOfflineTracks_AddGetList(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	if err := s.AddOfflineTrack(ctx, offlineTrack("a", 100)); err != nil {
		t.Fatalf("AddOfflineTrack: %v", err)
	}
	if err := s.AddOfflineTrack(ctx, offlineTrack("b", 250)); err != nil {
		t.Fatalf("AddOfflineTrack: %v", err)
	}

	got, err := s.GetOfflineTrack(ctx, "a")
	if err != nil {
		t.Fatalf("GetOfflineTrack: %v", err)
	}
	if got.SizeBytes != 100 || got.Quality != models.QualityHigh {
		t.Errorf("GetOfflineTrack = %+v", got)
	}

	list, err := s.ListOfflineTracks(ctx)
	if err != nil {
		t.Fatalf("ListOfflineTracks: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(list))
	}

	total, err := s.TotalOfflineSize(ctx)
	if err != nil {
		t.Fatalf("TotalOfflineSize: %v", err)
	}
	if total != 350 {
		t.Errorf("TotalOfflineSize = %d, want 350", total)
	}
}

func TestOfflineTracks_AddReplacesExisting(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	if err := s.AddOfflineTrack(ctx, offlineTrack("a", 100)); err != nil {
		t.Fatal(err)
	}
	if err := s.AddOfflineTrack(ctx, offlineTrack("a", 300)); err != nil {
		t.Fatalf("second AddOfflineTrack: %v", err)
	}

	got, err := s.GetOfflineTrack(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.SizeBytes != 300 {
		t.Errorf("SizeBytes = %d, want 300", got.SizeBytes)
	}
}

func TestOfflineTracks_NotFound(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	_, err := s.GetOfflineTrack(ctx, "missing")
	if !errors.Is(err, domainerrors.ErrOfflineTrackNotFound) {
		t.Errorf("GetOfflineTrack: expected ErrOfflineTrackNotFound, got %v", err)
	}

	err = s.UpdateOfflineTrackSize(ctx, "missing", 10)
	if !errors.Is(err, domainerrors.ErrOfflineTrackNotFound) {
		t.Errorf("UpdateOfflineTrackSize: expected ErrOfflineTrackNotFound, got %v", err)
	}

	exists, err := s.OfflineTrackExists(ctx, "missing")
	if err != nil || exists {
		t.Errorf("OfflineTrackExists = (%v, %v), want (false, nil)", exists, err)
	}

	if err := s.RemoveOfflineTrack(ctx, "missing"); err != nil {
		t.Errorf("RemoveOfflineTrack on missing record: %v", err)
	}
}

func TestOfflineTracks_UpdateAndRemove(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.AddOfflineTrack(ctx, offlineTrack(id, 10)); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.UpdateOfflineTrackSize(ctx, "b", 42); err != nil {
		t.Fatalf("UpdateOfflineTrackSize: %v", err)
	}
	if err := s.RemoveOfflineTrack(ctx, "a"); err != nil {
		t.Fatalf("RemoveOfflineTrack: %v", err)
	}

	total, _ := s.TotalOfflineSize(ctx)
	if total != 52 {
		t.Errorf("TotalOfflineSize = %d, want 52", total)
	}

	if err := s.RemoveAllOfflineTracks(ctx); err != nil {
		t.Fatalf("RemoveAllOfflineTracks: %v", err)
	}
	total, _ = s.TotalOfflineSize(ctx)
	if total != 0 {
		t.Errorf("TotalOfflineSize after RemoveAll = %d, want 0", total)
	}
}

func TestSettings_SeedAndSave(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	defaults := models.Settings{
		MaxOfflineSize:     1000,
		DownloadOnlyOnWifi: true,
		DownloadQuality:    models.QualityStandard,
	}

	got, err := s.LoadSettings(ctx, defaults)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.MaxOfflineSize != 1000 || !got.DownloadOnlyOnWifi {
		t.Errorf("seeded settings = %+v", got)
	}

	got.DownloadOnlyOnWifi = false
	got.DownloadQuality = models.QualityLossless
	if err := s.SaveSettings(ctx, &got); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	// Stored row wins over new defaults.
	reloaded, err := s.LoadSettings(ctx, defaults)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if reloaded.DownloadOnlyOnWifi {
		t.Error("DownloadOnlyOnWifi=false was not persisted")
	}
	if reloaded.DownloadQuality != models.QualityLossless {
		t.Errorf("DownloadQuality = %q, want lossless", reloaded.DownloadQuality)
	}
}

func TestNewDatabase_FileBacked(t *testing.T) {
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "nested", "offline.db")}

	db, err := NewDatabase(cfg)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer db.Close()

	if err := db.AddOfflineTrack(context.Background(), offlineTrack("x", 1)); err != nil {
		t.Errorf("AddOfflineTrack on file database: %v", err)
	}
}
