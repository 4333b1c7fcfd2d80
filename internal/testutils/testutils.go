package testutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/database"
	"github.com/Robitch/Robify-sub001/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	tickerInterval = 5 * time.Millisecond
	testFileMode   = 0o600
	byteRange      = 256
)

// TestConfig creates a configuration suitable for testing
func TestConfig(tempDir string) *config.Config {
	return &config.Config{
		OfflineDir:      tempDir,
		DBPath:          filepath.Join(tempDir, config.DefaultDBFileName),
		LogLevel:        "debug",
		APIListenAddr:   "127.0.0.1:0",
		ShutdownTimeout: 5 * time.Second,
		MetricsInterval: time.Second,

		Settings: models.Settings{
			MaxOfflineSize:     config.DefaultMaxOfflineSize,
			DownloadOnlyOnWifi: true,
			DownloadQuality:    models.QualityStandard,
		},

		DownloadSettings: config.DownloadConfig{
			MaxConcurrentDownloads: 1,
			DownloadTimeout:        30 * time.Second,
			ProgressUpdateInterval: time.Nanosecond,
		},

		NetworkSettings: config.NetworkConfig{
			PollInterval: time.Hour,
		},
	}
}

// TestDatabase creates a migrated in-memory SQLite database for testing
func TestDatabase(t *testing.T) database.Database {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	testDB, err := database.NewWithDB(db)
	if err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	return testDB
}

// TestData returns size deterministic bytes.
func TestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % byteRange)
	}
	return data
}

// CreateTestDataFile creates a test data file with specified size
func CreateTestDataFile(t *testing.T, dir, name string, size int) string {
	t.Helper()

	filePath := filepath.Join(dir, name)
	if err := os.WriteFile(filePath, TestData(size), testFileMode); err != nil {
		t.Fatalf("Failed to create test data file: %v", err)
	}
	return filePath
}

// AssertFileExists checks if a file exists
func AssertFileExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Expected file %s to exist, but it doesn't", path)
	}
}

// AssertFileNotExists checks if a file doesn't exist
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()

	if _, err := os.Stat(path); err == nil {
		t.Errorf("Expected file %s to not exist, but it does", path)
	}
}

// WaitForCondition waits for a condition to be true or times out
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}
