package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Robitch/Robify-sub001/internal/config"
	"github.com/Robitch/Robify-sub001/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const dbDirPerm = 0o755

type SQLiteDatabase struct {
	db *gorm.DB
}

func NewSQLiteDatabase() *SQLiteDatabase {
	return &SQLiteDatabase{}
}

// NewWithDB wraps an already opened connection and migrates it. Used with in-memory databases in tests.
func NewWithDB(db *gorm.DB) (*SQLiteDatabase, error) {
	s := &SQLiteDatabase{db: db}
	if err := s.configure(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDatabase) Init(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), dbDirPerm); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	s.db = db
	return s.configure()
}

func (s *SQLiteDatabase) configure() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := s.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) runMigrations() error {
	if err := s.db.AutoMigrate(&models.OfflineTrack{}, &models.Settings{}); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	return sqlDB.Close()
}
