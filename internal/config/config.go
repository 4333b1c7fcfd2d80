package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/utils"
)

const (
	DefaultMaxOfflineSize         = 2 << 30 // 2 GiB
	DefaultMaxConcurrentDownloads = 2
	DefaultNetworkPollInterval    = 10 * time.Second
	DefaultProgressUpdateInterval = 500 * time.Millisecond
	DefaultDownloadTimeout        = 0 // 0 means no timeout
	DefaultShutdownTimeout        = 30 * time.Second
	DefaultMetricsInterval        = 30 * time.Second
	DefaultAPIListenAddr          = "127.0.0.1:8090"
	DefaultDBFileName             = "offline.db"
)

type Config struct {
	OfflineDir      string
	DBPath          string
	LogLevel        string
	StorageBaseURL  string
	APIListenAddr   string
	APIKey          string
	ShutdownTimeout time.Duration
	MetricsInterval time.Duration

	// Defaults for the persisted settings row; the stored row wins once it exists.
	Settings models.Settings

	DownloadSettings DownloadConfig
	NetworkSettings  NetworkConfig
}

type DownloadConfig struct {
	MaxConcurrentDownloads int
	DownloadTimeout        time.Duration
	ProgressUpdateInterval time.Duration
	RateLimitKbps          int
}

type NetworkConfig struct {
	PollInterval     time.Duration
	ConnectivityURL  string
	ConnectivityWait time.Duration
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func NewConfig() (*Config, error) {
	config := &Config{
		OfflineDir:      getEnv("OFFLINE_DIR", ""),
		DBPath:          getEnv("DB_PATH", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		StorageBaseURL:  strings.TrimRight(getEnv("STORAGE_BASE_URL", ""), "/"),
		APIListenAddr:   getEnv("API_LISTEN_ADDR", DefaultAPIListenAddr),
		APIKey:          getEnv("API_KEY", ""),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		MetricsInterval: getEnvDuration("METRICS_INTERVAL", DefaultMetricsInterval),

		Settings: models.Settings{
			MaxOfflineSize:     getEnvInt64("MAX_OFFLINE_SIZE", DefaultMaxOfflineSize),
			DownloadOnlyOnWifi: getEnvBool("DOWNLOAD_ONLY_ON_WIFI", true),
			DownloadQuality:    models.Quality(utils.NormalizeEnum(getEnv("DOWNLOAD_QUALITY", string(models.QualityStandard)))),
		},

		DownloadSettings: DownloadConfig{
			MaxConcurrentDownloads: getEnvInt("MAX_CONCURRENT_DOWNLOADS", DefaultMaxConcurrentDownloads),
			DownloadTimeout:        getEnvDuration("DOWNLOAD_TIMEOUT", DefaultDownloadTimeout),
			ProgressUpdateInterval: getEnvDuration("PROGRESS_UPDATE_INTERVAL", DefaultProgressUpdateInterval),
			RateLimitKbps:          getEnvInt("DOWNLOAD_RATE_LIMIT_KBPS", 0),
		},

		NetworkSettings: NetworkConfig{
			PollInterval:     getEnvDuration("NETWORK_POLL_INTERVAL", DefaultNetworkPollInterval),
			ConnectivityURL:  getEnv("CONNECTIVITY_CHECK_URL", ""),
			ConnectivityWait: getEnvDuration("CONNECTIVITY_CHECK_TIMEOUT", 5*time.Second),
		},
	}

	if getEnv("RUNNING_IN_DOCKER", "false") == "true" {
		config.OfflineDir = "/app/offline"
		log.Printf("Running inside Docker, setting OFFLINE_DIR to %s", config.OfflineDir)
	}

	if config.DBPath == "" && config.OfflineDir != "" {
		config.DBPath = filepath.Join(config.OfflineDir, DefaultDBFileName)
	}

	if err := config.validate(); err != nil {
		log.Printf("Configuration validation failed: %v", err)
		return nil, utils.WrapError(err, "configuration validation failed", map[string]any{
			"offline_dir": config.OfflineDir,
		})
	}

	log.Println("Configuration loaded successfully")
	return config, nil
}

func (c *Config) GetDownloadSettings() DownloadConfig {
	return c.DownloadSettings
}

func (c *Config) GetNetworkSettings() NetworkConfig {
	return c.NetworkSettings
}
