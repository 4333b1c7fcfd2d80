package config

import (
	"net/url"

	"github.com/Robitch/Robify-sub001/internal/utils"
)

const MaxConcurrentDownloadsLimit = 5

func (c *Config) validate() error {
	if err := c.validateRequiredFields(); err != nil {
		return err
	}
	if err := c.validateSettings(); err != nil {
		return err
	}
	if err := c.validateDownloadSettings(); err != nil {
		return err
	}
	if err := c.validateURLs(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateRequiredFields() error {
	var missingFields []string

	if c.OfflineDir == "" {
		missingFields = append(missingFields, "OFFLINE_DIR")
	}

	if len(missingFields) > 0 {
		return utils.WrapError(utils.ErrConfigurationError, "missing required environment variables", map[string]any{
			"missing_fields": missingFields,
		})
	}

	return nil
}

func (c *Config) validateSettings() error {
	if c.Settings.MaxOfflineSize <= 0 {
		return utils.WrapError(utils.ErrConfigurationError, "MAX_OFFLINE_SIZE must be positive", map[string]any{
			"max_offline_size": c.Settings.MaxOfflineSize,
		})
	}

	if !c.Settings.DownloadQuality.IsValid() {
		return utils.WrapError(utils.ErrConfigurationError, "DOWNLOAD_QUALITY must be standard, high or lossless", map[string]any{
			"download_quality": c.Settings.DownloadQuality,
		})
	}

	return nil
}

func (c *Config) validateDownloadSettings() error {
	if c.DownloadSettings.MaxConcurrentDownloads <= 0 ||
		c.DownloadSettings.MaxConcurrentDownloads > MaxConcurrentDownloadsLimit {
		return utils.WrapError(utils.ErrConfigurationError, "MAX_CONCURRENT_DOWNLOADS out of range", map[string]any{
			"min":    1,
			"max":    MaxConcurrentDownloadsLimit,
			"actual": c.DownloadSettings.MaxConcurrentDownloads,
		})
	}

	if c.DownloadSettings.DownloadTimeout < 0 {
		return utils.WrapError(utils.ErrConfigurationError, "download timeout cannot be negative", nil)
	}

	if c.DownloadSettings.ProgressUpdateInterval <= 0 {
		return utils.WrapError(utils.ErrConfigurationError, "progress update interval must be positive", nil)
	}

	if c.DownloadSettings.RateLimitKbps < 0 {
		return utils.WrapError(utils.ErrConfigurationError, "download rate limit cannot be negative", nil)
	}

	if c.MetricsInterval <= 0 {
		return utils.WrapError(utils.ErrConfigurationError, "METRICS_INTERVAL must be positive", nil)
	}

	if c.NetworkSettings.PollInterval <= 0 {
		return utils.WrapError(utils.ErrConfigurationError, "network poll interval must be positive", nil)
	}

	return nil
}

func (c *Config) validateURLs() error {
	for key, raw := range map[string]string{
		"STORAGE_BASE_URL":       c.StorageBaseURL,
		"CONNECTIVITY_CHECK_URL": c.NetworkSettings.ConnectivityURL,
	} {
		if raw == "" {
			continue
		}
		parsed, err := url.ParseRequestURI(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return utils.WrapError(utils.ErrConfigurationError, "invalid URL", map[string]any{
				"variable": key,
				"value":    raw,
			})
		}
	}
	return nil
}
