package models

import (
	"strings"
	"time"

	domainerrors "github.com/Robitch/Robify-sub001/internal/core/errors"
)

// Quality selects the encoding fetched from remote storage. Each quality maps to a fixed
// bitrate used only for size estimation.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
	QualityLossless Quality = "lossless"
)

// Bitrate returns bits per second.
func (q Quality) Bitrate() int64 {
	switch q {
	case QualityStandard:
		return 128_000
	case QualityHigh:
		return 320_000
	case QualityLossless:
		return 1_411_000
	default:
		return 0
	}
}

func (q Quality) IsValid() bool {
	return q.Bitrate() > 0
}

func (q Quality) String() string {
	return string(q)
}

// ParseQuality accepts the enum value case-insensitively.
func ParseQuality(value string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(value)))
	if !q.IsValid() {
		return "", domainerrors.ErrInvalidQuality.WithDetails(map[string]any{"quality": value})
	}
	return q, nil
}

// Track is owned by the remote catalog and read-only here.
type Track struct {
	ID         string   `json:"id"`
	Duration   *float64 `json:"duration,omitempty"` // seconds
	FileURL    string   `json:"file_url"`
	ArtworkURL string   `json:"artwork_url,omitempty"`
}

type TaskState string

const (
	StateQueued      TaskState = "queued"
	StateDownloading TaskState = "downloading"
	StatePaused      TaskState = "paused"
	StateCompleted   TaskState = "completed"
	StateFailed      TaskState = "failed"
	StateCanceled    TaskState = "canceled"
)

var transitions = map[TaskState][]TaskState{
	StateQueued:      {StateDownloading, StateCanceled, StateFailed},
	StateDownloading: {StatePaused, StateCompleted, StateFailed, StateCanceled},
	StatePaused:      {StateDownloading, StateCanceled},
}

// CanTransitionTo reports whether s -> next is an edge of the task state machine.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// HoldsReservation reports whether a task in state s is charged against the quota.
func (s TaskState) HoldsReservation() bool {
	return s == StateQueued || s == StateDownloading || s == StatePaused
}

// DownloadTask is one attempt at making a track available offline.
type DownloadTask struct {
	ID                 string    `json:"id"`
	TrackID            string    `json:"track_id"`
	Track              Track     `json:"track"`
	Quality            Quality   `json:"quality"`
	State              TaskState `json:"state"`
	BytesDownloaded    int64     `json:"bytes_downloaded"`
	TotalBytesEstimate int64     `json:"total_bytes_estimate"`
	ReservedBytes      int64     `json:"-"`
	LocalPath          string    `json:"-"`
	Resumed            bool      `json:"resumed"`
	LastError          *string   `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Progress is the read-only view exposed to observers.
type Progress struct {
	TrackID            string    `json:"track_id"`
	State              TaskState `json:"state"`
	BytesDownloaded    int64     `json:"bytes_downloaded"`
	TotalBytesEstimate int64     `json:"total_bytes_estimate"`
}

// Fraction returns progress in [0, 1].
func (p Progress) Fraction() float64 {
	if p.TotalBytesEstimate <= 0 {
		return 0
	}
	f := float64(p.BytesDownloaded) / float64(p.TotalBytesEstimate)
	if f > 1 {
		f = 1
	}
	return f
}

// OfflineTrack is the durable record of a completed download.
type OfflineTrack struct {
	TrackID      string    `json:"track_id"      gorm:"primaryKey"`
	LocalPath    string    `json:"local_path"    gorm:"not null"`
	SizeBytes    int64     `json:"size_bytes"    gorm:"not null;default:0"`
	Quality      Quality   `json:"quality"       gorm:"not null"`
	DownloadedAt time.Time `json:"downloaded_at" gorm:"not null"`
}

// Settings is the single process-wide preferences row.
type Settings struct {
	ID                 uint      `json:"-"                     gorm:"primaryKey"`
	MaxOfflineSize     int64     `json:"max_offline_size"      gorm:"not null"`
	DownloadOnlyOnWifi bool      `json:"download_only_on_wifi" gorm:"not null"`
	DownloadQuality    Quality   `json:"download_quality"      gorm:"not null"`
	UpdatedAt          time.Time `json:"updated_at"            gorm:"autoUpdateTime"`
}
