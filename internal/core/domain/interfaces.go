package domain

import (
	"context"
	"io"
	"time"

	"github.com/Robitch/Robify-sub001/internal/models"
	"github.com/Robitch/Robify-sub001/internal/network"
)

// FileSystemInterface abstracts the offline directory.
type FileSystemInterface interface {
	Exists(path string) bool
	CreateDir(path string) error
	RemoveFile(path string) error
	ListFiles(dir string) ([]string, error)
	GetFileSize(path string) (int64, error)
	// OpenPartial opens path for writing at offset. Offset zero truncates.
	OpenPartial(path string, offset int64) (io.WriteCloser, error)
	// Finalize atomically moves a completed partial file into place.
	Finalize(partPath, finalPath string) error
	CopyFile(src, dst string) error
	FreeSpace(ctx context.Context, dir string) (uint64, error)
}

// RemoteResponse is an open body from remote storage.
type RemoteResponse struct {
	Body io.ReadCloser
	// Offset is where Body starts. It is zero when the remote ignored the range request.
	Offset int64
	// TotalSize is the full object length, or -1 when unknown.
	TotalSize int64
}

// RemoteStorageInterface is the remote object storage collaborator.
type RemoteStorageInterface interface {
	PublicURL(track models.Track) (string, error)
	Fetch(ctx context.Context, url string, offset int64) (*RemoteResponse, error)
}

// NetworkMonitorInterface is the subset of the network monitor the manager consumes.
type NetworkMonitorInterface interface {
	Snapshot() network.Status
	CanTransfer(settings models.Settings) bool
	Refresh(ctx context.Context) network.Status
	OnChange(l network.Listener)
}

// GracefulShutdownInterface is implemented by every long-lived service.
type GracefulShutdownInterface interface {
	Shutdown(ctx context.Context) error
	Name() string
}

// MetricsInterface records operational metrics.
type MetricsInterface interface {
	IncrementCounter(name string, labels map[string]string)
	AddCounter(name string, delta int64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}
