package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Robitch/Robify-sub001/internal/core/domain"
	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/natefinch/atomic"
	"github.com/shirou/gopsutil/v3/disk"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// PartSuffix marks files that are still being transferred.
	PartSuffix = ".part"
)

// OSFileSystem implements the offline directory on the host filesystem.
type OSFileSystem struct{}

func NewOSFileSystem() domain.FileSystemInterface {
	return &OSFileSystem{}
}

func fsError(err error, code, message string, details map[string]any) error {
	return errors.WrapDomainError(err, errors.ErrorTypeFileSystem, code, message).WithDetails(details)
}

func (*OSFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func (*OSFileSystem) CreateDir(path string) error {
	if err := os.MkdirAll(path, dirPerm); err != nil {
		return fsError(err, "create_dir_failed", "failed to create directory", map[string]any{
			"path": path,
		})
	}
	return nil
}

// RemoveFile treats a missing file as already removed.
func (*OSFileSystem) RemoveFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fsError(err, "remove_file_failed", "failed to remove file", map[string]any{
			"path": path,
		})
	}
	return nil
}

// ListFiles returns the regular files directly inside dir.
func (*OSFileSystem) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError(err, "list_files_failed", "failed to list files", map[string]any{
			"dir": dir,
		})
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func (*OSFileSystem) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fsError(err, "get_file_size_failed", "failed to get file size", map[string]any{
			"path": path,
		})
	}
	return info.Size(), nil
}

func (*OSFileSystem) OpenPartial(path string, offset int64) (io.WriteCloser, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, filePerm)
	if err != nil {
		return nil, fsError(err, "open_partial_failed", "failed to open partial file", map[string]any{
			"path": path,
		})
	}

	if offset > 0 {
		// Drop anything past offset so a short earlier write cannot leave stale bytes.
		if err := f.Truncate(offset); err != nil {
			f.Close()
			return nil, fsError(err, "open_partial_failed", "failed to truncate partial file", map[string]any{
				"path":   path,
				"offset": offset,
			})
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fsError(err, "open_partial_failed", "failed to seek partial file", map[string]any{
				"path":   path,
				"offset": offset,
			})
		}
	}
	return f, nil
}

// Finalize renames partPath over finalPath. If the rename is refused the content is
// copied atomically and the partial file removed.
func (fs *OSFileSystem) Finalize(partPath, finalPath string) error {
	err := atomic.ReplaceFile(partPath, finalPath)
	if err == nil {
		return nil
	}

	logutils.Log.WithError(err).WithField("path", finalPath).Warn("Atomic rename failed, falling back to copy")
	if copyErr := fs.CopyFile(partPath, finalPath); copyErr != nil {
		return fsError(copyErr, "finalize_failed", "failed to finalize file", map[string]any{
			"part_path":  partPath,
			"final_path": finalPath,
		})
	}
	return fs.RemoveFile(partPath)
}

// CopyFile writes src to dst through a temporary file so dst is never observed half-written.
func (*OSFileSystem) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fsError(err, "copy_file_failed", "failed to open source file", map[string]any{
			"src": src,
		})
	}
	defer in.Close()

	if err := atomic.WriteFile(dst, in); err != nil {
		return fsError(err, "copy_file_failed", "failed to copy file", map[string]any{
			"src": src,
			"dst": dst,
		})
	}
	return nil
}

func (*OSFileSystem) FreeSpace(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fsError(err, "disk_usage_failed", "failed to read disk usage", map[string]any{
			"dir": dir,
		})
	}
	return usage.Free, nil
}
