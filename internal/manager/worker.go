package manager

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/ratelimit"
)

type job struct {
	trackID   string
	attempt   uint64
	url       string
	finalPath string
	partPath  string
	resume    bool
	estimate  int64
	handle    *workerHandle
	prevDone  <-chan struct{}
}

// runWorker performs one transfer attempt and always reports exactly one terminal event.
func (m *Manager) runWorker(ctx context.Context, j job) {
	defer m.workers.Done()
	defer close(j.handle.done)

	// A previous attempt for the same track may still be writing the partial file.
	if j.prevDone != nil {
		select {
		case <-j.prevDone:
		case <-ctx.Done():
		}
	}

	ev := m.transfer(ctx, j)
	if ev.kind == eventFailed && ctx.Err() == nil && stderrors.Is(ev.err, errors.ErrTransferFailed) {
		// A dropped connection usually shows up before the next poll; ask now.
		m.recheckNetwork()
		ev.networkChecked = true
	}
	if ev.kind != eventCompleted && ctx.Err() != nil {
		ev.kind = eventStopped
		ev.err = nil
		if j.handle.discard.Load() {
			if err := m.fs.RemoveFile(j.partPath); err != nil {
				logutils.Log.WithError(err).WithField("track_id", j.trackID).Warn("Failed to remove partial file")
			}
		}
	}

	m.events <- ev
}

func (m *Manager) recheckNetwork() {
	ctx, cancel := context.WithTimeout(m.baseCtx, networkRecheckTimeout)
	defer cancel()
	status := m.network.Refresh(ctx)
	logutils.Log.WithFields(map[string]any{
		"online":          status.Online,
		"connection_type": status.Type,
	}).Debug("Network re-checked after transfer error")
}

func (m *Manager) transfer(ctx context.Context, j job) workerEvent {
	ev := workerEvent{trackID: j.trackID, attempt: j.attempt}
	var written, total int64
	fail := func(err error) workerEvent {
		ev.kind = eventFailed
		ev.err = err
		ev.bytes = written
		ev.total = total
		return ev
	}

	if ctx.Err() != nil {
		return fail(ctx.Err())
	}

	var offset int64
	if j.resume {
		if size, err := m.fs.GetFileSize(j.partPath); err == nil {
			offset = size
		}
	}

	fetchCtx := ctx
	if m.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.opts.DownloadTimeout)
		defer cancel()
	}

	resp, err := m.remote.Fetch(fetchCtx, j.url, offset)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	if offset > 0 && resp.Offset != offset {
		logutils.Log.WithFields(map[string]any{
			"track_id": j.trackID,
			"offset":   offset,
		}).Warn("Remote does not support ranged resume, restarting from zero")
	}
	ev.resumed = resp.Offset > 0

	w, err := m.fs.OpenPartial(j.partPath, resp.Offset)
	if err != nil {
		return fail(err)
	}

	total = j.estimate
	if resp.TotalSize > total {
		total = resp.TotalSize
	}
	written = resp.Offset

	emit := func() {
		// Only completion reports bytes == total.
		if written >= total {
			total = written + 1
		}
		ev.kind = eventProgress
		ev.bytes = written
		ev.total = total
		select {
		case m.events <- ev:
		case <-ctx.Done():
		}
	}
	emit()

	reader := ratelimit.NewReader(fetchCtx, resp.Body, m.limiter)
	buf := make([]byte, transferBufferSize)
	lastEmit := time.Now()

	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				w.Close()
				return fail(errors.ErrTransferFailed.WithCause(writeErr).WithDetails(map[string]any{"path": j.partPath}))
			}
			written += int64(n)
			if time.Since(lastEmit) >= m.opts.ProgressUpdateInterval {
				emit()
				lastEmit = time.Now()
			}
		}
		if stderrors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			w.Close()
			return fail(errors.ErrTransferFailed.WithCause(readErr).WithDetails(map[string]any{"url": j.url}))
		}
	}

	if err := w.Close(); err != nil {
		return fail(errors.ErrTransferFailed.WithCause(err).WithDetails(map[string]any{"path": j.partPath}))
	}
	if ctx.Err() != nil {
		return fail(ctx.Err())
	}
	if resp.TotalSize >= 0 && written != resp.TotalSize {
		return fail(errors.ErrIntegrityMismatch.WithDetails(map[string]any{
			"expected": resp.TotalSize,
			"received": written,
		}))
	}

	if err := m.fs.Finalize(j.partPath, j.finalPath); err != nil {
		return fail(err)
	}

	ev.kind = eventCompleted
	ev.bytes = written
	ev.total = written
	return ev
}
