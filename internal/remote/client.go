package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Robitch/Robify-sub001/internal/core/domain"
	"github.com/Robitch/Robify-sub001/internal/core/errors"
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
)

// Client fetches track objects from remote storage over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
}

var _ domain.RemoteStorageInterface = (*Client)(nil)

// NewClient returns a storage client. timeout bounds a whole transfer; zero disables it.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// PublicURL prefers the track's own file URL and falls back to baseURL/<id>.
func (c *Client) PublicURL(track models.Track) (string, error) {
	if track.FileURL != "" {
		return track.FileURL, nil
	}
	if c.baseURL == "" || strings.TrimSpace(track.ID) == "" {
		return "", errors.ErrInvalidTrack.WithDetails(map[string]any{
			"track_id": track.ID,
			"reason":   "no file url and no storage base url",
		})
	}
	return c.baseURL + "/" + url.PathEscape(track.ID), nil
}

// Fetch opens the object at rawURL starting at offset. When the remote ignores the
// range the response starts at zero and Offset reports that.
func (c *Client) Fetch(ctx context.Context, rawURL string, offset int64) (*domain.RemoteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.ErrTransferFailed.WithCause(err).WithDetails(map[string]any{"url": rawURL})
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	logutils.Log.WithFields(map[string]any{"url": rawURL, "offset": offset}).Debug("Fetching remote object")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.ErrTransferFailed.WithCause(err).WithDetails(map[string]any{"url": rawURL})
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &domain.RemoteResponse{Body: resp.Body, Offset: 0, TotalSize: resp.ContentLength}, nil

	case http.StatusPartialContent:
		start, total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			resp.Body.Close()
			return nil, errors.ErrRemoteStatus.WithDetails(map[string]any{
				"url":           rawURL,
				"content_range": resp.Header.Get("Content-Range"),
				"offset":        offset,
			})
		}
		if total < 0 && resp.ContentLength >= 0 {
			total = start + resp.ContentLength
		}
		return &domain.RemoteResponse{Body: resp.Body, Offset: start, TotalSize: total}, nil

	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		// The partial file already holds the whole object.
		if _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && total == offset {
			return &domain.RemoteResponse{Body: http.NoBody, Offset: offset, TotalSize: total}, nil
		}
	default:
		resp.Body.Close()
	}

	return nil, errors.ErrRemoteStatus.WithDetails(map[string]any{
		"url":    rawURL,
		"status": resp.StatusCode,
	})
}

// parseContentRange reads "bytes start-end/total" and "bytes */total". total is -1 for "*".
func parseContentRange(header string) (start, total int64, ok bool) {
	rangeSpec, found := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !found {
		return 0, 0, false
	}
	rng, size, found := strings.Cut(rangeSpec, "/")
	if !found {
		return 0, 0, false
	}

	total = -1
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		total = n
	}

	if rng == "*" {
		return 0, total, true
	}
	first, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, total, true
}
