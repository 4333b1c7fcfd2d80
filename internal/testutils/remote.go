package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Robitch/Robify-sub001/internal/remote"
)

// FakeRemote is remote storage backed by an httptest server. Tracks can be held halfway
// through their body to keep a transfer in flight.
type FakeRemote struct {
	*remote.Client
	Server *httptest.Server

	mu       sync.Mutex
	tracks   map[string][]byte
	gates    map[string]chan struct{}
	statuses map[string]int
	noRange  bool
	requests map[string][]string
}

func NewFakeRemote(t *testing.T) *FakeRemote {
	t.Helper()

	f := &FakeRemote{
		tracks:   make(map[string][]byte),
		gates:    make(map[string]chan struct{}),
		statuses: make(map[string]int),
		requests: make(map[string][]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	f.Client = remote.NewClient(f.Server.URL+"/tracks", 0)

	t.Cleanup(func() {
		f.ReleaseAll()
		f.Server.Close()
	})
	return f
}

func (f *FakeRemote) AddTrack(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[id] = data
}

// Hold makes requests for id stop after half of the body until Release.
func (f *FakeRemote) Hold(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.gates[id]; !ok {
		f.gates[id] = make(chan struct{})
	}
}

func (f *FakeRemote) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gate, ok := f.gates[id]; ok {
		close(gate)
		delete(f.gates, id)
	}
}

func (f *FakeRemote) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, gate := range f.gates {
		close(gate)
		delete(f.gates, id)
	}
}

// SetStatus makes requests for id fail with status. Zero clears it.
func (f *FakeRemote) SetStatus(id string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.statuses, id)
		return
	}
	f.statuses[id] = status
}

// SetRangeSupport controls whether Range headers are honoured.
func (f *FakeRemote) SetRangeSupport(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noRange = !enabled
}

// Requests returns the Range header of every request for id ("" for none).
func (f *FakeRemote) Requests(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests[id]))
	copy(out, f.requests[id])
	return out
}

func (f *FakeRemote) serve(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/tracks/")
	rangeHeader := r.Header.Get("Range")

	f.mu.Lock()
	data, ok := f.tracks[id]
	status := f.statuses[id]
	gate := f.gates[id]
	noRange := f.noRange
	f.requests[id] = append(f.requests[id], rangeHeader)
	f.mu.Unlock()

	if status != 0 {
		http.Error(w, "fake failure", status)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := 0
	code := http.StatusOK
	if rangeHeader != "" && !noRange {
		if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-", &start); err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if start >= len(data) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
		code = http.StatusPartialContent
	}

	body := data[start:]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(code)

	if gate != nil {
		half := len(body) / 2
		_, _ = w.Write(body[:half])
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		body = body[half:]
	}
	_, _ = w.Write(body)
}
