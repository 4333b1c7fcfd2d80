package testutils

import (
	"fmt"
	"sync"
)

// RecordingNotifier keeps every notification as a "kind:track" string.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *RecordingNotifier) record(kind, trackID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%s:%s", kind, trackID))
}

func (n *RecordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

func (n *RecordingNotifier) Has(kind, trackID string) bool {
	want := fmt.Sprintf("%s:%s", kind, trackID)
	for _, e := range n.Events() {
		if e == want {
			return true
		}
	}
	return false
}

func (n *RecordingNotifier) OnQueued(trackID string, _ int)      { n.record("queued", trackID) }
func (n *RecordingNotifier) OnStarted(trackID string, _ int64)   { n.record("started", trackID) }
func (n *RecordingNotifier) OnPaused(trackID string, _ int64)    { n.record("paused", trackID) }
func (n *RecordingNotifier) OnCompleted(trackID string, _ int64) { n.record("completed", trackID) }
func (n *RecordingNotifier) OnFailed(trackID string, _ error)    { n.record("failed", trackID) }
func (n *RecordingNotifier) OnStopped(trackID string)            { n.record("stopped", trackID) }
