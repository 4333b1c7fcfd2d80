package manager

import (
	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
)

// Subscribe returns a stream of progress and state changes and a function that ends it.
// A subscriber that falls behind loses events instead of slowing transfers.
func (m *Manager) Subscribe() (<-chan models.Progress, func()) {
	ch := make(chan models.Progress, SubscriberBufferSize)

	m.subsMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	m.subsMu.Unlock()

	unsubscribe := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if existing, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

func (m *Manager) publishLocked(t *task) {
	p := progressOf(t)

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- p:
		default:
			logutils.Log.WithFields(map[string]any{
				"subscriber": id,
				"track_id":   p.TrackID,
			}).Debug("Progress subscriber is behind, dropping event")
		}
	}
}
