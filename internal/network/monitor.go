package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
)

const DefaultPollInterval = 10 * time.Second

type ConnectionType string

const (
	ConnectionWifi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionNone     ConnectionType = "none"
	ConnectionUnknown  ConnectionType = "unknown"
)

// Status is a connectivity snapshot.
type Status struct {
	Online    bool           `json:"online"`
	Type      ConnectionType `json:"connection_type"`
	CheckedAt time.Time      `json:"checked_at"`
}

// CanTransfer applies the wifi-only preference to the snapshot.
func (s Status) CanTransfer(settings models.Settings) bool {
	return s.Online && (!settings.DownloadOnlyOnWifi || s.Type == ConnectionWifi)
}

func (s Status) sameAs(other Status) bool {
	return s.Online == other.Online && s.Type == other.Type
}

// Prober inspects the host's current connectivity.
type Prober interface {
	Probe(ctx context.Context) (Status, error)
}

// Listener is told about every status change. It runs on its own goroutine.
type Listener func(prev, curr Status)

// Monitor polls a Prober on a fixed interval and on demand.
type Monitor struct {
	prober   Prober
	interval time.Duration

	mu        sync.RWMutex
	status    Status
	listeners []Listener

	running  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		status:   Status{Online: false, Type: ConnectionUnknown},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnChange registers l for subsequent status changes.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Snapshot returns the last observed status without probing.
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) CanTransfer(settings models.Settings) bool {
	return m.Snapshot().CanTransfer(settings)
}

// Refresh probes immediately and publishes the result. A failed probe is reported as offline.
func (m *Monitor) Refresh(ctx context.Context) Status {
	status, err := m.prober.Probe(ctx)
	if err != nil {
		logutils.Log.WithError(err).Warn("Connectivity probe failed, treating as offline")
		status = Status{Online: false, Type: ConnectionUnknown}
	}
	if status.CheckedAt.IsZero() {
		status.CheckedAt = time.Now()
	}
	m.publish(status)
	return status
}

func (m *Monitor) publish(status Status) {
	m.mu.Lock()
	prev := m.status
	m.status = status
	var listeners []Listener
	if !prev.sameAs(status) {
		listeners = make([]Listener, len(m.listeners))
		copy(listeners, m.listeners)
	}
	m.mu.Unlock()

	if len(listeners) == 0 {
		return
	}

	logutils.Log.WithFields(map[string]any{
		"online":          status.Online,
		"connection_type": status.Type,
		"previous_type":   prev.Type,
	}).Info("Network status changed")

	for _, l := range listeners {
		go l(prev, status)
	}
}

// Run polls until ctx is canceled or Shutdown is called.
func (m *Monitor) Run(ctx context.Context) error {
	m.running.Store(true)
	defer close(m.done)

	m.Refresh(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh(ctx)
		case <-m.stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (*Monitor) Name() string {
	return "network-monitor"
}

// Shutdown stops the poll loop started by Run and waits for it to exit.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	if !m.running.Load() {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
