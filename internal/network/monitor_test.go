package network

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Robitch/Robify-sub001/internal/logutils"
	"github.com/Robitch/Robify-sub001/internal/models"
	psnet "github.com/shirou/gopsutil/v3/net"
)

func init() {
	logutils.SetOutput(io.Discard)
}

func TestStatus_CanTransfer(t *testing.T) {
	wifiOnly := models.Settings{DownloadOnlyOnWifi: true}
	anyNet := models.Settings{DownloadOnlyOnWifi: false}

	tests := []struct {
		name     string
		status   Status
		settings models.Settings
		want     bool
	}{
		{"wifi with wifi-only", Wifi, wifiOnly, true},
		{"cellular with wifi-only", Cellular, wifiOnly, false},
		{"cellular without restriction", Cellular, anyNet, true},
		{"offline", Offline, anyNet, false},
		{"unknown type online", Status{Online: true, Type: ConnectionUnknown}, wifiOnly, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.CanTransfer(tt.settings); got != tt.want {
				t.Errorf("CanTransfer() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMonitor_InitialSnapshotIsOffline(t *testing.T) {
	m := NewMonitor(NewStaticProber(Wifi), time.Second)
	if m.Snapshot().Online {
		t.Error("Snapshot before first probe should be offline")
	}
}

func TestMonitor_RefreshNotifiesOnChange(t *testing.T) {
	prober := NewStaticProber(Wifi)
	m := NewMonitor(prober, time.Hour)

	changes := make(chan Status, 4)
	m.OnChange(func(_, curr Status) { changes <- curr })

	m.Refresh(context.Background())
	select {
	case s := <-changes:
		if s.Type != ConnectionWifi {
			t.Errorf("Type = %q, want wifi", s.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Listener was not called on first change")
	}

	// Same status again must not notify.
	m.Refresh(context.Background())
	select {
	case s := <-changes:
		t.Fatalf("Unexpected notification: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}

	prober.Set(Cellular)
	m.Refresh(context.Background())
	select {
	case s := <-changes:
		if s.Type != ConnectionCellular {
			t.Errorf("Type = %q, want cellular", s.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("Listener was not called on wifi -> cellular")
	}
}

func TestMonitor_ProbeFailureIsOffline(t *testing.T) {
	prober := NewStaticProber(Wifi)
	m := NewMonitor(prober, time.Hour)
	m.Refresh(context.Background())

	prober.SetError(errors.New("probe failed"))
	status := m.Refresh(context.Background())

	if status.Online {
		t.Error("Failed probe should report offline")
	}
	if m.CanTransfer(models.Settings{}) {
		t.Error("CanTransfer should be false after failed probe")
	}
}

func TestMonitor_RunAndShutdown(t *testing.T) {
	m := NewMonitor(NewStaticProber(Wifi), 10*time.Millisecond)

	var calls atomic.Int32
	m.OnChange(func(_, _ Status) { calls.Add(1) })

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for !m.Snapshot().Online && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.Snapshot().Online {
		t.Fatal("Run did not probe")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestMonitor_ShutdownWithoutRun(t *testing.T) {
	m := NewMonitor(NewStaticProber(Wifi), time.Second)
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestClassifyInterface(t *testing.T) {
	tests := []struct {
		name   string
		want   ConnectionType
		usable bool
	}{
		{"wlan0", ConnectionWifi, true},
		{"wlp3s0", ConnectionWifi, true},
		{"eth0", ConnectionWifi, true},
		{"enp0s31f6", ConnectionWifi, true},
		{"wwan0", ConnectionCellular, true},
		{"rmnet_data0", ConnectionCellular, true},
		{"ccmni0", ConnectionCellular, true},
		{"pdp_ip0", ConnectionCellular, true},
		{"lo", ConnectionNone, false},
		{"docker0", ConnectionNone, false},
		{"veth12ab", ConnectionNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, usable := ClassifyInterface(tt.name)
			if got != tt.want || usable != tt.usable {
				t.Errorf("ClassifyInterface(%q) = (%q, %v), want (%q, %v)", tt.name, got, usable, tt.want, tt.usable)
			}
		})
	}
}

func TestSummarizeInterfaces(t *testing.T) {
	addr := psnet.InterfaceAddrList{{Addr: "192.168.1.10/24"}}
	up := []string{"up", "broadcast"}

	tests := []struct {
		name   string
		ifaces []psnet.InterfaceStat
		want   Status
	}{
		{
			name:   "no interfaces",
			ifaces: nil,
			want:   Offline,
		},
		{
			name: "loopback only",
			ifaces: []psnet.InterfaceStat{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: addr},
			},
			want: Offline,
		},
		{
			name: "cellular only",
			ifaces: []psnet.InterfaceStat{
				{Name: "rmnet0", Flags: up, Addrs: addr},
			},
			want: Cellular,
		},
		{
			name: "wifi preferred over cellular",
			ifaces: []psnet.InterfaceStat{
				{Name: "rmnet0", Flags: up, Addrs: addr},
				{Name: "wlan0", Flags: up, Addrs: addr},
			},
			want: Wifi,
		},
		{
			name: "down wifi ignored",
			ifaces: []psnet.InterfaceStat{
				{Name: "wlan0", Flags: []string{"broadcast"}, Addrs: addr},
				{Name: "wwan0", Flags: up, Addrs: addr},
			},
			want: Cellular,
		},
		{
			name: "interface without address ignored",
			ifaces: []psnet.InterfaceStat{
				{Name: "eth0", Flags: up},
			},
			want: Offline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SummarizeInterfaces(tt.ifaces)
			if got.Online != tt.want.Online || got.Type != tt.want.Type {
				t.Errorf("SummarizeInterfaces() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
