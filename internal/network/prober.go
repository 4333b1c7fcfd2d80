package network

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

var (
	wifiPrefixes     = []string{"wl", "wlan", "wifi", "ath", "ra"}
	cellularPrefixes = []string{"wwan", "rmnet", "ccmni", "pdp_ip", "pdp", "usb", "ppp"}
	ignoredPrefixes  = []string{"lo", "docker", "veth", "br-", "virbr", "tun", "tap", "utun", "awdl", "llw"}
)

// ClassifyInterface maps an interface name to a connection type. Wired ethernet is
// unmetered and is reported as wifi so the wifi-only preference allows it.
func ClassifyInterface(name string) (ConnectionType, bool) {
	n := strings.ToLower(name)
	for _, p := range ignoredPrefixes {
		if strings.HasPrefix(n, p) {
			return ConnectionNone, false
		}
	}
	for _, p := range cellularPrefixes {
		if strings.HasPrefix(n, p) {
			return ConnectionCellular, true
		}
	}
	for _, p := range wifiPrefixes {
		if strings.HasPrefix(n, p) {
			return ConnectionWifi, true
		}
	}
	return ConnectionWifi, true
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

// SummarizeInterfaces picks the best usable connection among up, addressed,
// non-loopback interfaces. Unmetered links win over cellular.
func SummarizeInterfaces(ifaces []psnet.InterfaceStat) Status {
	best := ConnectionNone
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") || len(iface.Addrs) == 0 {
			continue
		}
		kind, usable := ClassifyInterface(iface.Name)
		if !usable {
			continue
		}
		if kind == ConnectionWifi {
			best = ConnectionWifi
			break
		}
		best = kind
	}
	return Status{Online: best != ConnectionNone, Type: best}
}

// SystemProber inspects host interfaces through gopsutil and, when CheckURL is set,
// confirms reachability with a HEAD request.
type SystemProber struct {
	CheckURL string
	Client   *http.Client
}

func NewSystemProber(checkURL string, timeout time.Duration) *SystemProber {
	return &SystemProber{
		CheckURL: checkURL,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (p *SystemProber) Probe(ctx context.Context) (Status, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return Status{Online: false, Type: ConnectionUnknown}, fmt.Errorf("failed to list network interfaces: %w", err)
	}

	status := SummarizeInterfaces(ifaces)
	status.CheckedAt = time.Now()

	if status.Online && p.CheckURL != "" && !p.reachable(ctx) {
		status.Online = false
		status.Type = ConnectionNone
	}
	return status, nil
}

func (p *SystemProber) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.CheckURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// StaticProber reports whatever status it was last given. Used for fixed deployments and tests.
type StaticProber struct {
	mu     sync.Mutex
	status Status
	err    error
}

func NewStaticProber(status Status) *StaticProber {
	return &StaticProber{status: status}
}

func (p *StaticProber) Set(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
	p.err = nil
}

func (p *StaticProber) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *StaticProber) Probe(context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.err
}

var (
	Wifi     = Status{Online: true, Type: ConnectionWifi}
	Cellular = Status{Online: true, Type: ConnectionCellular}
	Offline  = Status{Online: false, Type: ConnectionNone}
)
