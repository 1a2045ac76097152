package agent

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Pinger is the part of probing.Pinger the prober drives
type Pinger interface {
	RunWithContext(ctx context.Context) error
	Statistics() *probing.Statistics
	SetPrivileged(bool)
}

// newPinger is a variable so tests can substitute a mock
var newPinger = func(addr string, count int, timeout time.Duration) (Pinger, error) {
	p, err := probing.NewPinger(addr)
	if err != nil {
		return nil, err
	}
	p.Count = count
	p.Timeout = timeout
	return p, nil
}

// ProbeConfig tunes reachability checks
type ProbeConfig struct {
	Timeout    time.Duration
	Count      int
	Privileged bool
}

// Prober answers whether a LAN host is reachable. With a port it attempts a
// TCP connect, otherwise it sends ICMP echo requests.
type Prober struct {
	cfg    ProbeConfig
	dialer net.Dialer
}

// NewProber creates a prober
func NewProber(cfg ProbeConfig) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	return &Prober{cfg: cfg, dialer: net.Dialer{Timeout: cfg.Timeout}}
}

// Reachable reports whether ip answers. An error means the check itself
// could not be performed, not that the host is down.
func (p *Prober) Reachable(ctx context.Context, ip string, port int) (bool, error) {
	if port > 0 {
		return p.reachableTCP(ctx, ip, port), nil
	}
	return p.reachableICMP(ctx, ip)
}

func (p *Prober) reachableTCP(ctx context.Context, ip string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (p *Prober) reachableICMP(ctx context.Context, ip string) (bool, error) {
	pinger, err := newPinger(ip, p.cfg.Count, p.cfg.Timeout)
	if err != nil {
		return false, fmt.Errorf("create pinger for %s: %w", ip, err)
	}
	pinger.SetPrivileged(p.cfg.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("ping %s: %w", ip, err)
	}
	return pinger.Statistics().PacketsRecv > 0, nil
}
