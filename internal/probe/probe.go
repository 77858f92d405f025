// Package probe gates check ticks on target-site reachability, so a dead
// network is not attempted as a check and not counted as a failure sample.
package probe

import (
	"log"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	defaultCount   = 3
	defaultTimeout = 5 * time.Second
)

// Pinger probes a host with a bounded burst of ICMP echoes.
type Pinger struct {
	count   int
	timeout time.Duration
}

// New builds a pinger; non-positive arguments fall back to the defaults.
func New(count int, timeout time.Duration) *Pinger {
	if count <= 0 {
		count = defaultCount
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pinger{count: count, timeout: timeout}
}

// Reachable reports whether any echo came back from the host.
func (p *Pinger) Reachable(host string) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		log.Printf("[probe] failed to create pinger for %s: %v", host, err)
		return false
	}
	pinger.Count = p.count
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(true)
	if err := pinger.Run(); err != nil {
		log.Printf("[probe] ping %s: %v", host, err)
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
