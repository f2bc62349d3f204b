package check

import (
	"context"
	"fmt"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/hopwatch/util"
)

// Pinger measures end-to-end latency to a single host
type Pinger struct {
	// Timeout bounds a whole ping run
	Timeout time.Duration

	// Interval between echo requests, pro-bing's default when zero
	Interval time.Duration

	Privileged bool

	// Source and Source6 are the local addresses bound for IPv4 and IPv6
	// destinations, empty for any
	Source  string
	Source6 string
}

// Ping sends count echo requests and summarises the replies. A host that
// never answers is reported with Alive false and no error.
func (p *Pinger) Ping(ctx context.Context, address string, count int) (HostResult, error) {
	pinger, err := probing.NewPinger(address)
	if err != nil {
		return HostResult{}, fmt.Errorf("%w for %s: %v", ErrResolve, address, err)
	}
	pinger.SetLogger(probing.NoopLogger{})
	pinger.SetPrivileged(p.Privileged)
	pinger.RecordRtts = false
	pinger.Count = count
	if p.Interval > 0 {
		pinger.Interval = p.Interval
	}
	if p.Timeout > 0 {
		pinger.Timeout = p.Timeout
	}
	if source := p.source(pinger.IPAddr()); source != "" {
		pinger.Source = source
	}

	if err := pinger.RunWithContext(ctx); err != nil {
		return HostResult{}, fmt.Errorf("pinging %s: %w", address, err)
	}

	s := pinger.Statistics()
	res := HostResult{
		Alive: s.PacketsRecv > 0,
		Hop: Hop{
			Address:  ipString(s.IPAddr, address),
			Index:    0,
			Sent:     s.PacketsSent,
			Received: s.PacketsRecv,
			MinRtt:   s.MinRtt,
			AvgRtt:   s.AvgRtt,
			MaxRtt:   s.MaxRtt,
		},
	}
	logrus.Debugf("[ PING ] %v (%v): %d/%d received, %v/%v/%v",
		address, res.Hop.Address, s.PacketsRecv, s.PacketsSent, s.MinRtt, s.AvgRtt, s.MaxRtt)
	return res, nil
}

func (p *Pinger) source(dst *net.IPAddr) string {
	if dst != nil && util.IsIPv6(dst.IP.String()) {
		return p.Source6
	}
	return p.Source
}

func ipString(addr *net.IPAddr, fallback string) string {
	if addr == nil || addr.IP == nil {
		return fallback
	}
	return addr.IP.String()
}
