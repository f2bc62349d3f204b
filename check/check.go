package check

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"github.com/thetooth/hopwatch/record"
)

// ErrResolve wraps name resolution failures
var ErrResolve = errors.New("name resolution failed")

// Prober performs network measurements. Unreachable hosts are results, not
// errors, errors are reserved for probes that could not be attempted.
type Prober interface {
	// ProbePath sends count hop-limited probes per TTL towards address
	ProbePath(ctx context.Context, address string, count int) (PathResult, error)
	// ProbeHost sends count echo requests to address
	ProbeHost(ctx context.Context, address string, count int) (HostResult, error)
}

// Resolver is satisfied by *net.Resolver
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Hop is the aggregated result of all probes that shared one TTL
type Hop struct {
	// Address is the host that answered
	Address string

	// Index is the TTL the probes were sent with, 0 for a direct ping
	Index int

	Sent     int
	Received int

	MinRtt time.Duration
	AvgRtt time.Duration
	MaxRtt time.Duration
}

// Measurement converts the hop into a persisted record for site. A hop that
// never answered gets NaN latencies.
func (h Hop) Measurement(site string, at time.Time) record.Measurement {
	m := record.Measurement{
		Time:   at.UTC(),
		Site:   site,
		IP:     h.Address,
		HopNum: h.Index,
		MinRTT: math.NaN(),
		AvgRTT: math.NaN(),
		MaxRTT: math.NaN(),
	}
	if h.Received > 0 {
		m.MinRTT = record.Millis(h.MinRtt)
		m.AvgRTT = record.Millis(h.AvgRtt)
		m.MaxRTT = record.Millis(h.MaxRtt)
	}
	return m
}

// PathResult is an ordered trace from the prober outward
type PathResult struct {
	Target    string
	Reachable bool
	Hops      []Hop
}

type HostResult struct {
	Alive bool
	Hop   Hop
}

// Resolve returns the candidate addresses for host, IPv4 first. IP literals
// are returned unchanged.
func Resolve(ctx context.Context, r Resolver, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w for %s: no addresses", ErrResolve, host)
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return isIPv4String(addrs[i]) && !isIPv4String(addrs[j])
	})
	return addrs, nil
}

func isIPv4String(s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && isIPv4(ip)
}

func isIPv4(ip net.IP) bool {
	return len(ip.To4()) == net.IPv4len
}

// hopStats accumulates round trip times with a running mean
type hopStats struct {
	addr string
	sent int
	recv int
	min  time.Duration
	max  time.Duration
	avg  time.Duration
}

func (h *hopStats) add(addr string, rtt time.Duration) {
	h.recv++
	if h.addr == "" {
		h.addr = addr
	}
	if h.recv == 1 || rtt < h.min {
		h.min = rtt
	}
	if rtt > h.max {
		h.max = rtt
	}

	h.avg += (rtt - h.avg) / time.Duration(h.recv)
}

func (h *hopStats) hop(index int) Hop {
	return Hop{
		Address:  h.addr,
		Index:    index,
		Sent:     h.sent,
		Received: h.recv,
		MinRtt:   h.min,
		AvgRtt:   h.avg,
		MaxRtt:   h.max,
	}
}
