package check

import (
	"context"
	"net"
	"time"
)

// ICMPProber answers both probe kinds with real ICMP traffic
type ICMPProber struct {
	Pinger   *Pinger
	Tracer   *Tracer
	Resolver Resolver
}

// NewICMPProber binds probes to source for IPv4 destinations and source6
// for IPv6 ones. Empty sources leave the choice to the kernel.
func NewICMPProber(privileged bool, source, source6 string, timeout time.Duration) *ICMPProber {
	tracer := NewTracer()
	tracer.Privileged = privileged
	tracer.Source = source
	tracer.Source6 = source6
	if timeout > 0 {
		tracer.Timeout = timeout
	}

	return &ICMPProber{
		Pinger:   &Pinger{Privileged: privileged, Source: source, Source6: source6},
		Tracer:   tracer,
		Resolver: net.DefaultResolver,
	}
}

func (p *ICMPProber) ProbeHost(ctx context.Context, address string, count int) (HostResult, error) {
	pinger := *p.Pinger
	if pinger.Timeout == 0 {
		// Leave room for every probe plus a final reply
		pinger.Timeout = p.Tracer.Timeout * time.Duration(count+1)
	}
	return pinger.Ping(ctx, address, count)
}

// ProbePath traces the first resolved address of address.
func (p *ICMPProber) ProbePath(ctx context.Context, address string, count int) (PathResult, error) {
	addrs, err := Resolve(ctx, p.Resolver, address)
	if err != nil {
		return PathResult{Target: address}, err
	}
	dst := &net.IPAddr{IP: net.ParseIP(addrs[0])}
	return p.Tracer.Trace(ctx, dst, count)
}
