package check

import (
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// packetConn hides the differences between ICMPv4 and ICMPv6 sockets
type packetConn struct {
	c    *icmp.PacketConn
	ipv4 bool
}

func (p *packetConn) Close() error {
	return p.c.Close()
}

// SetTTL sets the TTL, or hop limit for IPv6, of outgoing probes
func (p *packetConn) SetTTL(ttl int) error {
	if p.ipv4 {
		return p.c.IPv4PacketConn().SetTTL(ttl)
	}
	return p.c.IPv6PacketConn().SetHopLimit(ttl)
}

func (p *packetConn) requestType() icmp.Type {
	if p.ipv4 {
		return ipv4.ICMPTypeEcho
	}
	return ipv6.ICMPTypeEchoRequest
}

func (p *packetConn) protocol() int {
	if p.ipv4 {
		return protocolICMP
	}
	return protocolIPv6ICMP
}
