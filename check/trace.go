package check

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	timeSliceLength  = 8
	trackerLength    = len(uuid.UUID{})
	protocolICMP     = 1
	protocolIPv6ICMP = 58
	ipv6HeaderLength = 40
)

var (
	ipv4Proto = map[bool]string{true: "ip4:icmp", false: "udp4"}
	ipv6Proto = map[bool]string{true: "ip6:ipv6-icmp", false: "udp6"}
)

// NewTracer returns a Tracer with a random ICMP identifier and tracker.
func NewTracer() *Tracer {
	r := rand.New(rand.NewSource(getSeed()))
	return &Tracer{
		MaxTTL:     30,
		MaxSilent:  5,
		Timeout:    time.Second,
		Privileged: true,
		Size:       timeSliceLength + trackerLength,

		id:      r.Intn(math.MaxUint16),
		tracker: uuid.New(),
	}
}

// Tracer discovers the path to a host by sending ICMP echo requests with an
// increasing TTL and collecting the Time Exceeded replies of each router.
type Tracer struct {
	// MaxTTL is the furthest hop probed
	MaxTTL int

	// MaxSilent stops the trace after this many consecutive TTLs without
	// any reply. Zero disables the limit.
	MaxSilent int

	// Timeout is the wait for each individual probe
	Timeout time.Duration

	// Interval is the pause between probes sharing a TTL
	Interval time.Duration

	// Privileged selects raw ICMP sockets. Routers' Time Exceeded messages
	// are not delivered to unprivileged ping sockets, so tracing generally
	// needs this.
	Privileged bool

	// Source and Source6 are the local addresses bound for IPv4 and IPv6
	// destinations, empty for any
	Source  string
	Source6 string

	// Size of the echo payload
	Size int

	id       int
	tracker  uuid.UUID
	sequence uint32
}

type reply struct {
	addr        string
	rtt         time.Duration
	final       bool
	unreachable bool
}

// Trace probes every TTL up to MaxTTL, count times each, stopping once the
// destination answers. TTLs that never answer are left out of the result.
func (t *Tracer) Trace(ctx context.Context, dst *net.IPAddr, count int) (res PathResult, err error) {
	res.Target = dst.String()
	if count < 1 {
		count = 1
	}
	if t.Size < timeSliceLength+trackerLength {
		return res, fmt.Errorf("size %d is less than minimum required size %d", t.Size, timeSliceLength+trackerLength)
	}

	conn, err := t.listen(dst)
	if err != nil {
		return res, err
	}
	defer conn.Close()

	silent := 0
	for ttl := 1; ttl <= t.MaxTTL; ttl++ {
		if err = conn.SetTTL(ttl); err != nil {
			return res, fmt.Errorf("setting ttl %d: %w", ttl, err)
		}

		stats := hopStats{}
		final, unreachable := false, false
		for i := 0; i < count; i++ {
			if err = ctx.Err(); err != nil {
				return res, err
			}
			if i > 0 && t.Interval > 0 {
				time.Sleep(t.Interval)
			}

			var r *reply
			r, err = t.probe(ctx, conn, dst)
			if err != nil {
				return res, err
			}
			stats.sent++
			if r == nil {
				continue
			}
			stats.add(r.addr, r.rtt)
			final = final || r.final
			unreachable = unreachable || r.unreachable
		}

		if stats.recv == 0 {
			logrus.Debugf("[ TRACE ] %v ttl %d: *", dst, ttl)
			silent++
			if t.MaxSilent > 0 && silent >= t.MaxSilent {
				break
			}
			continue
		}
		silent = 0

		hop := stats.hop(ttl)
		logrus.Debugf("[ TRACE ] %v ttl %d: %v %v/%v/%v", dst, ttl, hop.Address, hop.MinRtt, hop.AvgRtt, hop.MaxRtt)
		res.Hops = append(res.Hops, hop)

		if final {
			res.Reachable = true
			break
		}
		if unreachable {
			break
		}
	}

	return res, nil
}

func (t *Tracer) probe(ctx context.Context, conn *packetConn, dst *net.IPAddr) (*reply, error) {
	seq := int(atomic.AddUint32(&t.sequence, 1) & 0xffff)

	tracker, err := t.tracker.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("unable to marshal UUID binary: %w", err)
	}
	sent := time.Now()
	data := append(timeToBytes(sent), tracker...)
	if remainSize := t.Size - timeSliceLength - trackerLength; remainSize > 0 {
		data = append(data, bytes.Repeat([]byte{1}, remainSize)...)
	}

	msg := &icmp.Message{
		Type: conn.requestType(),
		Code: 0,
		Body: &icmp.Echo{ID: t.id, Seq: seq, Data: data},
	}
	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return nil, err
	}

	var to net.Addr = dst
	if !t.Privileged {
		to = &net.UDPAddr{IP: dst.IP, Zone: dst.Zone}
	}
	if _, err := conn.c.WriteTo(msgBytes, to); err != nil {
		var neterr *net.OpError
		if errors.As(err, &neterr) && errors.Is(neterr.Err, syscall.ENOBUFS) {
			// Treat a full send buffer as a lost probe
			return nil, nil
		}
		return nil, err
	}

	deadline := sent.Add(t.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 1500)
	for {
		if err := conn.c.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		n, peer, err := conn.c.ReadFrom(buf)
		if err != nil {
			var neterr net.Error
			if errors.As(err, &neterr) && neterr.Timeout() {
				return nil, nil
			}
			return nil, err
		}

		r, ok := t.match(conn, buf[:n], seq)
		if !ok {
			continue
		}
		r.rtt = time.Since(sent)
		r.addr = addrString(peer)
		return r, nil
	}
}

// match decides whether a received message answers the probe with seq.
func (t *Tracer) match(conn *packetConn, b []byte, seq int) (*reply, bool) {
	m, err := icmp.ParseMessage(conn.protocol(), b)
	if err != nil {
		logrus.Debug("Parsing icmp message: ", err)
		return nil, false
	}

	switch m.Type {
	case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
		echo, ok := m.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq || !t.matchID(echo.ID) {
			return nil, false
		}
		if len(echo.Data) < timeSliceLength+trackerLength {
			return nil, false
		}
		var packetUUID uuid.UUID
		if err := packetUUID.UnmarshalBinary(echo.Data[timeSliceLength : timeSliceLength+trackerLength]); err != nil || packetUUID != t.tracker {
			return nil, false
		}
		return &reply{final: true}, true

	case ipv4.ICMPTypeTimeExceeded, ipv6.ICMPTypeTimeExceeded:
		body, ok := m.Body.(*icmp.TimeExceeded)
		if !ok || !t.matchQuoted(conn, body.Data, seq) {
			return nil, false
		}
		return &reply{}, true

	case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
		body, ok := m.Body.(*icmp.DstUnreach)
		if !ok || !t.matchQuoted(conn, body.Data, seq) {
			return nil, false
		}
		return &reply{unreachable: true}, true
	}

	return nil, false
}

// matchQuoted checks the original echo header quoted inside an ICMP error
func (t *Tracer) matchQuoted(conn *packetConn, quoted []byte, seq int) bool {
	headerLen := ipv6HeaderLength
	if conn.ipv4 {
		if len(quoted) < ipv4.HeaderLen {
			return false
		}
		headerLen = int(quoted[0]&0x0f) * 4
	}
	if len(quoted) < headerLen+8 {
		return false
	}
	echo := quoted[headerLen:]
	id := int(binary.BigEndian.Uint16(echo[4:6]))
	s := int(binary.BigEndian.Uint16(echo[6:8]))
	return s == seq && t.matchID(id)
}

// Unprivileged ping sockets have their identifier rewritten by the kernel
func (t *Tracer) matchID(id int) bool {
	return !t.Privileged || id == t.id
}

func (t *Tracer) listen(dst *net.IPAddr) (*packetConn, error) {
	v4 := isIPv4(dst.IP)
	network := ipv6Proto[t.Privileged]
	if v4 {
		network = ipv4Proto[t.Privileged]
	}
	c, err := icmp.ListenPacket(network, t.source(v4))
	if err != nil {
		return nil, fmt.Errorf("listening on %v: %w", network, err)
	}
	return &packetConn{c: c, ipv4: v4}, nil
}

func (t *Tracer) source(v4 bool) string {
	if v4 {
		return t.Source
	}
	return t.Source6
}

func addrString(a net.Addr) string {
	switch v := a.(type) {
	case *net.IPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	}
	return a.String()
}

func timeToBytes(t time.Time) []byte {
	nsec := t.UnixNano()
	b := make([]byte, 8)
	for i := uint8(0); i < 8; i++ {
		b[i] = byte((nsec >> ((7 - i) * 8)) & 0xff)
	}
	return b
}

var seed int64 = time.Now().UnixNano()

// getSeed returns a goroutine-safe unique seed
func getSeed() int64 {
	return atomic.AddInt64(&seed, 1)
}
